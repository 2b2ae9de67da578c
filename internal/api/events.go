package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tinywall/procman/internal/auth"
	"github.com/tinywall/procman/pkg/types"
)

func (a *App) searchEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if a.store == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	evs, err := a.store.QueryEvents(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// watchEvents streams watcher events as JSON text frames until the client
// goes away. type=process_started,process_exited narrows the stream.
func (a *App) watchEvents(w http.ResponseWriter, r *http.Request) {
	if a.watcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "process watcher not enabled"})
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}
	var wanted []string
	if t := r.URL.Query().Get("type"); t != "" {
		wanted = strings.Split(t, ",")
	}

	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return auth.IsLocalOrigin(r.Header.Get("Origin"))
		},
	}
	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	events, cancel := a.watcher.Subscribe(256)
	defer cancel()

	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reader loop only detects the close; client frames are ignored.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if len(wanted) > 0 && !slices.Contains(wanted, ev.Type) {
				continue
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
