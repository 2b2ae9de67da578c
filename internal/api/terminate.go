package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tinywall/procman/internal/process"
	"github.com/tinywall/procman/pkg/types"
)

type terminateRequest struct {
	// Timeout is the graceful wait, e.g. "2s". Empty uses the configured
	// default.
	Timeout string `json:"timeout,omitempty"`
	// CreationTime pins the request to one process instance. When set and
	// the PID now belongs to another process the request is rejected.
	CreationTime int64 `json:"creation_time,omitempty"`
}

type terminateResponse struct {
	ID      string   `json:"id"`
	PID     int      `json:"pid"`
	Outcome string   `json:"outcome"`
	States  []string `json:"states"`
	Error   string   `json:"error,omitempty"`
}

func (a *App) terminateProcess(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	var req terminateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if pid == os.Getpid() {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "refusing to terminate the server process"})
		return
	}

	cfg := a.cfg.Get()
	timeout := cfg.TerminateTimeout()
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid timeout"})
			return
		}
		timeout = d
	}
	if limit := cfg.MaxTerminateTimeout(); limit > 0 && timeout >= limit {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("timeout must be below %s", limit)})
		return
	}

	target, err := a.procs.OpenTargetAt(types.Identity{PID: pid, CreationTime: req.CreationTime})
	switch {
	case errors.Is(err, process.ErrIdentityMismatch):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "pid no longer refers to the requested process"})
		return
	case err != nil:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	defer target.Close()

	ev := types.Event{
		ID:   uuid.NewString(),
		Type: types.EventTerminate,
		PID:  pid,
	}
	if created, err := target.CreationTime(); err == nil {
		ev.CreationTime = created
	}
	if path, ok := a.procs.ImagePathOf(pid); ok {
		ev.ImagePath = path
		ev.ExeFile = exeName(path)
	}

	var states []string
	term := process.NewTerminator(
		process.WithTerminatorLogger(a.logger),
		process.WithKillGrace(cfg.KillGrace()),
		process.WithObserver(func(s process.State) { states = append(states, s.String()) }),
	)
	outcome, termErr := term.Terminate(target, timeout)

	ev.Timestamp = time.Now().UTC()
	ev.Outcome = outcome.String()
	ev.States = states
	if termErr != nil {
		ev.Error = termErr.Error()
	}
	a.record(r.Context(), ev)

	writeJSON(w, http.StatusOK, terminateResponse{
		ID:      ev.ID,
		PID:     pid,
		Outcome: ev.Outcome,
		States:  states,
		Error:   ev.Error,
	})
}

// exeName returns the last element of an image path in either separator
// style.
func exeName(path string) string {
	return path[strings.LastIndexAny(path, `\/`)+1:]
}

func (a *App) record(ctx context.Context, ev types.Event) {
	if a.store == nil {
		return
	}
	if err := a.store.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		a.logger.Warn("record event failed", slog.String("type", ev.Type), slog.Any("error", err))
	}
}
