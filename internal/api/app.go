package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tinywall/procman/internal/auth"
	"github.com/tinywall/procman/internal/config"
	"github.com/tinywall/procman/internal/process"
	"github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/internal/watch"
	"github.com/tinywall/procman/pkg/hotreload"
	"github.com/tinywall/procman/pkg/types"
)

type App struct {
	cfg     *hotreload.Reloadable[config.Config]
	procs   *process.Manager
	store   store.EventStore
	watcher *watch.Watcher
	keys    *auth.APIKeys
	logger  *slog.Logger
}

type Option func(*App)

// WithAPIKeys sets the keys checked while auth.type is api_key. Without
// them every /api/v1 request is answered 503 in that mode.
func WithAPIKeys(keys *auth.APIKeys) Option {
	return func(a *App) { a.keys = keys }
}

// NewApp wires the query API. st and w may be nil; the event endpoints then
// return empty results or 503.
func NewApp(cfg *hotreload.Reloadable[config.Config], procs *process.Manager, st store.EventStore, w *watch.Watcher, logger *slog.Logger, opts ...Option) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:     cfg,
		procs:   procs,
		store:   st,
		watcher: w,
		logger:  logger.With(slog.String("component", "api")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(localOriginOnly)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authMiddleware)
		r.Use(requireJSONBody)

		r.Get("/processes", a.listProcesses)
		r.Get("/processes/{pid}", a.getProcess)
		r.Get("/processes/{pid}/path", a.getImagePath)
		r.Get("/processes/{pid}/parent", a.getParent)
		r.Get("/processes/{pid}/tree", a.getSubtree)
		r.With(requireRole(auth.RoleAdmin)).Post("/processes/{pid}/terminate", a.terminateProcess)

		r.Get("/tree", a.getTree)

		r.Get("/events", a.searchEvents)
		r.Get("/events/watch", a.watchEvents)
	})

	return r
}

func pidParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil || pid < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid pid"})
		return 0, false
	}
	return pid, true
}

func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	v := r.URL.Query()
	var q types.EventQuery
	if t := v.Get("type"); t != "" {
		q.Types = strings.Split(t, ",")
	}
	if pid := v.Get("pid"); pid != "" {
		n, err := strconv.Atoi(pid)
		if err != nil {
			return q, fmt.Errorf("pid: %w", err)
		}
		q.PID = n
	}
	q.ExeLike = v.Get("exe")
	q.Limit, _ = strconv.Atoi(v.Get("limit"))
	q.Offset, _ = strconv.Atoi(v.Get("offset"))
	q.Asc = v.Get("order") == "asc"

	if since := v.Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = &t
	}
	if until := v.Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

// parseTimeOrAgo accepts an RFC 3339 timestamp or a duration meaning "that
// long ago".
func parseTimeOrAgo(s string) (time.Time, error) {
	if strings.ContainsAny(s, "smh") && !strings.Contains(s, "T") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
