package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	eventsTotal atomic.Uint64
	byType      sync.Map // string -> *atomic.Uint64
	byOutcome   sync.Map // string -> *atomic.Uint64

	appendFailed atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	inc(&c.byType, eventType)
}

// IncTermination counts one finished termination by its outcome.
func (c *Collector) IncTermination(outcome string) {
	if c == nil {
		return
	}
	inc(&c.byOutcome, outcome)
}

func (c *Collector) IncAppendFailed() {
	if c == nil {
		return
	}
	c.appendFailed.Add(1)
}

func inc(m *sync.Map, key string) {
	if key == "" {
		key = "unknown"
	}
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

type HandlerOptions struct {
	// TrackedProcesses reports the size of the watcher's last snapshot.
	TrackedProcesses func() int
	// ConfigReloads reports successful and failed config reloads.
	ConfigReloads func() (ok, failed int64)
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP procman_up Whether the procman server is running.\n")
		fmt.Fprint(w, "# TYPE procman_up gauge\n")
		fmt.Fprint(w, "procman_up 1\n")

		fmt.Fprint(w, "# HELP procman_uptime_seconds Seconds since the server started.\n")
		fmt.Fprint(w, "# TYPE procman_uptime_seconds gauge\n")
		fmt.Fprintf(w, "procman_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP procman_events_total Total number of events appended.\n")
		fmt.Fprint(w, "# TYPE procman_events_total counter\n")
		fmt.Fprintf(w, "procman_events_total %d\n", c.eventsTotal.Load())

		fmt.Fprint(w, "# HELP procman_event_append_failures_total Events the store failed to append.\n")
		fmt.Fprint(w, "# TYPE procman_event_append_failures_total counter\n")
		fmt.Fprintf(w, "procman_event_append_failures_total %d\n", c.appendFailed.Load())

		writeLabeled(w, &c.byType, "procman_events_by_type_total", "Total events appended by type.", "type")
		writeLabeled(w, &c.byOutcome, "procman_terminations_total", "Terminations by outcome.", "outcome")

		if opts.TrackedProcesses != nil {
			fmt.Fprint(w, "# HELP procman_processes_tracked Processes in the last watcher snapshot.\n")
			fmt.Fprint(w, "# TYPE procman_processes_tracked gauge\n")
			fmt.Fprintf(w, "procman_processes_tracked %d\n", opts.TrackedProcesses())
		}

		if opts.ConfigReloads != nil {
			ok, failed := opts.ConfigReloads()
			fmt.Fprint(w, "# HELP procman_config_reloads_total Config file reloads by result.\n")
			fmt.Fprint(w, "# TYPE procman_config_reloads_total counter\n")
			fmt.Fprintf(w, "procman_config_reloads_total{result=\"ok\"} %d\n", ok)
			fmt.Fprintf(w, "procman_config_reloads_total{result=\"failed\"} %d\n", failed)
		}
	})
}

func writeLabeled(w http.ResponseWriter, m *sync.Map, name, help, label string) {
	keys := snapshotKeys(m)
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range keys {
		ptr, _ := m.Load(k)
		n := uint64(0)
		if ptr != nil {
			n = ptr.(*atomic.Uint64).Load()
		}
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, label, escapeLabelValue(k), n)
	}
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
