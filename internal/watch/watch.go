// Package watch reports processes starting and exiting by diffing successive
// resolved snapshots.
package watch

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/pkg/types"
)

// DefaultInterval is the time between snapshots.
const DefaultInterval = time.Second

// Source produces one resolved snapshot per call.
type Source interface {
	ResolvedProcesses() ([]types.ResolvedProcessRecord, error)
}

// key identifies one process instance. A PID alone can be reused between
// scans; when the creation time is unknown the executable name stands in.
type key struct {
	pid     int
	created int64
	exe     string
}

func keyOf(r types.ResolvedProcessRecord) key {
	if r.HasCreationTime() {
		return key{pid: r.PID, created: r.CreationTime}
	}
	return key{pid: r.PID, exe: r.ExeFile}
}

// Watcher polls a Source and publishes lifecycle events.
type Watcher struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger
	sink     store.EventStore
	now      func() time.Time

	mu      sync.Mutex
	subs    map[int]chan types.Event
	nextID  int
	stopped bool // Run has returned
	known   map[key]types.ResolvedProcessRecord
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithStore records every published event.
func WithStore(s store.EventStore) Option {
	return func(w *Watcher) { w.sink = s }
}

func New(src Source, opts ...Option) *Watcher {
	w := &Watcher{
		src:      src,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
		subs:     make(map[int]chan types.Event),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "watch"))
	return w
}

// Subscribe returns a channel of events and a cancel func. Events are dropped
// for a subscriber whose buffer is full. The channel is closed by cancel or
// when Run returns, whichever comes first; after Run has returned it is
// handed out already closed.
func (w *Watcher) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.Event, buffer)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		close(ch)
		return ch, func() {}
	}
	id := w.nextID
	w.nextID++
	w.subs[id] = ch

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(ch)
		}
	}
}

// Run scans until ctx is done. The first scan sets the baseline and emits
// nothing. A failed scan is logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = false
	w.mu.Unlock()
	defer w.closeSubscribers()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if err := w.Scan(ctx); err != nil {
		w.logger.Warn("process scan failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Scan(ctx); err != nil {
				w.logger.Warn("process scan failed", slog.Any("error", err))
			}
		}
	}
}

func (w *Watcher) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

// Scan takes one snapshot and publishes the differences from the previous
// one.
func (w *Watcher) Scan(ctx context.Context) error {
	records, err := w.src.ResolvedProcesses()
	if err != nil {
		return err
	}
	next := make(map[key]types.ResolvedProcessRecord, len(records))
	for _, r := range records {
		next[keyOf(r)] = r
	}

	w.mu.Lock()
	prev := w.known
	w.known = next
	w.mu.Unlock()
	if prev == nil {
		return nil
	}

	for _, ev := range diff(prev, next, w.now()) {
		w.publish(ctx, ev)
	}
	return nil
}

func (w *Watcher) publish(ctx context.Context, ev types.Event) {
	if w.sink != nil {
		if err := w.sink.AppendEvent(ctx, ev); err != nil {
			w.logger.Warn("record event failed", slog.String("type", ev.Type), slog.Any("error", err))
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.logger.Debug("subscriber behind, event dropped", slog.Int("subscriber", id), slog.Int("pid", ev.PID))
		}
	}
}

// diff returns started events for instances only in next and exited events
// for instances only in prev. Exits come first, each group ordered by PID.
func diff(prev, next map[key]types.ResolvedProcessRecord, at time.Time) []types.Event {
	var exited, started []types.Event
	for k, r := range prev {
		if _, ok := next[k]; !ok {
			exited = append(exited, event(types.EventProcessExited, r, at))
		}
	}
	for k, r := range next {
		if _, ok := prev[k]; !ok {
			started = append(started, event(types.EventProcessStarted, r, at))
		}
	}
	sortByPID(exited)
	sortByPID(started)
	return append(exited, started...)
}

func event(typ string, r types.ResolvedProcessRecord, at time.Time) types.Event {
	return types.Event{
		ID:           uuid.NewString(),
		Timestamp:    at.UTC(),
		Type:         typ,
		PID:          r.PID,
		ParentPID:    r.ParentPID,
		CreationTime: r.CreationTime,
		ExeFile:      r.ExeFile,
		ImagePath:    r.ImagePath,
	}
}

func sortByPID(evs []types.Event) {
	slices.SortFunc(evs, func(a, b types.Event) int { return cmp.Compare(a.PID, b.PID) })
}

// Tracked returns the number of process instances in the last snapshot.
func (w *Watcher) Tracked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.known)
}
