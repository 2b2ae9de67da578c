package metrics

import (
	"context"

	"github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/pkg/types"
)

type wrappedEventStore struct {
	inner store.EventStore
	c     *Collector
}

// WrapEventStore counts every event appended through the returned store.
// Terminate events are also counted by outcome.
func WrapEventStore(inner store.EventStore, c *Collector) store.EventStore {
	if inner == nil {
		return nil
	}
	if c == nil {
		c = New()
	}
	return &wrappedEventStore{inner: inner, c: c}
}

func (w *wrappedEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	w.c.IncEvent(ev.Type)
	if ev.Type == types.EventTerminate {
		w.c.IncTermination(ev.Outcome)
	}
	if err := w.inner.AppendEvent(ctx, ev); err != nil {
		w.c.IncAppendFailed()
		return err
	}
	return nil
}

func (w *wrappedEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return w.inner.QueryEvents(ctx, q)
}

func (w *wrappedEventStore) Close() error { return w.inner.Close() }
