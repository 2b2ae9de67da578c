package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywall/procman/pkg/types"
)

func TestHandlerExportsCountersAndEscapes(t *testing.T) {
	c := New()
	c.IncEvent("process_started")
	c.IncEvent("process_started")
	c.IncEvent("bar\n\"x\"")
	c.IncTermination("forced")
	c.IncAppendFailed()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler(HandlerOptions{
		TrackedProcesses: func() int { return 7 },
		ConfigReloads:    func() (int64, int64) { return 2, 1 },
	}).ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "procman_up 1")
	assert.Contains(t, body, "procman_events_total 3")
	assert.Contains(t, body, "procman_event_append_failures_total 1")
	assert.Contains(t, body, `procman_events_by_type_total{type="bar\\n\\\"x\\\""} 1`)
	assert.Contains(t, body, `procman_events_by_type_total{type="process_started"} 2`)
	assert.Contains(t, body, `procman_terminations_total{outcome="forced"} 1`)
	assert.Contains(t, body, "procman_processes_tracked 7")
	assert.Contains(t, body, `procman_config_reloads_total{result="ok"} 2`)
	assert.Contains(t, body, `procman_config_reloads_total{result="failed"} 1`)
}

func TestHandlerOmitsEmptyFamilies(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Handler(HandlerOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.NotContains(t, body, "procman_terminations_total")
	assert.NotContains(t, body, "procman_processes_tracked")
	assert.NotContains(t, body, "procman_config_reloads_total")
}

type fakeEventStore struct {
	mu    sync.Mutex
	count int
	err   error
}

func (f *fakeEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.err
}

func (f *fakeEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return nil, nil
}

func (f *fakeEventStore) Close() error { return nil }

func TestWrapEventStoreIncrementsCollector(t *testing.T) {
	c := New()
	inner := &fakeEventStore{}
	st := WrapEventStore(inner, c)

	require.NoError(t, st.AppendEvent(context.Background(), types.Event{Type: types.EventProcessExited}))
	require.NoError(t, st.AppendEvent(context.Background(), types.Event{Type: types.EventTerminate, Outcome: "terminated"}))

	assert.EqualValues(t, 2, c.eventsTotal.Load())
	assert.Equal(t, 2, inner.count)
	assert.Equal(t, []string{"terminated"}, snapshotKeys(&c.byOutcome))
}

func TestWrapEventStoreCountsFailures(t *testing.T) {
	c := New()
	st := WrapEventStore(&fakeEventStore{err: errors.New("disk full")}, c)

	assert.Error(t, st.AppendEvent(context.Background(), types.Event{Type: types.EventProcessStarted}))
	assert.EqualValues(t, 1, c.appendFailed.Load())
}

func TestWrapEventStoreNil(t *testing.T) {
	assert.Nil(t, WrapEventStore(nil, New()))
}

func TestSnapshotKeysReturnsSorted(t *testing.T) {
	var m sync.Map
	m.Store("b", 1)
	m.Store("a", 1)
	m.Store("c", 1)

	assert.Equal(t, "a,b,c", strings.Join(snapshotKeys(&m), ","))
}
