package composite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/pkg/types"
)

type fakeEventStore struct {
	appendErr error
	closeErr  error
	appended  int
	closed    bool
}

func (f *fakeEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	f.appended++
	return f.appendErr
}

func (f *fakeEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return []types.Event{{ID: "x"}}, nil
}

func (f *fakeEventStore) Close() error { f.closed = true; return f.closeErr }

func quiet() Option { return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

func TestAppendPrimaryFailureSkipsMirrors(t *testing.T) {
	primary := &fakeEventStore{appendErr: errors.New("disk full")}
	mirror := &fakeEventStore{}
	s := New(primary, []store.EventStore{mirror}, quiet())

	assert.EqualError(t, s.AppendEvent(context.Background(), types.Event{ID: "1"}), "disk full")
	assert.Zero(t, mirror.appended)
}

func TestAppendMirrorFailureIsNotFatal(t *testing.T) {
	primary := &fakeEventStore{}
	broken := &fakeEventStore{appendErr: errors.New("mirror down")}
	healthy := &fakeEventStore{}
	s := New(primary, []store.EventStore{broken, healthy}, quiet())

	require.NoError(t, s.AppendEvent(context.Background(), types.Event{ID: "1"}))
	assert.Equal(t, 1, primary.appended)
	assert.Equal(t, 1, broken.appended)
	assert.Equal(t, 1, healthy.appended)
}

func TestQueryUsesPrimary(t *testing.T) {
	s := New(&fakeEventStore{}, nil)
	evs, err := s.QueryEvents(context.Background(), types.EventQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "x", evs[0].ID)
}

func TestCloseJoinsErrors(t *testing.T) {
	primary := &fakeEventStore{closeErr: errors.New("a")}
	mirror := &fakeEventStore{closeErr: errors.New("b")}
	s := New(primary, []store.EventStore{mirror})

	err := s.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary: a")
	assert.Contains(t, err.Error(), "mirror 0: b")
	assert.True(t, primary.closed)
	assert.True(t, mirror.closed)
}
