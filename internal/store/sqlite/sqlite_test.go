package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywall/procman/pkg/types"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndQueryEvents(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.AppendEvent(ctx, types.Event{
		ID: "e1", Type: types.EventProcessStarted, Timestamp: base,
		PID: 100, CreationTime: 5, ExeFile: "Notepad.exe",
	}))
	require.NoError(t, s.AppendEvent(ctx, types.Event{
		ID: "e2", Type: types.EventTerminate, Timestamp: base.Add(time.Minute),
		PID: 100, ExeFile: "Notepad.exe", Outcome: "forced",
		States: []string{"running", "requested_gracefully", "waiting_for_exit"},
	}))
	require.NoError(t, s.AppendEvent(ctx, types.Event{
		ID: "e3", Type: types.EventProcessStarted, Timestamp: base.Add(2 * time.Minute),
		PID: 200, ExeFile: "cmd.exe",
	}))

	got, err := s.QueryEvents(ctx, types.EventQuery{PID: 100})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID, "newest first by default")
	assert.Equal(t, "forced", got[0].Outcome)
	assert.Len(t, got[0].States, 3)

	got, err = s.QueryEvents(ctx, types.EventQuery{Types: []string{types.EventProcessStarted}, Asc: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)

	got, err = s.QueryEvents(ctx, types.EventQuery{ExeLike: "notepad"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	since := base.Add(90 * time.Second)
	got, err = s.QueryEvents(ctx, types.EventQuery{Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e3", got[0].ID)
}

func TestAppendRejectsMissingID(t *testing.T) {
	s := openTemp(t)
	assert.Error(t, s.AppendEvent(context.Background(), types.Event{Type: types.EventTerminate}))
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.AppendEvent(ctx, types.Event{ID: "old", Type: "x", Timestamp: now.Add(-48 * time.Hour), PID: 1}))
	require.NoError(t, s.AppendEvent(ctx, types.Event{ID: "new", Type: "x", Timestamp: now, PID: 1}))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.QueryEvents(ctx, types.EventQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestMigrationsAreRecordedAndIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, s.AppendEvent(ctx, types.Event{ID: "a", Type: types.EventProcessStarted, PID: 3, ParentPID: 1, ImagePath: `C:\a.exe`}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.QueryEvents(ctx, types.EventQuery{PID: 3})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ParentPID)
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 99;`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than this build")
}

func TestSummarize(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, ev := range []types.Event{
		{Type: types.EventProcessStarted, PID: 10},
		{Type: types.EventProcessStarted, PID: 11},
		{Type: types.EventProcessExited, PID: 10},
		{Type: types.EventTerminate, PID: 11, Outcome: "forced"},
		{Type: types.EventTerminate, PID: 11, Outcome: "terminated"},
	} {
		ev.ID = string(rune('a' + i))
		ev.Timestamp = now
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	got, err := s.Summarize(ctx, types.EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{Type: types.EventProcessExited, Count: 1, Distinct: 1},
		{Type: types.EventProcessStarted, Count: 2, Distinct: 2},
		{Type: types.EventTerminate, Count: 2, Distinct: 1},
	}, got)

	got, err = s.Summarize(ctx, types.EventQuery{PID: 10})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
