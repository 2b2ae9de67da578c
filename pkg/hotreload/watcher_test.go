package hotreload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *countingLoader) Load(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.err
}

func (c *countingLoader) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func startWatcher(t *testing.T, cfg WatcherConfig) *FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		_ = w.Stop()
		cancel()
	})
	return w
}

func TestNewFileWatcher_Validation(t *testing.T) {
	loader := &countingLoader{}

	_, err := NewFileWatcher(WatcherConfig{Load: loader.Load})
	assert.Error(t, err, "empty path")

	_, err = NewFileWatcher(WatcherConfig{Path: "procman.yaml"})
	assert.Error(t, err, "nil load func")

	w, err := NewFileWatcher(WatcherConfig{Path: "procman.yaml", Load: loader.Load})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.path))
	assert.Equal(t, 100*time.Millisecond, w.debounce)
}

func TestFileWatcher_StartTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procman.yaml")
	w := startWatcher(t, WatcherConfig{Path: path, Load: (&countingLoader{}).Load})

	assert.Error(t, w.Start(context.Background()))
}

func TestFileWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "procman.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	loader := &countingLoader{}
	changed := make(chan error, 4)
	w := startWatcher(t, WatcherConfig{
		Path:     path,
		Load:     loader.Load,
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ string, err error) { changed <- err },
	})

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	select {
	case err := <-changed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	assert.Positive(t, loader.Count())
	assert.Positive(t, w.Stats().ReloadsSuccess)
}

func TestFileWatcher_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procman.yaml")
	loader := &countingLoader{}
	startWatcher(t, WatcherConfig{Path: path, Load: loader.Load, Debounce: 200 * time.Millisecond})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return loader.Count() > 0 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, loader.Count())
}

func TestFileWatcher_LoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procman.yaml")
	loader := &countingLoader{err: errors.New("bad yaml")}
	changed := make(chan error, 4)

	w, err := NewFileWatcher(WatcherConfig{
		Path:     path,
		Load:     loader.Load,
		OnChange: func(_ string, err error) { changed <- err },
	})
	require.NoError(t, err)
	assert.ErrorIs(t, w.TriggerReload(), ErrNotRunning)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, w.TriggerReload())
	select {
	case err := <-changed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	s := w.Stats()
	assert.Positive(t, s.ReloadsFailed)
	assert.Contains(t, s.LastError, "bad yaml")
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procman.yaml")
	w, err := NewFileWatcher(WatcherConfig{Path: path, Load: (&countingLoader{}).Load})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.TriggerReload(), ErrNotRunning)
}
