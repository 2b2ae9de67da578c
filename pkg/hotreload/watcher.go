package hotreload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoadFunc reads and applies the file at path. A returned error leaves the
// previous configuration in place.
type LoadFunc func(path string) error

// ErrNotRunning is returned by TriggerReload before Start or after Stop.
var ErrNotRunning = errors.New("file watcher not running")

// FileWatcher reloads a single file when it changes on disk. It watches the
// parent directory so editors that replace the file by rename are seen.
type FileWatcher struct {
	path     string
	load     LoadFunc
	debounce time.Duration
	onChange func(path string, err error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stats   Stats
	reloads chan struct{}
	stop    context.CancelFunc
}

// Stats counts reload attempts.
type Stats struct {
	ReloadsTotal   int64     `json:"reloads_total"`
	ReloadsSuccess int64     `json:"reloads_success"`
	ReloadsFailed  int64     `json:"reloads_failed"`
	LastReload     time.Time `json:"last_reload,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorTime  time.Time `json:"last_error_time,omitzero"`
}

// WatcherConfig configures a FileWatcher.
type WatcherConfig struct {
	Path string
	Load LoadFunc
	// Debounce is the quiet period after the last change before a reload;
	// default 100ms.
	Debounce time.Duration
	// OnChange, if set, is called after every reload attempt.
	OnChange func(path string, err error)
}

func NewFileWatcher(cfg WatcherConfig) (*FileWatcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watched file path is required")
	}
	if cfg.Load == nil {
		return nil, fmt.Errorf("load func is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Path, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	return &FileWatcher{
		path:     path,
		load:     cfg.Load,
		debounce: cfg.Debounce,
		onChange: cfg.OnChange,
	}, nil
}

// Start begins watching. The watcher stops when ctx is done or Stop is
// called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return fmt.Errorf("file watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fsw
	w.stop = cancel
	w.reloads = make(chan struct{}, 1)

	go w.loop(ctx, fsw, w.reloads)
	return nil
}

func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, reloads <-chan struct{}) {
	defer fsw.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.schedule()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				// The file is gone for now. Keep the loaded config; a
				// replacement arrives as Create.
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.fail(fmt.Sprintf("fsnotify: %v", err))

		case <-reloads:
			w.reload()
		}
	}
}

// schedule restarts the debounce timer.
func (w *FileWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.request)
}

func (w *FileWatcher) request() {
	w.mu.Lock()
	ch := w.reloads
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (w *FileWatcher) reload() {
	w.mu.Lock()
	w.stats.ReloadsTotal++
	w.mu.Unlock()

	err := w.load(w.path)
	if err != nil {
		w.fail(fmt.Sprintf("load %s: %v", w.path, err))
	} else {
		w.mu.Lock()
		w.stats.ReloadsSuccess++
		w.stats.LastReload = time.Now()
		w.mu.Unlock()
	}
	if w.onChange != nil {
		w.onChange(w.path, err)
	}
}

func (w *FileWatcher) fail(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ReloadsFailed++
	w.stats.LastError = msg
	w.stats.LastErrorTime = time.Now()
}

// Stop stops watching. It is safe to call more than once.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	w.stop()
	w.watcher = nil
	w.reloads = nil
	return nil
}

// Stats returns a copy of the reload counters.
func (w *FileWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// TriggerReload queues a reload without waiting for a file event.
func (w *FileWatcher) TriggerReload() error {
	w.mu.Lock()
	running := w.watcher != nil
	w.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	w.request()
	return nil
}
