package process

import (
	"fmt"
	"log/slog"
)

// DefaultPathCapacity is the image path buffer size, in UTF-16 units, used
// when the caller does not supply a buffer.
const DefaultPathCapacity = 1024

// Manager answers what processes exist, what they are, and who their parent
// is. It holds no per-call state and is safe for concurrent use; every
// operation acquires and releases its own handles.
type Manager struct {
	native       Native
	logger       *slog.Logger
	pathCapacity int
}

// Option configures a Manager.
type Option func(*Manager)

// WithNative replaces the host capability set.
func WithNative(n Native) Option {
	return func(m *Manager) {
		if n != nil {
			m.native = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPathCapacity sets the default image path buffer size.
func WithPathCapacity(units int) Option {
	return func(m *Manager) {
		if units > 0 {
			m.pathCapacity = units
		}
	}
}

// New creates a Manager backed by the host platform.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:       slog.Default(),
		pathCapacity: DefaultPathCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.native == nil {
		m.native = newPlatformNative()
	}
	m.logger = m.logger.With(slog.String("subsystem", "process"))
	return m
}

// Native returns the capability set the manager calls through.
func (m *Manager) Native() Native {
	return m.native
}

// OpenProcess opens pid and returns an owned handle. The caller must Close
// it.
func (m *Manager) OpenProcess(pid int, access Access) (*Handle, error) {
	raw, err := m.native.OpenProcess(pid, access)
	h := newHandle(m.native, raw, KindProcess)
	if err != nil || h.IsInvalid() {
		_ = h.Close()
		if err == nil {
			err = ErrNotAvailable
		}
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return h, nil
}

// OpenTarget returns a live process reference for Terminate.
func (m *Manager) OpenTarget(pid int) (Target, error) {
	t, err := m.native.OpenTarget(pid)
	if err != nil {
		return nil, fmt.Errorf("open target %d: %w", pid, err)
	}
	return t, nil
}

func (m *Manager) openQuery(pid int) *Handle {
	h, err := m.OpenProcess(pid, AccessQueryLimited)
	if err != nil {
		m.logger.Debug("open process failed", slog.Int("pid", pid), slog.Any("error", err))
		return nil
	}
	return h
}
