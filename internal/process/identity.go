package process

import (
	"fmt"

	"github.com/tinywall/procman/pkg/types"
)

// Identify pins pid to the process currently using it.
func (m *Manager) Identify(pid int) (types.Identity, error) {
	h, err := m.OpenProcess(pid, AccessQueryLimited)
	if err != nil {
		return types.Identity{}, err
	}
	defer h.Close()

	created, ok := m.CreationTime(h)
	if !ok {
		return types.Identity{}, fmt.Errorf("creation time of pid %d: %w", pid, ErrNotAvailable)
	}
	return types.Identity{PID: pid, CreationTime: created}, nil
}

// IsCurrent reports whether id.PID still refers to the process id was
// taken from. It is false once the PID cannot be opened or belongs to a
// process with a different creation time.
func (m *Manager) IsCurrent(id types.Identity) bool {
	if id.CreationTime == 0 {
		return false
	}
	current, err := m.Identify(id.PID)
	if err != nil {
		return false
	}
	return current.CreationTime == id.CreationTime
}

// OpenTargetAt opens id.PID and keeps the reference only if it is bound to
// the process id was taken from. The creation time is read from the opened
// reference, so a PID recycled after id was taken is refused with
// ErrIdentityMismatch. A zero id.CreationTime accepts whatever process holds
// the PID.
func (m *Manager) OpenTargetAt(id types.Identity) (Target, error) {
	t, err := m.OpenTarget(id.PID)
	if err != nil {
		return nil, err
	}
	if id.CreationTime == 0 {
		return t, nil
	}
	created, err := t.CreationTime()
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("creation time of pid %d: %w", id.PID, ErrNotAvailable)
	}
	if created != id.CreationTime {
		_ = t.Close()
		return nil, fmt.Errorf("pid %d created at %d, want %d: %w", id.PID, created, id.CreationTime, ErrIdentityMismatch)
	}
	return t, nil
}
