package process

import "log/slog"

// CreationTime returns the creation timestamp of the process behind h in
// 100ns units since 1601-01-01 UTC. It returns false without calling the OS
// when h is invalid.
func (m *Manager) CreationTime(h *Handle) (int64, bool) {
	if h.IsInvalid() {
		return 0, false
	}
	t, err := m.native.ProcessTimes(h.Raw())
	if err != nil || t.Creation == 0 {
		return 0, false
	}
	return t.Creation, true
}

// ParentOf returns the parent PID of pid when the OS claim can be
// corroborated. ok is false when the process cannot be opened, when the
// calling process runs under WOW64, or when the claimed parent is gone or
// was created after the child (its PID was reused). err is only set when the
// OS returns a failing status for the basic information query; that is never
// downgraded to "not available".
//
// The creation-time check can disprove a relationship but never prove one:
// a recycled parent PID whose new owner happens to be older than the child
// (for example across a clock adjustment) still passes.
func (m *Manager) ParentOf(pid int) (ppid int, ok bool, err error) {
	h := m.openQuery(pid)
	if h == nil {
		return 0, false, nil
	}
	defer h.Close()

	wow64, werr := m.native.IsWow64()
	if werr != nil || wow64 {
		m.logger.Debug("ancestry unsupported", slog.Bool("wow64", wow64), slog.Any("error", werr))
		return 0, false, nil
	}

	claimed, status := m.native.QueryParentPID(h.Raw())
	if status < 0 {
		return 0, false, &StatusError{PID: pid, Status: status}
	}

	childCreated, ok := m.CreationTime(h)
	if !ok {
		return 0, false, nil
	}

	parent := m.openQuery(claimed)
	if parent == nil {
		return 0, false, nil
	}
	defer parent.Close()

	parentCreated, ok := m.CreationTime(parent)
	if !ok {
		return 0, false, nil
	}

	if !acceptParent(parentCreated, childCreated) {
		m.logger.Debug("parent pid reused",
			slog.Int("pid", pid),
			slog.Int("claimed_ppid", claimed),
			slog.Int64("parent_created", parentCreated),
			slog.Int64("child_created", childCreated))
		return 0, false, nil
	}
	return claimed, true, nil
}

// acceptParent is the PID-reuse tie-break: a process cannot be the parent of
// one created before it.
func acceptParent(parentCreated, childCreated int64) bool {
	return parentCreated <= childCreated
}
