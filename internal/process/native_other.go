//go:build !windows

package process

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"syscall"
	"time"
	"unicode/utf16"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/tinywall/procman/pkg/types"
)

// statusUnsuccessful is STATUS_UNSUCCESSFUL as a signed NTSTATUS.
const statusUnsuccessful int32 = -0x3FFFFFFF

const exitPollInterval = 10 * time.Millisecond

// psHandle is the state an open "process handle" pins. The parent PID and
// creation time are read at open so they stay queryable after the process
// exits, as they would through a kernel handle.
type psHandle struct {
	p          *process.Process
	ppid       int32
	ppidErr    error
	created    int64
	createdErr error
}

type psSnapshot struct {
	records []types.ProcessRecord
	pos     int
}

// psNative emulates the handle-based process API on top of gopsutil. Raw
// values index a handle table; zero and all-ones are never issued.
type psNative struct {
	mu      sync.Mutex
	next    uintptr
	handles map[uintptr]any
}

func newPlatformNative() Native {
	return &psNative{handles: make(map[uintptr]any)}
}

func (n *psNative) register(v any) uintptr {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next += 4
	n.handles[n.next] = v
	return n.next
}

func (n *psNative) lookup(raw uintptr) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.handles[raw]
	return v, ok
}

func (n *psNative) handle(raw uintptr) (*psHandle, error) {
	v, ok := n.lookup(raw)
	if !ok {
		return nil, syscall.EBADF
	}
	h, ok := v.(*psHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	return h, nil
}

func (n *psNative) OpenProcess(pid int, _ Access) (uintptr, error) {
	if pid <= 0 {
		return invalidRaw, syscall.EINVAL
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return invalidRaw, fmt.Errorf("open pid %d: %w", pid, err)
	}
	h := &psHandle{p: p}
	h.ppid, h.ppidErr = p.Ppid()
	if ms, err := p.CreateTime(); err != nil {
		h.createdErr = err
	} else {
		h.created = types.TimeToFiletime(time.UnixMilli(ms))
	}
	return n.register(h), nil
}

func (n *psNative) CloseHandle(raw uintptr) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.handles[raw]; !ok {
		return syscall.EBADF
	}
	delete(n.handles, raw)
	return nil
}

func (n *psNative) QueryImagePath(raw uintptr, buf []uint16) (int, error) {
	h, err := n.handle(raw)
	if err != nil {
		return 0, err
	}
	exe, err := h.p.Exe()
	if err != nil {
		return 0, err
	}
	units := utf16.Encode([]rune(exe))
	if len(units) == 0 {
		return 0, ErrNotAvailable
	}
	if len(units) > len(buf) {
		return 0, syscall.ENAMETOOLONG
	}
	return copy(buf, units), nil
}

func (n *psNative) QueryParentPID(raw uintptr) (int, int32) {
	h, err := n.handle(raw)
	if err != nil || h.ppidErr != nil {
		return 0, statusUnsuccessful
	}
	return int(h.ppid), 0
}

func (n *psNative) ProcessTimes(raw uintptr) (Times, error) {
	h, err := n.handle(raw)
	if err != nil {
		return Times{}, err
	}
	if h.createdErr != nil {
		return Times{}, h.createdErr
	}
	t := Times{Creation: h.created}
	if cpu, err := h.p.Times(); err == nil {
		t.Kernel = int64(cpu.System * 1e7)
		t.User = int64(cpu.User * 1e7)
	}
	return t, nil
}

func (n *psNative) CreateSnapshot() (uintptr, error) {
	procs, err := process.Processes()
	if err != nil {
		return invalidRaw, err
	}
	s := &psSnapshot{records: make([]types.ProcessRecord, 0, len(procs))}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			// Exited between listing and reading.
			continue
		}
		rec := types.ProcessRecord{
			PID:     int(p.Pid),
			ExeFile: truncateUnits(name, types.MaxExeFileLen),
		}
		if ppid, err := p.Ppid(); err == nil {
			rec.ParentPID = int(ppid)
		}
		if threads, err := p.NumThreads(); err == nil {
			rec.Threads = int(threads)
		}
		if nice, err := p.Nice(); err == nil {
			rec.BasePriority = int(nice)
		}
		s.records = append(s.records, rec)
	}
	return n.register(s), nil
}

func (n *psNative) snapshot(raw uintptr) (*psSnapshot, error) {
	v, ok := n.lookup(raw)
	if !ok {
		return nil, syscall.EBADF
	}
	s, ok := v.(*psSnapshot)
	if !ok {
		return nil, syscall.EBADF
	}
	return s, nil
}

func (n *psNative) SnapshotFirst(raw uintptr, rec *types.ProcessRecord) error {
	s, err := n.snapshot(raw)
	if err != nil {
		return err
	}
	s.pos = 0
	return n.SnapshotNext(raw, rec)
}

func (n *psNative) SnapshotNext(raw uintptr, rec *types.ProcessRecord) error {
	s, err := n.snapshot(raw)
	if err != nil {
		return err
	}
	if s.pos >= len(s.records) {
		return ErrNoMoreEntries
	}
	*rec = s.records[s.pos]
	s.pos++
	return nil
}

func (n *psNative) IsWow64() (bool, error) {
	return false, nil
}

func (n *psNative) OpenTarget(pid int) (Target, error) {
	if pid <= 0 {
		return nil, syscall.EINVAL
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("open pid %d: %w", pid, err)
	}
	// IsRunning compares against the cached creation time; pin it while the
	// process is known to be alive.
	if _, err := p.CreateTime(); err != nil {
		return nil, fmt.Errorf("creation time of pid %d: %w", pid, err)
	}
	return &psTarget{p: p}, nil
}

// truncateUnits cuts s to at most limit UTF-16 units without splitting a
// surrogate pair.
func truncateUnits(s string, limit int) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= limit {
		return s
	}
	units = units[:limit]
	if utf16.IsSurrogate(rune(units[limit-1])) {
		units = units[:limit-1]
	}
	return string(utf16.Decode(units))
}

// psTarget has no window or message queue to address, so the cooperative
// request is SIGTERM.
type psTarget struct {
	p *process.Process
}

func (t *psTarget) PID() int { return int(t.p.Pid) }

func (t *psTarget) CreationTime() (int64, error) {
	ms, err := t.p.CreateTime()
	if err != nil {
		return 0, err
	}
	return types.TimeToFiletime(time.UnixMilli(ms)), nil
}

func (t *psTarget) HasMainWindow() bool { return false }

func (t *psTarget) CloseMainWindow() error { return ErrNotSupported }

func (t *psTarget) PostQuitToThreads() error {
	return t.p.Terminate()
}

func (t *psTarget) WaitForExit(d time.Duration) bool {
	if t.exited() {
		return true
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(exitPollInterval)
	defer tick.Stop()
	for {
		select {
		case <-deadline.C:
			return t.exited()
		case <-tick.C:
			if t.exited() {
				return true
			}
		}
	}
}

func (t *psTarget) exited() bool {
	running, err := t.p.IsRunning()
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return true
		}
		exists, perr := process.PidExists(t.p.Pid)
		return perr == nil && !exists
	}
	if !running {
		return true
	}
	status, err := t.p.Status()
	return err == nil && slices.Contains(status, process.Zombie)
}

func (t *psTarget) Kill() error {
	return t.p.Kill()
}

func (t *psTarget) Close() error { return nil }
