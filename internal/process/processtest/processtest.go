// Package processtest provides an in-memory process table implementing
// process.Native, for tests of packages built on process.Manager.
package processtest

import (
	"slices"
	"sync"
	"syscall"
	"time"
	"unicode/utf16"

	"github.com/tinywall/procman/internal/process"
	"github.com/tinywall/procman/pkg/types"
)

const invalid = ^uintptr(0)

// Proc is one process of the fake table.
type Proc struct {
	PID      int
	PPID     int
	Threads  int
	Priority int
	Exe      string
	Image    string
	Created  int64

	// Status is returned by the parent PID query when negative.
	Status int32
	// Stubborn processes ignore graceful requests and exit only when killed.
	Stubborn bool
	// Unkillable processes survive Kill as well.
	Unkillable bool
}

// Native is a fake process.Native. All methods are safe for concurrent use.
type Native struct {
	mu      sync.Mutex
	procs   map[int]Proc
	order   []int
	next    uintptr
	open    map[uintptr]int
	cursors map[uintptr][]types.ProcessRecord
	killed  []int

	// BeforeOpenTarget, if set, runs at the start of OpenTarget without the
	// table lock held. Tests use it to change the table under a caller.
	BeforeOpenTarget func(pid int)
}

var _ process.Native = (*Native)(nil)

func New(procs ...Proc) *Native {
	n := &Native{
		procs:   make(map[int]Proc),
		open:    make(map[uintptr]int),
		cursors: make(map[uintptr][]types.ProcessRecord),
	}
	for _, p := range procs {
		n.Add(p)
	}
	return n
}

// Add inserts or replaces p.
func (n *Native) Add(p Proc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.procs[p.PID]; !ok {
		n.order = append(n.order, p.PID)
	}
	n.procs[p.PID] = p
}

// Remove makes pid exit.
func (n *Native) Remove(pid int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removeLocked(pid)
}

func (n *Native) removeLocked(pid int) {
	delete(n.procs, pid)
	n.order = slices.DeleteFunc(n.order, func(p int) bool { return p == pid })
}

// Exists reports whether pid is still in the table.
func (n *Native) Exists(pid int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.procs[pid]
	return ok
}

// Killed returns the PIDs passed to Kill, in order.
func (n *Native) Killed() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.killed)
}

// Live returns the number of raw handles not yet closed.
func (n *Native) Live() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.open)
}

func (n *Native) issueLocked(pid int) uintptr {
	n.next += 4
	n.open[n.next] = pid
	return n.next
}

func (n *Native) procLocked(raw uintptr) (Proc, error) {
	pid, ok := n.open[raw]
	if !ok || pid < 0 {
		return Proc{}, syscall.EBADF
	}
	p, ok := n.procs[pid]
	if !ok {
		return Proc{}, syscall.ESRCH
	}
	return p, nil
}

func (n *Native) OpenProcess(pid int, _ process.Access) (uintptr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.procs[pid]; !ok {
		return invalid, syscall.EINVAL
	}
	return n.issueLocked(pid), nil
}

func (n *Native) CloseHandle(raw uintptr) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.open[raw]; !ok {
		return syscall.EBADF
	}
	delete(n.open, raw)
	delete(n.cursors, raw)
	return nil
}

func (n *Native) QueryImagePath(raw uintptr, buf []uint16) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, err := n.procLocked(raw)
	if err != nil {
		return 0, err
	}
	if p.Image == "" {
		return 0, syscall.EACCES
	}
	units := utf16.Encode([]rune(p.Image))
	if len(units) > len(buf) {
		return 0, syscall.ENAMETOOLONG
	}
	return copy(buf, units), nil
}

func (n *Native) QueryParentPID(raw uintptr) (int, int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, err := n.procLocked(raw)
	if err != nil {
		return 0, -0x3FFFFFF8
	}
	if p.Status < 0 {
		return 0, p.Status
	}
	return p.PPID, 0
}

func (n *Native) ProcessTimes(raw uintptr) (process.Times, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, err := n.procLocked(raw)
	if err != nil {
		return process.Times{}, err
	}
	return process.Times{Creation: p.Created}, nil
}

func (n *Native) CreateSnapshot() (uintptr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	recs := make([]types.ProcessRecord, 0, len(n.order))
	for _, pid := range n.order {
		p := n.procs[pid]
		recs = append(recs, types.ProcessRecord{
			PID:          p.PID,
			ParentPID:    p.PPID,
			Threads:      p.Threads,
			BasePriority: p.Priority,
			ExeFile:      p.Exe,
		})
	}
	raw := n.issueLocked(-1)
	n.cursors[raw] = recs
	return raw, nil
}

func (n *Native) SnapshotFirst(raw uintptr, rec *types.ProcessRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.cursors[raw]; !ok {
		return syscall.EBADF
	}
	return n.popLocked(raw, rec)
}

func (n *Native) SnapshotNext(raw uintptr, rec *types.ProcessRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.popLocked(raw, rec)
}

func (n *Native) popLocked(raw uintptr, rec *types.ProcessRecord) error {
	recs, ok := n.cursors[raw]
	if !ok {
		return syscall.EBADF
	}
	if len(recs) == 0 {
		return process.ErrNoMoreEntries
	}
	*rec = recs[0]
	n.cursors[raw] = recs[1:]
	return nil
}

func (n *Native) IsWow64() (bool, error) { return false, nil }

func (n *Native) OpenTarget(pid int) (process.Target, error) {
	if n.BeforeOpenTarget != nil {
		n.BeforeOpenTarget(pid)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.procs[pid]
	if !ok {
		return nil, syscall.ESRCH
	}
	return &target{n: n, pid: pid, created: p.Created}, nil
}

// target is bound to the process that held pid when it was opened.
type target struct {
	n       *Native
	pid     int
	created int64
}

func (t *target) PID() int { return t.pid }

func (t *target) CreationTime() (int64, error) { return t.created, nil }

func (t *target) HasMainWindow() bool { return false }

func (t *target) CloseMainWindow() error { return process.ErrNotSupported }

func (t *target) PostQuitToThreads() error {
	t.n.mu.Lock()
	defer t.n.mu.Unlock()
	if p, ok := t.n.procs[t.pid]; ok && !p.Stubborn && !p.Unkillable {
		t.n.removeLocked(t.pid)
	}
	return nil
}

func (t *target) WaitForExit(time.Duration) bool {
	return !t.n.Exists(t.pid)
}

func (t *target) Kill() error {
	t.n.mu.Lock()
	defer t.n.mu.Unlock()
	t.n.killed = append(t.n.killed, t.pid)
	p, ok := t.n.procs[t.pid]
	if !ok {
		return syscall.ESRCH
	}
	if p.Unkillable {
		return syscall.EPERM
	}
	t.n.removeLocked(t.pid)
	return nil
}

func (t *target) Close() error { return nil }
