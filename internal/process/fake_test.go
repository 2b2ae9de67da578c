package process

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"time"
	"unicode/utf16"

	"github.com/tinywall/procman/pkg/types"
)

// fakeProc describes one process known to fakeNative.
type fakeProc struct {
	record    types.ProcessRecord
	image     string
	created   int64
	status    int32 // returned by QueryParentPID when negative
	openErr   error
	timesErr  error
	ppidQuery int // parent PID returned by QueryParentPID; defaults to record.ParentPID
}

// fakeNative is an in-memory Native that counts opens and closes.
type fakeNative struct {
	mu      sync.Mutex
	procs   map[int]*fakeProc
	order   []int
	next    uintptr
	open    map[uintptr]int // raw -> pid, or -1 for snapshots
	opened  int
	closed  int
	closes  map[uintptr]int
	wow64   bool
	snapErr error
	nextErr error // returned by SnapshotNext after the first entry
	cursor  map[uintptr]int
	target  *fakeTarget
}

func newFakeNative(procs ...*fakeProc) *fakeNative {
	n := &fakeNative{
		procs:  make(map[int]*fakeProc),
		open:   make(map[uintptr]int),
		closes: make(map[uintptr]int),
		cursor: make(map[uintptr]int),
	}
	for _, p := range procs {
		n.procs[p.record.PID] = p
		n.order = append(n.order, p.record.PID)
	}
	return n
}

func (n *fakeNative) issue(pid int) uintptr {
	n.next += 4
	n.open[n.next] = pid
	n.opened++
	return n.next
}

func (n *fakeNative) live() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.open)
}

func (n *fakeNative) OpenProcess(pid int, _ Access) (uintptr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.procs[pid]
	if !ok {
		return invalidRaw, syscall.EINVAL
	}
	if p.openErr != nil {
		return invalidRaw, p.openErr
	}
	return n.issue(pid), nil
}

func (n *fakeNative) CloseHandle(raw uintptr) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closes[raw]++
	if _, ok := n.open[raw]; !ok {
		return syscall.EBADF
	}
	delete(n.open, raw)
	n.closed++
	return nil
}

func (n *fakeNative) proc(raw uintptr) (*fakeProc, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pid, ok := n.open[raw]
	if !ok || pid < 0 {
		return nil, syscall.EBADF
	}
	return n.procs[pid], nil
}

func (n *fakeNative) QueryImagePath(raw uintptr, buf []uint16) (int, error) {
	p, err := n.proc(raw)
	if err != nil {
		return 0, err
	}
	units := utf16.Encode([]rune(p.image))
	if len(units) == 0 {
		return 0, ErrNotAvailable
	}
	if len(units) > len(buf) {
		return 0, syscall.ENAMETOOLONG
	}
	return copy(buf, units), nil
}

func (n *fakeNative) QueryParentPID(raw uintptr) (int, int32) {
	p, err := n.proc(raw)
	if err != nil {
		return 0, statusInvalidHandle
	}
	if p.status < 0 {
		return 0, p.status
	}
	if p.ppidQuery != 0 {
		return p.ppidQuery, 0
	}
	return p.record.ParentPID, 0
}

func (n *fakeNative) ProcessTimes(raw uintptr) (Times, error) {
	p, err := n.proc(raw)
	if err != nil {
		return Times{}, err
	}
	if p.timesErr != nil {
		return Times{}, p.timesErr
	}
	return Times{Creation: p.created}, nil
}

func (n *fakeNative) CreateSnapshot() (uintptr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.snapErr != nil {
		return invalidRaw, n.snapErr
	}
	return n.issue(-1), nil
}

func (n *fakeNative) SnapshotFirst(raw uintptr, rec *types.ProcessRecord) error {
	n.mu.Lock()
	n.cursor[raw] = 0
	n.mu.Unlock()
	return n.step(raw, rec)
}

func (n *fakeNative) SnapshotNext(raw uintptr, rec *types.ProcessRecord) error {
	if n.nextErr != nil {
		return n.nextErr
	}
	return n.step(raw, rec)
}

func (n *fakeNative) step(raw uintptr, rec *types.ProcessRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if pid, ok := n.open[raw]; !ok || pid != -1 {
		return syscall.EBADF
	}
	i := n.cursor[raw]
	if i >= len(n.order) {
		return ErrNoMoreEntries
	}
	*rec = n.procs[n.order[i]].record
	n.cursor[raw] = i + 1
	return nil
}

func (n *fakeNative) IsWow64() (bool, error) {
	return n.wow64, nil
}

func (n *fakeNative) OpenTarget(pid int) (Target, error) {
	if n.target == nil || n.target.pid != pid {
		return nil, ErrNotAvailable
	}
	return n.target, nil
}

// statusInvalidHandle is STATUS_INVALID_HANDLE as a signed NTSTATUS.
const statusInvalidHandle int32 = -0x3FFFFFF8

// fakeTarget scripts how a process reacts to each termination step.
type fakeTarget struct {
	pid           int
	created       int64
	window        bool
	exitOnRequest bool // exits within the first wait
	exitOnKill    bool // exits within the kill grace
	killErr       error

	closeCalls int
	quitCalls  int
	killCalls  int
	waits      []time.Duration
	requested  bool
	killed     bool
}

func (t *fakeTarget) PID() int            { return t.pid }

func (t *fakeTarget) CreationTime() (int64, error) {
	if t.created == 0 {
		return 0, ErrNotAvailable
	}
	return t.created, nil
}
func (t *fakeTarget) HasMainWindow() bool { return t.window }

func (t *fakeTarget) CloseMainWindow() error {
	t.closeCalls++
	t.requested = true
	return nil
}

func (t *fakeTarget) PostQuitToThreads() error {
	t.quitCalls++
	t.requested = true
	return nil
}

func (t *fakeTarget) WaitForExit(d time.Duration) bool {
	t.waits = append(t.waits, d)
	if t.killed {
		return t.exitOnKill
	}
	return t.requested && t.exitOnRequest
}

func (t *fakeTarget) Kill() error {
	t.killCalls++
	if t.killErr != nil {
		return t.killErr
	}
	t.killed = true
	return nil
}

func (t *fakeTarget) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFakeManager(n *fakeNative) *Manager {
	return New(WithNative(n), WithLogger(discardLogger()))
}

var errAccessDenied = errors.New("access denied")

func rec(pid, ppid int, exe string) types.ProcessRecord {
	return types.ProcessRecord{PID: pid, ParentPID: ppid, Threads: 1, BasePriority: 8, ExeFile: exe}
}
