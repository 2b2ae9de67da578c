package process

import (
	"time"

	"github.com/tinywall/procman/pkg/types"
)

// Access is a process access mask. Bit values follow the Windows process
// access rights; other platforms only honour the subset they can express.
type Access uint32

const (
	AccessTerminate      Access = 0x00000001
	AccessQueryLimited   Access = 0x00001000
	AccessSynchronize    Access = 0x00100000
	AccessTerminateQuery        = AccessTerminate | AccessQueryLimited | AccessSynchronize
)

// Times holds process timestamps in 100ns units. Creation and Exit are
// absolute (since 1601-01-01 UTC); Kernel and User are durations.
type Times struct {
	Creation int64
	Exit     int64
	Kernel   int64
	User     int64
}

// Native is the host's process-management capability set. Raw handle values
// returned here are owned by the caller and must be wrapped in a Handle
// before any other use.
type Native interface {
	// OpenProcess opens pid with the requested access. On failure the raw
	// value is an invalid sentinel and err is set.
	OpenProcess(pid int, access Access) (uintptr, error)

	// CloseHandle releases a raw handle of either kind.
	CloseHandle(raw uintptr) error

	// QueryImagePath writes the full image path of the process into buf
	// and returns the number of UTF-16 units written.
	QueryImagePath(raw uintptr, buf []uint16) (int, error)

	// QueryParentPID reads the parent PID from the process's basic
	// information block. A negative status is a genuine failure.
	QueryParentPID(raw uintptr) (ppid int, status int32)

	ProcessTimes(raw uintptr) (Times, error)

	// CreateSnapshot captures the system process list.
	CreateSnapshot() (uintptr, error)

	// SnapshotFirst and SnapshotNext walk a snapshot. ErrNoMoreEntries
	// (possibly wrapped) marks the end of the list.
	SnapshotFirst(raw uintptr, rec *types.ProcessRecord) error
	SnapshotNext(raw uintptr, rec *types.ProcessRecord) error

	// IsWow64 reports whether the calling process runs under the 32-bit
	// compatibility layer of a 64-bit OS.
	IsWow64() (bool, error)

	// OpenTarget returns a live reference to pid suitable for Terminate.
	OpenTarget(pid int) (Target, error)
}

// Target is a live process reference held for the duration of a
// termination. Implementations own any OS resources until Close.
type Target interface {
	PID() int

	// CreationTime is the FILETIME creation time of the process this
	// reference is bound to.
	CreationTime() (int64, error)

	// HasMainWindow reports whether the process owns a visible top-level
	// window.
	HasMainWindow() bool

	// CloseMainWindow asks the main window to close.
	CloseMainWindow() error

	// PostQuitToThreads posts a quit request to every thread of the
	// process. Delivery is not confirmed.
	PostQuitToThreads() error

	// WaitForExit blocks until the process exits or d elapses and reports
	// whether it exited.
	WaitForExit(d time.Duration) bool

	// Kill terminates the process unconditionally.
	Kill() error

	Close() error
}
