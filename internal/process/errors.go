package process

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrEnumerationFailed is matched by every error that stops a snapshot
	// from being produced or walked.
	ErrEnumerationFailed = errors.New("process enumeration failed")

	// ErrUnexpectedStatus is matched by errors carrying a failing NTSTATUS
	// from the process information query.
	ErrUnexpectedStatus = errors.New("unexpected process information status")

	// ErrNotAvailable reports that the requested data cannot be obtained for
	// the process (gone, access denied, or unsupported in this configuration).
	ErrNotAvailable = errors.New("process information not available")

	// ErrNoMoreEntries is returned by a Native snapshot cursor at the end of
	// the process list. It is a normal terminal signal.
	ErrNoMoreEntries = errors.New("no more snapshot entries")

	// ErrNotSupported is returned by operations the host platform lacks.
	ErrNotSupported = errors.New("operation not supported on this platform")

	// ErrIdentityMismatch reports that a PID now belongs to a different
	// process than the one the caller identified.
	ErrIdentityMismatch = errors.New("process identity mismatch")
)

// EnumerationError carries the native error code of a failed snapshot
// operation.
type EnumerationError struct {
	Op   string
	Code uint32
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("%s: %v (code %d)", e.Op, e.Err, e.Code)
}

func (e *EnumerationError) Unwrap() []error {
	return []error{ErrEnumerationFailed, e.Err}
}

// StatusError carries a negative NTSTATUS returned while querying basic
// process information.
type StatusError struct {
	PID    int
	Status int32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("query basic information of pid %d: NTSTATUS 0x%08X", e.PID, uint32(e.Status))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// ErrorCode extracts a numeric native error code from err, or 0.
func ErrorCode(err error) uint32 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint32(errno)
	}
	return 0
}
