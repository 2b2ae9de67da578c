package cli

import "fmt"

// Exit codes beyond the generic 1.
const (
	// exitStillRunning: the process survived the forced kill.
	exitStillRunning = 2
	// exitIdentityMismatch: the PID now belongs to another process.
	exitIdentityMismatch = 3
	// exitNotFound: the process or the requested data is not available.
	exitNotFound = 4
)

// ExitError is returned by commands that want to control the process exit code
// without necessarily printing an additional error message.
type ExitError struct {
	code    int
	message string
}

func exitErrorf(code int, format string, args ...any) *ExitError {
	return &ExitError{code: code, message: fmt.Sprintf(format, args...)}
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
