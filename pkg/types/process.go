package types

import "time"

// MaxExeFileLen is the OS limit for the executable name field of a snapshot
// entry, in UTF-16 units, excluding the terminator.
const MaxExeFileLen = 259

// filetimeUnixOffset is the number of 100ns intervals between 1601-01-01 and
// 1970-01-01.
const filetimeUnixOffset = 116444736000000000

// ProcessRecord is one raw entry of a process snapshot. ParentPID is the value
// claimed by the OS and has not been corroborated.
type ProcessRecord struct {
	PID          int    `json:"pid"`
	ParentPID    int    `json:"parent_pid"`
	Threads      int    `json:"threads"`
	BasePriority int    `json:"base_priority"`
	ExeFile      string `json:"exe_file"`
}

// ResolvedProcessRecord is a ProcessRecord enriched with data read through an
// open process handle. CreationTime is zero and ImagePath empty when the
// process could not be opened or queried.
type ResolvedProcessRecord struct {
	ProcessRecord
	CreationTime int64  `json:"creation_time,omitempty"` // 100ns intervals since 1601-01-01 UTC
	ImagePath    string `json:"image_path,omitempty"`
}

// HasCreationTime reports whether the creation time was obtained.
func (r ResolvedProcessRecord) HasCreationTime() bool {
	return r.CreationTime != 0
}

// Identity pins a PID to one process instance. A PID alone is only
// meaningful at the instant it was observed.
type Identity struct {
	PID          int   `json:"pid"`
	CreationTime int64 `json:"creation_time"`
}

// FiletimeToTime converts a count of 100ns intervals since 1601-01-01 UTC to
// a time.Time. Zero maps to the zero time.
func FiletimeToTime(ft int64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (ft-filetimeUnixOffset)*100).UTC()
}

// TimeToFiletime is the inverse of FiletimeToTime.
func TimeToFiletime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()/100 + filetimeUnixOffset
}
