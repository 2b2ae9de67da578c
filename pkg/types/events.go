package types

import "time"

// Event types recorded by the process event log.
const (
	EventProcessStarted = "process_started"
	EventProcessExited  = "process_exited"
	EventTerminate      = "terminate"
)

// Event is one entry of the process event log: a process seen starting or
// exiting by the watcher, or the result of a termination request.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	PID          int    `json:"pid"`
	ParentPID    int    `json:"parent_pid,omitempty"`
	CreationTime int64  `json:"creation_time,omitempty"`
	ExeFile      string `json:"exe_file,omitempty"`
	ImagePath    string `json:"image_path,omitempty"`

	// Set on terminate events.
	Outcome string   `json:"outcome,omitempty"`
	States  []string `json:"states,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// EventQuery filters the event log.
type EventQuery struct {
	Types []string
	PID   int
	Since *time.Time
	Until *time.Time

	ExeLike string // case-insensitive substring of ExeFile

	Limit  int
	Offset int
	Asc    bool
}
