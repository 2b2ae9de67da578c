package process

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultKillGrace is how long Terminate waits for the OS to tear a process
// down after the forced kill.
const DefaultKillGrace = time.Second

// State is a step of the termination protocol.
type State int

const (
	StateRunning State = iota
	StateRequestedGracefully
	StateRequestedViaClose
	StateWaitingForExit
	StateExited
	StateTimedOut
	StateForceKill
	StateWaitingShort
	StateStillAlive
)

var stateNames = [...]string{
	StateRunning:             "running",
	StateRequestedGracefully: "requested_gracefully",
	StateRequestedViaClose:   "requested_via_close",
	StateWaitingForExit:      "waiting_for_exit",
	StateExited:              "exited",
	StateTimedOut:            "timed_out",
	StateForceKill:           "force_kill",
	StateWaitingShort:        "waiting_short",
	StateStillAlive:          "still_alive",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions lists the legal edges. ForceKill is reachable only from
// TimedOut, so a process is killed at most once per Terminate.
var transitions = map[State][]State{
	StateRunning:             {StateRequestedGracefully, StateRequestedViaClose},
	StateRequestedGracefully: {StateWaitingForExit},
	StateRequestedViaClose:   {StateWaitingForExit},
	StateWaitingForExit:      {StateExited, StateTimedOut},
	StateTimedOut:            {StateForceKill},
	StateForceKill:           {StateWaitingShort},
	StateWaitingShort:        {StateExited, StateStillAlive},
}

// Outcome is the observable result of Terminate.
type Outcome int

const (
	// OutcomeTerminated: the process exited after the graceful request.
	OutcomeTerminated Outcome = iota
	// OutcomeForced: the process exited after the forced kill.
	OutcomeForced
	// OutcomeStillRunning: the process survived the forced kill; the
	// caller decides what to do next.
	OutcomeStillRunning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTerminated:
		return "terminated"
	case OutcomeForced:
		return "forced"
	case OutcomeStillRunning:
		return "still_running"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Terminator drives a process from running to exited: a cooperative request
// first, then one forced kill if the process does not exit in time.
type Terminator struct {
	logger    *slog.Logger
	killGrace time.Duration
	observe   func(State)
}

// TerminatorOption configures a Terminator.
type TerminatorOption func(*Terminator)

// WithTerminatorLogger sets the logger for transition records.
func WithTerminatorLogger(logger *slog.Logger) TerminatorOption {
	return func(t *Terminator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithKillGrace sets the wait after the forced kill.
func WithKillGrace(d time.Duration) TerminatorOption {
	return func(t *Terminator) {
		if d > 0 {
			t.killGrace = d
		}
	}
}

// WithObserver registers a callback invoked for every state entered,
// starting with StateRunning.
func WithObserver(fn func(State)) TerminatorOption {
	return func(t *Terminator) {
		t.observe = fn
	}
}

// NewTerminator creates a Terminator.
func NewTerminator(opts ...TerminatorOption) *Terminator {
	t := &Terminator{
		logger:    slog.Default(),
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(slog.String("subsystem", "terminate"))
	return t
}

// run tracks the current state of one Terminate call.
type run struct {
	t      *Terminator
	logger *slog.Logger
	state  State
}

func (r *run) enter(next State) {
	if !legal(r.state, next) {
		panic(fmt.Sprintf("process: illegal termination transition %s -> %s", r.state, next))
	}
	r.logger.Debug("termination transition", slog.String("from", r.state.String()), slog.String("to", next.String()))
	r.state = next
	if r.t.observe != nil {
		r.t.observe(next)
	}
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminate ends p. It asks the process to exit (closing its main window if
// it has a visible one, otherwise posting a quit message to each of its
// threads), waits up to timeout, and if the process is still running kills
// it once and waits DefaultKillGrace (or the configured grace) for teardown.
// The kill is never retried. When the process survives it, the outcome is
// OutcomeStillRunning and err carries the kill failure, if any.
//
// The only cancellation is timeout; once the kill is issued it cannot be
// undone.
func (t *Terminator) Terminate(p Target, timeout time.Duration) (Outcome, error) {
	if timeout < 0 {
		timeout = 0
	}
	r := &run{
		t: t,
		logger: t.logger.With(
			slog.String("op", uuid.NewString()),
			slog.Int("pid", p.PID()),
		),
		state: StateRunning,
	}
	if t.observe != nil {
		t.observe(StateRunning)
	}

	if p.HasMainWindow() {
		if err := p.CloseMainWindow(); err != nil {
			r.logger.Debug("close main window failed", slog.Any("error", err))
		}
		r.enter(StateRequestedViaClose)
	} else {
		if err := p.PostQuitToThreads(); err != nil {
			r.logger.Debug("post quit failed", slog.Any("error", err))
		}
		r.enter(StateRequestedGracefully)
	}

	r.enter(StateWaitingForExit)
	if p.WaitForExit(timeout) {
		r.enter(StateExited)
		r.logger.Info("process terminated", slog.String("outcome", OutcomeTerminated.String()))
		return OutcomeTerminated, nil
	}
	r.enter(StateTimedOut)

	r.enter(StateForceKill)
	killErr := p.Kill()
	if killErr != nil {
		r.logger.Warn("forced kill failed", slog.Any("error", killErr))
	}

	r.enter(StateWaitingShort)
	if p.WaitForExit(t.killGrace) {
		r.enter(StateExited)
		r.logger.Info("process terminated", slog.String("outcome", OutcomeForced.String()))
		return OutcomeForced, nil
	}
	r.enter(StateStillAlive)
	r.logger.Warn("process survived forced kill", slog.String("outcome", OutcomeStillRunning.String()))
	if killErr != nil {
		return OutcomeStillRunning, fmt.Errorf("kill pid %d: %w", p.PID(), killErr)
	}
	return OutcomeStillRunning, nil
}
