package process

import (
	"errors"
	"iter"

	"github.com/tinywall/procman/pkg/types"
)

// Snapshot is a forward-only cursor over one point-in-time copy of the
// system process list. Processes started after the snapshot are absent and
// processes that exited since may still appear. A Snapshot owns its native
// handle until it is exhausted, fails, or is closed, and cannot be rewound;
// take a new Snapshot for a fresh view.
//
// A Snapshot is not safe for concurrent use.
type Snapshot struct {
	native  Native
	h       *Handle
	rec     types.ProcessRecord
	started bool
	done    bool
	err     error
}

// Snapshot captures the process list now.
func (m *Manager) Snapshot() (*Snapshot, error) {
	raw, err := m.native.CreateSnapshot()
	h := newHandle(m.native, raw, KindSnapshot)
	if err != nil || h.IsInvalid() {
		_ = h.Close()
		if err == nil {
			err = ErrNotAvailable
		}
		return nil, &EnumerationError{Op: "create process snapshot", Code: ErrorCode(err), Err: err}
	}
	return &Snapshot{native: m.native, h: h}, nil
}

// Next advances to the next record. It returns false at the end of the list
// or on error; check Err afterwards.
func (s *Snapshot) Next() bool {
	if s.done {
		return false
	}

	var err error
	op := "next process entry"
	if !s.started {
		s.started = true
		op = "first process entry"
		err = s.native.SnapshotFirst(s.h.Raw(), &s.rec)
	} else {
		err = s.native.SnapshotNext(s.h.Raw(), &s.rec)
	}
	if err != nil {
		if !errors.Is(err, ErrNoMoreEntries) {
			s.err = &EnumerationError{Op: op, Code: ErrorCode(err), Err: err}
		}
		s.finish()
		return false
	}
	return true
}

// Record returns the record Next advanced to.
func (s *Snapshot) Record() types.ProcessRecord {
	return s.rec
}

// Err returns the error that ended the walk, if any.
func (s *Snapshot) Err() error {
	return s.err
}

// Close releases the snapshot. Calling it after the walk ended is harmless.
func (s *Snapshot) Close() error {
	s.done = true
	return s.h.Close()
}

// All returns the remaining records as a sequence. The snapshot is closed
// when the range finishes or the consumer stops early. Check Err after the
// range for a walk error.
func (s *Snapshot) All() iter.Seq[types.ProcessRecord] {
	return func(yield func(types.ProcessRecord) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.rec) {
				return
			}
		}
	}
}

func (s *Snapshot) finish() {
	s.done = true
	if err := s.h.Close(); err != nil && s.err == nil {
		s.err = err
	}
}

// Processes takes a snapshot and collects every record. The snapshot is
// released before returning.
func (m *Manager) Processes() ([]types.ProcessRecord, error) {
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	var out []types.ProcessRecord
	for rec := range snap.All() {
		out = append(out, rec)
	}
	if err := snap.Err(); err != nil {
		return out, err
	}
	return out, nil
}
