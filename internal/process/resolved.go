package process

import (
	"iter"

	"github.com/tinywall/procman/pkg/types"
)

// ResolvedSnapshot walks a Snapshot and enriches every record with its image
// path and creation time. Each record's process handle is opened and closed
// within Next; only the snapshot handle lives across calls.
type ResolvedSnapshot struct {
	m    *Manager
	snap *Snapshot
	buf  *PathBuffer
	rec  types.ResolvedProcessRecord
}

// SnapshotResolved captures the process list now and returns an enriching
// cursor over it.
func (m *Manager) SnapshotResolved() (*ResolvedSnapshot, error) {
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	return &ResolvedSnapshot{m: m, snap: snap, buf: NewPathBuffer(m.pathCapacity)}, nil
}

// Next advances to the next record. Records whose process cannot be opened
// are still produced, with no image path and a zero creation time.
func (r *ResolvedSnapshot) Next() bool {
	if !r.snap.Next() {
		return false
	}
	r.rec = r.m.resolve(r.snap.Record(), r.buf)
	return true
}

// Record returns the record Next advanced to.
func (r *ResolvedSnapshot) Record() types.ResolvedProcessRecord {
	return r.rec
}

// Err returns the error that ended the walk, if any.
func (r *ResolvedSnapshot) Err() error {
	return r.snap.Err()
}

// Close releases the underlying snapshot.
func (r *ResolvedSnapshot) Close() error {
	return r.snap.Close()
}

// All returns the remaining records as a sequence and closes the snapshot
// when the range ends.
func (r *ResolvedSnapshot) All() iter.Seq[types.ResolvedProcessRecord] {
	return func(yield func(types.ResolvedProcessRecord) bool) {
		defer r.Close()
		for r.Next() {
			if !yield(r.rec) {
				return
			}
		}
	}
}

func (m *Manager) resolve(rec types.ProcessRecord, buf *PathBuffer) types.ResolvedProcessRecord {
	out := types.ResolvedProcessRecord{ProcessRecord: rec}
	h := m.openQuery(rec.PID)
	if h == nil {
		return out
	}
	defer h.Close()

	out.ImagePath, _ = m.ImagePathWith(h, buf)
	out.CreationTime, _ = m.CreationTime(h)
	return out
}

// ResolvedProcesses takes a resolved snapshot and collects every record.
func (m *Manager) ResolvedProcesses() ([]types.ResolvedProcessRecord, error) {
	snap, err := m.SnapshotResolved()
	if err != nil {
		return nil, err
	}
	var out []types.ResolvedProcessRecord
	for rec := range snap.All() {
		out = append(out, rec)
	}
	return out, snap.Err()
}
