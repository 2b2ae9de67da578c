package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/pkg/types"
)

// Store appends events to a rotating JSON-lines file. The live file is
// path; backups are path.1 (newest) to path.N. Queries read the backups and
// the live file in chronological order.
type Store struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

func New(path string, maxSizeMB int, maxBackups int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl path is empty")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}
	s := &Store{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open jsonl: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat jsonl: %w", err)
	}
	s.file = f
	s.size = st.Size()
	return nil
}

func (s *Store) AppendEvent(_ context.Context, ev types.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("jsonl store closed")
	}
	if s.size > 0 && s.size+int64(len(b)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(b)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write jsonl: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Event
	for _, path := range s.filesLocked() {
		evs, err := scanFile(ctx, path, q)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}

	if !q.Asc {
		slices.Reverse(out)
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// filesLocked lists existing files oldest first.
func (s *Store) filesLocked() []string {
	var files []string
	for i := s.maxBackups; i >= 1; i-- {
		b := backupName(s.path, i)
		if _, err := os.Stat(b); err == nil {
			files = append(files, b)
		}
	}
	return append(files, s.path)
}

func scanFile(ctx context.Context, path string, q types.EventQuery) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}
	defer f.Close()

	var out []types.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ev types.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			// Torn trailing line from a crash.
			continue
		}
		if store.Matches(ev, q) {
			out = append(out, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func backupName(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}

// rotateLocked shifts path.i to path.i+1, dropping the oldest, and starts
// a fresh live file.
func (s *Store) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close for rotate: %w", err)
	}
	s.file = nil

	_ = os.Remove(backupName(s.path, s.maxBackups))
	for i := s.maxBackups - 1; i >= 1; i-- {
		from := backupName(s.path, i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, backupName(s.path, i+1)); err != nil {
				return fmt.Errorf("rotate %s: %w", filepath.Base(from), err)
			}
		}
	}
	if err := os.Rename(s.path, backupName(s.path, 1)); err != nil {
		return fmt.Errorf("rotate jsonl: %w", err)
	}
	return s.openLocked()
}
