package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinywall/procman/pkg/types"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS process_events (
			event_id TEXT PRIMARY KEY,
			ts_unix_ns INTEGER NOT NULL,
			type TEXT NOT NULL,
			pid INTEGER NOT NULL,
			creation_time INTEGER,
			exe_file TEXT,
			outcome TEXT,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_events_ts ON process_events(ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_process_events_pid_ts ON process_events(pid, ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_process_events_type_ts ON process_events(type, ts_unix_ns);`,
	},
	{
		`ALTER TABLE process_events ADD COLUMN parent_pid INTEGER;`,
		`ALTER TABLE process_events ADD COLUMN image_path TEXT;`,
		`CREATE INDEX IF NOT EXISTS idx_process_events_ppid_ts ON process_events(parent_pid, ts_unix_ns);`,
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("sqlite schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("sqlite schema version %d is newer than this build (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite migrate %d: %w", i+1, err)
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlite migrate %d: %w", i+1, err)
			}
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite migrate %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite migrate %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the number of applied migrations.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v)
	return v, err
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_events(
			event_id, ts_unix_ns, type, pid, parent_pid, creation_time, exe_file, image_path, outcome, payload_json
		) VALUES(?,?,?,?,?,?,?,?,?,?);`,
		ev.ID,
		ev.Timestamp.UTC().UnixNano(),
		ev.Type,
		ev.PID,
		nullableInt64(int64(ev.ParentPID)),
		nullableInt64(ev.CreationTime),
		nullable(ev.ExeFile),
		nullable(ev.ImagePath),
		nullable(ev.Outcome),
		string(b),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	where, args := filter(q)

	order := "DESC"
	if q.Asc {
		order = "ASC"
	}
	limit := q.Limit
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset := max(q.Offset, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM process_events WHERE `+where+` ORDER BY ts_unix_ns `+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query events rows: %w", err)
	}
	return out, nil
}

// Summary is the per-type count of the events matching a query.
type Summary struct {
	Type     string `json:"type"`
	Count    int64  `json:"count"`
	Distinct int64  `json:"distinct_pids"`
}

// Summarize counts matching events by type. Limit, Offset and order in q are
// ignored.
func (s *Store) Summarize(ctx context.Context, q types.EventQuery) ([]Summary, error) {
	where, args := filter(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*), COUNT(DISTINCT pid) FROM process_events WHERE `+where+` GROUP BY type ORDER BY type`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize events: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Type, &sum.Count, &sum.Distinct); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

const (
	defaultLimit = 200
	maxLimit     = 5000
)

// filter renders the WHERE clause for the filters of q.
func filter(q types.EventQuery) (string, []any) {
	where := []string{"1=1"}
	var args []any

	if len(q.Types) > 0 {
		place := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			place = append(place, "?")
			args = append(args, t)
		}
		where = append(where, "type IN ("+strings.Join(place, ",")+")")
	}
	if q.PID != 0 {
		where = append(where, "pid = ?")
		args = append(args, q.PID)
	}
	if q.Since != nil {
		where = append(where, "ts_unix_ns >= ?")
		args = append(args, q.Since.UTC().UnixNano())
	}
	if q.Until != nil {
		where = append(where, "ts_unix_ns <= ?")
		args = append(args, q.Until.UTC().UnixNano())
	}
	if q.ExeLike != "" {
		where = append(where, "LOWER(exe_file) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.ExeLike)+"%")
	}

	return strings.Join(where, " AND "), args
}

// Prune deletes events older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM process_events WHERE ts_unix_ns < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}
