// Package audit persists execution history: one row per tool call and per
// sandbox run. It uses SQLite so the history survives restarts and can be
// inspected with ordinary tooling.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeToolError      Outcome = "tool_error"
	OutcomeInvalidArgs    Outcome = "invalid_args"
	OutcomeDenied         Outcome = "denied"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeCancelled      Outcome = "cancelled"
)

// Entry is a single audit record.
type Entry struct {
	ID        string    `json:"id"` // ULID assigned by the executor
	Kind      string    `json:"kind"`
	Server    string    `json:"server"`
	Tool      string    `json:"tool,omitempty"`
	Arguments string    `json:"arguments,omitempty"` // JSON as sent
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"` // error text or result digest
	Duration  int64     `json:"duration_ms"`
	Approved  bool      `json:"approved"` // explicit sensitive approval carried
	CreatedAt time.Time `json:"created_at"`
}

// Record kinds.
const (
	KindToolCall  = "tool_call"
	KindScriptRun = "script_run"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Server  string
	Outcome Outcome
	Limit   int
}

// Store is the audit persistence interface.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	server      TEXT NOT NULL,
	tool        TEXT NOT NULL DEFAULT '',
	arguments   TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	approved    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_server ON executions(server);
CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time verification that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record inserts an audit entry.
func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, kind, server, tool, arguments, outcome, detail, duration_ms, approved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Kind, entry.Server, entry.Tool, entry.Arguments,
		string(entry.Outcome), entry.Detail, entry.Duration,
		boolToInt(entry.Approved), entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}

	return nil
}

// Get returns a single entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, server, tool, arguments, outcome, detail, duration_ms, approved, created_at
		 FROM executions WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("audit entry %q not found", id)
	}

	return entry, err
}

// List returns entries matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)

	if filter.Server != "" {
		conds = append(conds, "server = ?")
		args = append(args, filter.Server)
	}

	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}

	query := `SELECT id, kind, server, tool, arguments, outcome, detail, duration_ms, approved, created_at
		 FROM executions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, entry)
	}

	return out, rows.Err()
}

// Prune deletes entries older than the cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}

	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry    Entry
		outcome  string
		approved int
		created  string
	)

	err := row.Scan(&entry.ID, &entry.Kind, &entry.Server, &entry.Tool,
		&entry.Arguments, &outcome, &entry.Detail, &entry.Duration,
		&approved, &created)
	if err != nil {
		return Entry{}, err
	}

	entry.Outcome = Outcome(outcome)
	entry.Approved = approved != 0

	if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		entry.CreatedAt = ts
	}

	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// NopStore discards all audit writes. Used when no audit path is configured.
type NopStore struct{}

// Compile-time verification that NopStore implements Store.
var _ Store = (*NopStore)(nil)

func (NopStore) Record(context.Context, Entry) error { return nil }

func (NopStore) Get(context.Context, string) (Entry, error) {
	return Entry{}, fmt.Errorf("auditing disabled")
}

func (NopStore) List(context.Context, Filter) ([]Entry, error) { return nil, nil }

func (NopStore) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (NopStore) Close() error { return nil }
