package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/dccmcp/pkg/schema"
)

// LibSQLStore implements Journal using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/journal.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if !strings.HasPrefix(dbPath, "file:") && !strings.Contains(dbPath, "://") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, storeError("open libsql", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

// Record appends e and fills in its ID and timestamp.
func (s *LibSQLStore) Record(ctx context.Context, e *Entry) error {
	e.CreatedAt = timeOrNow(e.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (name, action, scope, call_id, success, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Name, nullStr(e.Action), nullStr(e.Scope), nullStr(e.CallID), nullBool(e.Success), nullRaw(e.Payload), e.CreatedAt,
	)
	if err != nil {
		return storeError("insert event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListEvents returns the entries matching filter, newest first.
func (s *LibSQLStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Entry, error) {
	var where []string
	var args []any

	if len(filter.Names) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(filter.Names)), ",")
		where = append(where, "name IN ("+marks+")")
		for _, n := range filter.Names {
			args = append(args, n)
		}
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, filter.Scope)
	}
	if filter.CallID != "" {
		where = append(where, "call_id = ?")
		args = append(args, filter.CallID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, name, action, scope, call_id, success, payload, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list events", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ActionStats summarizes execution outcomes per action. An empty scope
// covers every scope.
func (s *LibSQLStore) ActionStats(ctx context.Context, scope string) ([]*ActionStat, error) {
	query := `SELECT scope, action, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), MAX(id)
		FROM events WHERE success IS NOT NULL AND action IS NOT NULL`
	var args []any
	if scope != "" {
		query += " AND scope = ?"
		args = append(args, scope)
	}
	query += " GROUP BY scope, action ORDER BY scope, action"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("action stats", err)
	}
	defer rows.Close()

	var stats []*ActionStat
	var lastIDs []int64
	for rows.Next() {
		st := &ActionStat{}
		var sc sql.NullString
		var last int64
		if err := rows.Scan(&sc, &st.Action, &st.Calls, &st.Failures, &last); err != nil {
			return nil, storeError("scan action stats", err)
		}
		st.Scope = sc.String
		stats = append(stats, st)
		lastIDs = append(lastIDs, last)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("action stats", err)
	}
	rows.Close()

	for i, st := range stats {
		if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM events WHERE id = ?`, lastIDs[i]).Scan(&st.LastCallAt); err != nil {
			return nil, storeError("action stats", err)
		}
	}
	return stats, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var action, scope, callID, payload sql.NullString
		var success sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Name, &action, &scope, &callID, &success, &payload, &e.CreatedAt); err != nil {
			return nil, storeError("scan event", err)
		}
		e.Action = action.String
		e.Scope = scope.String
		e.CallID = callID.String
		e.Payload = rawOrNil(payload)
		if success.Valid {
			ok := success.Int64 != 0
			e.Success = &ok
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Helpers ---

func storeError(op string, err error) *schema.ActionError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Journal = (*LibSQLStore)(nil)
