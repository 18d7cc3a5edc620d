package tasks

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cespare/xxhash/v2"
	"github.com/lib/pq"
)

// Store is the task log. Append and Delete must each be atomic.
type Store interface {
	Append(ctx context.Context, t Task) (Task, error)
	// List returns matching tasks in ascending id order.
	List(ctx context.Context, f Filter) ([]Task, error)
	Delete(ctx context.Context, f Filter) (int64, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// Migrations create the task log in PostgreSQL.
var Migrations = []migration.Migrator{
	func(tx migration.LimitedTx) error {
		_, err := tx.Exec(`
CREATE TABLE search_api_task (
	id         BIGSERIAL PRIMARY KEY,
	server_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	index_id   TEXT,
	data       TEXT,
	created_at BIGINT NOT NULL
);
CREATE INDEX search_api_task_server_idx ON search_api_task (server_id, id);`)
		return err
	},
}

// SQLiteSchema creates the task log in an embedded database.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS search_api_task (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id  TEXT NOT NULL,
		type       TEXT NOT NULL,
		index_id   TEXT,
		data       TEXT,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS search_api_task_server_idx ON search_api_task (server_id, id)`,
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore keeps the task log in a database/sql database.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var (
	_ Store        = (*SQLStore)(nil)
	_ ServerLocker = (*SQLStore)(nil)
)

// NewPostgresStore expects Migrations to have been applied.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dialectPostgres}
}

// NewSQLiteStore expects SQLiteSchema to have been applied.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dialectSQLite}
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TryLockServer takes a PostgreSQL advisory lock on serverID, so drains of
// one server exclude each other across hosts. The lock lives on a dedicated
// connection until release. An embedded database is only shared on one host
// and is always reported as locked.
func (s *SQLStore) TryLockServer(ctx context.Context, serverID string) (func(), bool, error) {
	if s.dialect != dialectPostgres {
		return func() {}, true, nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("locking server %s: %w", serverID, err)
	}
	key := advisoryKey(serverID)
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("locking server %s: %w", serverID, err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			// A discarded connection ends its session and the lock with it.
			conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}, true, nil
}

// advisoryKey maps a server id into the bigint key space of advisory locks.
func advisoryKey(serverID string) int64 {
	return int64(xxhash.Sum64String("search_api_task:" + serverID))
}

type whereBuilder struct {
	dialect dialect
	conds   []string
	args    []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	if w.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", len(w.args))
	}
	return "?"
}

func (w *whereBuilder) eq(col string, v any) {
	w.conds = append(w.conds, col+" = "+w.arg(v))
}

func (w *whereBuilder) in(col string, negate bool, values []any, pgArray any) {
	if w.dialect == dialectPostgres {
		cond := col + " = ANY(" + w.arg(pgArray) + ")"
		if negate {
			cond = "NOT (" + cond + ")"
		}
		w.conds = append(w.conds, cond)
		return
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = w.arg(v)
	}
	op := " IN "
	if negate {
		op = " NOT IN "
	}
	w.conds = append(w.conds, col+op+"("+strings.Join(marks, ", ")+")")
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func int64s(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func strs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (s *SQLStore) where(f Filter) *whereBuilder {
	w := &whereBuilder{dialect: s.dialect}
	if len(f.IDs) > 0 {
		w.in("id", false, int64s(f.IDs), pq.Array(f.IDs))
	}
	if f.ServerID != "" {
		w.eq("server_id", f.ServerID)
	}
	if len(f.IndexIDs) > 0 {
		w.in("index_id", false, strs(f.IndexIDs), pq.Array(f.IndexIDs))
	}
	if len(f.ExcludeIDs) > 0 {
		w.in("id", true, int64s(f.ExcludeIDs), pq.Array(f.ExcludeIDs))
	}
	return w
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLStore) Append(ctx context.Context, t Task) (Task, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	w := &whereBuilder{dialect: s.dialect}
	stmt := fmt.Sprintf(
		`INSERT INTO search_api_task (server_id, type, index_id, data, created_at) VALUES (%s, %s, %s, %s, %s) RETURNING id`,
		w.arg(t.ServerID), w.arg(string(t.Type)), w.arg(nullable(t.IndexID)), w.arg(nullable(string(t.Data))), w.arg(t.CreatedAt.UnixMilli()),
	)
	if err := s.db.QueryRowContext(ctx, stmt, w.args...).Scan(&t.ID); err != nil {
		return Task{}, fmt.Errorf("appending task: %w", err)
	}
	t.CreatedAt = time.UnixMilli(t.CreatedAt.UnixMilli()).UTC()
	return t, nil
}

func (s *SQLStore) List(ctx context.Context, f Filter) ([]Task, error) {
	w := s.where(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, type, index_id, data, created_at FROM search_api_task`+w.String()+` ORDER BY id`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t         Task
			typ       string
			indexID   sql.NullString
			data      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.ServerID, &typ, &indexID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.Type = Type(typ)
		t.IndexID = indexID.String
		if data.Valid {
			t.Data = []byte(data.String)
		}
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes matching tasks in one statement.
func (s *SQLStore) Delete(ctx context.Context, f Filter) (int64, error) {
	w := s.where(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_api_task`+w.String(), w.args...)
	if err != nil {
		return 0, fmt.Errorf("deleting tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted tasks: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Count(ctx context.Context, f Filter) (int, error) {
	w := s.where(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_api_task`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return n, nil
}
