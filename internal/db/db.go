package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Audit event types.
const (
	EventProcessStarted = "process.started"
	EventPolicyDropped  = "policy.dropped"
	EventRouteSelected  = "route.selected"
	EventModuleFailed   = "module.failed"
	EventReplySent      = "reply.sent"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// DB is a database/sql handle that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the record store named by url. postgres:// and
// postgresql:// URLs use the pgx driver; anything else is treated as a
// SQLite file path, whose parent directory is created if needed.
func Open(url string) (*DB, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("database url is empty")
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		conn, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		return &DB{DB: conn, Dialect: Postgres}, nil
	}
	return OpenSQLite(url)
}

// OpenSQLite opens (or creates) a SQLite database at the given path.
func OpenSQLite(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}
	return &DB{DB: conn, Dialect: SQLite}, nil
}

// Rebind rewrites '?' placeholders into the dialect's form.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InitSchema creates all tables: events, context_history, users,
// remote_credentials, employees.
func InitSchema(ctx context.Context, d *DB) error {
	schema := sqliteSchema
	if d.Dialect == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
		parent_id INTEGER,
		event_type TEXT NOT NULL,
		payload TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
	`CREATE TABLE IF NOT EXISTS context_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_context_history_user ON context_history(user_id, id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_id INTEGER NOT NULL UNIQUE,
		username TEXT,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS remote_credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		encrypted_login TEXT NOT NULL,
		encrypted_password TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 3389
	)`,
	`CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		last_name TEXT NOT NULL,
		last_name_search TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL,
		middle_name TEXT,
		phone TEXT NOT NULL,
		email TEXT NOT NULL,
		position TEXT NOT NULL,
		department TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_employees_search ON employees(last_name_search)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL DEFAULT (EXTRACT(EPOCH FROM now())::BIGINT),
		parent_id BIGINT,
		event_type TEXT NOT NULL,
		payload TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
	`CREATE TABLE IF NOT EXISTS context_history (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL DEFAULT (EXTRACT(EPOCH FROM now())::BIGINT)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_context_history_user ON context_history(user_id, id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		telegram_id BIGINT NOT NULL UNIQUE,
		username TEXT,
		created_at BIGINT NOT NULL DEFAULT (EXTRACT(EPOCH FROM now())::BIGINT)
	)`,
	`CREATE TABLE IF NOT EXISTS remote_credentials (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		encrypted_login TEXT NOT NULL,
		encrypted_password TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 3389
	)`,
	`CREATE TABLE IF NOT EXISTS employees (
		id BIGSERIAL PRIMARY KEY,
		last_name TEXT NOT NULL,
		last_name_search TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL,
		middle_name TEXT,
		phone TEXT NOT NULL,
		email TEXT NOT NULL,
		position TEXT NOT NULL,
		department TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_employees_search ON employees(last_name_search)`,
}

// LogEvent inserts an event into the events table and returns its id.
// parentID may be nil for root events. payload is serialized to JSON;
// nil payload stores NULL.
func LogEvent(ctx context.Context, d *DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	var id int64
	err := d.QueryRowContext(ctx,
		d.Rebind(`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?) RETURNING id`),
		parentID, eventType, payloadJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return id, nil
}

// CountEvents returns how many events of eventType were recorded.
func CountEvents(ctx context.Context, d *DB, eventType string) (int, error) {
	var n int
	err := d.QueryRowContext(ctx, d.Rebind(`SELECT COUNT(*) FROM events WHERE event_type = ?`), eventType).Scan(&n)
	return n, err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
