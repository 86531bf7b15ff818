// Package dbconn manages named database connections for a session and
// provides the introspection queries the database tools build on.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteDSN builds a DSN with WAL mode and a busy timeout, the settings
// that keep a single-file database usable under concurrent tool calls.
func SQLiteDSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

// Connection is one open database handle with its registration
// metadata.
type Connection struct {
	name   string
	driver string
	dsn    string
	db     *sql.DB
}

func (c *Connection) Name() string   { return c.name }
func (c *Connection) Driver() string { return c.driver }
func (c *Connection) DB() *sql.DB    { return c.db }

// Manager holds the session's named connections. One connection is
// active at a time; tools resolve against the active one unless a call
// names another.
type Manager struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	active string
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{conns: make(map[string]*Connection)}
}

// Connect opens, pings, and registers a connection. The first
// registered connection becomes active. Reconnecting an existing name
// replaces the old handle.
func (m *Manager) Connect(ctx context.Context, name, driver, dsn string) (*Connection, error) {
	if name == "" {
		return nil, fmt.Errorf("connection name is required")
	}
	if driver != "sqlite" {
		return nil, fmt.Errorf("unsupported driver %q (only sqlite is built in)", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	// SQLite tolerates many readers but only one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}

	conn := &Connection{name: name, driver: driver, dsn: dsn, db: db}

	m.mu.Lock()
	if old, ok := m.conns[name]; ok {
		old.db.Close()
	}
	m.conns[name] = conn
	if m.active == "" {
		m.active = name
	}
	m.mu.Unlock()
	return conn, nil
}

// Get returns a named connection.
func (m *Manager) Get(name string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[name]
	if !ok {
		return nil, fmt.Errorf("no connection named %q", name)
	}
	return conn, nil
}

// Active returns the active connection.
func (m *Manager) Active() (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil, fmt.Errorf("no database connected")
	}
	return m.conns[m.active], nil
}

// Resolve returns the named connection, or the active one when name is
// empty.
func (m *Manager) Resolve(name string) (*Connection, error) {
	if name == "" {
		return m.Active()
	}
	return m.Get(name)
}

// SwitchTo changes the active connection.
func (m *Manager) SwitchTo(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[name]; !ok {
		return fmt.Errorf("no connection named %q", name)
	}
	m.active = name
	return nil
}

// Names lists registered connection names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for name := range m.conns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ActiveName returns the active connection's name, or "".
func (m *Manager) ActiveName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// CloseAll closes every connection.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, conn := range m.conns {
		if err := conn.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.conns = make(map[string]*Connection)
	m.active = ""
	return firstErr
}

// QueryResult is a fully materialized result set.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// IsQuery reports whether the statement returns rows.
func IsQuery(sqlText string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(sqlText))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN", "SHOW"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Query runs a row-returning statement and materializes up to limit
// rows (0 means no cap). Values are normalized to Go scalars.
func (c *Connection) Query(ctx context.Context, sqlText string, limit int) (*QueryResult, error) {
	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &QueryResult{Columns: cols}

	for rows.Next() {
		if limit > 0 && len(out.Rows) >= limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	return out, rows.Err()
}

// Exec runs a non-query statement and returns affected rows.
func (c *Connection) Exec(ctx context.Context, sqlText string) (int64, error) {
	result, err := c.db.ExecContext(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// DryRun executes the statement inside a transaction and rolls it
// back, returning the rows that would have been affected.
func (c *Connection) DryRun(ctx context.Context, sqlText string) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
