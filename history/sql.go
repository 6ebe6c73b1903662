package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hupe1980/chatkernel/core"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SQLStore persists history in a chat_history table. The same statements
// run on SQLite and MySQL; only the schema differs.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens dsn with driver ("sqlite" or "mysql") and creates the
// schema if needed.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history dsn is required")
	}
	if driver != DriverSQLite && driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	store := &SQLStore{db: db, driver: driver}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	const columns = `id VARCHAR(36) PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        execution_count INT NOT NULL,
        input TEXT NOT NULL,
        output TEXT NOT NULL,
        status VARCHAR(16) NOT NULL,
        created_at BIGINT NOT NULL`

	var stmts []string
	if s.driver == DriverMySQL {
		stmts = []string{`CREATE TABLE IF NOT EXISTS chat_history (` + columns + `,
        INDEX idx_history_session (session_id, created_at)
)`}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chat_history (` + columns + `)`,
			`CREATE INDEX IF NOT EXISTS idx_history_session ON chat_history (session_id, created_at)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init chat_history schema: %w", err)
		}
	}
	return nil
}

// Append implements Store.
func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	e = normalize(e)

	const stmt = `INSERT INTO chat_history
        (id, session_id, execution_count, input, output, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		e.ID,
		e.SessionID,
		e.ExecutionCount,
		e.Input,
		e.Output,
		string(e.Status),
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return fmt.Errorf("history entry %s already exists", e.ID)
		}
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `SELECT id, session_id, execution_count, input, output, status, created_at FROM chat_history`

	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC, execution_count DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			status  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ExecutionCount, &e.Input, &e.Output, &status, &created); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Status = core.ResultStatus(status)
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	slices.Reverse(entries)
	return entries, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
