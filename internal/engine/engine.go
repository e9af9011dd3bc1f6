package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Mode selects where the engine keeps its tables.
type Mode string

const (
	// ModeMemory keeps all tables in process memory; nothing survives the run.
	ModeMemory Mode = "memory"
	// ModePersistent backs the engine with a database file on disk.
	ModePersistent Mode = "persistent"
)

// Options configures an engine instance.
type Options struct {
	Mode Mode
	// Path is the database file for persistent mode. Ignored for memory mode.
	Path string
}

// Engine wraps the embedded analytic database every pipeline run executes
// against. Writes are serialized through a mutex; SQLite tolerates
// concurrent readers but not concurrent writers on one connection pool.
type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

// memdbSeq distinguishes in-memory databases so two engines in the same
// process never share tables through sqlite's shared cache.
var memdbSeq atomic.Int64

// Open creates an engine per the given options.
func Open(opts Options) (*Engine, error) {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_busy_timeout=5000", memdbSeq.Add(1))
	if opts.Mode == ModePersistent {
		if opts.Path == "" {
			return nil, fmt.Errorf("persistent engine requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create engine directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", opts.Path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	// The in-memory database disappears when its last connection closes,
	// so pin the pool to a single long-lived connection.
	if opts.Mode != ModePersistent {
		db.SetMaxOpenConns(1)
	}
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Exec runs a statement that returns no rows and reports affected rows.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Query runs a SELECT and materializes the full result.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*Rowset, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// QueryStream runs a SELECT and delivers the result in batches of at most
// chunkSize rows. An empty result still delivers one empty batch carrying
// the column names, so consumers see the schema.
func (e *Engine) QueryStream(ctx context.Context, query string, chunkSize int, fn func(columns []string, rows [][]any) error, args ...any) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	batch := make([][]any, 0, chunkSize)
	delivered := false
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		batch = append(batch, values)
		if len(batch) == chunkSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(cols, batch); err != nil {
				return err
			}
			delivered = true
			batch = make([][]any, 0, chunkSize)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(batch) > 0 || !delivered {
		return fn(cols, batch)
	}
	return nil
}

// QueryValue runs a single-value query, returning nil for NULL or no rows.
func (e *Engine) QueryValue(ctx context.Context, query string, args ...any) (any, error) {
	rs, err := e.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 {
		return nil, nil
	}
	return rs.Rows[0][0], nil
}

// Tx runs fn inside a transaction, committing on nil and rolling back on
// error. The write lock is held for the whole transaction.
func (e *Engine) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// TableExists reports whether a table or view with the given name exists.
func (e *Engine) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type IN ('table','view') AND lower(name) = lower(?)`,
		name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TableColumns returns the column names of a table in declaration order.
func (e *Engine) TableColumns(ctx context.Context, name string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, QuoteIdent(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, colName)
	}
	return cols, rows.Err()
}

// InsertRows bulk-inserts rows into a table inside one transaction,
// batching the prepared statement. Columns must match the rowset order.
func (e *Engine) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(columns))
	quoted := make([]string, len(columns))
	for i, c := range columns {
		placeholders[i] = "?"
		quoted[i] = QuoteIdent(c)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	var inserted int64
	err := e.Tx(ctx, func(tx *sql.Tx) error {
		prepared, err := tx.PrepareContext(ctx, stmt)
		if err != nil {
			return err
		}
		defer prepared.Close()
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(row) != len(columns) {
				return sqlflowerrors.NewExecutionError("",
					fmt.Errorf("row has %d values, expected %d for table %s", len(row), len(columns), table))
			}
			if _, err := prepared.ExecContext(ctx, row...); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// QuoteIdent quotes an identifier for the embedded dialect.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Rowset is a fully materialized query result.
type Rowset struct {
	Columns []string
	Rows    [][]any
}

// RowCount returns the number of rows.
func (r *Rowset) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

func collectRows(rows *sql.Rows) (*Rowset, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &Rowset{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			// Normalize driver byte slices so downstream formatting sees strings.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}
