package materialize

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/sqlflow/internal/ast"
	"github.com/alexisbeaulieu97/sqlflow/internal/engine"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Options selects how a target table absorbs new data.
type Options struct {
	Mode       ast.Mode
	Keys       []string
	TimeColumn string
	Lookback   string
}

// Apply materializes selectSQL into the target table per the options and
// returns the number of rows the target gained or had rewritten. Each mode
// runs inside a single transaction, so a failed materialization leaves the
// previous contents intact.
func Apply(ctx context.Context, eng *engine.Engine, target, selectSQL string, opts Options) (int64, error) {
	exists, err := eng.TableExists(ctx, target)
	if err != nil {
		return 0, err
	}

	switch opts.Mode {
	case ast.ModeDefault, ast.ModeReplace:
		return applyReplace(ctx, eng, target, selectSQL)
	case ast.ModeAppend:
		if !exists {
			return applyReplace(ctx, eng, target, selectSQL)
		}
		return eng.Exec(ctx, fmt.Sprintf("INSERT INTO %s %s", engine.QuoteIdent(target), selectSQL))
	case ast.ModeMerge, ast.ModeUpsert:
		if len(opts.Keys) == 0 {
			return 0, fmt.Errorf("%s into %s requires at least one key", opts.Mode, target)
		}
		if !exists {
			return applyReplace(ctx, eng, target, selectSQL)
		}
		return applyMerge(ctx, eng, target, selectSQL, opts.Keys)
	case ast.ModeIncremental:
		if opts.TimeColumn == "" {
			return 0, fmt.Errorf("incremental into %s requires a time column", target)
		}
		if !exists {
			// First run has no watermark; take the full select.
			return applyReplace(ctx, eng, target, expandWindow(selectSQL, time.Time{}, time.Now().UTC()))
		}
		return applyIncremental(ctx, eng, target, selectSQL, opts)
	default:
		return 0, fmt.Errorf("unknown materialization mode %q", opts.Mode)
	}
}

func applyReplace(ctx context.Context, eng *engine.Engine, target, selectSQL string) (int64, error) {
	var count int64
	err := eng.Tx(ctx, func(tx *sql.Tx) error {
		quoted := engine.QuoteIdent(target)
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoted); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", quoted, selectSQL)); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, "SELECT count(*) FROM "+quoted).Scan(&count)
	})
	return count, err
}

// applyMerge replaces keyed rows: matching target rows are deleted, then
// the full select result is inserted. An empty select touches nothing.
func applyMerge(ctx context.Context, eng *engine.Engine, target, selectSQL string, keys []string) (int64, error) {
	staging := stagingName(target)
	quotedTarget := engine.QuoteIdent(target)
	quotedStaging := engine.QuoteIdent(staging)

	quotedKeys := make([]string, len(keys))
	for i, k := range keys {
		quotedKeys[i] = engine.QuoteIdent(k)
	}
	keyTuple := "(" + strings.Join(quotedKeys, ", ") + ")"

	var count int64
	err := eng.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quotedStaging); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("CREATE TEMP TABLE %s AS %s", quotedStaging, selectSQL)); err != nil {
			return err
		}
		defer tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quotedStaging)

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE %s IN (SELECT %s FROM %s)",
			quotedTarget, keyTuple, strings.Join(quotedKeys, ", "), quotedStaging)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", quotedTarget, quotedStaging))
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// applyIncremental recomputes the window from the target's own watermark:
// start is max(time_column) minus the lookback, end is now. Rows inside
// the window are rewritten; older rows stay untouched.
func applyIncremental(ctx context.Context, eng *engine.Engine, target, selectSQL string, opts Options) (int64, error) {
	lookback, err := ParseLookback(opts.Lookback)
	if err != nil {
		return 0, err
	}

	wmValue, err := eng.QueryValue(ctx, fmt.Sprintf(
		"SELECT max(%s) FROM %s", engine.QuoteIdent(opts.TimeColumn), engine.QuoteIdent(target)))
	if err != nil {
		return 0, err
	}
	if wmValue == nil {
		// Table exists but is empty; behave like a first run.
		return applyReplace(ctx, eng, target, expandWindow(selectSQL, time.Time{}, time.Now().UTC()))
	}

	watermark, err := parseTimeValue(wmValue)
	if err != nil {
		return 0, sqlflowerrors.NewExecutionError("", fmt.Errorf(
			"incremental watermark for %s.%s: %w", target, opts.TimeColumn, err))
	}

	start := watermark.Add(-lookback)
	end := time.Now().UTC()
	windowed := expandWindow(selectSQL, start, end)

	quotedTarget := engine.QuoteIdent(target)
	quotedCol := engine.QuoteIdent(opts.TimeColumn)

	var count int64
	err = eng.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE %s >= ?", quotedTarget, quotedCol), formatTime(start)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s %s", quotedTarget, windowed))
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// expandWindow substitutes the @start_date and @end_date markers with
// quoted timestamp literals. A zero start means "no lower bound" and maps
// to the epoch so comparisons stay valid.
func expandWindow(selectSQL string, start, end time.Time) string {
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	out := strings.ReplaceAll(selectSQL, "@start_date", "'"+formatTime(start)+"'")
	return strings.ReplaceAll(out, "@end_date", "'"+formatTime(end)+"'")
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

var timeLayouts = []string{
	timeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as a timestamp", v)
	}
}

func stagingName(target string) string {
	return "sqlflow_staging_" + strings.ToLower(target)
}

// ChunkLoader materializes a source into its target one chunk at a time,
// so a load never buffers the full dataset. Replace and append insert each
// chunk in its own transaction; upsert and merge stage chunks and fold
// them into the target on Close.
type ChunkLoader struct {
	eng     *engine.Engine
	target  string
	opts    Options
	columns []string
	dest    string
	staged  bool
	total   int64
}

// NewChunkLoader prepares a loader; nothing touches the engine until Begin.
func NewChunkLoader(eng *engine.Engine, target string, opts Options) *ChunkLoader {
	return &ChunkLoader{eng: eng, target: target, opts: opts}
}

// Begin readies the destination table using the first chunk for column
// type inference. An empty sample still creates the table; columns default
// to TEXT.
func (l *ChunkLoader) Begin(ctx context.Context, columns []string, sample [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("cannot load into %s without columns", l.target)
	}
	l.columns = columns
	l.dest = l.target

	exists, err := l.eng.TableExists(ctx, l.target)
	if err != nil {
		return err
	}

	switch l.opts.Mode {
	case ast.ModeDefault, ast.ModeReplace:
		if exists {
			if _, err := l.eng.Exec(ctx, "DROP TABLE IF EXISTS "+engine.QuoteIdent(l.target)); err != nil {
				return err
			}
		}
		return createTableFor(ctx, l.eng, l.target, columns, sample)
	case ast.ModeAppend:
		if !exists {
			return createTableFor(ctx, l.eng, l.target, columns, sample)
		}
		return nil
	case ast.ModeUpsert, ast.ModeMerge:
		if len(l.opts.Keys) == 0 {
			return fmt.Errorf("%s into %s requires at least one key", l.opts.Mode, l.target)
		}
		if !exists {
			return createTableFor(ctx, l.eng, l.target, columns, sample)
		}
		// Chunks collect in a staging table; Close folds it into the target.
		staging := stagingName(l.target)
		if _, err := l.eng.Exec(ctx, "DROP TABLE IF EXISTS "+engine.QuoteIdent(staging)); err != nil {
			return err
		}
		if err := createTableFor(ctx, l.eng, staging, columns, sample); err != nil {
			return err
		}
		l.dest = staging
		l.staged = true
		return nil
	default:
		return fmt.Errorf("mode %q is not valid for loads", l.opts.Mode)
	}
}

// WriteChunk inserts one chunk in its own transaction.
func (l *ChunkLoader) WriteChunk(ctx context.Context, rows [][]any) (int64, error) {
	n, err := l.eng.InsertRows(ctx, l.dest, l.columns, rows)
	l.total += n
	return n, err
}

// Close finishes the load and returns the total row count. For staged
// modes this is where keyed rows are replaced in the target.
func (l *ChunkLoader) Close(ctx context.Context) (int64, error) {
	if !l.staged {
		return l.total, nil
	}
	staging := stagingName(l.target)
	defer l.eng.Exec(ctx, "DROP TABLE IF EXISTS "+engine.QuoteIdent(staging))
	return mergeStaged(ctx, l.eng, l.target, staging, l.columns, l.opts.Keys)
}

// LoadRows materializes an in-memory rowset into the target table. Column
// types are inferred from the first non-null value of each column.
func LoadRows(ctx context.Context, eng *engine.Engine, target string, columns []string, rows [][]any, opts Options) (int64, error) {
	loader := NewChunkLoader(eng, target, opts)
	if err := loader.Begin(ctx, columns, rows); err != nil {
		return 0, err
	}
	if _, err := loader.WriteChunk(ctx, rows); err != nil {
		return 0, err
	}
	return loader.Close(ctx)
}

// mergeStaged replaces keyed target rows with the staged rows inside one
// transaction: matching rows are deleted, then the staging table is
// inserted wholesale.
func mergeStaged(ctx context.Context, eng *engine.Engine, target, staging string, columns, keys []string) (int64, error) {
	quotedKeys := make([]string, len(keys))
	for i, k := range keys {
		quotedKeys[i] = engine.QuoteIdent(k)
	}
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = engine.QuoteIdent(c)
	}

	var count int64
	err := eng.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE (%s) IN (SELECT %s FROM %s)",
			engine.QuoteIdent(target), strings.Join(quotedKeys, ", "),
			strings.Join(quotedKeys, ", "), engine.QuoteIdent(staging))); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s",
			engine.QuoteIdent(target), strings.Join(quotedCols, ", "),
			strings.Join(quotedCols, ", "), engine.QuoteIdent(staging)))
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

func createTableFor(ctx context.Context, eng *engine.Engine, target string, columns []string, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("cannot create table %s without columns", target)
	}
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = engine.QuoteIdent(col) + " " + inferColumnType(i, rows)
	}
	_, err := eng.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE %s (%s)", engine.QuoteIdent(target), strings.Join(defs, ", ")))
	return err
}

func inferColumnType(idx int, rows [][]any) string {
	for _, row := range rows {
		if idx >= len(row) || row[idx] == nil {
			continue
		}
		switch row[idx].(type) {
		case int, int32, int64:
			return "INTEGER"
		case float32, float64:
			return "REAL"
		case bool:
			return "BOOLEAN"
		case time.Time:
			return "TIMESTAMP"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}
