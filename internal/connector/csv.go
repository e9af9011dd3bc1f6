package connector

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// csvSource reads a delimited file. Params: path (required), has_header
// (default true), delimiter (default ","), infer_types (default true).
type csvSource struct {
	path       string
	hasHeader  bool
	delimiter  rune
	inferTypes bool
}

func newCSVSource(params map[string]any) (Source, error) {
	path, err := stringParam(params, "path")
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("csv", "configure", false, err)
	}
	delim := optionalString(params, "delimiter", ",")
	if len([]rune(delim)) != 1 {
		return nil, sqlflowerrors.NewConnectorError("csv", "configure", false,
			fmt.Errorf("delimiter must be a single character, got %q", delim))
	}
	return &csvSource{
		path:       path,
		hasHeader:  optionalBool(params, "has_header", true),
		delimiter:  []rune(delim)[0],
		inferTypes: optionalBool(params, "infer_types", true),
	}, nil
}

func (s *csvSource) Type() string { return "csv" }

func (s *csvSource) ReadAll(ctx context.Context) (*Rowset, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("csv", "read", false, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = s.delimiter
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, sqlflowerrors.NewConnectorError("csv", "read", false,
			fmt.Errorf("parse %s: %w", s.path, err))
	}
	if len(records) == 0 {
		return &Rowset{}, nil
	}

	rs := &Rowset{}
	body := records
	if s.hasHeader {
		rs.Columns = records[0]
		body = records[1:]
	} else {
		rs.Columns = make([]string, len(records[0]))
		for i := range rs.Columns {
			rs.Columns[i] = fmt.Sprintf("column_%d", i)
		}
	}

	for _, record := range body {
		row := make([]any, len(rs.Columns))
		for i := range rs.Columns {
			if i >= len(record) {
				row[i] = nil
				continue
			}
			row[i] = s.convert(record[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

func (s *csvSource) ReadStream(ctx context.Context, chunkSize int, fn ChunkFunc) error {
	rs, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}
	return streamRowset(ctx, rs, chunkSize, fn)
}

// convert maps a cell to a typed value: empty cells become NULL, clean
// integers and floats become numbers, everything else stays a string.
func (s *csvSource) convert(cell string) any {
	if cell == "" {
		return nil
	}
	if !s.inferTypes {
		return cell
	}
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

// csvDestination writes a delimited file. Options: header (default true),
// delimiter (default ",").
type csvDestination struct {
	path      string
	header    bool
	delimiter rune
}

func newCSVDestination(uri string, options map[string]any) (Destination, error) {
	if uri == "" {
		return nil, sqlflowerrors.NewConnectorError("csv", "configure", false,
			fmt.Errorf("destination path is empty"))
	}
	delim := optionalString(options, "delimiter", ",")
	if len([]rune(delim)) != 1 {
		return nil, sqlflowerrors.NewConnectorError("csv", "configure", false,
			fmt.Errorf("delimiter must be a single character, got %q", delim))
	}
	return &csvDestination{
		path:      uri,
		header:    optionalBool(options, "header", true),
		delimiter: []rune(delim)[0],
	}, nil
}

func (d *csvDestination) Type() string { return "csv" }

func (d *csvDestination) WriteAll(ctx context.Context, rs *Rowset) (int64, error) {
	chunks := make(chan Chunk, 1)
	chunks <- Chunk{Columns: rs.Columns, Rows: rs.Rows}
	close(chunks)
	return d.WriteStream(ctx, chunks)
}

// WriteStream writes chunks as they arrive, flushing after each one so a
// memory-bounded run never buffers the whole export.
func (d *csvDestination) WriteStream(ctx context.Context, chunks <-chan Chunk) (int64, error) {
	defer func() {
		for range chunks {
		}
	}()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return 0, sqlflowerrors.NewConnectorError("csv", "write", true, err)
	}
	f, err := os.Create(d.path)
	if err != nil {
		return 0, sqlflowerrors.NewConnectorError("csv", "write", true, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	writer.Comma = d.delimiter

	var written int64
	started := false
	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if !started {
			started = true
			if d.header {
				if err := writer.Write(chunk.Columns); err != nil {
					return written, sqlflowerrors.NewConnectorError("csv", "write", false, err)
				}
			}
		}
		record := make([]string, len(chunk.Columns))
		for _, row := range chunk.Rows {
			for i := range record {
				record[i] = formatCell(row[i])
			}
			if err := writer.Write(record); err != nil {
				return written, sqlflowerrors.NewConnectorError("csv", "write", false, err)
			}
			written++
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return written, sqlflowerrors.NewConnectorError("csv", "write", false, err)
		}
	}
	return written, nil
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}
