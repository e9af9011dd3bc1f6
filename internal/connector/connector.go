package connector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Rowset is a fully materialized batch of rows read from or written to a
// connector. Values are driver-native Go values; CSV sources infer numbers
// where the cell parses cleanly.
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

// Chunk is one streamed slice of a larger read.
type Chunk struct {
	Index   int
	Columns []string
	Rows    [][]any
}

// ChunkFunc receives streamed chunks. Returning an error stops the stream.
type ChunkFunc func(Chunk) error

// Source reads rows from an external system.
type Source interface {
	Type() string
	// ReadAll materializes the full dataset.
	ReadAll(ctx context.Context) (*Rowset, error)
	// ReadStream delivers the dataset in chunks of at most chunkSize rows,
	// checking ctx between chunks.
	ReadStream(ctx context.Context, chunkSize int, fn ChunkFunc) error
}

// Destination writes rows to an external system.
type Destination interface {
	Type() string
	// WriteAll writes the full rowset and returns the row count written.
	WriteAll(ctx context.Context, rs *Rowset) (int64, error)
	// WriteStream consumes chunks until the channel closes and returns the
	// row count written. The first chunk's Columns define the output
	// schema. Implementations drain the channel on every exit path so a
	// blocked producer can always finish.
	WriteStream(ctx context.Context, chunks <-chan Chunk) (int64, error)
}

// SourceFactory builds a source from connector params.
type SourceFactory func(params map[string]any) (Source, error)

// DestinationFactory builds a destination from an export URI and options.
type DestinationFactory func(uri string, options map[string]any) (Destination, error)

// Registry maps connector type names to factories. Registration is
// explicit at construction; there is no package-level default.
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
}

// NewRegistry returns a registry with the built-in connectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
	}
	r.RegisterSource("csv", newCSVSource)
	r.RegisterSource("postgres", newPostgresSource)
	r.RegisterSource("rest", newRESTSource)
	r.RegisterDestination("csv", newCSVDestination)
	r.RegisterDestination("postgres", newPostgresDestination)
	return r
}

// RegisterSource adds or replaces a source factory.
func (r *Registry) RegisterSource(connType string, factory SourceFactory) {
	r.sources[strings.ToLower(connType)] = factory
}

// RegisterDestination adds or replaces a destination factory.
func (r *Registry) RegisterDestination(connType string, factory DestinationFactory) {
	r.destinations[strings.ToLower(connType)] = factory
}

// Source builds a source connector of the given type.
func (r *Registry) Source(connType string, params map[string]any) (Source, error) {
	factory, ok := r.sources[strings.ToLower(connType)]
	if !ok {
		return nil, sqlflowerrors.NewConnectorError(connType, "configure", false,
			fmt.Errorf("no source connector registered for type %q (available: %s)",
				connType, strings.Join(r.sourceTypes(), ", ")))
	}
	return factory(params)
}

// Destination builds a destination connector of the given type.
func (r *Registry) Destination(connType, uri string, options map[string]any) (Destination, error) {
	factory, ok := r.destinations[strings.ToLower(connType)]
	if !ok {
		return nil, sqlflowerrors.NewConnectorError(connType, "configure", false,
			fmt.Errorf("no destination connector registered for type %q", connType))
	}
	return factory(uri, options)
}

func (r *Registry) sourceTypes() []string {
	types := make([]string, 0, len(r.sources))
	for t := range r.sources {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// stringParam fetches a required string param.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required param %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q must be a string, got %T", key, v)
	}
	return s, nil
}

// optionalString fetches a string param with a default.
func optionalString(params map[string]any, key, dflt string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return dflt
}

// optionalBool fetches a bool param with a default.
func optionalBool(params map[string]any, key string, dflt bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return dflt
}

// streamRowset adapts a materialized rowset to the chunked interface; used
// by connectors whose backends have no native cursor paging.
func streamRowset(ctx context.Context, rs *Rowset, chunkSize int, fn ChunkFunc) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if len(rs.Rows) == 0 {
		if len(rs.Columns) == 0 {
			return nil
		}
		// An empty dataset still carries its schema; the consumer needs the
		// column names to create an empty target.
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(Chunk{Columns: rs.Columns})
	}
	index := 0
	for start := 0; start < len(rs.Rows); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + chunkSize
		if end > len(rs.Rows) {
			end = len(rs.Rows)
		}
		if err := fn(Chunk{Index: index, Columns: rs.Columns, Rows: rs.Rows[start:end]}); err != nil {
			return err
		}
		index++
	}
	return nil
}
