package planner

import (
	"encoding/json"

	"github.com/alexisbeaulieu97/sqlflow/internal/ast"
)

// OpType identifies the kind of a planned operation.
type OpType string

const (
	// OpSourceDefinition registers a named source; it moves no data.
	OpSourceDefinition OpType = "source_definition"
	// OpLoad materializes a source into a table.
	OpLoad OpType = "load"
	// OpTransform runs a CREATE TABLE AS SELECT with a materialization mode.
	OpTransform OpType = "transform"
	// OpExport streams a SELECT into a destination connector.
	OpExport OpType = "export"
)

// Operation is one planned unit of execution. IDs are deterministic slugs;
// DependsOn lists prerequisite operation ids within the same plan. Exactly
// one variant spec is populated, matching Type.
type Operation struct {
	ID        string
	Type      OpType
	Name      string
	DependsOn []string
	LineNo    int

	Source    *SourceSpec
	Load      *LoadSpec
	Transform *TransformSpec
	Export    *ExportSpec
}

// SourceSpec carries a source_definition payload.
type SourceSpec struct {
	ConnectorType    string
	Params           map[string]any
	FromProfile      bool
	ProfileConnector string
	Options          map[string]any
}

// LoadSpec carries a load payload.
type LoadSpec struct {
	TargetTable   string
	SourceName    string
	ConnectorType string
	Mode          ast.Mode
	UpsertKeys    []string
}

// TransformSpec carries a transform payload.
type TransformSpec struct {
	TargetTable string
	SQL         string
	Mode        ast.Mode
	IsReplace   bool
	MergeKeys   []string
	TimeColumn  string
	Lookback    string
}

// ExportSpec carries an export payload.
type ExportSpec struct {
	SQL            string
	DestinationURI string
	ConnectorType  string
	Options        map[string]any
}

// TargetTable returns the table an operation writes, if any.
func (op *Operation) TargetTable() string {
	switch {
	case op.Load != nil:
		return op.Load.TargetTable
	case op.Transform != nil:
		return op.Transform.TargetTable
	default:
		return ""
	}
}

// Mode returns the operation's materialization mode, if any.
func (op *Operation) Mode() ast.Mode {
	switch {
	case op.Load != nil:
		return op.Load.Mode
	case op.Transform != nil:
		return op.Transform.Mode
	default:
		return ast.ModeDefault
	}
}

// flatOperation is the stable JSON wire shape of an operation: a flat
// record with a typed query payload.
type flatOperation struct {
	ID                  string         `json:"id"`
	Type                OpType         `json:"type"`
	Name                string         `json:"name,omitempty"`
	Query               any            `json:"query"`
	DependsOn           []string       `json:"depends_on"`
	SourceConnectorType string         `json:"source_connector_type,omitempty"`
	TargetTable         string         `json:"target_table,omitempty"`
	SourceName          string         `json:"source_name,omitempty"`
	Mode                string         `json:"mode,omitempty"`
	MergeKeys           []string       `json:"merge_keys,omitempty"`
	TimeColumn          string         `json:"time_column,omitempty"`
	Lookback            string         `json:"lookback,omitempty"`
	IsReplace           bool           `json:"is_replace,omitempty"`
	DestinationURI      string         `json:"destination_uri,omitempty"`
	Options             map[string]any `json:"options,omitempty"`
}

// MarshalJSON renders the flat artifact shape.
func (op *Operation) MarshalJSON() ([]byte, error) {
	flat := flatOperation{
		ID:        op.ID,
		Type:      op.Type,
		Name:      op.Name,
		DependsOn: op.DependsOn,
	}
	if flat.DependsOn == nil {
		flat.DependsOn = []string{}
	}

	switch {
	case op.Source != nil:
		flat.SourceConnectorType = op.Source.ConnectorType
		if op.Source.FromProfile {
			flat.Query = map[string]any{"profile_connector": op.Source.ProfileConnector, "options": op.Source.Options}
		} else {
			flat.Query = op.Source.Params
		}
	case op.Load != nil:
		flat.TargetTable = op.Load.TargetTable
		flat.SourceName = op.Load.SourceName
		flat.SourceConnectorType = op.Load.ConnectorType
		flat.Mode = string(op.Load.Mode)
		flat.MergeKeys = op.Load.UpsertKeys
		flat.Query = map[string]any{"source": op.Load.SourceName, "mode": string(op.Load.Mode)}
	case op.Transform != nil:
		flat.TargetTable = op.Transform.TargetTable
		flat.Mode = string(op.Transform.Mode)
		flat.MergeKeys = op.Transform.MergeKeys
		flat.TimeColumn = op.Transform.TimeColumn
		flat.Lookback = op.Transform.Lookback
		flat.IsReplace = op.Transform.IsReplace
		flat.Query = op.Transform.SQL
	case op.Export != nil:
		flat.Query = op.Export.SQL
		flat.DestinationURI = op.Export.DestinationURI
		flat.SourceConnectorType = op.Export.ConnectorType
		flat.Options = op.Export.Options
	}

	return json.Marshal(flat)
}

// Plan is an immutable, ordered operation list for one pipeline.
type Plan struct {
	PipelineName string
	Operations   []*Operation
}

// Lookup returns the operation with the given id.
func (p *Plan) Lookup(id string) (*Operation, bool) {
	for _, op := range p.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return nil, false
}
