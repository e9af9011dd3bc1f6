package ast

// Mode is the materialization policy for a table write.
type Mode string

const (
	// ModeDefault means no explicit mode was declared; treated as REPLACE.
	ModeDefault Mode = ""
	// ModeReplace recreates the target so its contents equal the SELECT.
	ModeReplace Mode = "REPLACE"
	// ModeAppend retains existing rows and appends new ones.
	ModeAppend Mode = "APPEND"
	// ModeUpsert replaces rows matching the declared keys and inserts the rest.
	ModeUpsert Mode = "UPSERT"
	// ModeMerge is the transform-side spelling of UPSERT.
	ModeMerge Mode = "MERGE"
	// ModeIncremental rewrites only a trailing window on a time column.
	ModeIncremental Mode = "INCREMENTAL"
)

// Pipeline is an immutable, ordered sequence of parsed steps.
type Pipeline struct {
	Name  string
	Steps []Step
}

// Step is one parsed DSL statement. All variants carry the source line for
// diagnostics.
type Step interface {
	Line() int
	step()
}

// SourceDefinition declares a named external source. It moves no data.
type SourceDefinition struct {
	LineNo           int
	Name             string
	ConnectorType    string
	Params           map[string]any
	FromProfile      bool
	ProfileConnector string
	Options          map[string]any
}

// Load materializes a declared source into a table.
type Load struct {
	LineNo     int
	TableName  string
	SourceName string
	Mode       Mode
	UpsertKeys []string
}

// SQLBlock is a CREATE (OR REPLACE) TABLE ... AS SELECT with an optional
// materialization mode.
type SQLBlock struct {
	LineNo     int
	TableName  string
	SQL        string
	Mode       Mode
	IsReplace  bool
	MergeKeys  []string
	TimeColumn string
	Lookback   string
}

// Export reads an ad-hoc SELECT and writes it through a destination connector.
type Export struct {
	LineNo         int
	SQL            string
	DestinationURI string
	ConnectorType  string
	Options        map[string]any
}

// Set declares a pipeline-scope variable. The value may itself contain
// ${...} references, resolved at planning time.
type Set struct {
	LineNo int
	Name   string
	Value  string
}

// Include splices another pipeline file into this one before planning.
type Include struct {
	LineNo int
	Path   string
	Alias  string
}

// Branch is one IF/ELSEIF arm of a conditional block.
type Branch struct {
	Condition string
	Steps     []Step
}

// ConditionalBlock holds IF/ELSEIF branches and an optional ELSE branch.
// Nesting is permitted; branches own their steps.
type ConditionalBlock struct {
	LineNo   int
	Branches []Branch
	Else     []Step
}

func (s *SourceDefinition) Line() int { return s.LineNo }
func (s *Load) Line() int             { return s.LineNo }
func (s *SQLBlock) Line() int         { return s.LineNo }
func (s *Export) Line() int           { return s.LineNo }
func (s *Set) Line() int              { return s.LineNo }
func (s *Include) Line() int          { return s.LineNo }
func (s *ConditionalBlock) Line() int { return s.LineNo }

func (*SourceDefinition) step() {}
func (*Load) step()             {}
func (*SQLBlock) step()         {}
func (*Export) step()           {}
func (*Set) step()              {}
func (*Include) step()          {}
func (*ConditionalBlock) step() {}
