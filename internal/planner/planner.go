package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/sqlflow/internal/ast"
	"github.com/alexisbeaulieu97/sqlflow/internal/logger"
	"github.com/alexisbeaulieu97/sqlflow/internal/vars"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Planner lowers a parsed pipeline into an ordered operation list with
// resolved variables and explicit dependency edges. The emission order
// follows declaration order; parallelization is the coordinator's concern.
type Planner struct {
	resolver *vars.Resolver
	log      *logger.Logger
}

// New creates a Planner over the given variable resolver.
func New(resolver *vars.Resolver, log *logger.Logger) *Planner {
	if log == nil {
		log = logger.Nop()
	}
	return &Planner{resolver: resolver, log: log}
}

// planState accumulates lowering results and validation findings.
type planState struct {
	ops       []*Operation
	usedIDs   map[string]int
	sources   map[string]*Operation // source name -> op
	producers map[string]*Operation // table name (lower) -> latest producing op
	plainDefs map[string]bool       // tables created by plain CREATE TABLE

	missingVars  map[string][]string
	missingTabs  []string
	invalidRefs  []string
	stepFailures []sqlflowerrors.StepFailure
}

// Plan converts the pipeline into operations, obeying the plan invariants.
// Conditional blocks contribute steps from exactly one evaluated branch.
func (p *Planner) Plan(pipe *ast.Pipeline) (*Plan, error) {
	st := &planState{
		usedIDs:     make(map[string]int),
		sources:     make(map[string]*Operation),
		producers:   make(map[string]*Operation),
		plainDefs:   make(map[string]bool),
		missingVars: make(map[string][]string),
	}

	if err := p.lowerSteps(pipe.Steps, st); err != nil {
		return nil, err
	}

	if len(st.stepFailures) > 0 {
		return nil, sqlflowerrors.NewStepBuildError(st.stepFailures)
	}
	if len(st.missingVars) > 0 || len(st.missingTabs) > 0 || len(st.invalidRefs) > 0 {
		names := make([]string, 0, len(st.missingVars))
		for name := range st.missingVars {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &sqlflowerrors.ValidationError{
			Message:           fmt.Sprintf("pipeline %s failed validation", pipe.Name),
			MissingVariables:  names,
			MissingTables:     st.missingTabs,
			InvalidReferences: st.invalidRefs,
			ContextLocations:  st.missingVars,
		}
	}

	return &Plan{PipelineName: pipe.Name, Operations: st.ops}, nil
}

func (p *Planner) lowerSteps(steps []ast.Step, st *planState) error {
	for _, step := range steps {
		switch s := step.(type) {
		case *ast.Set:
			p.lowerSet(s, st)
		case *ast.ConditionalBlock:
			branch, err := p.takeBranch(s, st)
			if err != nil {
				return err
			}
			if branch != nil {
				if err := p.lowerSteps(branch, st); err != nil {
					return err
				}
			}
		case *ast.SourceDefinition:
			p.lowerSource(s, st)
		case *ast.Load:
			p.lowerLoad(s, st)
		case *ast.SQLBlock:
			p.lowerTransform(s, st)
		case *ast.Export:
			p.lowerExport(s, st)
		case *ast.Include:
			// Includes are expanded before planning; a survivor means the
			// caller skipped resolution.
			return sqlflowerrors.NewCompilationError("",
				fmt.Sprintf("unresolved INCLUDE %q at line %d", s.Path, s.LineNo), nil)
		default:
			return sqlflowerrors.NewCompilationError("",
				fmt.Sprintf("unsupported step at line %d", step.Line()), nil)
		}
	}
	return nil
}

// takeBranch evaluates a conditional block and returns the steps of the
// first branch whose condition holds, the else branch when none do, or nil.
func (p *Planner) takeBranch(block *ast.ConditionalBlock, st *planState) ([]ast.Step, error) {
	for _, branch := range block.Branches {
		location := fmt.Sprintf("condition at line %d", block.LineNo)
		p.collectMissing(branch.Condition, location, st)

		// Missing condition variables are recorded above and fail the plan
		// in the validation pass; the AST fallback keeps evaluation total.
		substituted, _, _ := p.resolver.Substitute(branch.Condition, vars.ContextAST, location)
		ok, err := vars.EvaluateCondition(substituted)
		if err != nil {
			return nil, sqlflowerrors.NewCompilationError("",
				fmt.Sprintf("line %d: %v", block.LineNo, err), err)
		}
		if ok {
			return branch.Steps, nil
		}
	}
	return block.Else, nil
}

func (p *Planner) lowerSet(s *ast.Set, st *planState) {
	location := fmt.Sprintf("SET %s at line %d", s.Name, s.LineNo)
	p.collectMissing(s.Value, location, st)

	value, _, _ := p.resolver.Substitute(s.Value, vars.ContextText, location)
	// SET never overrides CLI or profile scope; the resolver layers that.
	p.resolver.SetVariable(s.Name, value)
}

func (p *Planner) lowerSource(s *ast.SourceDefinition, st *planState) {
	location := fmt.Sprintf("SOURCE %s at line %d", s.Name, s.LineNo)

	op := &Operation{
		ID:     st.assignID("source_" + s.Name),
		Type:   OpSourceDefinition,
		Name:   s.Name,
		LineNo: s.LineNo,
		Source: &SourceSpec{
			ConnectorType:    s.ConnectorType,
			FromProfile:      s.FromProfile,
			ProfileConnector: s.ProfileConnector,
		},
	}
	if s.Params != nil {
		op.Source.Params = p.substituteParams(s.Params, location, st)
	}
	if s.Options != nil {
		op.Source.Options = p.substituteParams(s.Options, location, st)
	}

	st.ops = append(st.ops, op)
	st.sources[s.Name] = op
}

func (p *Planner) lowerLoad(s *ast.Load, st *planState) {
	if s.Mode == ast.ModeUpsert && len(s.UpsertKeys) == 0 {
		st.stepFailures = append(st.stepFailures, sqlflowerrors.StepFailure{
			StepID: "load_" + s.TableName,
			Reason: "UPSERT mode requires KEY columns",
		})
		return
	}

	op := &Operation{
		ID:     st.assignID("load_" + s.TableName),
		Type:   OpLoad,
		Name:   s.TableName,
		LineNo: s.LineNo,
		Load: &LoadSpec{
			TargetTable: s.TableName,
			SourceName:  s.SourceName,
			Mode:        s.Mode,
			UpsertKeys:  s.UpsertKeys,
		},
	}

	if src, ok := st.sources[s.SourceName]; ok {
		op.DependsOn = append(op.DependsOn, src.ID)
		op.Load.ConnectorType = src.Source.ConnectorType
	} else {
		st.invalidRefs = append(st.invalidRefs,
			fmt.Sprintf("load %s references undeclared source %q (line %d)", s.TableName, s.SourceName, s.LineNo))
	}

	addWriterEdge(op, strings.ToLower(s.TableName), st)

	st.ops = append(st.ops, op)
	st.producers[strings.ToLower(s.TableName)] = op
}

func (p *Planner) lowerTransform(s *ast.SQLBlock, st *planState) {
	location := fmt.Sprintf("CREATE TABLE %s at line %d", s.TableName, s.LineNo)
	p.collectMissing(s.SQL, location, st)

	key := strings.ToLower(s.TableName)
	if st.plainDefs[key] && !s.IsReplace {
		st.invalidRefs = append(st.invalidRefs,
			fmt.Sprintf("table %q is defined twice without OR REPLACE (line %d)", s.TableName, s.LineNo))
	}

	sql, _, _ := p.resolver.Substitute(s.SQL, vars.ContextSQL, location)

	op := &Operation{
		ID:     st.assignID("transform_" + s.TableName),
		Type:   OpTransform,
		Name:   s.TableName,
		LineNo: s.LineNo,
		Transform: &TransformSpec{
			TargetTable: s.TableName,
			SQL:         sql,
			Mode:        s.Mode,
			IsReplace:   s.IsReplace,
			MergeKeys:   s.MergeKeys,
			TimeColumn:  s.TimeColumn,
			Lookback:    s.Lookback,
		},
	}

	if s.Mode == ast.ModeMerge && len(s.MergeKeys) == 0 {
		st.stepFailures = append(st.stepFailures, sqlflowerrors.StepFailure{
			StepID: op.ID, Reason: "MERGE mode requires KEY columns",
		})
		return
	}
	if s.Mode == ast.ModeIncremental && s.TimeColumn == "" {
		st.stepFailures = append(st.stepFailures, sqlflowerrors.StepFailure{
			StepID: op.ID, Reason: "INCREMENTAL mode requires a BY column",
		})
		return
	}

	p.inferSQLDependencies(op, sql, st)
	addWriterEdge(op, key, st)

	st.ops = append(st.ops, op)
	// Later references to the table depend on this definition, replacement
	// or not; the producers map always points at the newest writer.
	st.producers[key] = op
	if !s.IsReplace {
		st.plainDefs[key] = true
	}
}

func (p *Planner) lowerExport(s *ast.Export, st *planState) {
	location := fmt.Sprintf("EXPORT at line %d", s.LineNo)
	p.collectMissing(s.SQL, location, st)
	p.collectMissing(s.DestinationURI, location, st)

	sql, _, _ := p.resolver.Substitute(s.SQL, vars.ContextSQL, location)
	uri, _, _ := p.resolver.Substitute(s.DestinationURI, vars.ContextText, location)

	op := &Operation{
		Type:   OpExport,
		LineNo: s.LineNo,
		Export: &ExportSpec{
			SQL:            sql,
			DestinationURI: uri,
			ConnectorType:  s.ConnectorType,
			Options:        p.substituteParams(s.Options, location, st),
		},
	}

	p.inferSQLDependencies(op, sql, st)

	// Exports are named after the first table they read, for stable ids.
	name := "export"
	if tables := referencedTables(sql); len(tables) > 0 {
		name = tables[0]
	}
	op.Name = name
	op.ID = st.assignID("export_" + name)

	st.ops = append(st.ops, op)
}

// inferSQLDependencies adds edges to every earlier operation whose target
// table appears as an identifier in the SQL body, and records unknown table
// references for validation. Identifiers inside string literals and line
// comments never count.
func (p *Planner) inferSQLDependencies(op *Operation, sql string, st *planState) {
	seen := make(map[string]bool)
	for _, ident := range referencedIdentifiers(sql) {
		key := strings.ToLower(ident)
		producer, ok := st.producers[key]
		if !ok || seen[producer.ID] || producer == op {
			continue
		}
		op.DependsOn = append(op.DependsOn, producer.ID)
		seen[producer.ID] = true
	}

	for _, table := range referencedTables(sql) {
		if _, ok := st.producers[strings.ToLower(table)]; !ok {
			st.missingTabs = appendUnique(st.missingTabs, table)
		}
	}
}

// addWriterEdge orders a new writer of a table after the table's previous
// writer. Without the edge a redefinition lands in the same topological
// level as the original and the two writes race.
func addWriterEdge(op *Operation, key string, st *planState) {
	prev, ok := st.producers[key]
	if !ok || prev == op {
		return
	}
	for _, dep := range op.DependsOn {
		if dep == prev.ID {
			return
		}
	}
	op.DependsOn = append(op.DependsOn, prev.ID)
}

// substituteParams renders ${...} references inside string parameter
// values with text context, recursing into nested maps and lists.
func (p *Planner) substituteParams(params map[string]any, location string, st *planState) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		out[key] = p.substituteValue(value, location, st)
	}
	return out
}

func (p *Planner) substituteValue(value any, location string, st *planState) any {
	switch v := value.(type) {
	case string:
		p.collectMissing(v, location, st)
		substituted, _, _ := p.resolver.Substitute(v, vars.ContextText, location)
		return substituted
	case map[string]any:
		return p.substituteParams(v, location, st)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = p.substituteValue(item, location, st)
		}
		return out
	default:
		return value
	}
}

func (p *Planner) collectMissing(s, location string, st *planState) {
	for _, name := range p.resolver.Missing(s) {
		st.missingVars[name] = append(st.missingVars[name], location)
	}
}

// assignID returns a deterministic slug, disambiguating collisions with a
// numeric suffix.
func (st *planState) assignID(base string) string {
	st.usedIDs[base]++
	if st.usedIDs[base] == 1 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, st.usedIDs[base])
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, item) {
			return list
		}
	}
	return append(list, item)
}
