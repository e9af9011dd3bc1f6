package errors

import (
	"fmt"
	"strings"
)

// ParseError represents a pipeline DSL parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PipelineNotFoundError indicates a pipeline file could not be discovered.
// It carries the searched paths and near-miss candidates so the CLI can
// suggest alternatives.
type PipelineNotFoundError struct {
	Name          string
	SearchedPaths []string
	Candidates    []string
}

// NewPipelineNotFoundError constructs a PipelineNotFoundError.
func NewPipelineNotFoundError(name string, searched, candidates []string) error {
	return &PipelineNotFoundError{Name: name, SearchedPaths: searched, Candidates: candidates}
}

func (e *PipelineNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pipeline %q not found (searched %s)", e.Name, strings.Join(e.SearchedPaths, ", "))
}

// ProfileNotFoundError indicates the requested profile does not exist.
type ProfileNotFoundError struct {
	Name      string
	Available []string
}

// NewProfileNotFoundError constructs a ProfileNotFoundError.
func NewProfileNotFoundError(name string, available []string) error {
	return &ProfileNotFoundError{Name: name, Available: available}
}

func (e *ProfileNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Available) > 0 {
		return fmt.Sprintf("profile %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("profile %q not found", e.Name)
}

// ValidationError aggregates planning-time validation issues. A plan that
// produced a ValidationError is never executed.
type ValidationError struct {
	Message           string
	MissingVariables  []string
	MissingTables     []string
	InvalidReferences []string
	ContextLocations  map[string][]string
	Err               error
}

// NewValidationError constructs a ValidationError with a message only.
func NewValidationError(message string, err error) error {
	return &ValidationError{Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(e.MissingVariables) > 0 {
		parts = append(parts, fmt.Sprintf("missing variables: %s", strings.Join(e.MissingVariables, ", ")))
	}
	if len(e.MissingTables) > 0 {
		parts = append(parts, fmt.Sprintf("missing tables: %s", strings.Join(e.MissingTables, ", ")))
	}
	if len(e.InvalidReferences) > 0 {
		parts = append(parts, fmt.Sprintf("invalid references: %s", strings.Join(e.InvalidReferences, ", ")))
	}
	if len(parts) == 0 {
		return "validation error"
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DependencyError aggregates dependency-graph problems discovered while
// building or sorting a plan.
type DependencyError struct {
	Cycles                  [][]string
	MissingDependencies     []string
	ConflictingDependencies []string
}

// NewCycleError constructs a DependencyError carrying detected cycles.
func NewCycleError(cycles [][]string) error {
	return &DependencyError{Cycles: cycles}
}

// NewMissingDependencyError constructs a DependencyError for unresolved references.
func NewMissingDependencyError(missing []string) error {
	return &DependencyError{MissingDependencies: missing}
}

func (e *DependencyError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Cycles) > 0 {
		rendered := make([]string, len(e.Cycles))
		for i, cycle := range e.Cycles {
			rendered[i] = strings.Join(cycle, " -> ")
		}
		return fmt.Sprintf("dependency error: cycle detected: %s", strings.Join(rendered, "; "))
	}
	if len(e.MissingDependencies) > 0 {
		return fmt.Sprintf("dependency error: missing dependencies: %s", strings.Join(e.MissingDependencies, ", "))
	}
	if len(e.ConflictingDependencies) > 0 {
		return fmt.Sprintf("dependency error: conflicting dependencies: %s", strings.Join(e.ConflictingDependencies, ", "))
	}
	return "dependency error"
}

// StepFailure records why one step could not be lowered into an operation.
type StepFailure struct {
	StepID string
	Reason string
}

// StepBuildError reports steps the planner failed to build.
type StepBuildError struct {
	FailedSteps []StepFailure
}

// NewStepBuildError constructs a StepBuildError.
func NewStepBuildError(failures []StepFailure) error {
	return &StepBuildError{FailedSteps: failures}
}

func (e *StepBuildError) Error() string {
	if e == nil {
		return ""
	}
	rendered := make([]string, len(e.FailedSteps))
	for i, f := range e.FailedSteps {
		rendered[i] = fmt.Sprintf("%s: %s", f.StepID, f.Reason)
	}
	return fmt.Sprintf("failed to build %d step(s): %s", len(e.FailedSteps), strings.Join(rendered, "; "))
}

// VariableParsingError indicates the CLI --variables payload could not be parsed.
type VariableParsingError struct {
	Payload string
	Err     error
}

// NewVariableParsingError constructs a VariableParsingError.
func NewVariableParsingError(payload string, err error) error {
	return &VariableParsingError{Payload: payload, Err: err}
}

func (e *VariableParsingError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("could not parse variables %q: %v", e.Payload, e.Err)
}

// Unwrap exposes the underlying error.
func (e *VariableParsingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CompilationError is the catch-all for parser and planner failures not
// covered by a more specific type.
type CompilationError struct {
	Pipeline string
	Message  string
	Err      error
}

// NewCompilationError constructs a CompilationError.
func NewCompilationError(pipeline, message string, err error) error {
	return &CompilationError{Pipeline: pipeline, Message: message, Err: err}
}

func (e *CompilationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Pipeline != "" {
		return fmt.Sprintf("compilation error in %s: %s", e.Pipeline, e.Message)
	}
	return fmt.Sprintf("compilation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *CompilationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents a runtime failure while executing a step.
type ExecutionError struct {
	StepID  string
	Message string
	Err     error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(stepID string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ExecutionError{StepID: stepID, Message: message, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("execution error on step %s: %s", e.StepID, e.Message)
	}
	return fmt.Sprintf("execution error: %s", e.Message)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConnectorError indicates a failure inside a source or destination
// connector. Retryable hints whether the operation could succeed if run
// again (network timeouts) as opposed to configuration mistakes.
type ConnectorError struct {
	Connector string
	Op        string
	Retryable bool
	Err       error
}

// NewConnectorError constructs a ConnectorError.
func NewConnectorError(connector, op string, retryable bool, err error) error {
	return &ConnectorError{Connector: connector, Op: op, Retryable: retryable, Err: err}
}

func (e *ConnectorError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("connector error [%s/%s]: %v", e.Connector, e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ConnectorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
