package vars

import (
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/sqlflow/internal/logger"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Strategy selects how variable-substitution anomalies are treated.
type Strategy string

const (
	// StrategyFailFast raises on the first anomaly.
	StrategyFailFast Strategy = "fail_fast"
	// StrategyWarnContinue logs a warning and substitutes the context fallback.
	StrategyWarnContinue Strategy = "warn_continue"
	// StrategyIgnore silently substitutes the context fallback.
	StrategyIgnore Strategy = "ignore"
	// StrategyCollectReport accumulates anomalies and raises on Finalize.
	StrategyCollectReport Strategy = "collect_report"
)

// ParseStrategy validates a strategy name, defaulting to warn_continue.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyFailFast, StrategyWarnContinue, StrategyIgnore, StrategyCollectReport:
		return Strategy(name), nil
	case "":
		return StrategyWarnContinue, nil
	default:
		return "", fmt.Errorf("unknown error strategy %q", name)
	}
}

// IssueKind classifies a recorded anomaly.
type IssueKind string

const (
	// IssueMissingVariable marks an unresolved ${...} reference.
	IssueMissingVariable IssueKind = "missing_variable"
	// IssueInvalidFormat marks a value the formatter could not render.
	IssueInvalidFormat IssueKind = "invalid_format"
	// IssueTypeConversion marks a failed type conversion.
	IssueTypeConversion IssueKind = "type_conversion"
)

// Issue is one recorded substitution anomaly.
type Issue struct {
	Kind     IssueKind
	Variable string
	Location string
	Message  string
}

// Report accumulates substitution outcomes for a run.
type Report struct {
	Errors       []Issue
	Warnings     []Issue
	SuccessCount int
	Total        int
	Context      string
}

// SuccessRate reports the fraction of substitutions that succeeded.
func (r *Report) SuccessRate() float64 {
	if r.Total == 0 {
		return 1.0
	}
	return float64(r.SuccessCount) / float64(r.Total)
}

// MissingVariables lists the distinct variables recorded as missing.
func (r *Report) MissingVariables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, lists := range [][]Issue{r.Errors, r.Warnings} {
		for _, issue := range lists {
			if issue.Kind == IssueMissingVariable && !seen[issue.Variable] {
				names = append(names, issue.Variable)
				seen[issue.Variable] = true
			}
		}
	}
	return names
}

// Handler applies the selected strategy to substitution anomalies and
// accumulates the run report.
type Handler struct {
	mu       sync.Mutex
	strategy Strategy
	log      *logger.Logger
	report   Report
}

// NewHandler builds a Handler with the given strategy.
func NewHandler(strategy Strategy, log *logger.Logger) *Handler {
	if strategy == "" {
		strategy = StrategyWarnContinue
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{strategy: strategy, log: log}
}

// Strategy returns the configured strategy.
func (h *Handler) Strategy() Strategy {
	return h.strategy
}

// MissingVariable handles an unresolved reference. It returns the string to
// substitute; the error is non-nil only when the strategy is fatal.
func (h *Handler) MissingVariable(name string, ctx Context, location string) (string, error) {
	issue := Issue{
		Kind:     IssueMissingVariable,
		Variable: name,
		Location: location,
		Message:  fmt.Sprintf("variable %q not found in any scope", name),
	}
	fallback := Fallback(ctx)

	switch h.strategy {
	case StrategyFailFast:
		h.record(issue, true)
		return fallback, &sqlflowerrors.ValidationError{
			Message:          issue.Message,
			MissingVariables: []string{name},
			ContextLocations: map[string][]string{name: {location}},
		}
	case StrategyIgnore:
		h.record(issue, false)
		return fallback, nil
	case StrategyCollectReport:
		h.record(issue, true)
		return fallback, nil
	default:
		h.record(issue, false)
		h.log.WithFields(map[string]any{"variable": name, "location": location}).
			Warn("variable not found, substituting fallback")
		return fallback, nil
	}
}

// InvalidFormat handles a value the context formatter rejected.
func (h *Handler) InvalidFormat(name, location string, err error) (string, error) {
	issue := Issue{
		Kind:     IssueInvalidFormat,
		Variable: name,
		Location: location,
		Message:  err.Error(),
	}

	switch h.strategy {
	case StrategyFailFast:
		h.record(issue, true)
		return "", sqlflowerrors.NewValidationError(issue.Message, err)
	case StrategyIgnore:
		h.record(issue, false)
		return "", nil
	case StrategyCollectReport:
		h.record(issue, true)
		return "", nil
	default:
		h.record(issue, false)
		h.log.WithFields(map[string]any{"variable": name}).Warn("invalid format, substituting fallback")
		return "", nil
	}
}

// ConversionError handles a failed type conversion by stringifying.
func (h *Handler) ConversionError(name string, value any, location string) (string, error) {
	issue := Issue{
		Kind:     IssueTypeConversion,
		Variable: name,
		Location: location,
		Message:  fmt.Sprintf("cannot convert %T value for %q", value, name),
	}
	stringified := fmt.Sprintf("%v", value)

	switch h.strategy {
	case StrategyFailFast:
		h.record(issue, true)
		return stringified, sqlflowerrors.NewValidationError(issue.Message, nil)
	case StrategyIgnore:
		h.record(issue, false)
		return stringified, nil
	case StrategyCollectReport:
		h.record(issue, true)
		return stringified, nil
	default:
		h.record(issue, false)
		h.log.WithFields(map[string]any{"variable": name}).Warn("type conversion failed, stringifying")
		return stringified, nil
	}
}

// Finalize raises the aggregate error for collect_report runs that
// accumulated errors. Other strategies always return nil.
func (h *Handler) Finalize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.strategy != StrategyCollectReport || len(h.report.Errors) == 0 {
		return nil
	}

	missing := h.report.MissingVariables()
	locations := make(map[string][]string)
	for _, issue := range h.report.Errors {
		if issue.Kind == IssueMissingVariable {
			locations[issue.Variable] = append(locations[issue.Variable], issue.Location)
		}
	}
	return &sqlflowerrors.ValidationError{
		Message:          fmt.Sprintf("%d substitution error(s) collected", len(h.report.Errors)),
		MissingVariables: missing,
		ContextLocations: locations,
	}
}

// Report returns a copy of the accumulated report.
func (h *Handler) Report() Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.report
	out.Errors = append([]Issue(nil), h.report.Errors...)
	out.Warnings = append([]Issue(nil), h.report.Warnings...)
	return out
}

func (h *Handler) record(issue Issue, asError bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.report.Total++
	if asError {
		h.report.Errors = append(h.report.Errors, issue)
	} else {
		h.report.Warnings = append(h.report.Warnings, issue)
	}
}

func (h *Handler) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.report.Total++
	h.report.SuccessCount++
}
