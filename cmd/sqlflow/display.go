package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/sqlflow/internal/executor"
	"github.com/alexisbeaulieu97/sqlflow/internal/observability"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

const maxListedIssues = 5

var (
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleHeading = lipgloss.NewStyle().Bold(true)
)

func colorEnabled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func paint(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

func goodMark() string { return paint(styleOK, "ok") }
func badMark() string  { return paint(styleError, "FAIL") }

// renderError formats an error for the terminal, giving each error class
// its own layout and a suggestion where one helps.
func renderError(err error) string {
	var parseErr *sqlflowerrors.ParseError
	if errors.As(err, &parseErr) {
		return paint(styleError, "parse error: ") +
			fmt.Sprintf("%s:%d: %s", parseErr.Path, parseErr.Line, parseErr.Message)
	}

	var pipeErr *sqlflowerrors.PipelineNotFoundError
	if errors.As(err, &pipeErr) {
		var b strings.Builder
		fmt.Fprintf(&b, "%s pipeline %q not found\n", paint(styleError, "error:"), pipeErr.Name)
		b.WriteString(paint(styleDim, "searched:\n"))
		for _, p := range pipeErr.SearchedPaths {
			fmt.Fprintf(&b, "  %s\n", p)
		}
		if len(pipeErr.Candidates) > 0 {
			fmt.Fprintf(&b, "did you mean: %s", strings.Join(pipeErr.Candidates, ", "))
		}
		return strings.TrimRight(b.String(), "\n")
	}

	var profErr *sqlflowerrors.ProfileNotFoundError
	if errors.As(err, &profErr) {
		msg := fmt.Sprintf("%s profile %q not found", paint(styleError, "error:"), profErr.Name)
		if len(profErr.Available) > 0 {
			msg += "\navailable profiles: " + strings.Join(profErr.Available, ", ")
		}
		return msg
	}

	var valErr *sqlflowerrors.ValidationError
	if errors.As(err, &valErr) {
		return renderValidationError(valErr)
	}

	var depErr *sqlflowerrors.DependencyError
	if errors.As(err, &depErr) {
		return renderDependencyError(depErr)
	}

	var buildErr *sqlflowerrors.StepBuildError
	if errors.As(err, &buildErr) {
		var b strings.Builder
		b.WriteString(paint(styleError, "cannot build steps:"))
		for _, f := range buildErr.FailedSteps {
			fmt.Fprintf(&b, "\n  %s: %s", f.StepID, f.Reason)
		}
		return b.String()
	}

	var varErr *sqlflowerrors.VariableParsingError
	if errors.As(err, &varErr) {
		return paint(styleError, "invalid --var value: ") + varErr.Error() +
			"\n" + paint(styleDim, `expected name=value or a JSON object like {"env":"prod"}`)
	}

	var execErr *sqlflowerrors.ExecutionError
	if errors.As(err, &execErr) {
		return paint(styleError, "execution failed: ") + execErr.Error()
	}

	return paint(styleError, "error: ") + err.Error()
}

func renderValidationError(valErr *sqlflowerrors.ValidationError) string {
	var b strings.Builder
	b.WriteString(paint(styleError, "validation failed"))

	writeIssues := func(heading string, issues []string) {
		if len(issues) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s", paint(styleHeading, heading))
		shown := issues
		if len(shown) > maxListedIssues {
			shown = shown[:maxListedIssues]
		}
		for _, issue := range shown {
			fmt.Fprintf(&b, "\n  %s", issue)
		}
		if elided := len(issues) - len(shown); elided > 0 {
			fmt.Fprintf(&b, "\n  %s", paint(styleDim, fmt.Sprintf("... and %d more", elided)))
		}
	}

	var varLines []string
	for _, name := range valErr.MissingVariables {
		line := name
		if locs := valErr.ContextLocations[name]; len(locs) > 0 {
			line = fmt.Sprintf("%s (used in %s)", name, strings.Join(locs, "; "))
		}
		varLines = append(varLines, line)
	}
	writeIssues("missing variables:", varLines)
	writeIssues("missing tables:", valErr.MissingTables)
	writeIssues("invalid references:", valErr.InvalidReferences)

	if len(valErr.MissingVariables) > 0 {
		b.WriteString("\n" + paint(styleDim,
			`define them with --var name=value, a SET statement, or a profile`))
	}
	return b.String()
}

func renderDependencyError(depErr *sqlflowerrors.DependencyError) string {
	var b strings.Builder
	b.WriteString(paint(styleError, "dependency error"))
	for _, cycle := range depErr.Cycles {
		fmt.Fprintf(&b, "\n  cycle: %s", strings.Join(cycle, " -> "))
	}
	for _, missing := range depErr.MissingDependencies {
		fmt.Fprintf(&b, "\n  missing: %s", missing)
	}
	for _, conflict := range depErr.ConflictingDependencies {
		fmt.Fprintf(&b, "\n  conflict: %s", conflict)
	}
	return b.String()
}

// renderStepResult formats one step line of the run summary.
func renderStepResult(res executor.StepResult) string {
	var mark string
	switch res.Status {
	case executor.StatusSuccess:
		mark = goodMark()
	case executor.StatusError:
		mark = badMark()
	case executor.StatusSkipped:
		mark = paint(styleWarn, "skip")
	case executor.StatusCancelled:
		mark = paint(styleWarn, "stop")
	default:
		mark = paint(styleDim, string(res.Status))
	}

	line := fmt.Sprintf("%-4s %s", mark, res.StepID)
	if res.Status == executor.StatusSuccess {
		line += paint(styleDim, fmt.Sprintf("  %d rows in %s",
			res.RowCount, res.Duration.Round(time.Millisecond)))
	} else if res.Message != "" {
		line += paint(styleDim, "  "+res.Message)
	}
	return line
}

// renderObsReport formats the per-step-type aggregates and any alerts
// raised during a run.
func renderObsReport(obs *observability.Manager) string {
	aggs := obs.Aggregates()
	if len(aggs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(paint(styleHeading, "step timings"))
	for _, stepType := range obs.StepTypes() {
		agg := aggs[stepType]
		fmt.Fprintf(&b, "\n  %-12s %d calls, %d rows, avg %.0fms (min %.0f / max %.0f)",
			stepType, agg.Calls, agg.TotalRows, agg.AverageMs(), agg.MinMs, agg.MaxMs)
		if agg.Failures > 0 {
			fmt.Fprintf(&b, ", %s", paint(styleError, fmt.Sprintf("%d failed", agg.Failures)))
		}
	}

	alerts := obs.Alerts()
	if len(alerts) > 0 {
		b.WriteString("\n" + paint(styleHeading, "alerts"))
		for _, alert := range alerts {
			style := styleWarn
			switch alert.Severity {
			case observability.SeverityError, observability.SeverityCritical:
				style = styleError
			}
			fmt.Fprintf(&b, "\n  %s %s", paint(style, alert.Kind), alert.Message)
		}
	}
	return b.String()
}

// renderListing formats a named section of the list command.
func renderListing(title string, names []string) string {
	var b strings.Builder
	b.WriteString(paint(styleHeading, title))
	if len(names) == 0 {
		b.WriteString("\n  " + paint(styleDim, "(none)"))
		return b.String()
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		b.WriteString("\n  " + name)
	}
	return b.String()
}
