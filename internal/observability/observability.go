package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Alert kinds raised by the manager.
const (
	AlertSlowExecution   = "slow_execution"
	AlertStepFailure     = "step_failure"
	AlertScopeFailure    = "scope_failure"
	AlertRecoverySuccess = "recovery_success"
	AlertRecoveryFailure = "recovery_failure"
)

// Alert is a single observed anomaly with a suggested follow-up.
type Alert struct {
	Kind            string
	Severity        AlertSeverity
	StepID          string
	Message         string
	SuggestedAction string
	At              time.Time
}

// Aggregate accumulates timing and throughput per step type.
type Aggregate struct {
	Calls     int64
	Failures  int64
	TotalMs   float64
	TotalRows int64
	MinMs     float64
	MaxMs     float64
	recent    []float64
}

// SuccessRate returns the fraction of calls that succeeded.
func (a *Aggregate) SuccessRate() float64 {
	if a.Calls == 0 {
		return 1.0
	}
	return float64(a.Calls-a.Failures) / float64(a.Calls)
}

// AverageMs returns the mean duration over all calls.
func (a *Aggregate) AverageMs() float64 {
	if a.Calls == 0 {
		return 0
	}
	return a.TotalMs / float64(a.Calls)
}

// RecentAverageMs returns the mean over the most recent window.
func (a *Aggregate) RecentAverageMs() float64 {
	if len(a.recent) == 0 {
		return 0
	}
	var sum float64
	for _, v := range a.recent {
		sum += v
	}
	return sum / float64(len(a.recent))
}

// Throughput returns rows per second across all calls.
func (a *Aggregate) Throughput() float64 {
	if a.TotalMs <= 0 {
		return 0
	}
	return float64(a.TotalRows) / (a.TotalMs / 1000)
}

const recentWindow = 100

// Options tunes the manager's alerting thresholds.
type Options struct {
	// SlowStepThreshold raises a slow_execution alert when a step exceeds
	// it. Zero means the default of 30 seconds.
	SlowStepThreshold time.Duration
	// Metrics, when set, mirrors step outcomes into prometheus.
	Metrics *Metrics
}

// Manager collects per-run execution telemetry. All methods are safe for
// concurrent use from worker goroutines.
type Manager struct {
	mu         sync.Mutex
	slowAfter  time.Duration
	metrics    *Metrics
	aggregates map[string]*Aggregate
	alerts     []Alert
	started    map[string]time.Time
	recoveries int64
}

// NewManager creates a manager with the given options.
func NewManager(opts Options) *Manager {
	slow := opts.SlowStepThreshold
	if slow <= 0 {
		slow = 30 * time.Second
	}
	return &Manager{
		slowAfter:  slow,
		metrics:    opts.Metrics,
		aggregates: make(map[string]*Aggregate),
		started:    make(map[string]time.Time),
	}
}

// RecordStepStart marks a step as running.
func (m *Manager) RecordStepStart(stepID, stepType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[stepID] = time.Now()
}

// RecordStepSuccess records a completed step with its duration and rows.
func (m *Manager) RecordStepSuccess(stepID, stepType string, duration time.Duration, rows int64) {
	if duration < 0 {
		duration = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.started, stepID)

	agg := m.aggregate(stepType)
	m.observe(agg, duration, rows)

	if duration > m.slowAfter {
		m.alerts = append(m.alerts, Alert{
			Kind:     AlertSlowExecution,
			Severity: SeverityWarning,
			StepID:   stepID,
			Message:  fmt.Sprintf("step %s took %s (threshold %s)", stepID, duration.Round(time.Millisecond), m.slowAfter),
			SuggestedAction: "check source latency and consider a smaller chunk size " +
				"or an incremental materialization",
			At: time.Now(),
		})
	}
	if m.metrics != nil {
		m.metrics.observeStep(stepType, "success", duration, rows)
	}
}

// RecordStepFailure records a failed step.
func (m *Manager) RecordStepFailure(stepID, stepType string, duration time.Duration, err error) {
	if duration < 0 {
		duration = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.started, stepID)

	agg := m.aggregate(stepType)
	m.observe(agg, duration, 0)
	agg.Failures++

	message := "step failed"
	if err != nil {
		message = err.Error()
	}
	m.alerts = append(m.alerts, Alert{
		Kind:            AlertStepFailure,
		Severity:        SeverityCritical,
		StepID:          stepID,
		Message:         message,
		SuggestedAction: "inspect the step's source and SQL; rerun with --verbose for detail",
		At:              time.Now(),
	})
	if m.metrics != nil {
		m.metrics.observeStep(stepType, "error", duration, 0)
	}
}

// RecordRecoveryAttempt notes a retry or fallback, and whether it worked.
func (m *Manager) RecordRecoveryAttempt(stepID string, succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveries++

	if succeeded {
		m.alerts = append(m.alerts, Alert{
			Kind:     AlertRecoverySuccess,
			Severity: SeverityInfo,
			StepID:   stepID,
			Message:  fmt.Sprintf("step %s recovered after retry", stepID),
			At:       time.Now(),
		})
		return
	}
	m.alerts = append(m.alerts, Alert{
		Kind:            AlertRecoveryFailure,
		Severity:        SeverityError,
		StepID:          stepID,
		Message:         fmt.Sprintf("step %s failed after recovery attempts", stepID),
		SuggestedAction: "the failure is persistent; fix the underlying cause before rerunning",
		At:              time.Now(),
	})
}

// MeasureScope times fn as a named scope, recording a scope_failure alert
// when it errors.
func (m *Manager) MeasureScope(name string, fn func() error) error {
	started := time.Now()
	err := fn()
	duration := time.Since(started)

	m.mu.Lock()
	defer m.mu.Unlock()
	agg := m.aggregate("scope:" + name)
	m.observe(agg, duration, 0)
	if err != nil {
		agg.Failures++
		m.alerts = append(m.alerts, Alert{
			Kind:     AlertScopeFailure,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("scope %s failed: %v", name, err),
			At:       time.Now(),
		})
	}
	return err
}

// Aggregates returns a snapshot of per-type aggregates.
func (m *Manager) Aggregates() map[string]Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Aggregate, len(m.aggregates))
	for k, v := range m.aggregates {
		copied := *v
		copied.recent = append([]float64(nil), v.recent...)
		out[k] = copied
	}
	return out
}

// Alerts returns the alerts raised so far, oldest first.
func (m *Manager) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Health summarizes overall run health from failure ratios.
type Health struct {
	Status       string
	FailureRate  float64
	TotalSteps   int64
	FailedSteps  int64
	ActiveAlerts int
}

// CheckSystemHealth grades the run: healthy below 10% failures, warning
// below 25%, degraded below 50%, critical from 50% up.
func (m *Manager) CheckSystemHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	var calls, failures int64
	for k, agg := range m.aggregates {
		if len(k) > 6 && k[:6] == "scope:" {
			continue
		}
		calls += agg.Calls
		failures += agg.Failures
	}

	h := Health{TotalSteps: calls, FailedSteps: failures, ActiveAlerts: len(m.alerts)}
	if calls > 0 {
		h.FailureRate = float64(failures) / float64(calls)
	}
	switch {
	case h.FailureRate < 0.10:
		h.Status = "healthy"
	case h.FailureRate < 0.25:
		h.Status = "warning"
	case h.FailureRate < 0.50:
		h.Status = "degraded"
	default:
		h.Status = "critical"
	}
	return h
}

// StepTypes returns the recorded step types, sorted.
func (m *Manager) StepTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.aggregates))
	for k := range m.aggregates {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

func (m *Manager) aggregate(stepType string) *Aggregate {
	agg, ok := m.aggregates[stepType]
	if !ok {
		agg = &Aggregate{}
		m.aggregates[stepType] = agg
	}
	return agg
}

func (m *Manager) observe(agg *Aggregate, duration time.Duration, rows int64) {
	ms := float64(duration) / float64(time.Millisecond)
	agg.Calls++
	agg.TotalMs += ms
	agg.TotalRows += rows
	if agg.Calls == 1 || ms < agg.MinMs {
		agg.MinMs = ms
	}
	if ms > agg.MaxMs {
		agg.MaxMs = ms
	}
	agg.recent = append(agg.recent, ms)
	if len(agg.recent) > recentWindow {
		agg.recent = agg.recent[len(agg.recent)-recentWindow:]
	}
}
