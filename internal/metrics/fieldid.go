package metrics

import "time"

// Namespace prefixes every fieldid metric.
const Namespace = "fieldid"

// Recorder records launch-flow metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *Registry
}

// NewRecorder returns a Recorder on registry, or on a fresh fieldid registry
// when registry is nil.
func NewRecorder(registry *Registry) *Recorder {
	if registry == nil {
		registry = NewRegistry(Namespace)
	}
	return &Recorder{registry: registry}
}

// Registry returns the backing registry.
func (m *Recorder) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCheck observes one integrity check.
func (m *Recorder) RecordCheck(check string, d time.Duration, passed bool) {
	if m == nil {
		return
	}
	m.registry.Histogram("check_duration_seconds", "Duration of each integrity check", Labels{"check": check}, DurationBuckets).ObserveDuration(d)
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.registry.Counter("checks_total", "Integrity checks run by result", Labels{"check": check, "result": result}).Inc()
}

// RecordOutcome counts a finished validation run.
func (m *Recorder) RecordOutcome(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.registry.Counter("validation_outcomes_total", "Validation runs by outcome", Labels{"outcome": outcome}).Inc()
	m.registry.Histogram("validation_duration_seconds", "Duration of a full validation run", nil, DurationBuckets).ObserveDuration(d)
}

// RecordKeyVerification counts an app-key verification by decision.
func (m *Recorder) RecordKeyVerification(decision string) {
	if m == nil {
		return
	}
	m.registry.Counter("key_verifications_total", "App key verifications by decision", Labels{"decision": decision}).Inc()
}

// RecordAuditWriteError counts audit entries that could not be stored.
func (m *Recorder) RecordAuditWriteError() {
	if m == nil {
		return
	}
	m.registry.Counter("audit_write_errors_total", "Audit entries that failed to persist", nil).Inc()
}
