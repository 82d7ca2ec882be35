package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldid/internal/authority"
	"fieldid/internal/logging"
	"fieldid/internal/platform"
	"fieldid/internal/policy"
	"fieldid/internal/store"
)

// MsgDeviceIDFailed is written when the device identity cannot be ensured.
const MsgDeviceIDFailed = "Unable to read or create the device id."

// IdentityProvider ensures the device identity before any check runs.
type IdentityProvider interface {
	EnsureDeviceID(ctx context.Context) (string, error)
}

// Authority is the remote side used by the connectivity and version checks.
type Authority interface {
	Pinger
	Versioner
}

// Settings configure the standard checkers.
type Settings struct {
	LocalVersion     string
	RootPackages     []string
	EmulatorPackages []string
	Markers          policy.Markers
}

// StandardCheckers returns connectivity, version, tamper and emulator, in
// that order.
func StandardCheckers(remote Authority, probe platform.Probe, eval Evaluator, s Settings, env Env) []Checker {
	return []Checker{
		NewConnectivity(remote, env),
		NewVersion(remote, s.LocalVersion, env),
		NewTamper(probe, s.RootPackages, eval, env),
		NewEmulator(probe, s.EmulatorPackages, s.Markers, eval, env),
	}
}

// Report describes one validation run.
type Report struct {
	RunID    string
	Outcome  Outcome
	DeviceID string
	Results  []Result
	Started  time.Time
	Duration time.Duration
	// Err is set when the run failed before any check, or by the failing check.
	Err error
}

// Failed returns the failing result, if any.
func (r Report) Failed() (Result, bool) {
	if n := len(r.Results); n > 0 && !r.Results[n-1].Passed {
		return r.Results[n-1], true
	}
	return Result{}, false
}

// Pipeline runs checkers in order and stops at the first failure. It holds
// no state between runs.
type Pipeline struct {
	identity IdentityProvider
	checkers []Checker
	env      Env
	now      func() time.Time
}

func NewPipeline(identity IdentityProvider, checkers []Checker, env Env) *Pipeline {
	return &Pipeline{identity: identity, checkers: checkers, env: env, now: time.Now}
}

// Run executes one validation. It never panics.
func (p *Pipeline) Run(ctx context.Context) Report {
	report := Report{RunID: uuid.NewString(), Started: p.now()}
	ctx = logging.ContextWithRequestID(ctx, report.RunID)
	logger := p.env.logger().WithComponent("integrity").WithRequestID(report.RunID)

	defer func() {
		report.Duration = p.now().Sub(report.Started)
		p.env.Metrics.RecordOutcome(report.Outcome.String(), report.Duration)
		logger.Info("validation finished", "outcome", report.Outcome.String(), "duration", report.Duration)
	}()

	id, err := p.ensureIdentity(ctx)
	if err != nil {
		logger.Error("device identity", "error", err)
		p.env.write(ctx, store.StreamApp, systemErrorEntry(MsgDeviceIDFailed))
		report.Outcome = UnknownError
		report.Err = err
		return report
	}
	report.DeviceID = id

	for _, c := range p.checkers {
		start := p.now()
		res := p.runCheck(ctx, c)
		res.Duration = p.now().Sub(start)
		p.env.Metrics.RecordCheck(c.Name(), res.Duration, res.Passed)
		report.Results = append(report.Results, res)

		if !res.Passed {
			logger.Warn("check failed", "check", c.Name(), "outcome", res.Outcome.String(), "kind", res.Kind.String(), "reason", res.Reason)
			report.Outcome = res.Outcome
			report.Err = res.Err
			return report
		}
		logger.Debug("check passed", "check", c.Name(), "duration", res.Duration)
	}

	report.Outcome = Valid
	return report
}

func (p *Pipeline) ensureIdentity(ctx context.Context) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ensure device id: panic: %v", r)
		}
	}()
	return p.identity.EnsureDeviceID(ctx)
}

func (p *Pipeline) runCheck(ctx context.Context, c Checker) (res Result) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		res = Result{
			Check:   c.Name(),
			Outcome: c.Failure(),
			Kind:    authority.KindUnknown,
			Reason:  fmt.Sprintf("panic: %v", r),
			Err:     fmt.Errorf("%w: %s: %v", ErrCheckerPanic, c.Name(), r),
		}
		stream, entry := store.StreamApp, systemErrorEntry(fmt.Sprintf("The %s check failed unexpectedly.", c.Name()))
		if fr, ok := c.(failureRecorder); ok {
			stream, entry = fr.failureEntry()
		}
		p.env.write(ctx, stream, entry)
	}()
	res = c.Check(ctx)
	// A failing result always carries the checker's own outcome.
	if !res.Passed {
		res.Outcome = c.Failure()
	} else {
		res.Outcome = Valid
	}
	if res.Check == "" {
		res.Check = c.Name()
	}
	return res
}
