// Package integrity runs the launch-time device and app validation checks.
//
// Checks run strictly in order (connectivity, version, tamper, emulator) and
// the first failure ends the run. Each check writes its own audit entry.
package integrity

import (
	"context"
	"errors"
	"time"

	"fieldid/internal/authority"
)

// Outcome is the result of a validation run. The numeric values are stable.
type Outcome int

const (
	Valid                Outcome = 0
	NetworkUnreachable   Outcome = 1
	VersionMismatch      Outcome = 2
	IntegrityCompromised Outcome = 3
	EmulatorDetected     Outcome = 4
	UnknownError         Outcome = 5
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "Valid"
	case NetworkUnreachable:
		return "NetworkUnreachable"
	case VersionMismatch:
		return "VersionMismatch"
	case IntegrityCompromised:
		return "IntegrityCompromised"
	case EmulatorDetected:
		return "EmulatorDetected"
	default:
		return "UnknownError"
	}
}

// ErrCheckerPanic marks a Result produced by a recovered panic.
var ErrCheckerPanic = errors.New("integrity: checker panicked")

// Result is the verdict of one check.
type Result struct {
	Check   string
	Passed  bool
	Outcome Outcome
	Kind    authority.Kind
	Reason  string
	Err     error
	// Duration is filled in by the Pipeline.
	Duration time.Duration
}

// Checker is one step of the validation pipeline.
type Checker interface {
	Name() string
	// Failure is the outcome reported when the check does not pass.
	Failure() Outcome
	Check(ctx context.Context) Result
}

func pass(name string) Result {
	return Result{Check: name, Passed: true, Outcome: Valid}
}

func fail(c Checker, kind authority.Kind, reason string, err error) Result {
	return Result{Check: c.Name(), Outcome: c.Failure(), Kind: kind, Reason: reason, Err: err}
}
