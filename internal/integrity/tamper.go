package integrity

import (
	"context"
	"fmt"
	"strings"

	"fieldid/internal/authority"
	"fieldid/internal/platform"
	"fieldid/internal/policy"
	"fieldid/internal/store"
)

const (
	MsgRooted    = "Root/jailbreak or developer mode (Android) is enabled."
	MsgNotRooted = "Root/jailbreak or developer mode (Android) is not enabled!"
)

// Tamper fails when the platform reports root/jailbreak or a known root
// package is installed. It fails closed on any error.
type Tamper struct {
	probe    platform.Probe
	packages []string
	policy   Evaluator
	env      Env
}

func NewTamper(probe platform.Probe, packages []string, eval Evaluator, env Env) *Tamper {
	return &Tamper{probe: probe, packages: packages, policy: eval, env: env}
}

func (t *Tamper) Name() string     { return "tamper" }
func (t *Tamper) Failure() Outcome { return IntegrityCompromised }

func (t *Tamper) Check(ctx context.Context) Result {
	res := t.evaluate(ctx)
	if res.Passed {
		t.env.write(ctx, store.StreamApp, successEntry(MsgNotRooted))
		return res
	}
	stream, entry := t.failureEntry()
	t.env.write(ctx, stream, entry)
	return res
}

func (t *Tamper) evaluate(ctx context.Context) Result {
	rooted, err := t.probe.RootSignal(ctx)
	if err != nil {
		return fail(t, authority.KindUnknown, "root signal: "+err.Error(), err)
	}
	osName, _ := signal(t.probe.OSName(ctx))

	decision, err := t.policy.Evaluate(ctx, policy.Input{
		OS:           osName,
		RootSignal:   rooted,
		RootPackages: installedPackages(ctx, t.probe, t.packages),
	})
	if err != nil {
		return fail(t, authority.KindUnknown, "policy: "+err.Error(), fmt.Errorf("evaluate tamper policy: %w", err))
	}
	if decision.Rooted {
		return fail(t, authority.KindPolicyViolation, strings.Join(decision.TamperReasons, ", "), nil)
	}
	return pass(t.Name())
}

func (t *Tamper) failureEntry() (store.Stream, store.Entry) {
	return store.StreamApp, userErrorEntry(MsgRooted)
}
