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
	MsgEmulator   = "App is running in the emulator."
	MsgRealDevice = "App is running on a real device, not an emulator!"
)

// Emulator fails when any configured emulator marker matches the device.
// A probe error other than ErrUnsupported fails the check.
type Emulator struct {
	probe    platform.Probe
	packages []string
	markers  policy.Markers
	policy   Evaluator
	env      Env
}

func NewEmulator(probe platform.Probe, packages []string, markers policy.Markers, eval Evaluator, env Env) *Emulator {
	return &Emulator{probe: probe, packages: packages, markers: markers, policy: eval, env: env}
}

func (e *Emulator) Name() string     { return "emulator" }
func (e *Emulator) Failure() Outcome { return EmulatorDetected }

func (e *Emulator) Check(ctx context.Context) Result {
	res := e.evaluate(ctx)
	if res.Passed {
		e.env.write(ctx, store.StreamApp, successEntry(MsgRealDevice))
		return res
	}
	stream, entry := e.failureEntry()
	e.env.write(ctx, stream, entry)
	return res
}

func (e *Emulator) collect(ctx context.Context) (policy.Input, error) {
	in := policy.Input{Markers: e.markers}

	deviceType, err := e.probe.DeviceType(ctx)
	if _, err = signal("", err); err != nil {
		return in, fmt.Errorf("device type: %w", err)
	}
	in.DeviceType = deviceType.String()

	fields := []struct {
		name string
		dst  *string
		get  func(context.Context) (string, error)
	}{
		{"os", &in.OS, e.probe.OSName},
		{"architecture", &in.Architecture, e.probe.Architecture},
		{"model", &in.Model, e.probe.ModelName},
		{"serial", &in.Serial, e.probe.Serial},
		{"ip address", &in.IPAddress, e.probe.IPAddress},
	}
	for _, f := range fields {
		v, err := signal(f.get(ctx))
		if err != nil {
			return in, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}

	// Carrier is only consulted on iOS.
	if strings.EqualFold(in.OS, platform.OSIOS) {
		v, err := signal(e.probe.CarrierName(ctx))
		if err != nil {
			return in, fmt.Errorf("carrier: %w", err)
		}
		in.Carrier = v
	}

	in.EmulatorPackages = installedPackages(ctx, e.probe, e.packages)
	return in, nil
}

func (e *Emulator) evaluate(ctx context.Context) Result {
	in, err := e.collect(ctx)
	if err != nil {
		return fail(e, authority.KindUnknown, err.Error(), err)
	}
	decision, err := e.policy.Evaluate(ctx, in)
	if err != nil {
		return fail(e, authority.KindUnknown, "policy: "+err.Error(), fmt.Errorf("evaluate emulator policy: %w", err))
	}
	if decision.Emulator {
		return fail(e, authority.KindPolicyViolation, strings.Join(decision.EmulatorReasons, ", "), nil)
	}
	return pass(e.Name())
}

func (e *Emulator) failureEntry() (store.Stream, store.Entry) {
	return store.StreamApp, userErrorEntry(MsgEmulator)
}
