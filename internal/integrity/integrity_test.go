package integrity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldid/internal/authority"
	"fieldid/internal/metrics"
	"fieldid/internal/platform"
	"fieldid/internal/policy"
	"fieldid/internal/store"
)

type recordedEntry struct {
	stream store.Stream
	entry  store.Entry
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (r *recordingAudit) Append(ctx context.Context, stream store.Stream, e store.Entry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedEntry{stream, e})
	return int64(len(r.entries)), nil
}

func (r *recordingAudit) all() []recordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEntry(nil), r.entries...)
}

type fakeAuthority struct {
	pingStatus int
	pingErr    error
	version    string
	versionErr error
	pings      int
	versions   int
}

func (f *fakeAuthority) Ping(ctx context.Context) (int, error) {
	f.pings++
	return f.pingStatus, f.pingErr
}

func (f *fakeAuthority) Version(ctx context.Context) (string, error) {
	f.versions++
	return f.version, f.versionErr
}

type fakeIdentity struct {
	id  string
	err error
}

func (f fakeIdentity) EnsureDeviceID(ctx context.Context) (string, error) { return f.id, f.err }

func boolPtr(b bool) *bool { return &b }

func realPhone() *platform.Profile {
	return &platform.Profile{
		OS:           platform.OSAndroid,
		Type:         "phone",
		Arch:         "arm64-v8a",
		Model:        "Pixel 8",
		SerialNumber: "R5CT1234",
		IP:           "192.168.1.20",
		Carrier:      "T-Mobile",
		Name:         "Pixel 8",
		Rooted:       boolPtr(false),
	}
}

func testSettings() Settings {
	return Settings{
		LocalVersion:     "1.0.0",
		RootPackages:     []string{"com.topjohnwu.magisk", "eu.chainfire.supersu"},
		EmulatorPackages: []string{"com.bluestacks", "com.bignox.app"},
		Markers: policy.Markers{
			Arch:              []string{"x86", "i686"},
			ModelPrefixes:     []string{"sdk"},
			SerialPrefixes:    []string{"EMULATOR"},
			IPs:               []string{"10.0.2.15"},
			CarrierSignatures: []string{"Appetize.io"},
		},
	}
}

func newEngine(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.New(context.Background(), "")
	require.NoError(t, err)
	return e
}

type harness struct {
	audit    *recordingAudit
	remote   *fakeAuthority
	probe    *platform.Profile
	recorder *metrics.Recorder
	pipeline *Pipeline
}

func newHarness(t *testing.T, mutate func(*harness)) *harness {
	t.Helper()
	h := &harness{
		audit:    &recordingAudit{},
		remote:   &fakeAuthority{pingStatus: 200, version: "1.0.0"},
		probe:    realPhone(),
		recorder: metrics.NewRecorder(nil),
	}
	if mutate != nil {
		mutate(h)
	}
	env := Env{Audit: h.audit, Metrics: h.recorder}
	checkers := StandardCheckers(h.remote, h.probe, newEngine(t), testSettings(), env)
	h.pipeline = NewPipeline(fakeIdentity{id: "1700000000000-abcdefghijklmno"}, checkers, env)
	return h
}

func TestAllChecksPass(t *testing.T) {
	h := newHarness(t, nil)
	report := h.pipeline.Run(context.Background())

	assert.Equal(t, Valid, report.Outcome)
	assert.NoError(t, report.Err)
	assert.Equal(t, "1700000000000-abcdefghijklmno", report.DeviceID)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 4)
	for _, r := range report.Results {
		assert.True(t, r.Passed, r.Check)
		assert.Equal(t, Valid, r.Outcome)
	}
	_, failed := report.Failed()
	assert.False(t, failed)

	entries := h.audit.all()
	require.Len(t, entries, 4)
	assert.Equal(t, store.StreamService, entries[0].stream)
	assert.Equal(t, MsgServerReachable, entries[0].entry.Message)
	assert.True(t, entries[0].entry.Online)
	assert.Equal(t, "Currently using the latest version (1.0.0)", entries[1].entry.Message)
	assert.Equal(t, MsgNotRooted, entries[2].entry.Message)
	assert.Equal(t, MsgRealDevice, entries[3].entry.Message)
	for _, e := range entries {
		assert.Equal(t, store.SeveritySuccess, e.entry.Severity)
		assert.False(t, e.entry.UserCaused)
	}
}

func TestRunIDsUnique(t *testing.T) {
	h := newHarness(t, nil)
	a := h.pipeline.Run(context.Background())
	b := h.pipeline.Run(context.Background())
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestShortCircuitPositions(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*harness)
		outcome Outcome
		ran     int
		message string
	}{
		{
			name:    "connectivity",
			mutate:  func(h *harness) { h.remote.pingStatus = 500 },
			outcome: NetworkUnreachable,
			ran:     1,
			message: MsgServerUnreachable,
		},
		{
			name:    "version",
			mutate:  func(h *harness) { h.remote.version = "2.0.0" },
			outcome: VersionMismatch,
			ran:     2,
			message: "Found the latest version (2.0.0). Current version 1.0.0",
		},
		{
			name:    "tamper",
			mutate:  func(h *harness) { h.probe.Rooted = boolPtr(true) },
			outcome: IntegrityCompromised,
			ran:     3,
			message: MsgRooted,
		},
		{
			name:    "emulator",
			mutate:  func(h *harness) { h.probe.Model = "sdk_gphone64" },
			outcome: EmulatorDetected,
			ran:     4,
			message: MsgEmulator,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.mutate)
			report := h.pipeline.Run(context.Background())

			assert.Equal(t, tc.outcome, report.Outcome)
			require.Len(t, report.Results, tc.ran)
			failed, ok := report.Failed()
			require.True(t, ok)
			assert.Equal(t, tc.name, failed.Check)

			entries := h.audit.all()
			require.Len(t, entries, tc.ran, "one entry per check that ran")
			assert.Equal(t, tc.message, entries[len(entries)-1].entry.Message)
			assert.NotEqual(t, store.SeveritySuccess, entries[len(entries)-1].entry.Severity)

			if tc.ran == 1 {
				assert.Equal(t, 0, h.remote.versions, "version must not run after connectivity fails")
			}
		})
	}
}

func TestConnectivityTransportError(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.remote.pingErr = &authority.Error{Kind: authority.KindTransientNetwork, Op: "ping", Err: errors.New("refused")}
	})
	report := h.pipeline.Run(context.Background())

	assert.Equal(t, NetworkUnreachable, report.Outcome)
	failed, _ := report.Failed()
	assert.Equal(t, authority.KindTransientNetwork, failed.Kind)
	entries := h.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, store.StreamService, entries[0].stream)
	assert.False(t, entries[0].entry.Online)
	assert.True(t, entries[0].entry.UserCaused)
	assert.Equal(t, store.SeverityError, entries[0].entry.Severity)
}

func TestVersionMissingAndFetchFailure(t *testing.T) {
	for name, mutate := range map[string]func(*harness){
		"missing": func(h *harness) { h.remote.version = "" },
		"fetch":   func(h *harness) { h.remote.versionErr = errors.New("boom") },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, mutate)
			report := h.pipeline.Run(context.Background())
			assert.Equal(t, VersionMismatch, report.Outcome)

			entries := h.audit.all()
			require.Len(t, entries, 2)
			last := entries[1].entry
			assert.Equal(t, store.SeverityError, last.Severity)
			assert.False(t, last.UserCaused)
		})
	}
}

func TestVersionComparisonIsExact(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.remote.version = "1.0.0 " })
	assert.Equal(t, VersionMismatch, h.pipeline.Run(context.Background()).Outcome)
}

func TestTamperRootPackage(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.probe.Packages = []string{"eu.chainfire.supersu"} })
	report := h.pipeline.Run(context.Background())

	assert.Equal(t, IntegrityCompromised, report.Outcome)
	failed, _ := report.Failed()
	assert.Equal(t, authority.KindPolicyViolation, failed.Kind)
	assert.Equal(t, "package:eu.chainfire.supersu", failed.Reason)
}

func TestTamperIndeterminateIsNotRooted(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.probe.Rooted = nil })
	assert.Equal(t, Valid, h.pipeline.Run(context.Background()).Outcome)
}

func TestTamperFailsClosedOnRootQueryError(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.probe.RootQueryError = "denied" })
	report := h.pipeline.Run(context.Background())

	assert.Equal(t, IntegrityCompromised, report.Outcome)
	entries := h.audit.all()
	assert.Equal(t, MsgRooted, entries[len(entries)-1].entry.Message)
}

func TestEmulatorSignals(t *testing.T) {
	cases := map[string]func(*platform.Profile){
		"desktop":  func(p *platform.Profile) { p.Type = "desktop" },
		"arch":     func(p *platform.Profile) { p.Arch = "x86_64" },
		"serial":   func(p *platform.Profile) { p.SerialNumber = "EMULATOR30X" },
		"ip":       func(p *platform.Profile) { p.IP = "10.0.2.15" },
		"package":  func(p *platform.Profile) { p.Packages = []string{"com.bignox.app"} },
		"ios farm": func(p *platform.Profile) { p.OS = platform.OSIOS; p.Carrier = "Appetize.io" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, func(h *harness) { mutate(h.probe) })
			assert.Equal(t, EmulatorDetected, h.pipeline.Run(context.Background()).Outcome)
		})
	}
}

func TestAndroidCarrierIgnored(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.probe.Carrier = "Appetize.io" })
	assert.Equal(t, Valid, h.pipeline.Run(context.Background()).Outcome)
}

type panicChecker struct{ name string }

func (p panicChecker) Name() string                     { return p.name }
func (p panicChecker) Failure() Outcome                 { return EmulatorDetected }
func (p panicChecker) Check(ctx context.Context) Result { panic("probe exploded") }

type countingChecker struct {
	name  string
	out   Outcome
	pass  bool
	calls *int
}

func (c countingChecker) Name() string     { return c.name }
func (c countingChecker) Failure() Outcome { return c.out }
func (c countingChecker) Check(ctx context.Context) Result {
	*c.calls++
	if c.pass {
		return Result{Check: c.name, Passed: true}
	}
	return Result{Check: c.name, Reason: "no"}
}

func TestPanicRecovered(t *testing.T) {
	audit := &recordingAudit{}
	after := 0
	p := NewPipeline(fakeIdentity{id: "1700000000000-abcdefghijklmno"}, []Checker{
		panicChecker{name: "custom"},
		countingChecker{name: "after", out: UnknownError, pass: true, calls: &after},
	}, Env{Audit: audit})

	report := p.Run(context.Background())
	assert.Equal(t, EmulatorDetected, report.Outcome)
	assert.ErrorIs(t, report.Err, ErrCheckerPanic)
	assert.Equal(t, 0, after)

	entries := audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, store.SeverityError, entries[0].entry.Severity)
}

type panickingProbe struct{ *platform.Profile }

func (panickingProbe) ModelName(ctx context.Context) (string, error) { panic("model") }

func TestBuiltinCheckerPanicUsesOwnEntry(t *testing.T) {
	audit := &recordingAudit{}
	env := Env{Audit: audit}
	p := NewPipeline(fakeIdentity{id: "1700000000000-abcdefghijklmno"}, []Checker{
		NewEmulator(panickingProbe{realPhone()}, nil, testSettings().Markers, newEngine(t), env),
	}, env)

	report := p.Run(context.Background())
	assert.Equal(t, EmulatorDetected, report.Outcome)
	entries := audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, MsgEmulator, entries[0].entry.Message)
	assert.True(t, entries[0].entry.UserCaused)
}

func TestCheckerOutcomeForcedToFailure(t *testing.T) {
	calls := 0
	p := NewPipeline(fakeIdentity{id: "1700000000000-abcdefghijklmno"}, []Checker{
		countingChecker{name: "c", out: VersionMismatch, calls: &calls},
	}, Env{})
	assert.Equal(t, VersionMismatch, p.Run(context.Background()).Outcome)
	assert.Equal(t, 1, calls)
}

func TestIdentityFailure(t *testing.T) {
	audit := &recordingAudit{}
	calls := 0
	p := NewPipeline(fakeIdentity{err: errors.New("keystore locked")}, []Checker{
		countingChecker{name: "c", pass: true, calls: &calls},
	}, Env{Audit: audit})

	report := p.Run(context.Background())
	assert.Equal(t, UnknownError, report.Outcome)
	assert.Error(t, report.Err)
	assert.Equal(t, 0, calls)
	entries := audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, MsgDeviceIDFailed, entries[0].entry.Message)
}

func TestMetricsRecorded(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.remote.version = "2.0.0" })
	h.pipeline.Run(context.Background())

	snap := h.recorder.Registry().Snapshot()
	assert.Equal(t, uint64(1), snap[`fieldid_validation_outcomes_total{outcome="VersionMismatch"}`])
	assert.Equal(t, uint64(1), snap[`fieldid_checks_total{check="connectivity",result="pass"}`])
	assert.Equal(t, uint64(1), snap[`fieldid_checks_total{check="version",result="fail"}`])
	assert.Nil(t, snap[`fieldid_checks_total{check="tamper",result="pass"}`])
}

func TestOutcomeCodes(t *testing.T) {
	assert.Equal(t, 0, int(Valid))
	assert.Equal(t, 1, int(NetworkUnreachable))
	assert.Equal(t, 2, int(VersionMismatch))
	assert.Equal(t, 3, int(IntegrityCompromised))
	assert.Equal(t, 4, int(EmulatorDetected))
	assert.Equal(t, 5, int(UnknownError))
	assert.Equal(t, "UnknownError", Outcome(42).String())
}

// End to end against HTTP with the real client and SQLite store.

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/audit.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newClient(t *testing.T, handler http.HandlerFunc) *authority.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := authority.New(authority.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestVersionWhitespaceIsMismatch(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"version":"1.0.0 \n"}}`))
	})

	res := NewVersion(client, "1.0.0", Env{}).Check(context.Background())
	assert.False(t, res.Passed)
	assert.Equal(t, authority.KindPolicyViolation, res.Kind)
}

func TestPing503Scenario(t *testing.T) {
	audit := openStore(t)
	versionCalled := false
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case authority.PathPing:
			w.WriteHeader(http.StatusServiceUnavailable)
		case authority.PathVersion:
			versionCalled = true
			w.Write([]byte(`{"data":{"version":"1.0.0"}}`))
		}
	})

	env := Env{Audit: audit}
	p := NewPipeline(fakeIdentity{id: "1700000000000-abcdefghijklmno"},
		StandardCheckers(client, realPhone(), newEngine(t), testSettings(), env), env)
	report := p.Run(context.Background())

	assert.Equal(t, NetworkUnreachable, report.Outcome)
	assert.False(t, versionCalled)

	svc, err := audit.Query(context.Background(), store.StreamService, 10, 0)
	require.NoError(t, err)
	require.Len(t, svc, 1)
	assert.Equal(t, MsgServerUnreachable, svc[0].Message)
	assert.Equal(t, store.SeverityError, svc[0].Severity)
	assert.True(t, svc[0].UserCaused)

	app, err := audit.Query(context.Background(), store.StreamApp, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, app)
}

func TestVersionScenario(t *testing.T) {
	audit := openStore(t)
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case authority.PathPing:
			w.Write([]byte(`{"StatusCode":200}`))
		case authority.PathVersion:
			w.Write([]byte(`{"data":{"version":"2.0.0"}}`))
		}
	})

	env := Env{Audit: audit}
	p := NewPipeline(fakeIdentity{id: "1700000000000-abcdefghijklmno"},
		StandardCheckers(client, realPhone(), newEngine(t), testSettings(), env), env)
	report := p.Run(context.Background())

	assert.Equal(t, VersionMismatch, report.Outcome)
	app, err := audit.Query(context.Background(), store.StreamApp, 10, 0)
	require.NoError(t, err)
	require.Len(t, app, 1)
	assert.Equal(t, "Found the latest version (2.0.0). Current version 1.0.0", app[0].Message)
	assert.Equal(t, store.SeverityWarning, app[0].Severity)
	assert.True(t, app[0].UserCaused)
}
