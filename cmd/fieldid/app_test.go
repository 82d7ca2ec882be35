package main

import (
	"bufio"
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldid/internal/authstub"
	"fieldid/internal/config"
	"fieldid/internal/integrity"
	"fieldid/internal/store"
)

const (
	testSecret = "launcher-test-secret"
	testKey    = "FIELDKEY-0001"
)

const phoneProfile = `
os = "Android"
device_type = "phone"
architecture = "arm64-v8a"
model = "Pixel 8"
serial = "R58N123"
ip_address = "192.168.0.12"
device_name = "Field unit 7"
rooted = false
`

func startAuthority(t *testing.T) (*authstub.Server, string) {
	t.Helper()
	stub := authstub.New(authstub.Config{Version: "1.0.0", Secret: testSecret, Keys: []string{testKey}}, nil)
	ts := httptest.NewServer(stub.Router())
	t.Cleanup(func() {
		ts.Close()
		stub.Close()
	})
	return stub, ts.URL
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	profile := filepath.Join(dir, "device.toml")
	require.NoError(t, os.WriteFile(profile, []byte(phoneProfile), 0600))

	cfg := config.DefaultConfig()
	cfg.Server.URL = serverURL
	cfg.Server.ClientSecret = testSecret
	cfg.Server.TimeoutSec = 2
	cfg.App.Version = "1.0.0"
	cfg.App.ProfilePath = profile
	cfg.Storage.AuditPath = filepath.Join(dir, "audit.db")
	cfg.Storage.SecureStorePath = filepath.Join(dir, "secure.store")
	cfg.Storage.MasterKeyPath = filepath.Join(dir, "master.key")
	cfg.Logging.Output = "discard"
	cfg.Locale = "en"
	return cfg
}

func build(t *testing.T, cfg *config.Config, out *bytes.Buffer) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, out)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSessionEnteredKeyThenAutoLogin(t *testing.T) {
	stub, url := startAuthority(t)
	cfg := testConfig(t, url)
	ctx := context.Background()

	var out bytes.Buffer
	a := build(t, cfg, &out)
	in := bufio.NewReader(strings.NewReader(testKey + "\n"))
	assert.Equal(t, exitOK, session(ctx, a, "", in, &out, true))
	assert.Contains(t, out.String(), "-> login")
	assert.Contains(t, out.String(), "-> main")

	id, err := a.identity.EnsureDeviceID(ctx)
	require.NoError(t, err)
	bound, ok := stub.BoundDevice(testKey)
	require.True(t, ok)
	assert.Equal(t, id, bound)
	require.NoError(t, a.Close())

	// A second launch finds the stored key and needs no input.
	out.Reset()
	b := build(t, cfg, &out)
	assert.Equal(t, exitOK, session(ctx, b, "", nil, &out, false))
	assert.Contains(t, out.String(), "-> main")
}

func TestSessionKeyArgument(t *testing.T) {
	_, url := startAuthority(t)
	cfg := testConfig(t, url)

	var out bytes.Buffer
	a := build(t, cfg, &out)
	assert.Equal(t, exitOK, session(context.Background(), a, testKey, nil, &out, false))
}

func TestSessionRejectedKeyWithoutPrompt(t *testing.T) {
	_, url := startAuthority(t)
	cfg := testConfig(t, url)

	var out bytes.Buffer
	a := build(t, cfg, &out)
	assert.Equal(t, exitLoginFailed, session(context.Background(), a, "UNKNOWN-KEY-42", nil, &out, false))
	assert.Contains(t, out.String(), "[Error]")
}

func TestSessionVersionMismatch(t *testing.T) {
	stub, url := startAuthority(t)
	stub.SetVersion("2.0.0")
	cfg := testConfig(t, url)
	ctx := context.Background()

	var out bytes.Buffer
	a := build(t, cfg, &out)
	assert.Equal(t, exitValidationFailed, session(ctx, a, "", nil, &out, false))
	assert.Contains(t, out.String(), "(Restart)")

	entries, err := a.audit.Query(ctx, store.StreamApp, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.SeverityWarning, entries[0].Severity)
	assert.Contains(t, entries[0].Message, "2.0.0")
}

func TestSessionRestartRerunsValidation(t *testing.T) {
	stub, url := startAuthority(t)
	stub.SetMaintenance(true)
	cfg := testConfig(t, url)
	ctx := context.Background()

	var out bytes.Buffer
	a := build(t, cfg, &out)
	// One restart, then end of input.
	in := bufio.NewReader(strings.NewReader("\n"))
	assert.Equal(t, exitValidationFailed, session(ctx, a, "", in, &out, true))

	entries, err := a.audit.Query(ctx, store.StreamService, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, integrity.MsgServerUnreachable, e.Message)
		assert.False(t, e.Online)
	}
}

func TestSessionMetrics(t *testing.T) {
	_, url := startAuthority(t)
	cfg := testConfig(t, url)

	var out bytes.Buffer
	a := build(t, cfg, &out)
	session(context.Background(), a, testKey, nil, &out, false)

	var prom bytes.Buffer
	require.NoError(t, a.registry.WritePrometheus(&prom))
	assert.Contains(t, prom.String(), `fieldid_validation_outcomes_total{outcome="Valid"} 1`)
	assert.Contains(t, prom.String(), `fieldid_key_verifications_total{decision="accepted"} 1`)
}

func TestNewAppErrors(t *testing.T) {
	_, url := startAuthority(t)

	t.Run("missing policy", func(t *testing.T) {
		cfg := testConfig(t, url)
		cfg.Integrity.PolicyPath = filepath.Join(t.TempDir(), "missing.rego")
		_, err := newApp(context.Background(), cfg, &bytes.Buffer{})
		assert.Error(t, err)
	})
	t.Run("missing profile", func(t *testing.T) {
		cfg := testConfig(t, url)
		cfg.App.ProfilePath = filepath.Join(t.TempDir(), "missing.toml")
		_, err := newApp(context.Background(), cfg, &bytes.Buffer{})
		assert.Error(t, err)
	})
	t.Run("bad server url", func(t *testing.T) {
		cfg := testConfig(t, url)
		cfg.Server.URL = "ftp://example.org"
		_, err := newApp(context.Background(), cfg, &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestLabeledProbeOverridesName(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.App.DeviceLabel = "Truck 3"
	probe, err := openProbe(cfg)
	require.NoError(t, err)

	name, err := probe.DeviceName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Truck 3", name)

	osName, _ := probe.OSName(context.Background())
	assert.Equal(t, "Android", osName)
}

func TestMemorySecureStore(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Storage.SecureStoreType = "memory"
	secrets, closer, err := openSecrets(cfg)
	require.NoError(t, err)
	assert.NotNil(t, secrets)
	assert.Nil(t, closer)
}
