package platform

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfileFormats(t *testing.T) {
	files := map[string]string{
		"device.toml": `
os = "Android"
device_type = "phone"
architecture = "arm64-v8a"
model = "Pixel 8"
serial = "R58N123"
ip_address = "192.168.0.12"
device_name = "Field unit 7"
rooted = true
packages = ["com.topjohnwu.magisk"]
`,
		"device.json": `{"os": "Android", "device_type": "phone", "architecture": "arm64-v8a", "model": "Pixel 8",
"serial": "R58N123", "ip_address": "192.168.0.12", "device_name": "Field unit 7", "rooted": true,
"packages": ["com.topjohnwu.magisk"]}`,
		"device.yaml": `
os: Android
device_type: phone
architecture: arm64-v8a
model: Pixel 8
serial: R58N123
ip_address: 192.168.0.12
device_name: Field unit 7
rooted: true
packages: [com.topjohnwu.magisk]
`,
	}

	ctx := context.Background()
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0600))

			p, err := LoadProfile(path)
			require.NoError(t, err)

			rooted, err := p.RootSignal(ctx)
			require.NoError(t, err)
			assert.True(t, rooted)

			dt, _ := p.DeviceType(ctx)
			assert.Equal(t, DevicePhone, dt)

			osName, _ := p.OSName(ctx)
			assert.Equal(t, OSAndroid, osName)

			label, _ := p.DeviceName(ctx)
			assert.Equal(t, "Field unit 7", label)

			installed, _ := p.PackageInstalled(ctx, "com.topjohnwu.magisk")
			assert.True(t, installed)
			installed, _ = p.PackageInstalled(ctx, "com.bluestacks")
			assert.False(t, installed)
		})
	}
}

func TestProfileRootSignal(t *testing.T) {
	ctx := context.Background()

	rooted, err := (&Profile{}).RootSignal(ctx)
	require.NoError(t, err)
	assert.False(t, rooted, "unset verdict is indeterminate, reported as false")

	_, err = (&Profile{RootQueryError: "binder died"}).RootSignal(ctx)
	assert.Error(t, err)
}

func TestLoadProfileErrors(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err = LoadProfile(path)
	assert.Error(t, err)
}

func TestParseDeviceType(t *testing.T) {
	assert.Equal(t, DeviceDesktop, ParseDeviceType("Desktop"))
	assert.Equal(t, DeviceTablet, ParseDeviceType("tablet"))
	assert.Equal(t, DeviceUnknown, ParseDeviceType("watch"))
	assert.Equal(t, "tv", DeviceTV.String())
}

func TestHostProbe(t *testing.T) {
	ctx := context.Background()
	var h Host

	dt, err := h.DeviceType(ctx)
	require.NoError(t, err)
	assert.Equal(t, DeviceDesktop, dt)

	arch, err := h.Architecture(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, arch)

	_, err = h.PackageInstalled(ctx, "com.bluestacks")
	assert.ErrorIs(t, err, ErrUnsupported)
}
