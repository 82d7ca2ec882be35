// Package platform abstracts the device facts the integrity checks read.
//
// A Probe answers questions about the device the launcher runs on. Profile
// is a Probe backed by a declarative device description; Host probes the
// machine running the process.
package platform

import (
	"context"
	"errors"
	"strings"
)

// OS names reported by OSName.
const (
	OSAndroid = "Android"
	OSIOS     = "iOS"
)

// DeviceType is the form factor of the device.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DevicePhone
	DeviceTablet
	DeviceDesktop
	DeviceTV
)

var deviceTypeNames = map[DeviceType]string{
	DeviceUnknown: "unknown",
	DevicePhone:   "phone",
	DeviceTablet:  "tablet",
	DeviceDesktop: "desktop",
	DeviceTV:      "tv",
}

func (d DeviceType) String() string {
	if s, ok := deviceTypeNames[d]; ok {
		return s
	}
	return "unknown"
}

// ParseDeviceType maps a name such as "phone" to its DeviceType.
func ParseDeviceType(s string) DeviceType {
	for dt, name := range deviceTypeNames {
		if strings.EqualFold(name, s) {
			return dt
		}
	}
	return DeviceUnknown
}

// ErrUnsupported is returned by probes that cannot answer on this platform.
var ErrUnsupported = errors.New("platform: query not supported")

// Probe exposes device signals. String answers may be empty when the
// platform does not report a value.
type Probe interface {
	// RootSignal reports the platform's own root/jailbreak verdict. An
	// indeterminate verdict is reported as false with a nil error.
	RootSignal(ctx context.Context) (bool, error)
	PackageInstalled(ctx context.Context, pkg string) (bool, error)
	DeviceType(ctx context.Context) (DeviceType, error)
	Architecture(ctx context.Context) (string, error)
	ModelName(ctx context.Context) (string, error)
	Serial(ctx context.Context) (string, error)
	IPAddress(ctx context.Context) (string, error)
	OSName(ctx context.Context) (string, error)
	CarrierName(ctx context.Context) (string, error)
	// DeviceName is the human readable label sent with key use.
	DeviceName(ctx context.Context) (string, error)
}
