package platform

import (
	"context"
	"net"
	"os"
	"runtime"
)

// Host probes the machine running the process. A workstation reports
// itself as a desktop device, which the emulator check treats as an
// emulator; managed mobile deployments use a Profile instead.
type Host struct{}

// RootSignal is indeterminate on a host.
func (Host) RootSignal(ctx context.Context) (bool, error) { return false, nil }

// PackageInstalled is indeterminate on a host: package managers differ and
// the checked packages are mobile-only.
func (Host) PackageInstalled(ctx context.Context, pkg string) (bool, error) {
	return false, ErrUnsupported
}

func (Host) DeviceType(ctx context.Context) (DeviceType, error) { return DeviceDesktop, nil }

func (Host) Architecture(ctx context.Context) (string, error) { return hostMachine(), nil }

func (Host) ModelName(ctx context.Context) (string, error) { return runtime.GOOS, nil }

func (Host) Serial(ctx context.Context) (string, error) { return "", nil }

// IPAddress returns the first non-loopback IPv4 address.
func (Host) IPAddress(ctx context.Context) (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", nil
}

func (Host) OSName(ctx context.Context) (string, error) { return runtime.GOOS, nil }

func (Host) CarrierName(ctx context.Context) (string, error) { return "", nil }

func (Host) DeviceName(ctx context.Context) (string, error) { return os.Hostname() }
