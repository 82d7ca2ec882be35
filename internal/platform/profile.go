package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Profile describes a device declaratively. It is used for managed fleets
// that report device facts out of band and for exercising the checks.
type Profile struct {
	OS           string   `toml:"os" json:"os" yaml:"os"`
	Type         string   `toml:"device_type" json:"device_type" yaml:"device_type"`
	Arch         string   `toml:"architecture" json:"architecture" yaml:"architecture"`
	Model        string   `toml:"model" json:"model" yaml:"model"`
	SerialNumber string   `toml:"serial" json:"serial" yaml:"serial"`
	IP           string   `toml:"ip_address" json:"ip_address" yaml:"ip_address"`
	Carrier      string   `toml:"carrier" json:"carrier" yaml:"carrier"`
	Name         string   `toml:"device_name" json:"device_name" yaml:"device_name"`
	Rooted       *bool    `toml:"rooted" json:"rooted" yaml:"rooted"`
	Packages     []string `toml:"packages" json:"packages" yaml:"packages"`

	// RootQueryError makes RootSignal fail, for devices whose root state
	// could not be queried.
	RootQueryError string `toml:"root_query_error" json:"root_query_error" yaml:"root_query_error"`

	once     sync.Once
	packages map[string]bool
}

// LoadProfile reads a profile from a TOML, JSON or YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	p := &Profile{}
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(data, p)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, p)
	default:
		_, err = toml.Decode(string(data), p)
	}
	if err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) RootSignal(ctx context.Context) (bool, error) {
	if p.RootQueryError != "" {
		return false, fmt.Errorf("root query: %s", p.RootQueryError)
	}
	if p.Rooted == nil {
		return false, nil
	}
	return *p.Rooted, nil
}

func (p *Profile) PackageInstalled(ctx context.Context, pkg string) (bool, error) {
	p.once.Do(func() {
		p.packages = make(map[string]bool, len(p.Packages))
		for _, name := range p.Packages {
			p.packages[name] = true
		}
	})
	return p.packages[pkg], nil
}

func (p *Profile) DeviceType(ctx context.Context) (DeviceType, error) {
	return ParseDeviceType(p.Type), nil
}

func (p *Profile) Architecture(ctx context.Context) (string, error) { return p.Arch, nil }
func (p *Profile) ModelName(ctx context.Context) (string, error)    { return p.Model, nil }
func (p *Profile) Serial(ctx context.Context) (string, error)       { return p.SerialNumber, nil }
func (p *Profile) IPAddress(ctx context.Context) (string, error)    { return p.IP, nil }
func (p *Profile) OSName(ctx context.Context) (string, error)       { return p.OS, nil }
func (p *Profile) CarrierName(ctx context.Context) (string, error)  { return p.Carrier, nil }
func (p *Profile) DeviceName(ctx context.Context) (string, error)   { return p.Name, nil }
