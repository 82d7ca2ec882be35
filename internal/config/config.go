// Package config handles configuration loading, validation, and management for fieldid.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete launcher configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Server describes the remote authority.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// App holds build facts compared against the authority.
	App AppConfig `toml:"app" json:"app" yaml:"app"`

	// Storage configuration for the audit log and credential store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Integrity holds the marker lists used by the launch checks.
	Integrity IntegrityConfig `toml:"integrity" json:"integrity" yaml:"integrity"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Locale selects the message catalog: "en", "ko" or "auto".
	Locale string `toml:"locale" json:"locale" yaml:"locale"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// ServerConfig holds remote authority configuration.
type ServerConfig struct {
	// URL is the authority base URL, e.g. https://lookup.example.org.
	URL string `toml:"url" json:"url" yaml:"url"`

	// ClientSecret signs the bearer token sent with every request.
	ClientSecret string `toml:"client_secret" json:"client_secret" yaml:"client_secret"`

	// TimeoutSec bounds every network call.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// TokenTTLSec is the lifetime of an issued bearer token.
	TokenTTLSec int `toml:"token_ttl_sec" json:"token_ttl_sec" yaml:"token_ttl_sec"`

	// Retry enables one retry of idempotent requests on transient errors.
	Retry bool `toml:"retry" json:"retry" yaml:"retry"`
}

// AppConfig holds facts about the running build.
type AppConfig struct {
	// Version is the local application version compared byte-for-byte
	// with the version the authority reports.
	Version string `toml:"version" json:"version" yaml:"version"`

	// DeviceLabel overrides the human readable device name sent on key use.
	DeviceLabel string `toml:"device_label" json:"device_label" yaml:"device_label"`

	// ProfilePath points at a device profile describing the device signals.
	// Empty means the host is probed.
	ProfilePath string `toml:"profile_path" json:"profile_path" yaml:"profile_path"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// AuditPath is the SQLite database holding the app and service logs.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`

	// SecureStoreType is "file" or "memory".
	SecureStoreType string `toml:"secure_store_type" json:"secure_store_type" yaml:"secure_store_type"`

	// SecureStorePath is the encrypted credential file.
	SecureStorePath string `toml:"secure_store_path" json:"secure_store_path" yaml:"secure_store_path"`

	// MasterKeyPath holds the key material the credential file key is derived from.
	MasterKeyPath string `toml:"master_key_path" json:"master_key_path" yaml:"master_key_path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// IntegrityConfig holds the root/emulator markers and policy location.
type IntegrityConfig struct {
	// RootPackages are packages whose presence indicates a rooted device.
	RootPackages []string `toml:"root_packages" json:"root_packages" yaml:"root_packages"`

	// EmulatorPackages are packages shipped by known emulators.
	EmulatorPackages []string `toml:"emulator_packages" json:"emulator_packages" yaml:"emulator_packages"`

	// CarrierSignatures are carrier name fragments reported by device farms.
	CarrierSignatures []string `toml:"carrier_signatures" json:"carrier_signatures" yaml:"carrier_signatures"`

	// ArchMarkers are CPU architecture fragments typical of emulators.
	ArchMarkers []string `toml:"arch_markers" json:"arch_markers" yaml:"arch_markers"`

	// ModelPrefixes are model name prefixes of emulator images.
	ModelPrefixes []string `toml:"model_prefixes" json:"model_prefixes" yaml:"model_prefixes"`

	// SerialPrefixes are serial number prefixes of emulator images.
	SerialPrefixes []string `toml:"serial_prefixes" json:"serial_prefixes" yaml:"serial_prefixes"`

	// EmulatorIPs are addresses assigned by emulator network stacks.
	EmulatorIPs []string `toml:"emulator_ips" json:"emulator_ips" yaml:"emulator_ips"`

	// PolicyPath overrides the built-in rego policy.
	PolicyPath string `toml:"policy_path" json:"policy_path" yaml:"policy_path"`
}

// LoggingConfig holds operational logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", "both" or "discard".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path (if output includes "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated log files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to gzip rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Server: ServerConfig{
			URL:         "http://127.0.0.1:8787",
			TimeoutSec:  10,
			TokenTTLSec: 300,
			Retry:       true,
		},
		App: AppConfig{
			Version: "1.0.0",
		},
		Storage: StorageConfig{
			AuditPath:       filepath.Join(dir, "audit.db"),
			SecureStoreType: "file",
			SecureStorePath: filepath.Join(dir, "secure.store"),
			MasterKeyPath:   filepath.Join(dir, "master.key"),
			BusyTimeoutMs:   5000,
		},
		Integrity: IntegrityConfig{
			RootPackages:      DefaultRootPackages(),
			EmulatorPackages:  DefaultEmulatorPackages(),
			CarrierSignatures: []string{"Appetize.io"},
			ArchMarkers:       []string{"x86", "i686"},
			ModelPrefixes:     []string{"sdk"},
			SerialPrefixes:    []string{"EMULATOR"},
			EmulatorIPs:       []string{"10.0.2.15"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "fieldid.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Locale: "auto",
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base fieldid data directory.
// FIELDID_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("FIELDID_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Timeout returns the network timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSec) * time.Second
}

// TokenTTL returns the bearer token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.TokenTTLSec) * time.Second
}

// EnsureDirectories creates the directories holding state files.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.AuditPath),
		filepath.Dir(c.Storage.SecureStorePath),
		filepath.Dir(c.Storage.MasterKeyPath),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with FIELDID_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("FIELDID_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	// Kept out of config files where possible.
	if v := os.Getenv("FIELDID_CLIENT_SECRET"); v != "" {
		c.Server.ClientSecret = v
	}
	if v := os.Getenv("FIELDID_APP_VERSION"); v != "" {
		c.App.Version = v
	}
	if v := os.Getenv("FIELDID_PROFILE"); v != "" {
		c.App.ProfilePath = v
	}
	if v := os.Getenv("FIELDID_AUDIT_PATH"); v != "" {
		c.Storage.AuditPath = v
	}
	if v := os.Getenv("FIELDID_LOCALE"); v != "" {
		c.Locale = v
	}
	if v := os.Getenv("FIELDID_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FIELDID_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:   c.Version,
		Server:    c.Server,
		App:       c.App,
		Storage:   c.Storage,
		Integrity: c.Integrity,
		Logging:   c.Logging,
		Locale:    c.Locale,
	}
	clone.Integrity.RootPackages = append([]string{}, c.Integrity.RootPackages...)
	clone.Integrity.EmulatorPackages = append([]string{}, c.Integrity.EmulatorPackages...)
	clone.Integrity.CarrierSignatures = append([]string{}, c.Integrity.CarrierSignatures...)
	clone.Integrity.ArchMarkers = append([]string{}, c.Integrity.ArchMarkers...)
	clone.Integrity.ModelPrefixes = append([]string{}, c.Integrity.ModelPrefixes...)
	clone.Integrity.SerialPrefixes = append([]string{}, c.Integrity.SerialPrefixes...)
	clone.Integrity.EmulatorIPs = append([]string{}, c.Integrity.EmulatorIPs...)
	return clone
}

// SaveConfig writes cfg as TOML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
