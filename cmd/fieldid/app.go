package main

import (
	"context"
	"fmt"
	"io"

	"fieldid/internal/authority"
	"fieldid/internal/config"
	"fieldid/internal/device"
	"fieldid/internal/i18n"
	"fieldid/internal/integrity"
	"fieldid/internal/keyverify"
	"fieldid/internal/launch"
	"fieldid/internal/logging"
	"fieldid/internal/metrics"
	"fieldid/internal/platform"
	"fieldid/internal/policy"
	"fieldid/internal/present"
	"fieldid/internal/securestore"
	"fieldid/internal/store"
)

// app is one fully wired launcher built from a configuration.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	audit    *store.Store
	secrets  securestore.Store
	identity *device.Manager
	catalog  *i18n.Catalog
	registry *metrics.Registry
	launcher *launch.Launcher

	closers []io.Closer
}

// labeledProbe overrides the device name reported by the platform.
type labeledProbe struct {
	platform.Probe
	label string
}

func (p labeledProbe) DeviceName(ctx context.Context) (string, error) {
	return p.label, nil
}

func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = lc.Output
	cfg.FilePath = lc.FilePath
	cfg.MaxSize = int64(lc.MaxSizeMB)
	cfg.MaxBackups = lc.MaxBackups
	cfg.MaxAge = lc.MaxAgeDays
	cfg.Compress = lc.Compress
	return logging.New(cfg)
}

func openSecrets(cfg *config.Config) (securestore.Store, io.Closer, error) {
	switch cfg.Storage.SecureStoreType {
	case "memory":
		return securestore.NewMemoryStore(), nil, nil
	default:
		fs, err := securestore.OpenFile(cfg.Storage.SecureStorePath, cfg.Storage.MasterKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open secure store: %w", err)
		}
		return fs, fs, nil
	}
}

func openProbe(cfg *config.Config) (platform.Probe, error) {
	var probe platform.Probe = platform.Host{}
	if cfg.App.ProfilePath != "" {
		profile, err := platform.LoadProfile(cfg.App.ProfilePath)
		if err != nil {
			return nil, err
		}
		probe = profile
	}
	if cfg.App.DeviceLabel != "" {
		probe = labeledProbe{Probe: probe, label: cfg.App.DeviceLabel}
	}
	return probe, nil
}

// newApp wires every component. The presenter writes to out.
func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := cfg.EnsureDirectories(); err != nil {
		return a, err
	}

	a.logger, err = newLogger(cfg.Logging)
	if err != nil {
		return a, fmt.Errorf("setup logging: %w", err)
	}
	a.closers = append(a.closers, a.logger)

	a.audit, err = store.Open(cfg.Storage.AuditPath, store.WithBusyTimeout(cfg.Storage.BusyTimeoutMs))
	if err != nil {
		return a, fmt.Errorf("open audit log: %w", err)
	}
	a.closers = append(a.closers, a.audit)

	var closer io.Closer
	a.secrets, closer, err = openSecrets(cfg)
	if err != nil {
		return a, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	probe, err := openProbe(cfg)
	if err != nil {
		return a, err
	}

	engine, err := policy.New(ctx, cfg.Integrity.PolicyPath)
	if err != nil {
		return a, err
	}

	client, err := authority.New(authority.Options{
		BaseURL:      cfg.Server.URL,
		ClientSecret: cfg.Server.ClientSecret,
		Timeout:      cfg.Timeout(),
		TokenTTL:     cfg.TokenTTL(),
		Retry:        cfg.Server.Retry,
		Logger:       a.logger,
	})
	if err != nil {
		return a, err
	}

	a.catalog, err = i18n.New(cfg.Locale)
	if err != nil {
		return a, err
	}

	a.registry = metrics.NewRegistry(metrics.Namespace)
	recorder := metrics.NewRecorder(a.registry)

	env := integrity.Env{Audit: a.audit, Logger: a.logger, Metrics: recorder}
	checkers := integrity.StandardCheckers(client, probe, engine, integrity.Settings{
		LocalVersion:     cfg.App.Version,
		RootPackages:     cfg.Integrity.RootPackages,
		EmulatorPackages: cfg.Integrity.EmulatorPackages,
		Markers: policy.Markers{
			Arch:              cfg.Integrity.ArchMarkers,
			ModelPrefixes:     cfg.Integrity.ModelPrefixes,
			SerialPrefixes:    cfg.Integrity.SerialPrefixes,
			IPs:               cfg.Integrity.EmulatorIPs,
			CarrierSignatures: cfg.Integrity.CarrierSignatures,
		},
	}, env)
	a.identity = device.NewManager(a.secrets, a.audit, a.logger)
	pipeline := integrity.NewPipeline(a.identity, checkers, env)

	presenter := present.NewWriter(out)
	keys, err := keyverify.New(keyverify.Config{
		Client:    client,
		Secrets:   a.secrets,
		Audit:     a.audit,
		Presenter: presenter,
		Catalog:   a.catalog,
		Logger:    a.logger,
		Metrics:   recorder,
	})
	if err != nil {
		return a, err
	}

	a.launcher = launch.New(pipeline, keys, probe, presenter, a.catalog, a.logger)
	a.logger.Debug("launcher ready", "server", cfg.Server.URL, "locale", a.catalog.Locale(), "policy", engine.Hash())
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
