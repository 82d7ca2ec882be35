// Package launch drives the splash, login and main sequence: validation
// first, then automatic or interactive app-key login.
package launch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"fieldid/internal/i18n"
	"fieldid/internal/integrity"
	"fieldid/internal/keyverify"
	"fieldid/internal/logging"
	"fieldid/internal/platform"
	"fieldid/internal/present"
)

// ErrNotValidated is returned by Login before a successful Run.
var ErrNotValidated = errors.New("launch: device not validated")

// Validator runs the integrity pipeline.
type Validator interface {
	Run(ctx context.Context) integrity.Report
}

// KeyVerifier is the login side of the flow.
type KeyVerifier interface {
	AutoLogin(ctx context.Context, deviceID, deviceLabel string) keyverify.Decision
	Submit(ctx context.Context, key, deviceID, deviceLabel string) keyverify.Decision
}

// Result summarizes a Run.
type Result struct {
	Report integrity.Report
	// Login is set when validation passed and auto login was attempted.
	Login           keyverify.Decision
	LoginAttempted  bool
	RestartRequired bool
}

// LoggedIn reports whether the run ended on the main destination.
func (r Result) LoggedIn() bool {
	return r.LoginAttempted && r.Login == keyverify.Accepted
}

// Launcher owns one launch sequence.
type Launcher struct {
	validator Validator
	keys      KeyVerifier
	probe     platform.Probe
	presenter present.Presenter
	catalog   *i18n.Catalog
	logger    *logging.Logger

	mu       sync.Mutex
	deviceID string
	label    string
}

func New(validator Validator, keys KeyVerifier, probe platform.Probe, presenter present.Presenter, catalog *i18n.Catalog, logger *logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Launcher{
		validator: validator,
		keys:      keys,
		probe:     probe,
		presenter: presenter,
		catalog:   catalog,
		logger:    logger.WithComponent("launch"),
	}
}

// Run validates the device. On failure it shows the localized reason with a
// single restart action. On success it moves to login and tries the stored
// key.
func (l *Launcher) Run(ctx context.Context) Result {
	report := l.validator.Run(ctx)
	res := Result{Report: report}

	if report.Outcome != integrity.Valid {
		osName, _ := l.probe.OSName(ctx)
		alert := present.Alert{
			Code:    present.CodeValidationFailed,
			Title:   l.catalog.T(i18n.Warning),
			Message: l.catalog.T(MessageKey(report.Outcome, osName)),
			Actions: []present.Action{{Label: l.catalog.T(i18n.Restart), Restart: true}},
		}
		if err := l.presenter.ShowError(ctx, alert); err != nil {
			l.logger.Warn("show validation error", "error", err)
		}
		res.RestartRequired = true
		return res
	}

	label, err := l.probe.DeviceName(ctx)
	if err != nil {
		l.logger.Warn("device name unavailable", "error", err)
	}
	l.mu.Lock()
	l.deviceID, l.label = report.DeviceID, label
	l.mu.Unlock()

	if err := l.presenter.Advance(ctx, present.Login); err != nil {
		l.logger.Warn("advance to login", "error", err)
	}

	// The stored key is only tried when both identity and label exist.
	if report.DeviceID == "" || label == "" {
		return res
	}
	res.Login = l.keys.AutoLogin(ctx, report.DeviceID, label)
	res.LoginAttempted = true
	return res
}

// Login submits an interactively entered key.
func (l *Launcher) Login(ctx context.Context, key string) (keyverify.Decision, error) {
	l.mu.Lock()
	id, label := l.deviceID, l.label
	l.mu.Unlock()
	if id == "" {
		return keyverify.Unknown, ErrNotValidated
	}
	return l.keys.Submit(ctx, strings.TrimSpace(key), id, label), nil
}

// MessageKey returns the catalog key explaining outcome. Tamper failures
// use the iOS wording on iOS.
func MessageKey(outcome integrity.Outcome, osName string) string {
	switch outcome {
	case integrity.NetworkUnreachable:
		return i18n.NetworkError
	case integrity.VersionMismatch:
		return i18n.VersionError
	case integrity.IntegrityCompromised:
		if strings.EqualFold(osName, platform.OSIOS) {
			return i18n.JailbrokenErrorIOS
		}
		return i18n.JailbrokenErrorAndroid
	case integrity.EmulatorDetected:
		return i18n.EmulatorError
	default:
		return i18n.UnknownError
	}
}
