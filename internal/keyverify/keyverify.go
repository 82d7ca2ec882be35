// Package keyverify submits app keys to the authority and reacts to its
// verdict: persist and advance, reject, or clear the stored key.
package keyverify

import (
	"context"
	"errors"
	"fmt"

	"fieldid/internal/authority"
	"fieldid/internal/i18n"
	"fieldid/internal/logging"
	"fieldid/internal/metrics"
	"fieldid/internal/present"
	"fieldid/internal/securestore"
	"fieldid/internal/store"
)

// MinKeyLength is the shortest app key that is submitted.
const MinKeyLength = 10

const (
	MsgLoggedIn  = "Logged in using app key."
	MsgAutoLogin = "Auto login using stored app key."
	// msgRejected is followed by the localized reason.
	msgRejected = "Invalid app key entered. Detailed reason: %s"
)

// Decision is the result of a verification attempt.
type Decision int

const (
	Accepted Decision = iota
	Required
	AlreadyUsed
	Mismatch
	Unverifiable
	Unknown
	AutoLoginFailed
	TooShort
	DeviceUnavailable
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Required:
		return "required"
	case AlreadyUsed:
		return "already_used"
	case Mismatch:
		return "mismatch"
	case Unverifiable:
		return "unverifiable"
	case AutoLoginFailed:
		return "auto_login_failed"
	case TooShort:
		return "too_short"
	case DeviceUnavailable:
		return "device_unavailable"
	default:
		return "unknown"
	}
}

// Rejection maps a decision to its credential rejection, if it is one.
func (d Decision) Rejection() authority.Rejection {
	switch d {
	case Required:
		return authority.RejectMalformed
	case AlreadyUsed:
		return authority.RejectAlreadyUsed
	case Mismatch:
		return authority.RejectMismatch
	case Unverifiable:
		return authority.RejectUnverifiable
	default:
		return authority.RejectNone
	}
}

// KeyUser submits a key to the authority and returns the body status code.
type KeyUser interface {
	UseKey(ctx context.Context, use authority.KeyUse) (int, error)
}

// AuditLog is the subset of the audit store the service writes to.
type AuditLog interface {
	Append(ctx context.Context, stream store.Stream, e store.Entry) (int64, error)
}

// Service verifies app keys.
type Service struct {
	client    KeyUser
	secrets   securestore.Store
	audit     AuditLog
	presenter present.Presenter
	catalog   *i18n.Catalog
	logger    *logging.Logger
	metrics   *metrics.Recorder
}

// Config wires a Service. Logger and Metrics may be nil.
type Config struct {
	Client    KeyUser
	Secrets   securestore.Store
	Audit     AuditLog
	Presenter present.Presenter
	Catalog   *i18n.Catalog
	Logger    *logging.Logger
	Metrics   *metrics.Recorder
}

func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Client == nil:
		return nil, errors.New("keyverify: client is required")
	case cfg.Secrets == nil:
		return nil, errors.New("keyverify: secure store is required")
	case cfg.Audit == nil:
		return nil, errors.New("keyverify: audit log is required")
	case cfg.Presenter == nil:
		return nil, errors.New("keyverify: presenter is required")
	case cfg.Catalog == nil:
		return nil, errors.New("keyverify: catalog is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		client:    cfg.Client,
		secrets:   cfg.Secrets,
		audit:     cfg.Audit,
		presenter: cfg.Presenter,
		catalog:   cfg.Catalog,
		logger:    logger.WithComponent("keyverify"),
		metrics:   cfg.Metrics,
	}, nil
}

// Verify submits key for deviceID and acts on the authority's status.
func (s *Service) Verify(ctx context.Context, key, deviceID, deviceLabel string) Decision {
	d := s.verify(ctx, key, deviceID, deviceLabel)
	s.metrics.RecordKeyVerification(d.String())
	return d
}

func (s *Service) verify(ctx context.Context, key, deviceID, deviceLabel string) Decision {
	status, err := s.client.UseKey(ctx, authority.KeyUse{
		AppKey:     key,
		DeviceID:   deviceID,
		DeviceName: deviceLabel,
	})
	if err != nil {
		s.logger.Warn("key use request failed", "kind", authority.KindOf(err).String(), "error", err)
		return s.reject(ctx, Unknown, present.CodeUnknown, i18n.UnknownError)
	}

	switch status {
	case 200, 201:
		if err := s.secrets.Set(ctx, securestore.KeyAppKey, key); err != nil {
			s.logger.Error("persist app key", "error", err)
			return s.reject(ctx, Unknown, present.CodeUnknown, i18n.UnknownError)
		}
		s.record(ctx, store.Entry{Severity: store.SeveritySuccess, Message: MsgLoggedIn})
		if err := s.presenter.Advance(ctx, present.Main); err != nil {
			s.logger.Warn("advance to main", "error", err)
		}
		return Accepted
	case 400:
		return s.reject(ctx, Required, present.CodeAppKeyRequired, i18n.AppKeyRequire)
	case 403, 404:
		return s.reject(ctx, AlreadyUsed, present.CodeAppKeyAlreadyUsed, i18n.AppKeyAlreadyUse)
	case 405:
		return s.reject(ctx, Mismatch, present.CodeAppKeyMismatch, i18n.Mismatch)
	case 500:
		return s.clear(ctx, status, Unverifiable, present.CodeAppKeyUnverifiable, i18n.AppKeyCantVerify)
	default:
		return s.clear(ctx, status, Unknown, present.CodeUnknown, i18n.UnknownError)
	}
}

// clear drops the stored key and logs a user-caused error with the reason.
func (s *Service) clear(ctx context.Context, status int, d Decision, code present.Code, key string) Decision {
	if err := s.secrets.Delete(ctx, securestore.KeyAppKey); err != nil {
		s.logger.Error("delete app key", "error", err)
	}
	reason := s.catalog.T(key)
	s.record(ctx, store.Entry{
		Severity:   store.SeverityError,
		UserCaused: true,
		Message:    fmt.Sprintf(msgRejected, reason),
	})
	s.logger.Info("app key rejected", "status", status, "decision", d.String())
	return s.show(ctx, d, code, key)
}

func (s *Service) reject(ctx context.Context, d Decision, code present.Code, key string) Decision {
	s.logger.Info("app key not accepted", "decision", d.String())
	return s.show(ctx, d, code, key)
}

func (s *Service) show(ctx context.Context, d Decision, code present.Code, key string) Decision {
	if err := s.presenter.ShowError(ctx, present.Alert{
		Code:       code,
		Title:      s.catalog.T(i18n.Error),
		Message:    s.catalog.T(key),
		Cancelable: true,
	}); err != nil {
		s.logger.Warn("show error", "error", err)
	}
	return d
}

func (s *Service) record(ctx context.Context, e store.Entry) {
	if _, err := s.audit.Append(ctx, store.StreamApp, e); err != nil {
		s.metrics.RecordAuditWriteError()
		s.logger.Warn("audit append failed", "error", err)
	}
}

// AutoLogin verifies the stored key, if there is a usable one. No request
// is made otherwise.
func (s *Service) AutoLogin(ctx context.Context, deviceID, deviceLabel string) Decision {
	key, err := s.secrets.Get(ctx, securestore.KeyAppKey)
	if err != nil && !errors.Is(err, securestore.ErrNotFound) {
		s.logger.Warn("read stored app key", "error", err)
	}
	if err != nil || len(key) < MinKeyLength {
		s.metrics.RecordKeyVerification(AutoLoginFailed.String())
		return s.show(ctx, AutoLoginFailed, present.CodeAutoLoginFailed, i18n.AutoLoginFailed)
	}

	s.record(ctx, store.Entry{Severity: store.SeveritySuccess, Message: MsgAutoLogin})
	return s.Verify(ctx, key, deviceID, deviceLabel)
}

// Submit validates an interactively entered key before verifying it.
func (s *Service) Submit(ctx context.Context, key, deviceID, deviceLabel string) Decision {
	if len(key) < MinKeyLength {
		return s.show(ctx, TooShort, present.CodeAppKeyTooShort, i18n.AppKeyLengthError)
	}
	if deviceID == "" || deviceLabel == "" {
		return s.show(ctx, DeviceUnavailable, present.CodeDeviceUnavailable, i18n.DeviceUnavailable)
	}
	return s.Verify(ctx, key, deviceID, deviceLabel)
}
