// Package device manages the durable per-install device identity.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fieldid/internal/logging"
	"fieldid/internal/securestore"
	"fieldid/internal/security"
	"fieldid/internal/store"
)

const (
	// randomLength is the length of the random suffix of a generated id.
	randomLength = 15
	// MinIDLength is the shortest stored id that is accepted as-is.
	MinIDLength = 10
)

// Audit messages written by EnsureDeviceID.
const (
	MsgGenerated = "No device id was found in the secure store, generated a new one."
	MsgFound     = "The device id was found in the secure store."
)

// AuditLog is the subset of the audit store the manager writes to.
type AuditLog interface {
	Append(ctx context.Context, stream store.Stream, e store.Entry) (int64, error)
}

// Manager reads and, when needed, creates the device identity.
type Manager struct {
	secrets securestore.Store
	audit   AuditLog
	logger  *logging.Logger
	now     func() time.Time
}

// NewManager returns a Manager. A nil logger discards operational logs.
func NewManager(secrets securestore.Store, audit AuditLog, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		secrets: secrets,
		audit:   audit,
		logger:  logger.WithComponent("device"),
		now:     time.Now,
	}
}

// EnsureDeviceID returns the stored identity, generating and persisting a
// new one if it is absent or shorter than MinIDLength. Exactly one app
// audit entry is written per call.
func (m *Manager) EnsureDeviceID(ctx context.Context) (string, error) {
	id, err := m.secrets.Get(ctx, securestore.KeyDeviceID)
	switch {
	case err == nil && len(id) >= MinIDLength:
		m.record(ctx, MsgFound)
		return id, nil
	case err != nil && !errors.Is(err, securestore.ErrNotFound):
		return "", fmt.Errorf("read device id: %w", err)
	}

	id, err = NewID(m.now())
	if err != nil {
		return "", err
	}
	if err := m.secrets.Set(ctx, securestore.KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	m.logger.Info("generated device id")
	m.record(ctx, MsgGenerated)
	return id, nil
}

func (m *Manager) record(ctx context.Context, msg string) {
	if _, err := m.audit.Append(ctx, store.StreamApp, store.Entry{
		Severity: store.SeveritySuccess,
		Message:  msg,
	}); err != nil {
		m.logger.Warn("audit append failed", "error", err)
	}
}

// NewID returns "<epoch-millis>-<15 alphanumeric characters>".
func NewID(now time.Time) (string, error) {
	suffix, err := security.RandomAlphanumeric(randomLength)
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix, nil
}
