package integrity

import (
	"context"

	"fieldid/internal/logging"
	"fieldid/internal/metrics"
	"fieldid/internal/store"
)

// AuditLog is the subset of the audit store checks write to.
type AuditLog interface {
	Append(ctx context.Context, stream store.Stream, e store.Entry) (int64, error)
}

// failureRecorder is implemented by checkers that know which audit entry
// describes their own failure. The pipeline uses it after a panic.
type failureRecorder interface {
	failureEntry() (store.Stream, store.Entry)
}

// Env is shared by every checker and the pipeline. Nil Logger and Metrics
// are allowed.
type Env struct {
	Audit   AuditLog
	Logger  *logging.Logger
	Metrics *metrics.Recorder
}

func (e Env) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func (e Env) write(ctx context.Context, stream store.Stream, entry store.Entry) {
	if e.Audit == nil {
		return
	}
	if _, err := e.Audit.Append(ctx, stream, entry); err != nil {
		e.Metrics.RecordAuditWriteError()
		e.logger().Warn("audit append failed", "stream", string(stream), "error", err)
	}
}

func successEntry(msg string) store.Entry {
	return store.Entry{Severity: store.SeveritySuccess, Message: msg}
}

func userErrorEntry(msg string) store.Entry {
	return store.Entry{Severity: store.SeverityError, UserCaused: true, Message: msg}
}

func systemErrorEntry(msg string) store.Entry {
	return store.Entry{Severity: store.SeverityError, Message: msg}
}
