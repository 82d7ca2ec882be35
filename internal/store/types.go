// Package store provides the SQLite-backed audit log for fieldid.
//
// The log has two append-only streams. The app stream records application
// lifecycle events; the service stream records connectivity results and
// carries an online flag. Entries are read back newest first.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity of an audit entry. The numeric values are persisted.
type Severity int

const (
	SeveritySuccess Severity = 0
	SeverityWarning Severity = 1
	SeverityError   Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "Success"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity accepts the names produced by String, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "success", "0":
		return SeveritySuccess, nil
	case "warning", "warn", "1":
		return SeverityWarning, nil
	case "error", "2":
		return SeverityError, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Stream selects one of the two logs.
type Stream string

const (
	StreamApp     Stream = "app"
	StreamService Stream = "service"
)

func (s Stream) table() (string, error) {
	switch s {
	case StreamApp:
		return "app_logs", nil
	case StreamService:
		return "service_logs", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStream, string(s))
}

// Entry is one audit record.
type Entry struct {
	ID         int64
	Severity   Severity
	UserCaused bool
	Message    string
	Timestamp  time.Time
	// Online is only persisted on the service stream.
	Online bool
}

// Filter narrows Search results. Zero fields match everything.
type Filter struct {
	// Search is a case-insensitive substring of the message.
	Search string
	// Since and Until bound the timestamp inclusively and must be set together.
	Since time.Time
	Until time.Time
	// Severity, when non-nil, selects a single severity.
	Severity *Severity
}

// Validate rejects a filter with only one date bound.
func (f Filter) Validate() error {
	switch {
	case !f.Since.IsZero() && f.Until.IsZero():
		return ErrEndDateRequired
	case f.Since.IsZero() && !f.Until.IsZero():
		return ErrStartDateRequired
	case !f.Since.IsZero() && f.Until.Before(f.Since):
		return ErrInvalidRange
	}
	return nil
}

var (
	ErrUnknownStream     = errors.New("store: unknown stream")
	ErrEndDateRequired   = errors.New("store: filter has a start date but no end date")
	ErrStartDateRequired = errors.New("store: filter has an end date but no start date")
	ErrInvalidRange      = errors.New("store: filter end date is before start date")
)

// TimestampLayout is the persisted timestamp form: RFC 3339, UTC, milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DisplayLayout is the timestamp form used by FormatDetails.
const DisplayLayout = "2006-01-02 15:04:05"

// FormatDetails renders e as the plain text block operators copy out of the
// log viewer. loc selects the display zone; nil means local time.
func FormatDetails(e Entry, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return fmt.Sprintf("Status: %s\nDate: %s\nMessage: %s",
		e.Severity, e.Timestamp.In(loc).Format(DisplayLayout), e.Message)
}
