// Package present is the narrow capability the launch flow drives instead
// of screens: advance to a destination, or show an error alert.
package present

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Destination is a place the flow can move to.
type Destination int

const (
	Login Destination = iota + 1
	Main
)

func (d Destination) String() string {
	switch d {
	case Login:
		return "login"
	case Main:
		return "main"
	default:
		return fmt.Sprintf("destination(%d)", int(d))
	}
}

// Code identifies why an alert is shown.
type Code string

const (
	CodeValidationFailed   Code = "validation_failed"
	CodeAppKeyRequired     Code = "app_key_required"
	CodeAppKeyAlreadyUsed  Code = "app_key_already_used"
	CodeAppKeyMismatch     Code = "app_key_mismatch"
	CodeAppKeyUnverifiable Code = "app_key_unverifiable"
	CodeAppKeyTooShort     Code = "app_key_too_short"
	CodeAutoLoginFailed    Code = "auto_login_failed"
	CodeDeviceUnavailable  Code = "device_unavailable"
	CodeUnknown            Code = "unknown"
)

// Action is a button offered with an alert.
type Action struct {
	Label string
	// Restart asks the host to relaunch the flow.
	Restart bool
}

// Alert is a localized error message.
type Alert struct {
	Code    Code
	Title   string
	Message string
	Actions []Action
	// Cancelable alerts may be dismissed without choosing an action.
	Cancelable bool
}

// Presenter renders flow decisions.
type Presenter interface {
	Advance(ctx context.Context, to Destination) error
	ShowError(ctx context.Context, alert Alert) error
}

// Writer prints decisions as plain text lines.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Advance(ctx context.Context, to Destination) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "-> %s\n", to)
	return err
}

func (w *Writer) ShowError(ctx context.Context, alert Alert) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.out, "[%s] %s\n", alert.Title, alert.Message); err != nil {
		return err
	}
	for _, a := range alert.Actions {
		if _, err := fmt.Fprintf(w.out, "  (%s)\n", a.Label); err != nil {
			return err
		}
	}
	return nil
}

// Recorder keeps every decision in memory.
type Recorder struct {
	mu       sync.Mutex
	Advances []Destination
	Alerts   []Alert
}

func (r *Recorder) Advance(ctx context.Context, to Destination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Advances = append(r.Advances, to)
	return nil
}

func (r *Recorder) ShowError(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, alert)
	return nil
}

// LastAlert returns the most recent alert.
func (r *Recorder) LastAlert() (Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Alerts) == 0 {
		return Alert{}, false
	}
	return r.Alerts[len(r.Alerts)-1], true
}
