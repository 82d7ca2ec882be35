package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"fieldid/internal/i18n"
	"fieldid/internal/store"
)

// DateLayout is the form accepted by -since and -until.
const DateLayout = "2006-01-02"

// buildFilter turns the command line filter flags into a store.Filter.
// Dates are whole days in loc; until covers its entire day.
func buildFilter(search, since, until, severity string, loc *time.Location) (store.Filter, error) {
	f := store.Filter{Search: strings.TrimSpace(search)}

	if since != "" {
		t, err := time.ParseInLocation(DateLayout, since, loc)
		if err != nil {
			return f, fmt.Errorf("parse -since: %w", err)
		}
		f.Since = t
	}
	if until != "" {
		t, err := time.ParseInLocation(DateLayout, until, loc)
		if err != nil {
			return f, fmt.Errorf("parse -until: %w", err)
		}
		f.Until = t.AddDate(0, 0, 1).Add(-time.Millisecond)
	}
	if severity != "" {
		s, err := store.ParseSeverity(severity)
		if err != nil {
			return f, err
		}
		f.Severity = &s
	}
	return f, f.Validate()
}

// filterMessageKey maps a filter validation error to its catalog key.
func filterMessageKey(err error) (string, bool) {
	switch {
	case errors.Is(err, store.ErrStartDateRequired):
		return i18n.StartDateRequired, true
	case errors.Is(err, store.ErrEndDateRequired):
		return i18n.EndDateRequired, true
	case errors.Is(err, store.ErrInvalidRange):
		return i18n.InvalidDateRange, true
	}
	return "", false
}

type jsonEntry struct {
	ID         int64     `json:"id"`
	Severity   string    `json:"severity"`
	UserCaused bool      `json:"user_caused"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Online     *bool     `json:"online,omitempty"`
}

// Output modes for writeEntries.
const (
	modeTable   = "table"
	modeDetails = "details"
	modeJSON    = "json"
)

func writeEntries(w io.Writer, stream store.Stream, entries []store.Entry, mode string, loc *time.Location) error {
	switch mode {
	case modeJSON:
		out := make([]jsonEntry, 0, len(entries))
		for _, e := range entries {
			je := jsonEntry{
				ID:         e.ID,
				Severity:   e.Severity.String(),
				UserCaused: e.UserCaused,
				Message:    e.Message,
				Timestamp:  e.Timestamp.UTC(),
			}
			if stream == store.StreamService {
				online := e.Online
				je.Online = &online
			}
			out = append(out, je)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case modeDetails:
		for i, e := range entries {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if _, err := fmt.Fprintln(w, store.FormatDetails(e, loc)); err != nil {
				return err
			}
		}
		return nil

	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		header := "ID\tDATE\tSTATUS\tUSER\tMESSAGE"
		if stream == store.StreamService {
			header = "ID\tDATE\tSTATUS\tUSER\tONLINE\tMESSAGE"
		}
		fmt.Fprintln(tw, header)
		for _, e := range entries {
			date := e.Timestamp.In(loc).Format(store.DisplayLayout)
			if stream == store.StreamService {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\t%s\n", e.ID, date, e.Severity, e.UserCaused, e.Online, e.Message)
				continue
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", e.ID, date, e.Severity, e.UserCaused, e.Message)
		}
		return tw.Flush()
	}
}
