package timeframe

import (
	"fmt"
	"time"
)

// WindowLabel names how a reporting window was selected.
type WindowLabel string

const (
	WindowLabelDays         WindowLabel = "days"
	WindowLabelCurrentMonth WindowLabel = "current_month"
	WindowLabelLastMonth    WindowLabel = "last_month"
)

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// Window is a half-open reporting interval [From, To).
type Window struct {
	From  time.Time
	To    time.Time
	Label WindowLabel
	Tz    *time.Location
}

func NewWindow(from, to time.Time, label WindowLabel, tz *time.Location) (*Window, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("window start %s must be before end %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return &Window{From: from, To: to, Label: label, Tz: tz}, nil
}

// Contains reports whether t falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

func (w *Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// UTC returns the window bounds in UTC, the form rows are stored in.
func (w *Window) UTC() (time.Time, time.Time) {
	return w.From.UTC(), w.To.UTC()
}

// StartOfMonth returns midnight on the first day of t's month in loc.
func StartOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// StartOfPreviousMonth returns midnight on the first day of the month before t.
func StartOfPreviousMonth(t time.Time, loc *time.Location) time.Time {
	return StartOfMonth(t, loc).AddDate(0, -1, 0)
}

// MonthsAgo returns t shifted back n calendar months.
func MonthsAgo(t time.Time, n int) time.Time {
	return t.AddDate(0, -n, 0)
}
