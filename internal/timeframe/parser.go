package timeframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindowBuffer is added to open-ended windows so events stamped slightly
// ahead of the server clock are still counted.
const TimeWindowBuffer = 5 * time.Minute

// MaxWindowDays bounds rolling windows.
const MaxWindowDays = 3650

// ErrInvalidWindow is returned for unparseable window parameters.
var ErrInvalidWindow = errors.New("invalid window")

type WindowParserParams struct {
	Days   string
	Period string
	Tz     *time.Location
}

type WindowParser struct {
	timeProvider TimeProvider
}

func NewWindowParser(timeProvider ...TimeProvider) *WindowParser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}

	return &WindowParser{
		timeProvider: provider,
	}
}

// ParseWindow resolves a rolling window when Days is set, otherwise a named
// period. An empty period means the current month.
func (p *WindowParser) ParseWindow(params WindowParserParams) (*Window, error) {
	loc := params.Tz
	if loc == nil {
		loc = time.UTC
	}
	now := p.timeProvider.Now(loc)

	if days := strings.TrimSpace(params.Days); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 || n > MaxWindowDays {
			return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidWindow, MaxWindowDays)
		}
		return NewWindow(now.AddDate(0, 0, -n), now.Add(TimeWindowBuffer), WindowLabelDays, loc)
	}

	switch WindowLabel(strings.TrimSpace(params.Period)) {
	case "", WindowLabelCurrentMonth:
		return NewWindow(StartOfMonth(now, loc), now.Add(TimeWindowBuffer), WindowLabelCurrentMonth, loc)
	case WindowLabelLastMonth:
		return NewWindow(StartOfPreviousMonth(now, loc), StartOfMonth(now, loc), WindowLabelLastMonth, loc)
	default:
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidWindow, params.Period)
	}
}

// Now exposes the parser clock so callers share one notion of "now".
func (p *WindowParser) Now(loc *time.Location) time.Time {
	return p.timeProvider.Now(loc)
}
