package models

import (
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
)

// Resolution is the candle size of an asset.
type Resolution string

const (
	ResolutionMinutes Resolution = "minutes"
	ResolutionHours   Resolution = "hours"
	ResolutionDays    Resolution = "days"
	ResolutionWeeks   Resolution = "weeks"
	ResolutionMonths  Resolution = "months"
)

// AllResolutions lists the canonical resolutions from finest to coarsest.
var AllResolutions = []Resolution{
	ResolutionMinutes,
	ResolutionHours,
	ResolutionDays,
	ResolutionWeeks,
	ResolutionMonths,
}

// Duration returns the length of one candle. A month is counted as four weeks.
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionMinutes:
		return time.Minute
	case ResolutionHours:
		return time.Hour
	case ResolutionDays:
		return 24 * time.Hour
	case ResolutionWeeks:
		return 7 * 24 * time.Hour
	case ResolutionMonths:
		return 4 * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether r is one of the canonical resolutions.
func (r Resolution) IsValid() bool {
	return r.Duration() > 0
}

func (r Resolution) String() string {
	return string(r)
}

// Truncate rounds t down to the start of the candle containing it. Months
// and weeks truncate to the day.
func (r Resolution) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch r {
	case ResolutionMinutes, ResolutionHours, ResolutionDays:
		return t.Truncate(r.Duration())
	default:
		return t.Truncate(24 * time.Hour)
	}
}

// ParseResolution accepts the canonical names, case-insensitively.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", errors.NewConfigurationError("unknown resolution %q", s)
	}
	return r, nil
}
