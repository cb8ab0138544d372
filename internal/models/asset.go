package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Pair is a trading pair as the exchanges spell it in their URLs, e.g. BTC_EUR
// on Bitpanda where Quote is BTC and Base is EUR.
type Pair struct {
	Quote string `json:"quote"`
	Base  string `json:"base"`
}

func (p Pair) String() string {
	return p.Quote + "/" + p.Base
}

// Asset is a tracked trading pair on one exchange. Its identity is
// (Exchange, Quote, Base, Resolution, RangeStart); Name is a user label.
type Asset struct {
	Name       string     `json:"name"`
	Exchange   string     `json:"exchange"`
	Quote      string     `json:"quote"`
	Base       string     `json:"base"`
	Resolution Resolution `json:"resolution"`
	RangeStart time.Time  `json:"range_start"`
	RangeEnd   time.Time  `json:"range_end"`
	Watermark  *time.Time `json:"watermark,omitempty"`
}

// NewAsset validates its input and returns an asset with no watermark.
func NewAsset(name, exchange, quote, base string, res Resolution, start, end time.Time) (*Asset, error) {
	a := &Asset{
		Name:       name,
		Exchange:   exchange,
		Quote:      strings.ToUpper(quote),
		Base:       strings.ToUpper(base),
		Resolution: res,
		RangeStart: start.UTC(),
		RangeEnd:   end.UTC(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the user-supplied fields of the asset.
func (a *Asset) Validate() error {
	if !symbolPattern.MatchString(a.Name) {
		return errors.NewConfigurationError("asset name %q must be alphanumeric", a.Name)
	}
	if !symbolPattern.MatchString(a.Quote) || !symbolPattern.MatchString(a.Base) {
		return errors.NewConfigurationError("quote %q and base %q must be alphanumeric", a.Quote, a.Base)
	}
	if a.Exchange == "" {
		return errors.NewConfigurationError("asset %s has no exchange", a.Name)
	}
	if !a.Resolution.IsValid() {
		return errors.NewConfigurationError("unknown resolution %q", a.Resolution)
	}
	if !a.RangeStart.Before(a.RangeEnd) {
		return errors.NewConfigurationError("start %s must be before end %s",
			a.RangeStart.Format(TimestampLayout), a.RangeEnd.Format(TimestampLayout))
	}
	return nil
}

// Pair returns the asset's trading pair.
func (a *Asset) Pair() Pair {
	return Pair{Quote: a.Quote, Base: a.Base}
}

// Key identifies the asset in the job registry.
func (a *Asset) Key() string {
	return fmt.Sprintf("%s:%s-%s:%s:%s", a.Exchange, a.Quote, a.Base, a.Resolution,
		a.RangeStart.UTC().Format(time.RFC3339))
}

// FileName is the deterministic name of the asset's log file.
func (a *Asset) FileName() string {
	start := a.RangeStart.UTC()
	return fmt.Sprintf("%s-%s_%s_%s_%s_%s.csv", a.Quote, a.Base, a.Exchange, a.Resolution,
		start.Format(DateLayout), start.Format("15-04-05"))
}

// Range returns the configured download range.
func (a *Asset) Range() TimeWindow {
	return NewTimeWindow(a.RangeStart, a.RangeEnd)
}

// HasData reports whether at least one candle has been persisted.
func (a *Asset) HasData() bool {
	return a.Watermark != nil
}

// ResumePoint is where the next download starts: one candle after the
// watermark, or the range start when nothing is persisted yet.
func (a *Asset) ResumePoint() time.Time {
	if a.Watermark == nil {
		return a.RangeStart
	}
	return a.Watermark.Add(a.Resolution.Duration())
}

// AdvanceWatermark moves the watermark forward. It refuses to move it back
// or to keep it in place.
func (a *Asset) AdvanceWatermark(t time.Time) error {
	t = t.UTC()
	if a.Watermark != nil && !t.After(*a.Watermark) {
		return fmt.Errorf("watermark must increase: %s is not after %s",
			t.Format(TimestampLayout), a.Watermark.Format(TimestampLayout))
	}
	a.Watermark = &t
	return nil
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	clone := *a
	if a.Watermark != nil {
		w := *a.Watermark
		clone.Watermark = &w
	}
	return &clone
}

func (a *Asset) String() string {
	return fmt.Sprintf("%s %s on %s (%s)", a.Name, a.Pair(), a.Exchange, a.Resolution)
}

// ParseDateTime parses a date in DD-MM-YYYY and an hour in HH:mm:ss as UTC.
func ParseDateTime(date, hour string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(hour), time.UTC)
	if err != nil {
		return time.Time{}, errors.NewConfigurationError("invalid date %q %q, expected DD-MM-YYYY HH:mm:ss", date, hour)
	}
	return t, nil
}
