package models

import (
	"fmt"
	"time"
)

// TimeWindow is the half-open interval [From, To) covered by one request.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewTimeWindow builds a window in UTC.
func NewTimeWindow(from, to time.Time) TimeWindow {
	return TimeWindow{From: from.UTC(), To: to.UTC()}
}

// Duration returns To - From.
func (w TimeWindow) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Contains reports whether t lies in [From, To).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// IsEmpty reports whether the window covers no time.
func (w TimeWindow) IsEmpty() bool {
	return !w.From.Before(w.To)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.From.Format(TimestampLayout), w.To.Format(TimestampLayout))
}
