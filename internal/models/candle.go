// Package models provides the data structures shared by the acquisition engine:
// assets, canonical candle rows, time windows and download jobs.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Textual date layouts used in asset headers and persisted rows. All times are UTC.
const (
	DateLayout      = "02-01-2006"
	HourLayout      = "15:04:05"
	TimestampLayout = DateLayout + " " + HourLayout
)

// CandleRow is the canonical candle shape every exchange response is mapped
// into. Time is the candle's open time in UTC.
type CandleRow struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that the row has a timestamp, non-negative values and a
// coherent high/low pair.
func (c CandleRow) Validate() error {
	if c.Time.IsZero() {
		return &ValidationError{Field: "time", Message: "time cannot be zero"}
	}

	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
		{"volume", c.Volume},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return &ValidationError{Field: f.name, Message: fmt.Sprintf("%s cannot be negative (%s)", f.name, f.value)}
		}
	}

	if c.High.LessThan(c.Low) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high (%s) must be greater than or equal to low (%s)", c.High, c.Low),
		}
	}
	return nil
}

// NewCandleRow parses the five numeric fields from their textual form.
func NewCandleRow(t time.Time, open, high, low, close, volume string) (CandleRow, error) {
	row := CandleRow{Time: t.UTC()}
	targets := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", open, &row.Open},
		{"high", high, &row.High},
		{"low", low, &row.Low},
		{"close", close, &row.Close},
		{"volume", volume, &row.Volume},
	}
	for _, target := range targets {
		d, err := decimal.NewFromString(target.raw)
		if err != nil {
			return CandleRow{}, &ValidationError{Field: target.name, Message: fmt.Sprintf("invalid %s %q: %v", target.name, target.raw, err)}
		}
		*target.dst = d
	}
	return row, nil
}
