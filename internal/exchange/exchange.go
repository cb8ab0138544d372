// Package exchange defines the adapter interface the acquisition engine uses to
// talk to cryptocurrency exchanges, and one implementation per supported
// exchange.
//
// Adapters are the only translation boundary between exchange REST APIs and the
// canonical candle schema: each one owns its endpoint layout, query parameter
// names, resolution encoding, pagination style and error conventions.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// Pagination describes how an exchange pages historical data.
type Pagination string

const (
	// PaginationWindow means one request per planned window.
	PaginationWindow Pagination = "window"
	// PaginationCursor means the adapter follows a cursor inside a window.
	PaginationCursor Pagination = "cursor"
)

// Profile holds the immutable per-exchange constants.
type Profile struct {
	Name    string
	Website string
	DocsURL string

	// MaxRequestUnits is the number of candles one request may cover.
	MaxRequestUnits int

	// Resolutions is the ordered subset of canonical resolutions supported.
	Resolutions []models.Resolution

	// ResolutionCodes maps a canonical resolution to the exchange's spelling.
	ResolutionCodes map[models.Resolution]string

	// SchemaMap maps canonical columns to the exchange's field name or, for
	// positional rows, the array index.
	SchemaMap map[string]string

	Pagination Pagination
}

// Supports reports whether res is offered by the exchange.
func (p Profile) Supports(res models.Resolution) bool {
	_, ok := p.ResolutionCodes[res]
	return ok
}

// ResolutionCode returns the exchange's spelling of res.
func (p Profile) ResolutionCode(res models.Resolution) (string, error) {
	code, ok := p.ResolutionCodes[res]
	if !ok {
		return "", fmt.Errorf("%s does not support %s candles", p.Name, res)
	}
	return code, nil
}

// Notice is the market-data terms notice shown before using an exchange.
func (p Profile) Notice() string {
	return fmt.Sprintf("By accessing the %s Market Data API, you agree to be bound by the Market Data Terms of Use! "+
		"Please check its web site for more info: %s\n"+
		"Historical rate data can be sometimes incomplete! "+
		"Exchanges do not always guarantee to provide data for intervals where there are no ticks.",
		strings.ToUpper(p.Name), p.Website)
}

// FetchRequest is a canonical request for one window of candles.
type FetchRequest struct {
	Pair       models.Pair
	Resolution models.Resolution
	Window     models.TimeWindow
}

// Validate checks the request before any network call is made.
func (r FetchRequest) Validate() error {
	if r.Pair.Quote == "" || r.Pair.Base == "" {
		return &ValidationError{Field: "pair", Message: "quote and base are required"}
	}
	if !r.Resolution.IsValid() {
		return &ValidationError{Field: "resolution", Message: fmt.Sprintf("unknown resolution %q", r.Resolution)}
	}
	if r.Window.IsEmpty() {
		return &ValidationError{Field: "window", Message: "window end must be after start"}
	}
	return nil
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Adapter is implemented once per exchange.
type Adapter interface {
	// Profile returns the exchange constants.
	Profile() Profile

	// ListSymbols returns the symbols the exchange currently lists. Transport
	// failures are returned as network errors and are not retried.
	ListSymbols(ctx context.Context) ([]string, error)

	// FetchCandles returns the candles whose open time falls in
	// [req.Window.From, req.Window.To), oldest first. A non-2xx reply or an
	// error embedded in the payload is returned as a protocol error.
	FetchCandles(ctx context.Context, req FetchRequest) ([]models.CandleRow, error)
}

// normalizeRows sorts rows by time, drops rows outside w and keeps the first
// row of any duplicated timestamp.
func normalizeRows(rows []models.CandleRow, w models.TimeWindow) []models.CandleRow {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
	out := rows[:0]
	for _, row := range rows {
		if !w.Contains(row.Time) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Time.Equal(row.Time) {
			continue
		}
		out = append(out, row)
	}
	return out
}
