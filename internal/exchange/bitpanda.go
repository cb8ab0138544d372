package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

const (
	bitpandaCandlesEndpoint    = "/public/v1/candlesticks/%s_%s"
	bitpandaCurrenciesEndpoint = "/public/v1/currencies"
)

// BitpandaProfile describes the Bitpanda Pro public API.
var BitpandaProfile = Profile{
	Name:            "Bitpanda",
	Website:         "https://www.bitpanda.com/",
	DocsURL:         "https://developers.bitpanda.com/exchange/",
	MaxRequestUnits: 900,
	Resolutions:     models.AllResolutions,
	ResolutionCodes: map[models.Resolution]string{
		models.ResolutionMinutes: "MINUTES",
		models.ResolutionHours:   "HOURS",
		models.ResolutionDays:    "DAYS",
		models.ResolutionWeeks:   "WEEKS",
		models.ResolutionMonths:  "MONTHS",
	},
	SchemaMap: map[string]string{
		ColTime:   "time",
		ColHigh:   "high",
		ColLow:    "low",
		ColOpen:   "open",
		ColClose:  "close",
		ColVolume: "volume",
	},
	Pagination: PaginationWindow,
}

// BitpandaAdapter fetches candles from Bitpanda. Rows are JSON objects whose
// time is the candle close instant, so it is truncated back to the open time.
type BitpandaAdapter struct {
	*restClient
}

// NewBitpandaAdapter creates a Bitpanda adapter.
func NewBitpandaAdapter(cfg config.ExchangeConfig, logger *slog.Logger) *BitpandaAdapter {
	return &BitpandaAdapter{restClient: newRESTClient(BitpandaProfile, cfg, logger)}
}

// Profile implements Adapter.
func (a *BitpandaAdapter) Profile() Profile { return BitpandaProfile }

// ListSymbols implements Adapter.
func (a *BitpandaAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := a.get(ctx, bitpandaCurrenciesEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		return nil, a.protocolError(truncate(string(body), 200))
	}
	var symbols []string
	for _, code := range list.Get("#.code").Array() {
		symbols = append(symbols, code.String())
	}
	return symbols, nil
}

// FetchCandles implements Adapter.
func (a *BitpandaAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.CandleRow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	unit, err := BitpandaProfile.ResolutionCode(req.Resolution)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("unit", unit)
	params.Set("period", "1")
	params.Set("from", req.Window.From.UTC().Format(time.RFC3339))
	params.Set("to", req.Window.To.UTC().Format(time.RFC3339))

	path := fmt.Sprintf(bitpandaCandlesEndpoint, req.Pair.Quote, req.Pair.Base)
	body, err := a.get(ctx, path, params, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}

	reply := gjson.ParseBytes(body)
	if msg := reply.Get("error"); msg.Exists() {
		return nil, a.protocolError(msg.String())
	}
	rows, err := mapRows(reply, BitpandaProfile.SchemaMap, func(r gjson.Result) (time.Time, error) {
		t, err := time.Parse(time.RFC3339Nano, r.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q", r.String())
		}
		return bitpandaOpenTime(t, req.Resolution), nil
	})
	if err != nil {
		return nil, a.protocolError(err.Error())
	}
	return normalizeRows(rows, req.Window), nil
}

// bitpandaOpenTime maps the close instant Bitpanda reports to the candle's
// open time. Weeks start on Monday.
func bitpandaOpenTime(closeTime time.Time, res models.Resolution) time.Time {
	t := closeTime.UTC()
	switch res {
	case models.ResolutionWeeks:
		day := t.Truncate(24 * time.Hour)
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case models.ResolutionMonths:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return res.Truncate(t)
	}
}
