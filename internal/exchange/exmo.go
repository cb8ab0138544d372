package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

const (
	exmoCandlesEndpoint  = "/v1.1/candles_history"
	exmoCurrencyEndpoint = "/v1.1/currency"
)

// ExmoProfile describes the EXMO public API.
var ExmoProfile = Profile{
	Name:            "Exmo",
	Website:         "https://www.exmo.com",
	DocsURL:         "https://documenter.getpostman.com/view/10287440/SzYXWKPi",
	MaxRequestUnits: 900,
	Resolutions:     models.AllResolutions,
	ResolutionCodes: map[models.Resolution]string{
		models.ResolutionMinutes: "1",
		models.ResolutionHours:   "60",
		models.ResolutionDays:    "D",
		models.ResolutionWeeks:   "W",
		models.ResolutionMonths:  "M",
	},
	SchemaMap: map[string]string{
		ColTime:   "t",
		ColHigh:   "h",
		ColLow:    "l",
		ColOpen:   "o",
		ColClose:  "c",
		ColVolume: "v",
	},
	Pagination: PaginationWindow,
}

// ExmoAdapter fetches candles from EXMO. Any reply without a candles array,
// including a 200 carrying an error field, is a protocol error.
type ExmoAdapter struct {
	*restClient
}

// NewExmoAdapter creates an EXMO adapter.
func NewExmoAdapter(cfg config.ExchangeConfig, logger *slog.Logger) *ExmoAdapter {
	return &ExmoAdapter{restClient: newRESTClient(ExmoProfile, cfg, logger)}
}

// Profile implements Adapter.
func (a *ExmoAdapter) Profile() Profile { return ExmoProfile }

// ListSymbols implements Adapter.
func (a *ExmoAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := a.get(ctx, exmoCurrencyEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		return nil, a.protocolError(truncate(string(body), 200))
	}
	var symbols []string
	for _, s := range list.Array() {
		symbols = append(symbols, s.String())
	}
	return symbols, nil
}

// FetchCandles implements Adapter.
func (a *ExmoAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.CandleRow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	code, err := ExmoProfile.ResolutionCode(req.Resolution)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", req.Pair.Quote+"_"+req.Pair.Base)
	params.Set("resolution", code)
	params.Set("from", strconv.FormatInt(req.Window.From.Unix(), 10))
	params.Set("to", strconv.FormatInt(req.Window.To.Unix(), 10))

	body, err := a.get(ctx, exmoCandlesEndpoint, params, nil)
	if err != nil {
		return nil, err
	}

	reply := gjson.ParseBytes(body)
	if msg := reply.Get("error"); msg.Exists() && msg.String() != "" {
		return nil, a.protocolError(msg.String())
	}
	candles := reply.Get("candles")
	if !candles.Exists() {
		return nil, a.protocolError(truncate(string(body), 200))
	}
	rows, err := mapRows(candles, ExmoProfile.SchemaMap, func(r gjson.Result) (time.Time, error) {
		return unixOf(r, true)
	})
	if err != nil {
		return nil, a.protocolError(err.Error())
	}
	return normalizeRows(rows, req.Window), nil
}
