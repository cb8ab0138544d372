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
	bitfinexCandlesEndpoint = "/v2/candles/trade:%s:t%s%s/hist"
	bitfinexTickersEndpoint = "/v2/tickers"
)

// BitfinexProfile describes the Bitfinex v2 public API.
var BitfinexProfile = Profile{
	Name:            "Bitfinex",
	Website:         "https://www.bitfinex.com",
	DocsURL:         "https://docs.bitfinex.com/docs/rest-general",
	MaxRequestUnits: 900,
	Resolutions:     models.AllResolutions,
	ResolutionCodes: map[models.Resolution]string{
		models.ResolutionMinutes: "1m",
		models.ResolutionHours:   "1h",
		models.ResolutionDays:    "1D",
		models.ResolutionWeeks:   "7D",
		models.ResolutionMonths:  "1M",
	},
	// Rows are [mts, open, close, high, low, volume].
	SchemaMap: map[string]string{
		ColTime:   "0",
		ColOpen:   "1",
		ColClose:  "2",
		ColHigh:   "3",
		ColLow:    "4",
		ColVolume: "5",
	},
	Pagination: PaginationWindow,
}

// BitfinexAdapter fetches candles from Bitfinex. Its end bound is inclusive,
// so the request stops one millisecond before the window end.
type BitfinexAdapter struct {
	*restClient
}

// NewBitfinexAdapter creates a Bitfinex adapter.
func NewBitfinexAdapter(cfg config.ExchangeConfig, logger *slog.Logger) *BitfinexAdapter {
	return &BitfinexAdapter{restClient: newRESTClient(BitfinexProfile, cfg, logger)}
}

// Profile implements Adapter.
func (a *BitfinexAdapter) Profile() Profile { return BitfinexProfile }

// ListSymbols implements Adapter.
func (a *BitfinexAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("symbols", "ALL")
	body, err := a.get(ctx, bitfinexTickersEndpoint, params, nil)
	if err != nil {
		return nil, err
	}
	reply := gjson.ParseBytes(body)
	if err := a.replyError(reply); err != nil {
		return nil, err
	}
	var symbols []string
	for _, sym := range reply.Get("#.0").Array() {
		symbols = append(symbols, sym.String())
	}
	return symbols, nil
}

// FetchCandles implements Adapter.
func (a *BitfinexAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.CandleRow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	timeframe, err := BitfinexProfile.ResolutionCode(req.Resolution)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(BitfinexProfile.MaxRequestUnits))
	params.Set("start", strconv.FormatInt(req.Window.From.UnixMilli(), 10))
	params.Set("end", strconv.FormatInt(req.Window.To.Add(-time.Millisecond).UnixMilli(), 10))
	params.Set("sort", "1")

	path := fmt.Sprintf(bitfinexCandlesEndpoint, timeframe, req.Pair.Quote, req.Pair.Base)
	body, err := a.get(ctx, path, params, nil)
	if err != nil {
		return nil, err
	}

	reply := gjson.ParseBytes(body)
	if err := a.replyError(reply); err != nil {
		return nil, err
	}
	rows, err := mapRows(reply, BitfinexProfile.SchemaMap, func(r gjson.Result) (time.Time, error) {
		return unixOf(r, true)
	})
	if err != nil {
		return nil, a.protocolError(err.Error())
	}
	return normalizeRows(rows, req.Window), nil
}

// replyError detects the ["error", code, "message"] shape Bitfinex returns
// in place of data.
func (a *BitfinexAdapter) replyError(reply gjson.Result) error {
	if !reply.IsArray() {
		return a.protocolError(truncate(reply.Raw, 200))
	}
	if reply.Get("0").String() == "error" {
		return a.protocolError(fmt.Sprintf("%s %s", reply.Get("1").String(), reply.Get("2").String()))
	}
	return nil
}
