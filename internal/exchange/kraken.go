package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

const (
	krakenTradesEndpoint     = "/0/public/Trades"
	krakenAssetPairsEndpoint = "/0/public/AssetPairs"
)

// KrakenProfile describes the Kraken public API. Kraken only serves raw
// trades, which are resampled into one-minute candles.
var KrakenProfile = Profile{
	Name:            "Kraken",
	Website:         "https://www.kraken.com",
	DocsURL:         "https://support.kraken.com/hc/en-us/articles/360001491786-API-error-messages",
	MaxRequestUnits: 120,
	Resolutions:     []models.Resolution{models.ResolutionMinutes},
	ResolutionCodes: map[models.Resolution]string{
		models.ResolutionMinutes: "1m",
	},
	// Trades are [price, volume, time, side, type, misc, id].
	SchemaMap: map[string]string{
		"Price":   "0",
		ColVolume: "1",
		ColTime:   "2",
	},
	Pagination: PaginationCursor,
}

// KrakenAdapter walks the Trades cursor over a window and resamples the
// collected ticks.
type KrakenAdapter struct {
	*restClient
	cursorPacing time.Duration
}

// NewKrakenAdapter creates a Kraken adapter. cfg.CursorPacing is the pause
// between two pages of the same window.
func NewKrakenAdapter(cfg config.ExchangeConfig, logger *slog.Logger) *KrakenAdapter {
	return &KrakenAdapter{
		restClient:   newRESTClient(KrakenProfile, cfg, logger),
		cursorPacing: cfg.CursorPacing,
	}
}

// Profile implements Adapter.
func (a *KrakenAdapter) Profile() Profile { return KrakenProfile }

// ListSymbols implements Adapter.
func (a *KrakenAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := a.get(ctx, krakenAssetPairsEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	result, err := a.result(gjson.ParseBytes(body))
	if err != nil {
		return nil, err
	}
	var symbols []string
	result.ForEach(func(key, _ gjson.Result) bool {
		symbols = append(symbols, key.String())
		return true
	})
	return symbols, nil
}

// FetchCandles implements Adapter.
func (a *KrakenAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.CandleRow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if !KrakenProfile.Supports(req.Resolution) {
		return nil, fmt.Errorf("%s does not support %s candles", KrakenProfile.Name, req.Resolution)
	}

	pair := req.Pair.Quote + req.Pair.Base
	since := req.Window.From.UnixNano()
	end := req.Window.To.UnixNano()

	var ticks []Tick
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("pair", pair)
		params.Set("since", strconv.FormatInt(since, 10))

		body, err := a.get(ctx, krakenTradesEndpoint, params, nil)
		if err != nil {
			return nil, err
		}
		result, err := a.result(gjson.ParseBytes(body))
		if err != nil {
			return nil, err
		}

		pageTicks, err := parseTrades(result)
		if err != nil {
			return nil, a.protocolError(err.Error())
		}
		ticks = append(ticks, pageTicks...)

		next, err := strconv.ParseInt(result.Get("last").String(), 10, 64)
		if err != nil {
			return nil, a.protocolError(fmt.Sprintf("invalid cursor %q", result.Get("last").String()))
		}

		a.logger.Debug("trades page fetched",
			"pair", pair,
			"page", page,
			"ticks", len(pageTicks),
			"cursor", next)

		if len(pageTicks) == 0 || next <= since || next >= end {
			break
		}
		since = next

		if err := sleep(ctx, a.cursorPacing); err != nil {
			return nil, err
		}
	}

	var inWindow []Tick
	for _, tick := range ticks {
		if req.Window.Contains(tick.Time) {
			inWindow = append(inWindow, tick)
		}
	}
	return normalizeRows(ResampleTicks(inWindow, time.Minute), req.Window), nil
}

// result returns the result object after checking the error array.
func (a *KrakenAdapter) result(reply gjson.Result) (gjson.Result, error) {
	if errs := reply.Get("error"); errs.IsArray() && len(errs.Array()) > 0 {
		var msgs []string
		for _, e := range errs.Array() {
			msgs = append(msgs, e.String())
		}
		return gjson.Result{}, a.protocolError(strings.Join(msgs, ", "))
	}
	result := reply.Get("result")
	if !result.IsObject() {
		return gjson.Result{}, a.protocolError(truncate(reply.Raw, 200))
	}
	return result, nil
}

// parseTrades reads the trades stored under the result's single pair key,
// whose name Kraken chooses (e.g. XXBTZUSD for XBTUSD).
func parseTrades(result gjson.Result) ([]Tick, error) {
	var trades gjson.Result
	result.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "last" {
			return true
		}
		trades = value
		return false
	})
	if !trades.Exists() {
		return nil, nil
	}
	if !trades.IsArray() {
		return nil, fmt.Errorf("expected an array of trades, got %s", truncate(trades.Raw, 120))
	}

	schema := KrakenProfile.SchemaMap
	ticks := make([]Tick, 0, len(trades.Array()))
	for i, trade := range trades.Array() {
		price, err := decimalOf("price", trade.Get(schema["Price"]))
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		volume, err := decimalOf(ColVolume, trade.Get(schema[ColVolume]))
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		secs, err := decimalOf(ColTime, trade.Get(schema[ColTime]))
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		whole := secs.IntPart()
		nanos := secs.Sub(decimal.NewFromInt(whole)).Shift(9).IntPart()
		ticks = append(ticks, Tick{
			Time:   time.Unix(whole, nanos).UTC(),
			Price:  price,
			Volume: volume,
		})
	}
	return ticks, nil
}
