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
	coinbaseCandlesEndpoint  = "/products/%s-%s/candles"
	coinbaseProductsEndpoint = "/products"
)

// CoinbaseProProfile describes the Coinbase Pro public API. It serves at most
// 300 buckets per request; the planner stays below that.
var CoinbaseProProfile = Profile{
	Name:            "CoinbasePro",
	Website:         "https://www.coinbase.com/",
	DocsURL:         "https://docs.pro.coinbase.com/#requests",
	MaxRequestUnits: 250,
	Resolutions: []models.Resolution{
		models.ResolutionMinutes,
		models.ResolutionHours,
		models.ResolutionDays,
	},
	ResolutionCodes: map[models.Resolution]string{
		models.ResolutionMinutes: "60",
		models.ResolutionHours:   "3600",
		models.ResolutionDays:    "86400",
	},
	// Rows are [time, low, high, open, close, volume].
	SchemaMap: map[string]string{
		ColTime:   "0",
		ColLow:    "1",
		ColHigh:   "2",
		ColOpen:   "3",
		ColClose:  "4",
		ColVolume: "5",
	},
	Pagination: PaginationWindow,
}

// CoinbaseProAdapter fetches candles from Coinbase Pro. Buckets arrive newest
// first and are re-sorted before being returned.
type CoinbaseProAdapter struct {
	*restClient
}

// NewCoinbaseProAdapter creates a Coinbase Pro adapter.
func NewCoinbaseProAdapter(cfg config.ExchangeConfig, logger *slog.Logger) *CoinbaseProAdapter {
	return &CoinbaseProAdapter{restClient: newRESTClient(CoinbaseProProfile, cfg, logger)}
}

// Profile implements Adapter.
func (a *CoinbaseProAdapter) Profile() Profile { return CoinbaseProProfile }

// ListSymbols implements Adapter.
func (a *CoinbaseProAdapter) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := a.get(ctx, coinbaseProductsEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		return nil, a.protocolError(truncate(string(body), 200))
	}
	var symbols []string
	for _, id := range list.Get("#.id").Array() {
		symbols = append(symbols, id.String())
	}
	return symbols, nil
}

// FetchCandles implements Adapter.
func (a *CoinbaseProAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.CandleRow, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	granularity, err := CoinbaseProProfile.ResolutionCode(req.Resolution)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("start", req.Window.From.UTC().Format(time.RFC3339))
	params.Set("end", req.Window.To.UTC().Format(time.RFC3339))
	params.Set("granularity", granularity)

	path := fmt.Sprintf(coinbaseCandlesEndpoint, req.Pair.Quote, req.Pair.Base)
	body, err := a.get(ctx, path, params, nil)
	if err != nil {
		return nil, err
	}

	reply := gjson.ParseBytes(body)
	if !reply.IsArray() {
		msg := reply.Get("message").String()
		if msg == "" {
			msg = truncate(string(body), 200)
		}
		return nil, a.protocolError(msg)
	}
	rows, err := mapRows(reply, CoinbaseProProfile.SchemaMap, func(r gjson.Result) (time.Time, error) {
		return unixOf(r, false)
	})
	if err != nil {
		return nil, a.protocolError(err.Error())
	}
	return normalizeRows(rows, req.Window), nil
}

