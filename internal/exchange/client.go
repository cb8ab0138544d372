package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/logger"
)

const (
	userAgent = "go-ohlcv-downloader/1.0"

	// Upper bound on a response body; the largest pages are well below it.
	maxResponseBytes = 32 << 20
)

// restClient performs the HTTP plumbing shared by all adapters: rate limiting,
// transport error classification and turning error replies into protocol
// errors. It never retries.
type restClient struct {
	name        string
	docsURL     string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

func newRESTClient(profile Profile, cfg config.ExchangeConfig, log *slog.Logger) *restClient {
	if log == nil {
		log = logger.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &restClient{
		name:    profile.Name,
		docsURL: profile.DocsURL,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      log.With("exchange", profile.Name),
	}
}

// get issues one GET request and returns the body of a 2xx reply that holds
// valid JSON. Everything else becomes a network or protocol error.
func (c *restClient) get(ctx context.Context, path string, params url.Values, headers map[string]string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Classify(c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Classify(c.name, fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.Debug("exchange request completed",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if msg == "" {
			msg = resp.Status
		}
		return nil, c.protocolError(msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, c.protocolError(fmt.Sprintf("malformed JSON reply: %s", truncate(string(body), 200)))
	}
	return body, nil
}

func (c *restClient) protocolError(raw string) error {
	return errors.NewProtocolError(c.name, raw, c.docsURL)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decimalOf parses a JSON scalar (string or number) as a decimal.
func decimalOf(field string, r gjson.Result) (decimal.Decimal, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero, fmt.Errorf("missing %s", field)
	}
	raw := r.String()
	if r.Type == gjson.Number {
		raw = r.Raw
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return d, nil
}

// unixOf converts a JSON integer of seconds or milliseconds to UTC time.
func unixOf(r gjson.Result, millis bool) (time.Time, error) {
	raw := r.String()
	if r.Type == gjson.Number {
		raw = r.Raw
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	if millis {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
