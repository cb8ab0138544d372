package exchange

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
)

// Constructor builds an adapter from its configuration.
type Constructor func(cfg config.ExchangeConfig, logger *slog.Logger) Adapter

// Constructors maps the lowercase config key of every supported exchange to
// its constructor.
var Constructors = map[string]Constructor{
	"bitpanda":    func(c config.ExchangeConfig, l *slog.Logger) Adapter { return NewBitpandaAdapter(c, l) },
	"exmo":        func(c config.ExchangeConfig, l *slog.Logger) Adapter { return NewExmoAdapter(c, l) },
	"coinbasepro": func(c config.ExchangeConfig, l *slog.Logger) Adapter { return NewCoinbaseProAdapter(c, l) },
	"bitfinex":    func(c config.ExchangeConfig, l *slog.Logger) Adapter { return NewBitfinexAdapter(c, l) },
	"kraken":      func(c config.ExchangeConfig, l *slog.Logger) Adapter { return NewKrakenAdapter(c, l) },
}

// Registry holds one adapter per exchange, keyed by lowercase name. It is
// built once at startup and only read afterwards.
type Registry map[string]Adapter

// NewRegistry indexes the given adapters by their profile name.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[strings.ToLower(a.Profile().Name)] = a
	}
	return r
}

// NewRegistryFromConfig creates an adapter for every enabled exchange in cfg.
func NewRegistryFromConfig(cfg map[string]config.ExchangeConfig, logger *slog.Logger) (Registry, error) {
	r := make(Registry)
	for key, exCfg := range cfg {
		if !exCfg.Enabled {
			continue
		}
		build, ok := Constructors[strings.ToLower(key)]
		if !ok {
			return nil, errors.NewConfigurationError("unsupported exchange %q", key)
		}
		a := build(exCfg, logger)
		r[strings.ToLower(a.Profile().Name)] = a
	}
	return r, nil
}

// Get returns the adapter for name, case-insensitively.
func (r Registry) Get(name string) (Adapter, error) {
	a, ok := r[strings.ToLower(name)]
	if !ok {
		return nil, errors.NewNotFoundError("exchange " + name)
	}
	return a, nil
}

// Names returns the display names of the registered exchanges, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for _, a := range r {
		names = append(names, a.Profile().Name)
	}
	sort.Strings(names)
	return names
}

// ListAllSymbols queries every exchange concurrently. An exchange that fails
// is reported in the error map and does not abort the others.
func (r Registry) ListAllSymbols(ctx context.Context) (map[string][]string, map[string]error) {
	var (
		mu       sync.Mutex
		symbols  = make(map[string][]string, len(r))
		failures = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, a := range r {
		a := a
		g.Go(func() error {
			name := a.Profile().Name
			list, err := a.ListSymbols(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[name] = err
				return nil
			}
			symbols[name] = list
			return nil
		})
	}
	_ = g.Wait()
	return symbols, failures
}
