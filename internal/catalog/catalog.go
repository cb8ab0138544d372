// Package catalog keeps the in-memory list of tracked assets, one list per
// exchange. It is rebuilt from a save-folder scan at startup and hands out
// copies so jobs never share an Asset with the catalog.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// Catalog is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	assets map[string][]*models.Asset // keyed by lowercase exchange name
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{assets: make(map[string][]*models.Asset)}
}

func exchangeKey(exchange string) string {
	return strings.ToLower(exchange)
}

// Load replaces the catalog content with the given per-exchange lists.
func (c *Catalog) Load(assets map[string][]*models.Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = make(map[string][]*models.Asset, len(assets))
	for exchange, list := range assets {
		for _, a := range list {
			c.assets[exchangeKey(exchange)] = append(c.assets[exchangeKey(exchange)], a.Clone())
		}
		c.sortLocked(exchange)
	}
}

// Add tracks a new asset. Names are unique per exchange and so is the asset
// identity.
func (c *Catalog) Add(asset *models.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := exchangeKey(asset.Exchange)
	for _, existing := range c.assets[key] {
		if existing.Key() == asset.Key() {
			return errors.NewAlreadyExistsError("asset " + asset.Key())
		}
		if strings.EqualFold(existing.Name, asset.Name) {
			return errors.NewAlreadyExistsError("asset named " + asset.Name + " on " + asset.Exchange)
		}
	}
	c.assets[key] = append(c.assets[key], asset.Clone())
	c.sortLocked(asset.Exchange)
	return nil
}

// Get returns a copy of the asset named name on exchange.
func (c *Catalog) Get(exchange, name string) (*models.Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.assets[exchangeKey(exchange)] {
		if strings.EqualFold(a.Name, name) {
			return a.Clone(), nil
		}
	}
	return nil, errors.NewNotFoundError("asset " + name + " on " + exchange)
}

// Remove stops tracking the asset named name on exchange and returns it.
func (c *Catalog) Remove(exchange, name string) (*models.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := exchangeKey(exchange)
	list := c.assets[key]
	for i, a := range list {
		if strings.EqualFold(a.Name, name) {
			c.assets[key] = append(list[:i:i], list[i+1:]...)
			if len(c.assets[key]) == 0 {
				delete(c.assets, key)
			}
			return a, nil
		}
	}
	return nil, errors.NewNotFoundError("asset " + name + " on " + exchange)
}

// SetWatermark records the watermark of the asset identified by key.
func (c *Catalog) SetWatermark(exchange, key string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.assets[exchangeKey(exchange)] {
		if a.Key() == key {
			return a.AdvanceWatermark(t)
		}
	}
	return errors.NewNotFoundError("asset " + key)
}

// List returns copies of the assets of exchange, sorted by name.
func (c *Catalog) List(exchange string) []*models.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.assets[exchangeKey(exchange)]
	out := make([]*models.Asset, 0, len(list))
	for _, a := range list {
		out = append(out, a.Clone())
	}
	return out
}

// Len returns the number of tracked assets.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.assets {
		n += len(list)
	}
	return n
}

func (c *Catalog) sortLocked(exchange string) {
	list := c.assets[exchangeKey(exchange)]
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
}
