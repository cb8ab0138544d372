package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

const assetFileExt = ".csv"

// ScanResult holds the assets found in the save folder. Files that could not
// be decoded are reported in Warnings and left out of Assets.
type ScanResult struct {
	Assets   map[string][]*models.Asset
	Warnings []error
}

// ListAssetFiles returns the asset files stored for exchange, sorted. A
// missing exchange directory yields no files.
func (l *Log) ListAssetFiles(exchange string) ([]string, error) {
	dir := l.exchangeDir(exchange)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewStorageError("list", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), assetFileExt) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Scan rebuilds the asset list of every exchange from the save folder,
// reading each file's header and watermark. Exchanges are scanned
// concurrently.
func (l *Log) Scan(ctx context.Context, exchanges []string) (*ScanResult, error) {
	var mu sync.Mutex
	result := &ScanResult{Assets: make(map[string][]*models.Asset, len(exchanges))}

	g, gctx := errgroup.WithContext(ctx)
	for _, exchange := range exchanges {
		exchange := exchange
		g.Go(func() error {
			assets, warnings, err := l.scanExchange(gctx, exchange)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			result.Assets[exchange] = assets
			result.Warnings = append(result.Warnings, warnings...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, w := range result.Warnings {
		l.logger.Warn("asset file skipped", "error", w)
	}
	return result, nil
}

func (l *Log) scanExchange(ctx context.Context, exchange string) ([]*models.Asset, []error, error) {
	files, err := l.ListAssetFiles(exchange)
	if err != nil {
		return nil, nil, err
	}

	var (
		assets   []*models.Asset
		warnings []error
	)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		asset, err := l.loadAsset(exchange, path)
		if err != nil {
			if errors.IsKind(err, errors.KindFormat) {
				warnings = append(warnings, err)
				continue
			}
			return nil, nil, err
		}
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	return assets, warnings, nil
}

// loadAsset decodes one file into an asset with its watermark.
func (l *Log) loadAsset(exchange, path string) (*models.Asset, error) {
	header, err := l.ReadHeader(path)
	if err != nil {
		return nil, err
	}
	asset, err := header.Asset(exchange)
	if err != nil {
		return nil, errors.NewFormatError(path, errors.UserMessage(err))
	}
	if asset.FileName() != filepath.Base(path) {
		return nil, errors.NewFormatError(path, "file name does not match its header, expected "+asset.FileName())
	}
	watermark, err := readWatermarkFile(path)
	if err != nil {
		return nil, err
	}
	asset.Watermark = watermark
	return asset, nil
}
