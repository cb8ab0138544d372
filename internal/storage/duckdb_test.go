package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/logger"
)

// createTestExporter creates an initialized in-memory exporter.
func createTestExporter(t *testing.T) *DuckDBExporter {
	t.Helper()
	exporter, err := NewDuckDBExporter(":memory:", "candles", logger.Discard())
	require.NoError(t, err, "failed to create test DuckDB exporter")
	require.NoError(t, exporter.Initialize(context.Background()))
	t.Cleanup(func() { exporter.Close() })
	return exporter
}

func TestDuckDBExporter_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("exports rows", func(t *testing.T) {
		exporter := createTestExporter(t)
		asset := createTestAsset(t, "Bitfinex")

		n, err := exporter.Export(ctx, asset, createTestRows(testStart, 120))
		require.NoError(t, err)
		assert.Equal(t, 120, n)

		count, err := exporter.Count(ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, 120, count)
	})

	t.Run("re-export replaces previous rows", func(t *testing.T) {
		exporter := createTestExporter(t)
		asset := createTestAsset(t, "Bitfinex")

		_, err := exporter.Export(ctx, asset, createTestRows(testStart, 10))
		require.NoError(t, err)
		_, err = exporter.Export(ctx, asset, createTestRows(testStart, 15))
		require.NoError(t, err)

		count, err := exporter.Count(ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, 15, count)
	})

	t.Run("assets are isolated", func(t *testing.T) {
		exporter := createTestExporter(t)
		a := createTestAsset(t, "Bitfinex")
		b := createTestAsset(t, "Kraken")

		_, err := exporter.Export(ctx, a, createTestRows(testStart, 5))
		require.NoError(t, err)
		_, err = exporter.Export(ctx, b, createTestRows(testStart.Add(time.Hour), 7))
		require.NoError(t, err)

		count, err := exporter.Count(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	})

	t.Run("same pair with another range start is kept", func(t *testing.T) {
		exporter := createTestExporter(t)
		a := createTestAsset(t, "Kraken")
		b := createTestAsset(t, "Kraken")
		b.RangeStart = testStart.AddDate(1, 0, 0)
		b.RangeEnd = b.RangeStart.Add(time.Hour)
		require.NotEqual(t, a.Key(), b.Key())

		_, err := exporter.Export(ctx, a, createTestRows(testStart, 2))
		require.NoError(t, err)
		_, err = exporter.Export(ctx, b, createTestRows(b.RangeStart, 1))
		require.NoError(t, err)

		count, err := exporter.Count(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		count, err = exporter.Count(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("failed export keeps previous rows", func(t *testing.T) {
		exporter := createTestExporter(t)
		asset := createTestAsset(t, "Kraken")

		_, err := exporter.Export(ctx, asset, createTestRows(testStart, 10))
		require.NoError(t, err)

		// A repeated candle time violates the primary key.
		rows := createTestRows(testStart, 3)
		rows = append(rows, rows[2])
		_, err = exporter.Export(ctx, asset, rows)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindStorage))

		count, err := exporter.Count(ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, 10, count)
	})

	t.Run("invalid rows are skipped", func(t *testing.T) {
		exporter := createTestExporter(t)
		asset := createTestAsset(t, "Bitfinex")
		rows := createTestRows(testStart, 4)
		rows[2].High = rows[2].Low.Sub(rows[2].Low) // high below low

		n, err := exporter.Export(ctx, asset, rows)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		count, err := exporter.Count(ctx, asset)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("closed exporter fails", func(t *testing.T) {
		exporter := createTestExporter(t)
		require.NoError(t, exporter.Close())
		_, err := exporter.Export(ctx, createTestAsset(t, "Bitfinex"), createTestRows(testStart, 1))
		assert.True(t, errors.IsKind(err, errors.KindStorage))
	})
}

func TestNewDuckDBExporter_TableName(t *testing.T) {
	_, err := NewDuckDBExporter(":memory:", "candles; DROP TABLE x", logger.Discard())
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}
