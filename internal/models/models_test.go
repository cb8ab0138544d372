package models

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
)

var (
	testStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2020, 1, 1, 4, 0, 0, 0, time.UTC)
)

func newTestAsset(t *testing.T) *Asset {
	t.Helper()
	asset, err := NewAsset("BTC", "Bitpanda", "btc", "usd", ResolutionMinutes, testStart, testEnd)
	require.NoError(t, err)
	return asset
}

func TestResolution(t *testing.T) {
	t.Run("durations", func(t *testing.T) {
		assert.Equal(t, time.Minute, ResolutionMinutes.Duration())
		assert.Equal(t, time.Hour, ResolutionHours.Duration())
		assert.Equal(t, 24*time.Hour, ResolutionDays.Duration())
		assert.Equal(t, 7*24*time.Hour, ResolutionWeeks.Duration())
		assert.Equal(t, 28*24*time.Hour, ResolutionMonths.Duration())
		assert.Zero(t, Resolution("fortnights").Duration())
	})

	t.Run("parse is case insensitive", func(t *testing.T) {
		res, err := ParseResolution(" Hours ")
		require.NoError(t, err)
		assert.Equal(t, ResolutionHours, res)
	})

	t.Run("parse rejects unknown names", func(t *testing.T) {
		_, err := ParseResolution("seconds")
		assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	})

	t.Run("truncate", func(t *testing.T) {
		now := time.Date(2021, 3, 4, 10, 31, 45, 0, time.UTC)
		assert.Equal(t, time.Date(2021, 3, 4, 10, 31, 0, 0, time.UTC), ResolutionMinutes.Truncate(now))
		assert.Equal(t, time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC), ResolutionHours.Truncate(now))
		assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), ResolutionDays.Truncate(now))
		assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), ResolutionMonths.Truncate(now))
	})
}

func TestNewAsset(t *testing.T) {
	t.Run("normalises symbols", func(t *testing.T) {
		asset := newTestAsset(t)
		assert.Equal(t, "BTC", asset.Quote)
		assert.Equal(t, "USD", asset.Base)
		assert.Equal(t, "BTC/USD", asset.Pair().String())
		assert.False(t, asset.HasData())
	})

	invalid := []struct {
		name       string
		assetName  string
		quote      string
		res        Resolution
		start, end time.Time
	}{
		{"empty name", "", "BTC", ResolutionMinutes, testStart, testEnd},
		{"name with symbols", "BTC!", "BTC", ResolutionMinutes, testStart, testEnd},
		{"quote with separator", "BTC", "BTC-X", ResolutionMinutes, testStart, testEnd},
		{"unknown resolution", "BTC", "BTC", Resolution("ticks"), testStart, testEnd},
		{"start equals end", "BTC", "BTC", ResolutionMinutes, testStart, testStart},
		{"start after end", "BTC", "BTC", ResolutionMinutes, testEnd, testStart},
	}
	for _, tt := range invalid {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := NewAsset(tt.assetName, "Bitpanda", tt.quote, "USD", tt.res, tt.start, tt.end)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfiguration))
		})
	}
}

func TestAssetIdentity(t *testing.T) {
	asset := newTestAsset(t)

	assert.Equal(t, "Bitpanda:BTC-USD:minutes:2020-01-01T00:00:00Z", asset.Key())
	assert.Equal(t, "BTC-USD_Bitpanda_minutes_01-01-2020_00-00-00.csv", asset.FileName())

	renamed := asset.Clone()
	renamed.Name = "Other"
	assert.Equal(t, asset.Key(), renamed.Key(), "name is not part of the identity")

	hourly := asset.Clone()
	hourly.Resolution = ResolutionHours
	assert.NotEqual(t, asset.Key(), hourly.Key())
	assert.NotEqual(t, asset.FileName(), hourly.FileName())
}

func TestAssetWatermark(t *testing.T) {
	asset := newTestAsset(t)
	assert.Equal(t, testStart, asset.ResumePoint())

	wm := time.Date(2020, 1, 1, 3, 59, 0, 0, time.UTC)
	require.NoError(t, asset.AdvanceWatermark(wm))
	assert.True(t, asset.HasData())
	assert.Equal(t, testEnd, asset.ResumePoint())

	t.Run("must strictly increase", func(t *testing.T) {
		assert.Error(t, asset.AdvanceWatermark(wm))
		assert.Error(t, asset.AdvanceWatermark(wm.Add(-time.Minute)))
		assert.Equal(t, wm, *asset.Watermark)
	})

	t.Run("clone does not share the watermark", func(t *testing.T) {
		clone := asset.Clone()
		require.NoError(t, clone.AdvanceWatermark(wm.Add(time.Minute)))
		assert.Equal(t, wm, *asset.Watermark)
	})
}

func TestParseDateTime(t *testing.T) {
	got, err := ParseDateTime("01-01-2020", "04:00:00")
	require.NoError(t, err)
	assert.Equal(t, testEnd, got)

	_, err = ParseDateTime("2020-01-01", "04:00:00")
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestTimeWindow(t *testing.T) {
	w := NewTimeWindow(testStart, testStart.Add(time.Hour))

	assert.Equal(t, time.Hour, w.Duration())
	assert.True(t, w.Contains(testStart))
	assert.True(t, w.Contains(testStart.Add(59*time.Minute)))
	assert.False(t, w.Contains(testStart.Add(time.Hour)), "windows are half-open")
	assert.False(t, w.IsEmpty())
	assert.True(t, NewTimeWindow(testStart, testStart).IsEmpty())
	assert.Equal(t, "[01-01-2020 00:00:00, 01-01-2020 01:00:00)", w.String())
}

func TestCandleRow(t *testing.T) {
	t.Run("parses decimals", func(t *testing.T) {
		row, err := NewCandleRow(testStart, "7195", "7200.5", "7190", "7199.9", "12.5")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("7200.5").Equal(row.High))
		assert.NoError(t, row.Validate())
	})

	t.Run("rejects malformed numbers", func(t *testing.T) {
		_, err := NewCandleRow(testStart, "x", "1", "1", "1", "1")
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "open", vErr.Field)
	})

	t.Run("validate", func(t *testing.T) {
		row, _ := NewCandleRow(testStart, "10", "9", "11", "10", "1")
		assert.Error(t, row.Validate(), "high below low")

		row, _ = NewCandleRow(testStart, "10", "11", "9", "10", "-1")
		assert.Error(t, row.Validate(), "negative volume")

		row, _ = NewCandleRow(time.Time{}, "10", "11", "9", "10", "1")
		assert.Error(t, row.Validate(), "zero time")
	})
}

func TestDownloadJobLifecycle(t *testing.T) {
	windows := []TimeWindow{
		NewTimeWindow(testStart, testStart.Add(time.Hour)),
		NewTimeWindow(testStart.Add(time.Hour), testStart.Add(2*time.Hour)),
	}

	t.Run("idle to finished", func(t *testing.T) {
		job := NewDownloadJob(JobDownload, newTestAsset(t), windows)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, JobIdle, job.CurrentState())

		require.NoError(t, job.Start())
		require.NoError(t, job.RecordPart(60))
		require.NoError(t, job.RecordPart(60))
		assert.Error(t, job.RecordPart(1), "cannot exceed total parts")
		require.NoError(t, job.Finish())

		done, total := job.Progress()
		assert.Equal(t, 2, done)
		assert.Equal(t, 2, total)
		assert.Equal(t, 120, job.Snapshot().RowsWritten)
		assert.True(t, job.CurrentState().IsTerminal())
	})

	t.Run("terminal states do not transition", func(t *testing.T) {
		job := NewDownloadJob(JobUpdate, newTestAsset(t), windows)
		require.NoError(t, job.Start())
		require.NoError(t, job.Cancel())

		assert.Error(t, job.Start())
		assert.Error(t, job.Finish())
		assert.Error(t, job.Fail(assert.AnError))
		assert.Error(t, job.RecordPart(1))
		assert.Equal(t, JobCancelled, job.CurrentState())
	})

	t.Run("fail keeps the error", func(t *testing.T) {
		job := NewDownloadJob(JobDownload, newTestAsset(t), windows)
		assert.Error(t, job.Finish(), "idle job cannot finish")
		require.NoError(t, job.Start())
		require.NoError(t, job.Fail(assert.AnError))
		assert.Equal(t, JobErrored, job.CurrentState())
		assert.ErrorIs(t, job.Snapshot().Err, assert.AnError)
	})

	t.Run("cancel flag is safe for concurrent use", func(t *testing.T) {
		job := NewDownloadJob(JobDownload, newTestAsset(t), windows)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); job.RequestCancel() }()
			go func() { defer wg.Done(); _ = job.CancelRequested() }()
		}
		wg.Wait()
		assert.True(t, job.CancelRequested())
	})

	t.Run("snapshot is independent", func(t *testing.T) {
		job := NewDownloadJob(JobDownload, newTestAsset(t), windows)
		require.NoError(t, job.Start())
		snap := job.Snapshot()
		require.NoError(t, job.AdvanceWatermark(testStart.Add(time.Minute)))
		assert.Nil(t, snap.Asset.Watermark)
		assert.Equal(t, testStart.Add(time.Minute), *job.Watermark())
		assert.Contains(t, job.Summary(), "part 0 of 2")
	})
}
