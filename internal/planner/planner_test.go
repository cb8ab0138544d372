package planner

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

var base = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestPlanFourHourExample(t *testing.T) {
	windows, err := Plan(at(0, 0), at(4, 0), models.ResolutionMinutes, 60)
	require.NoError(t, err)

	expected := []models.TimeWindow{
		models.NewTimeWindow(at(0, 0), at(1, 0)),
		models.NewTimeWindow(at(1, 0), at(2, 0)),
		models.NewTimeWindow(at(2, 0), at(3, 0)),
		models.NewTimeWindow(at(3, 0), at(4, 0)),
	}
	assert.Equal(t, expected, windows)
}

func TestPlanEdgeCases(t *testing.T) {
	t.Run("start equals end yields no windows", func(t *testing.T) {
		windows, err := Plan(at(1, 0), at(1, 0), models.ResolutionMinutes, 60)
		require.NoError(t, err)
		assert.Empty(t, windows)
	})

	t.Run("single window when the stride covers the range", func(t *testing.T) {
		windows, err := Plan(at(0, 0), at(0, 30), models.ResolutionMinutes, 60)
		require.NoError(t, err)
		assert.Equal(t, []models.TimeWindow{models.NewTimeWindow(at(0, 0), at(0, 30))}, windows)
	})

	t.Run("single window when the stride equals the range", func(t *testing.T) {
		windows, err := Plan(at(0, 0), at(1, 0), models.ResolutionMinutes, 60)
		require.NoError(t, err)
		assert.Len(t, windows, 1)
	})

	t.Run("last window is clamped", func(t *testing.T) {
		windows, err := Plan(at(0, 0), at(2, 30), models.ResolutionMinutes, 60)
		require.NoError(t, err)
		require.Len(t, windows, 3)
		assert.Equal(t, models.NewTimeWindow(at(2, 0), at(2, 30)), windows[2])
	})

	t.Run("months use four-week units", func(t *testing.T) {
		end := base.Add(3 * 28 * 24 * time.Hour)
		windows, err := Plan(base, end, models.ResolutionMonths, 1)
		require.NoError(t, err)
		require.Len(t, windows, 3)
		assert.Equal(t, 28*24*time.Hour, windows[0].Duration())
	})

	for _, units := range []int{0, -5} {
		t.Run("rejects non-positive max units", func(t *testing.T) {
			_, err := Plan(at(0, 0), at(4, 0), models.ResolutionMinutes, units)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfiguration))
		})
	}

	t.Run("rejects start after end", func(t *testing.T) {
		_, err := Plan(at(4, 0), at(0, 0), models.ResolutionMinutes, 60)
		assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	})

	t.Run("rejects unknown resolution", func(t *testing.T) {
		_, err := Plan(at(0, 0), at(4, 0), models.Resolution("ticks"), 60)
		assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	})
}

func TestPlanCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		res := models.AllResolutions[rng.Intn(len(models.AllResolutions))]
		maxUnits := 1 + rng.Intn(200)
		stride := res.Duration() * time.Duration(maxUnits)
		start := base.Add(time.Duration(rng.Int63n(int64(365 * 24 * time.Hour))))
		end := start.Add(time.Duration(1 + rng.Int63n(int64(stride)*10)))

		windows, err := Plan(start, end, res, maxUnits)
		require.NoError(t, err)
		require.NotEmpty(t, windows)

		assert.True(t, windows[0].From.Equal(start), "first window starts at start")
		assert.True(t, windows[len(windows)-1].To.Equal(end), "last window ends at end")
		for j, w := range windows {
			assert.True(t, w.From.Before(w.To), "window %d is non-empty", j)
			assert.LessOrEqual(t, w.Duration(), stride, "window %d fits one request", j)
			if j > 0 {
				assert.True(t, windows[j-1].To.Equal(w.From), "window %d is contiguous", j)
			}
			if j < len(windows)-1 {
				assert.Equal(t, stride, w.Duration(), "only the last window may be short")
			}
		}
	}
}

func TestRemaining(t *testing.T) {
	asset, err := models.NewAsset("BTC", "Bitpanda", "BTC", "USD", models.ResolutionMinutes, at(0, 0), at(4, 0))
	require.NoError(t, err)

	t.Run("whole range without a watermark", func(t *testing.T) {
		windows, err := Remaining(asset, asset.RangeEnd, 60)
		require.NoError(t, err)
		assert.Len(t, windows, 4)
	})

	t.Run("resumes one candle after the watermark", func(t *testing.T) {
		resumed := asset.Clone()
		require.NoError(t, resumed.AdvanceWatermark(at(1, 59)))

		windows, err := Remaining(resumed, resumed.RangeEnd, 60)
		require.NoError(t, err)
		assert.Equal(t, []models.TimeWindow{
			models.NewTimeWindow(at(2, 0), at(3, 0)),
			models.NewTimeWindow(at(3, 0), at(4, 0)),
		}, windows)
	})

	t.Run("up to date", func(t *testing.T) {
		done := asset.Clone()
		require.NoError(t, done.AdvanceWatermark(at(3, 59)))

		windows, err := Remaining(done, done.RangeEnd, 60)
		require.NoError(t, err)
		assert.Empty(t, windows)
	})
}
