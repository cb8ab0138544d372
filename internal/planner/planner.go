// Package planner splits a download range into windows that each fit within
// one exchange request.
package planner

import (
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// Plan breaks [start, end) into consecutive windows of at most maxUnits
// candles of the given resolution. The windows are ordered, contiguous and
// non-overlapping; the last one is clamped to end. start == end yields no
// windows.
func Plan(start, end time.Time, res models.Resolution, maxUnits int) ([]models.TimeWindow, error) {
	if maxUnits <= 0 {
		return nil, errors.NewConfigurationError("max request units must be positive, got %d", maxUnits).
			WithComponent("planner", "plan")
	}
	unit := res.Duration()
	if unit <= 0 {
		return nil, errors.NewConfigurationError("unknown resolution %q", res).WithComponent("planner", "plan")
	}
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil, errors.NewConfigurationError("start %s is after end %s",
			start.Format(models.TimestampLayout), end.Format(models.TimestampLayout)).WithComponent("planner", "plan")
	}
	if start.Equal(end) {
		return nil, nil
	}

	stride := unit * time.Duration(maxUnits)
	if !start.Add(stride).Before(end) {
		return []models.TimeWindow{models.NewTimeWindow(start, end)}, nil
	}

	windows := make([]models.TimeWindow, 0, int(end.Sub(start)/stride)+1)
	for cursor := start; cursor.Before(end); cursor = cursor.Add(stride) {
		to := cursor.Add(stride)
		if to.After(end) {
			to = end
		}
		windows = append(windows, models.NewTimeWindow(cursor, to))
	}
	return windows, nil
}

// Remaining plans the part of the asset's range that is not persisted yet,
// from its resume point up to end.
func Remaining(asset *models.Asset, end time.Time, maxUnits int) ([]models.TimeWindow, error) {
	start := asset.ResumePoint()
	if !start.Before(end) {
		if maxUnits <= 0 {
			return nil, errors.NewConfigurationError("max request units must be positive, got %d", maxUnits)
		}
		return nil, nil
	}
	return Plan(start, end, asset.Resolution, maxUnits)
}
