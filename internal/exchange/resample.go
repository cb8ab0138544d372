package exchange

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// Tick is a single trade.
type Tick struct {
	Time   time.Time
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// ResampleTicks aggregates trades into candles of the given bucket size.
// Buckets without trades between the first and the last traded bucket carry
// the previous close with zero volume.
func ResampleTicks(ticks []Tick, bucket time.Duration) []models.CandleRow {
	if len(ticks) == 0 || bucket <= 0 {
		return nil
	}
	sorted := make([]Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var out []models.CandleRow
	for _, tick := range sorted {
		start := tick.Time.UTC().Truncate(bucket)
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Time.Equal(start) {
				last.High = decimal.Max(last.High, tick.Price)
				last.Low = decimal.Min(last.Low, tick.Price)
				last.Close = tick.Price
				last.Volume = last.Volume.Add(tick.Volume)
				continue
			}
			for gap := last.Time.Add(bucket); gap.Before(start); gap = gap.Add(bucket) {
				prev := out[len(out)-1].Close
				out = append(out, models.CandleRow{
					Time: gap, Open: prev, High: prev, Low: prev, Close: prev, Volume: decimal.Zero,
				})
			}
		}
		out = append(out, models.CandleRow{
			Time:   start,
			Open:   tick.Price,
			High:   tick.Price,
			Low:    tick.Price,
			Close:  tick.Price,
			Volume: tick.Volume,
		})
	}
	return out
}
