package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// Canonical column names, in persisted order after Time.
const (
	ColTime   = "Time"
	ColHigh   = "HighPrice"
	ColLow    = "LowPrice"
	ColOpen   = "OpenPrice"
	ColClose  = "ClosePrice"
	ColVolume = "Volume"
)

// CanonicalColumns lists the columns of a persisted row.
var CanonicalColumns = []string{ColTime, ColHigh, ColLow, ColOpen, ColClose, ColVolume}

// timeParser turns the time field of a raw row into UTC.
type timeParser func(gjson.Result) (time.Time, error)

// mapRow maps one raw row into a canonical candle using schema, whose values
// are gjson paths relative to the row: field names for objects, indexes for
// positional arrays.
func mapRow(row gjson.Result, schema map[string]string, parseTime timeParser) (models.CandleRow, error) {
	t, err := parseTime(row.Get(schema[ColTime]))
	if err != nil {
		return models.CandleRow{}, err
	}
	out := models.CandleRow{Time: t}
	for _, f := range []struct {
		col string
		dst *decimal.Decimal
	}{
		{ColOpen, &out.Open},
		{ColHigh, &out.High},
		{ColLow, &out.Low},
		{ColClose, &out.Close},
		{ColVolume, &out.Volume},
	} {
		if *f.dst, err = decimalOf(f.col, row.Get(schema[f.col])); err != nil {
			return models.CandleRow{}, err
		}
	}
	return out, nil
}

// mapRows maps every element of the rows array.
func mapRows(rows gjson.Result, schema map[string]string, parseTime timeParser) ([]models.CandleRow, error) {
	if !rows.IsArray() {
		return nil, fmt.Errorf("expected an array of candles, got %s", truncate(rows.Raw, 120))
	}
	out := make([]models.CandleRow, 0, len(rows.Array()))
	var mapErr error
	rows.ForEach(func(i, row gjson.Result) bool {
		candle, err := mapRow(row, schema, parseTime)
		if err != nil {
			mapErr = fmt.Errorf("row %d: %w", i.Int(), err)
			return false
		}
		out = append(out, candle)
		return true
	})
	if mapErr != nil {
		return nil, mapErr
	}
	return out, nil
}
