// Package storage persists candles. The primary store is an append-only text
// log per asset whose first line describes the asset and whose last line holds
// the watermark, so a download can resume without any separate index. A DuckDB
// exporter loads finished logs into a table for analysis.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

const (
	headerSentinel = "#"
	separatorLine  = "#-----------------------------------------------------------"
	columnsLine    = "Time;HighPrice;LowPrice;OpenPrice;ClosePrice;Volume"
	fieldSep       = ";"

	// Header, separator and column lines precede the first row.
	preambleLines = 3
)

// RowWriter creates asset logs and appends rows to them.
type RowWriter interface {
	// Create writes the preamble of a new log. It fails with an
	// AlreadyExists error when the log is already present.
	Create(ctx context.Context, asset *models.Asset) (string, error)

	// Append writes rows at the end of an existing log. Rows must be in
	// increasing time order and newer than the current watermark.
	Append(ctx context.Context, asset *models.Asset, rows []models.CandleRow) error
}

// RowReader reads persisted rows back.
type RowReader interface {
	// ReadWatermark returns the time of the last persisted row, or nil when
	// the log holds no rows yet.
	ReadWatermark(ctx context.Context, asset *models.Asset) (*time.Time, error)

	// ReadRows returns every persisted row in file order.
	ReadRows(ctx context.Context, asset *models.Asset) ([]models.CandleRow, error)
}

// AssetLog is the complete persistence surface used by the orchestrator and
// the command line.
type AssetLog interface {
	RowWriter
	RowReader

	// Exists reports whether the asset's log is present.
	Exists(asset *models.Asset) bool

	// Delete removes the log and, when it was the last one, the exchange
	// directory.
	Delete(ctx context.Context, asset *models.Asset) error
}

// Header is the decoded first line of an asset log.
type Header struct {
	Name       string
	Quote      string
	Base       string
	Start      time.Time
	End        time.Time
	Resolution models.Resolution
}

// HeaderFor builds the header describing asset.
func HeaderFor(asset *models.Asset) Header {
	return Header{
		Name:       asset.Name,
		Quote:      asset.Quote,
		Base:       asset.Base,
		Start:      asset.RangeStart.UTC(),
		End:        asset.RangeEnd.UTC(),
		Resolution: asset.Resolution,
	}
}

// String renders the header line without its trailing newline.
func (h Header) String() string {
	return fmt.Sprintf("%s%s %s %s %s %s %s %s %s", headerSentinel,
		h.Name, h.Quote, h.Base,
		h.Start.Format(models.DateLayout), h.Start.Format(models.HourLayout),
		h.End.Format(models.DateLayout), h.End.Format(models.HourLayout),
		h.Resolution)
}

// Asset rebuilds the asset described by the header on exchange.
func (h Header) Asset(exchange string) (*models.Asset, error) {
	return models.NewAsset(h.Name, exchange, h.Quote, h.Base, h.Resolution, h.Start, h.End)
}

// ParseHeader decodes a header line. path is only used in error messages.
func ParseHeader(path, line string) (Header, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, headerSentinel) || strings.HasPrefix(line, separatorLine) {
		return Header{}, errors.NewFormatError(path, "first line is not an asset header")
	}
	fields := strings.Fields(strings.TrimPrefix(line, headerSentinel))
	if len(fields) != 8 {
		return Header{}, errors.NewFormatError(path, fmt.Sprintf("asset header has %d fields, expected 8", len(fields)))
	}
	start, err := models.ParseDateTime(fields[3], fields[4])
	if err != nil {
		return Header{}, errors.NewFormatError(path, "invalid start date in header")
	}
	end, err := models.ParseDateTime(fields[5], fields[6])
	if err != nil {
		return Header{}, errors.NewFormatError(path, "invalid end date in header")
	}
	res, err := models.ParseResolution(fields[7])
	if err != nil {
		return Header{}, errors.NewFormatError(path, fmt.Sprintf("invalid resolution %q in header", fields[7]))
	}
	return Header{
		Name:       fields[0],
		Quote:      fields[1],
		Base:       fields[2],
		Start:      start,
		End:        end,
		Resolution: res,
	}, nil
}

// FormatRow renders a row in persisted column order.
func FormatRow(row models.CandleRow) string {
	return strings.Join([]string{
		row.Time.UTC().Format(models.TimestampLayout),
		row.High.String(),
		row.Low.String(),
		row.Open.String(),
		row.Close.String(),
		row.Volume.String(),
	}, fieldSep)
}

// ParseRow decodes a persisted row. Columns after Volume are ignored.
func ParseRow(line string) (models.CandleRow, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), fieldSep)
	if len(fields) < 6 {
		return models.CandleRow{}, fmt.Errorf("row has %d columns, expected at least 6", len(fields))
	}
	t, err := time.ParseInLocation(models.TimestampLayout, fields[0], time.UTC)
	if err != nil {
		return models.CandleRow{}, fmt.Errorf("invalid row time %q", fields[0])
	}
	values := make([]decimal.Decimal, 5)
	for i := range values {
		if values[i], err = decimal.NewFromString(fields[i+1]); err != nil {
			return models.CandleRow{}, fmt.Errorf("invalid value %q in column %d", fields[i+1], i+2)
		}
	}
	return models.CandleRow{
		Time:   t,
		High:   values[0],
		Low:    values[1],
		Open:   values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}
