package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/logger"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// assetPredicate selects the rows of one asset identity.
const assetPredicate = "exchange = ? AND pair = ? AND resolution = ? AND range_start = ?"

// DuckDBExporter loads asset logs into a DuckDB table, one row per candle
// keyed by the asset identity (exchange, pair, resolution, range start) and
// the candle time.
type DuckDBExporter struct {
	db     *sql.DB
	dbPath string
	table  string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewDuckDBExporter opens the database at dbPath, which may be ":memory:".
func NewDuckDBExporter(dbPath, table string, log *slog.Logger) (*DuckDBExporter, error) {
	if log == nil {
		log = logger.Discard()
	}
	if !tableNamePattern.MatchString(table) {
		return nil, errors.NewConfigurationError("invalid export table name %q", table)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, errors.NewStorageError("open", dbPath, fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// DuckDB allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBExporter{
		db:     db,
		dbPath: dbPath,
		table:  table,
		logger: log.With("component", "export"),
	}, nil
}

// Initialize creates the candles table.
func (d *DuckDBExporter) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, setting := range []string{
		"SET threads = 4",
		"SET enable_progress_bar = false",
	} {
		if _, err := d.db.ExecContext(ctx, setting); err != nil {
			d.logger.Warn("failed to set configuration", "config", setting, "error", err)
		}
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		exchange VARCHAR NOT NULL,
		pair VARCHAR NOT NULL,
		resolution VARCHAR NOT NULL,
		range_start TIMESTAMPTZ NOT NULL,
		time TIMESTAMPTZ NOT NULL,
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE NOT NULL,
		exported_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (exchange, pair, resolution, range_start, time),
		CHECK (volume >= 0)
	)`, d.table)
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return errors.NewStorageError("initialize", d.table, fmt.Errorf("failed to create table: %w", err))
	}

	d.logger.Info("DuckDB export initialized", "db_path", d.dbPath, "table", d.table)
	return nil
}

// Export replaces the rows stored for asset with rows, using the DuckDB
// appender for the bulk insert. The delete and the insert share one
// transaction, so a failed export leaves the previous rows in place. Rows
// failing validation are skipped and logged; the number of exported rows is
// returned.
func (d *DuckDBExporter) Export(ctx context.Context, asset *models.Asset, rows []models.CandleRow) (int, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("database connection is closed"))
	}

	start := time.Now()

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("failed to begin transaction: %w", err))
	}
	exported, err := d.replaceRows(ctx, conn, asset, rows)
	if err != nil {
		if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
			d.logger.Error("failed to roll back export", "asset", asset.Key(), "error", rbErr)
		}
		return 0, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("failed to commit export: %w", err))
	}

	d.logger.Info("asset exported",
		"asset", asset.Key(),
		"rows", exported,
		"skipped", len(rows)-exported,
		"duration", time.Since(start))
	return exported, nil
}

// replaceRows deletes the asset's rows and appends the valid ones on conn.
func (d *DuckDBExporter) replaceRows(ctx context.Context, conn *sql.Conn, asset *models.Asset, rows []models.CandleRow) (int, error) {
	pair := exportPair(asset)
	rangeStart := asset.RangeStart.UTC()

	del := fmt.Sprintf("DELETE FROM %s WHERE %s", d.table, assetPredicate)
	if _, err := conn.ExecContext(ctx, del, asset.Exchange, pair, string(asset.Resolution), rangeStart); err != nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("failed to clear previous export: %w", err))
	}

	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return 0, errors.NewStorageError("export", d.table, err)
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", d.table)
	if err != nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("failed to create appender: %w", err))
	}

	exportedAt := time.Now().UTC()
	exported := 0
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			d.logger.Warn("skipping invalid row",
				"asset", asset.Key(),
				"time", row.Time.Format(models.TimestampLayout),
				"error", err)
			continue
		}
		open, _ := row.Open.Float64()
		high, _ := row.High.Float64()
		low, _ := row.Low.Float64()
		closePrice, _ := row.Close.Float64()
		volume, _ := row.Volume.Float64()
		if err := appender.AppendRow(
			asset.Exchange, pair, string(asset.Resolution), rangeStart, row.Time.UTC(),
			open, high, low, closePrice, volume, exportedAt,
		); err != nil {
			appender.Close()
			return 0, errors.NewStorageError("export", d.table,
				fmt.Errorf("failed to append row %s: %w", row.Time.Format(models.TimestampLayout), err))
		}
		exported++
	}
	// Close flushes the remaining rows.
	if err := appender.Close(); err != nil {
		return 0, errors.NewStorageError("export", d.table, fmt.Errorf("failed to flush appender: %w", err))
	}
	return exported, nil
}

// Count returns how many rows are stored for asset.
func (d *DuckDBExporter) Count(ctx context.Context, asset *models.Asset) (int, error) {
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return 0, errors.NewStorageError("count", d.table, fmt.Errorf("database connection is closed"))
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", d.table, assetPredicate)
	var n int
	err := db.QueryRowContext(ctx, query,
		asset.Exchange, exportPair(asset), string(asset.Resolution), asset.RangeStart.UTC()).Scan(&n)
	if err != nil {
		return 0, errors.NewStorageError("count", d.table, err)
	}
	return n, nil
}

func exportPair(asset *models.Asset) string {
	return asset.Quote + "-" + asset.Base
}

// Close shuts the database down.
func (d *DuckDBExporter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			return errors.NewStorageError("close", d.dbPath, fmt.Errorf("failed to close database: %w", err))
		}
		d.db = nil
	}
	return nil
}
