package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/exchange"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

func TestParseAddFlags(t *testing.T) {
	defaults := config.DefaultsConfig{StartDate: "01-01-2020", StartHour: "00:00:00"}

	t.Run("defaults", func(t *testing.T) {
		flags, err := parseAddFlags([]string{"-x", "Kraken", "-n", "btc", "-q", "xbt", "-b", "usd"}, defaults)
		require.NoError(t, err)
		assert.Equal(t, "days", flags.Resolution)
		assert.Equal(t, "01-01-2020", flags.StartDate)
		assert.Empty(t, flags.EndDate)
	})

	t.Run("missing required flag", func(t *testing.T) {
		_, err := parseAddFlags([]string{"--exchange", "Kraken", "--name", "btc"}, defaults)
		require.Error(t, err)
		assert.Equal(t, "--quote is required", err.Error())
		assert.Equal(t, ExitUsageError, exitCode(err))
	})

	t.Run("flag without value", func(t *testing.T) {
		_, err := parseAddFlags([]string{"--exchange"}, defaults)
		assert.EqualError(t, err, "--exchange requires a value")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseAddFlags([]string{"--pair", "BTC-USD"}, defaults)
		assert.EqualError(t, err, "unknown flag: --pair")
	})
}

func TestAddFlagsAsset(t *testing.T) {
	profile := exchange.KrakenProfile
	now := time.Date(2024, 3, 5, 10, 30, 15, 0, time.UTC)

	flags := &AddFlags{
		Exchange: "kraken", Name: "btc", Quote: "xbt", Base: "usd",
		Resolution: "Minutes", StartDate: "01-01-2020", StartHour: "00:00:00",
	}
	asset, err := flags.asset(profile, now)
	require.NoError(t, err)
	assert.Equal(t, "Kraken", asset.Exchange, "exchange takes the profile spelling")
	assert.Equal(t, "XBT", asset.Quote)
	assert.Equal(t, models.ResolutionMinutes, asset.Resolution)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), asset.RangeStart)
	assert.Equal(t, now, asset.RangeEnd)

	flags.Resolution = "days"
	_, err = flags.asset(profile, now)
	assert.Equal(t, ExitUsageError, exitCode(err), "kraken only offers minutes")

	flags.Resolution = "minutes"
	flags.EndDate = "01-01-2019"
	_, err = flags.asset(profile, now)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration), "end before start")
}

func TestParseUpdateFlags(t *testing.T) {
	flags, err := parseUpdateFlags([]string{"--all"})
	require.NoError(t, err)
	assert.True(t, flags.All)

	flags, err = parseUpdateFlags([]string{"-x", "Exmo", "-n", "eth"})
	require.NoError(t, err)
	assert.Equal(t, "Exmo", flags.Exchange)
	assert.Equal(t, "eth", flags.Name)

	_, err = parseUpdateFlags([]string{"-x", "Exmo"})
	assert.EqualError(t, err, "--name is required (or use --all)")
}

func TestParseExportFlags(t *testing.T) {
	defaults := config.ExportConfig{DatabasePath: "ohlcv.duckdb", Table: "candles"}

	flags, err := parseExportFlags([]string{"-x", "Bitfinex", "-n", "btc"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "ohlcv.duckdb", flags.Database)
	assert.Equal(t, "candles", flags.Table)

	flags, err = parseExportFlags([]string{"--db", "/tmp/x.duckdb", "-x", "Bitfinex", "--table", "btc", "-n", "btc"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.duckdb", flags.Database)
	assert.Equal(t, "btc", flags.Table)
	assert.Equal(t, "Bitfinex", flags.Exchange)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewConfigurationError("bad"), ExitConfigError},
		{errors.NewProtocolError("Exmo", "boom", ""), ExitConnectionErr},
		{errors.NewNotFoundError("asset"), ExitDataError},
		{newUsageError("oops"), ExitUsageError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}
