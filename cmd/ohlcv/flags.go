package main

import (
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/exchange"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
)

// usageError reports a malformed command line.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// SymbolsFlags represents flags for the symbols command
type SymbolsFlags struct {
	Exchange string
	JSON     bool
	Help     bool
}

// AssetFlags selects one tracked asset
type AssetFlags struct {
	Exchange string
	Name     string
	JSON     bool
	Help     bool
}

// AddFlags represents flags for the add command
type AddFlags struct {
	Exchange   string
	Name       string
	Quote      string
	Base       string
	Resolution string
	StartDate  string
	StartHour  string
	EndDate    string
	EndHour    string
	Help       bool
}

// UpdateFlags represents flags for the update command
type UpdateFlags struct {
	AssetFlags
	All bool
}

// ExportFlags represents flags for the export command
type ExportFlags struct {
	AssetFlags
	Database string
	Table    string
}

// Flag parsing functions

// flagValue returns the value following args[*i] and advances i past it.
func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", newUsageError("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func hasHelp(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// parseSymbolsFlags parses command line arguments for the symbols command
func parseSymbolsFlags(args []string) (*SymbolsFlags, error) {
	flags := &SymbolsFlags{}
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--exchange", "-x":
			flags.Exchange, err = flagValue(args, &i)
		case "--json":
			flags.JSON = true
		case "--help", "-h":
			flags.Help = true
		default:
			err = newUsageError("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}

// parseAssetFlags parses --exchange and --name. When requireName is set both
// are mandatory.
func parseAssetFlags(args []string, requireName bool) (*AssetFlags, error) {
	flags := &AssetFlags{}
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--exchange", "-x":
			flags.Exchange, err = flagValue(args, &i)
		case "--name", "-n":
			flags.Name, err = flagValue(args, &i)
		case "--json":
			flags.JSON = true
		case "--help", "-h":
			flags.Help = true
		default:
			err = newUsageError("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	if requireName && !flags.Help {
		if err := flags.requireAsset(); err != nil {
			return nil, err
		}
	}
	return flags, nil
}

func (f *AssetFlags) requireAsset() error {
	if f.Exchange == "" {
		return newUsageError("--exchange is required")
	}
	if f.Name == "" {
		return newUsageError("--name is required")
	}
	return nil
}

// parseUpdateFlags parses command line arguments for the update command
func parseUpdateFlags(args []string) (*UpdateFlags, error) {
	flags := &UpdateFlags{}
	rest := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--all" || a == "-a" {
			flags.All = true
			continue
		}
		rest = append(rest, a)
	}
	asset, err := parseAssetFlags(rest, false)
	if err != nil {
		return nil, err
	}
	flags.AssetFlags = *asset
	if flags.Help || flags.All {
		return flags, nil
	}
	if err := flags.requireAsset(); err != nil {
		return nil, newUsageError("%v (or use --all)", err)
	}
	return flags, nil
}

// parseExportFlags parses command line arguments for the export command
func parseExportFlags(args []string, defaults config.ExportConfig) (*ExportFlags, error) {
	flags := &ExportFlags{Database: defaults.DatabasePath, Table: defaults.Table}
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--db":
			flags.Database, err = flagValue(args, &i)
		case "--table":
			flags.Table, err = flagValue(args, &i)
		default:
			rest = append(rest, args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	asset, err := parseAssetFlags(rest, true)
	if err != nil {
		return nil, err
	}
	flags.AssetFlags = *asset
	return flags, nil
}

// parseAddFlags parses command line arguments for the add command. The start
// date and hour default to the configured defaults; the end defaults to now.
func parseAddFlags(args []string, defaults config.DefaultsConfig) (*AddFlags, error) {
	flags := &AddFlags{
		Resolution: string(models.ResolutionDays),
		StartDate:  defaults.StartDate,
		StartHour:  defaults.StartHour,
	}
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--exchange", "-x":
			flags.Exchange, err = flagValue(args, &i)
		case "--name", "-n":
			flags.Name, err = flagValue(args, &i)
		case "--quote", "-q":
			flags.Quote, err = flagValue(args, &i)
		case "--base", "-b":
			flags.Base, err = flagValue(args, &i)
		case "--resolution", "-r":
			flags.Resolution, err = flagValue(args, &i)
		case "--start-date":
			flags.StartDate, err = flagValue(args, &i)
		case "--start-hour":
			flags.StartHour, err = flagValue(args, &i)
		case "--end-date":
			flags.EndDate, err = flagValue(args, &i)
		case "--end-hour":
			flags.EndHour, err = flagValue(args, &i)
		case "--help", "-h":
			flags.Help = true
		default:
			err = newUsageError("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	if flags.Help {
		return flags, nil
	}
	required := []struct{ flag, value string }{
		{"--exchange", flags.Exchange},
		{"--name", flags.Name},
		{"--quote", flags.Quote},
		{"--base", flags.Base},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, newUsageError("%s is required", r.flag)
		}
	}
	return flags, nil
}

// asset builds the asset described by the flags for the exchange of profile.
func (f *AddFlags) asset(profile exchange.Profile, now time.Time) (*models.Asset, error) {
	res, err := models.ParseResolution(f.Resolution)
	if err != nil {
		return nil, err
	}
	if !profile.Supports(res) {
		return nil, newUsageError("%s does not support %s candles", profile.Name, res)
	}

	start, err := models.ParseDateTime(f.StartDate, f.StartHour)
	if err != nil {
		return nil, err
	}

	end := now.UTC().Truncate(time.Second)
	if f.EndDate != "" {
		hour := f.EndHour
		if hour == "" {
			hour = "00:00:00"
		}
		end, err = models.ParseDateTime(f.EndDate, hour)
		if err != nil {
			return nil, err
		}
	}

	return models.NewAsset(f.Name, profile.Name, f.Quote, f.Base, res, start, end)
}
