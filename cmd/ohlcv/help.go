package main

import "fmt"

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - OHLCV Downloader CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    exchanges   List the enabled exchanges and what they support
    symbols     List the symbols an exchange trades
    add         Track a new asset and create its file
    list        List tracked assets and their last candle
    download    Download the configured range of an asset
    update      Download everything after the last candle up to now
    delete      Stop tracking an asset and delete its file
    export      Copy the candles of an asset into DuckDB
    config      Show the configuration or change the save folder

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Track BTC/USD minute candles on Kraken since 1 January 2020
    %s add --exchange Kraken --name btc --quote XBT --base USD --resolution minutes

    # Download it, then keep it up to date
    %s download --exchange Kraken --name btc
    %s update --all

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (or the file named by OHLCV_CONFIG)
    - A .env file in the working directory
    - Environment variables: OHLCV_* (e.g., OHLCV_SAVE_PATH)

Press Ctrl+C during a download to stop after the current part; the next
download or update resumes after the last saved candle.

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "exchanges":
		fmt.Printf(`%s exchanges - List the enabled exchanges

USAGE:
    %s exchanges

Shows each exchange with the largest number of candles one request may cover,
the resolutions it offers and its web site.
`, AppName, AppName)

	case "symbols":
		fmt.Printf(`%s symbols - List tradable symbols

USAGE:
    %s symbols [options]

OPTIONS:
    --exchange, -x NAME   Only query this exchange (default: all, concurrently)
    --json                Print a JSON array
`, AppName, AppName)

	case "add":
		fmt.Printf(`%s add - Track a new asset

USAGE:
    %s add [options]

OPTIONS:
    --exchange, -x NAME     Exchange (required)
    --name, -n NAME         Alphanumeric label, unique per exchange (required)
    --quote, -q SYMBOL      Quote symbol, e.g. BTC (required)
    --base, -b SYMBOL       Base symbol, e.g. USD (required)
    --resolution, -r RES    minutes, hours, days, weeks or months (default: days)
    --start-date DD-MM-YYYY Range start date (default from config)
    --start-hour HH:mm:ss   Range start hour (default from config)
    --end-date DD-MM-YYYY   Range end date (default: now)
    --end-hour HH:mm:ss     Range end hour (default: 00:00:00)
`, AppName, AppName)

	case "list":
		fmt.Printf(`%s list - List tracked assets

USAGE:
    %s list [--exchange NAME] [--json]
`, AppName, AppName)

	case "download":
		fmt.Printf(`%s download - Download the configured range of an asset

USAGE:
    %s download --exchange NAME --name NAME

A download interrupted earlier resumes after the last saved candle. A complete
download is refused; use update instead.
`, AppName, AppName)

	case "update":
		fmt.Printf(`%s update - Download new candles up to now

USAGE:
    %s update --exchange NAME --name NAME
    %s update --all

The asset must have been downloaded at least once.
`, AppName, AppName, AppName)

	case "delete":
		fmt.Printf(`%s delete - Stop tracking an asset and delete its file

USAGE:
    %s delete --exchange NAME --name NAME
`, AppName, AppName)

	case "export":
		fmt.Printf(`%s export - Copy the candles of an asset into DuckDB

USAGE:
    %s export --exchange NAME --name NAME [--db PATH] [--table NAME]

Re-exporting an asset replaces its previous rows.
`, AppName, AppName)

	case "config":
		fmt.Printf(`%s config - Show or change the configuration

USAGE:
    %s config show
    %s config set-save-path FOLDER

The save folder is written back to the config file.
`, AppName, AppName, AppName)

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
