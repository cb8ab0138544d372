// OHLCV Downloader CLI
// This application downloads historical OHLCV (Open, High, Low, Close, Volume)
// candles from several cryptocurrency exchanges into append-only per-asset
// files, keeps them up to date and exports them to DuckDB.
//
// Usage:
//
//	ohlcv exchanges
//	ohlcv add --exchange Kraken --name btc --quote XBT --base USD --resolution minutes
//	ohlcv download --exchange Kraken --name btc
//	ohlcv update --all
//	ohlcv export --exchange Kraken --name btc
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/johnayoung/go-ohlcv-downloader/internal/catalog"
	"github.com/johnayoung/go-ohlcv-downloader/internal/collector"
	"github.com/johnayoung/go-ohlcv-downloader/internal/config"
	"github.com/johnayoung/go-ohlcv-downloader/internal/errors"
	"github.com/johnayoung/go-ohlcv-downloader/internal/exchange"
	"github.com/johnayoung/go-ohlcv-downloader/internal/logger"
	"github.com/johnayoung/go-ohlcv-downloader/internal/models"
	"github.com/johnayoung/go-ohlcv-downloader/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "ohlcv"
	ConfigFile = "ohlcv.yaml"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI represents the main CLI application
type CLI struct {
	configManager *config.ConfigManager
	config        *config.AppConfig
	loggers       *logger.LoggerManager
	logger        *slog.Logger

	registry exchange.Registry
	log      *storage.Log
	catalog  *catalog.Catalog
	orch     *collector.Orchestrator
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx, configPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %s\n", errors.UserMessage(err))
		os.Exit(ExitConfigError)
	}
	defer cli.loggers.Close()

	os.Exit(cli.run(ctx, command, args))
}

// run executes command and returns the process exit code.
func (cli *CLI) run(ctx context.Context, command string, args []string) int {
	handlers := map[string]func(context.Context, []string) error{
		"exchanges": cli.handleExchanges,
		"symbols":   cli.handleSymbols,
		"add":       cli.handleAdd,
		"list":      cli.handleList,
		"download":  cli.handleDownload,
		"update":    cli.handleUpdate,
		"delete":    cli.handleDelete,
		"export":    cli.handleExport,
		"config":    cli.handleConfig,
	}
	handler, ok := handlers[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}

	ctx = logger.WithOperation(ctx, command)
	if err := handler(ctx, args); err != nil {
		logger.FromContext(ctx, cli.logger).Error("command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", errors.UserMessage(err))
		return exitCode(err)
	}
	if ctx.Err() != nil {
		return ExitInterrupt
	}
	return ExitSuccess
}

// exitCode maps an error kind to a process exit code.
func exitCode(err error) int {
	var usage *usageError
	if stderrors.As(err, &usage) {
		return ExitUsageError
	}
	switch errors.KindOf(err) {
	case errors.KindConfiguration:
		return ExitConfigError
	case errors.KindNetwork, errors.KindProtocol:
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}

// configPath returns the config file named by OHLCV_CONFIG or the default one.
func configPath() string {
	if p := os.Getenv(config.EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return ConfigFile
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context, path string) error {
	// The configured logger does not exist yet; only warnings are shown until then.
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cli.configManager = config.NewConfigManager(path, bootstrap)
	cfg, err := cli.configManager.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	loggers, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.loggers = loggers
	cli.logger = loggers.GetComponentLogger("cli").Logger

	registry, err := exchange.NewRegistryFromConfig(cfg.Exchanges, loggers.GetComponentLogger("exchange").Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exchanges: %w", err)
	}
	cli.registry = registry

	cli.log = storage.NewLog(cfg.SavePath, loggers.GetComponentLogger("storage").Logger)
	cli.catalog = catalog.New()
	cli.orch = collector.New(registry, cli.log, cfg.Acquisition, loggers.GetComponentLogger("collector").Logger)

	return cli.loadCatalog(ctx)
}

// loadCatalog rebuilds the asset catalog from the save folder.
func (cli *CLI) loadCatalog(ctx context.Context) error {
	result, err := cli.log.Scan(ctx, cli.registry.Names())
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		cli.logger.Warn("skipping asset file", "error", w)
		fmt.Fprintf(os.Stderr, "Warning: %s\n", errors.UserMessage(w))
	}
	cli.catalog.Load(result.Assets)
	cli.logger.Debug("catalog loaded", "assets", cli.catalog.Len(), "save_path", cli.log.SavePath())
	return nil
}

// handleExchanges lists the enabled exchanges and their capabilities
func (cli *CLI) handleExchanges(ctx context.Context, args []string) error {
	if hasHelp(args) {
		printCommandHelp("exchanges")
		return nil
	}

	fmt.Printf("%-12s %-10s %-40s %s\n", "Exchange", "Max/req", "Resolutions", "Website")
	fmt.Println(strings.Repeat("-", 100))
	for _, name := range cli.registry.Names() {
		adapter, err := cli.registry.Get(name)
		if err != nil {
			return err
		}
		p := adapter.Profile()
		res := make([]string, 0, len(p.Resolutions))
		for _, r := range p.Resolutions {
			res = append(res, r.String())
		}
		fmt.Printf("%-12s %-10d %-40s %s\n", p.Name, p.MaxRequestUnits, strings.Join(res, ","), p.Website)
	}
	return nil
}

// handleSymbols lists the symbols offered by one or every exchange
func (cli *CLI) handleSymbols(ctx context.Context, args []string) error {
	flags, err := parseSymbolsFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("symbols")
		return nil
	}

	if flags.Exchange == "" {
		symbols, failures := cli.registry.ListAllSymbols(ctx)
		names := make([]string, 0, len(symbols)+len(failures))
		for name := range symbols {
			names = append(names, name)
		}
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err, failed := failures[name]; failed {
				fmt.Printf("%s: %s\n", name, errors.UserMessage(err))
				continue
			}
			fmt.Printf("%s (%d): %s\n", name, len(symbols[name]), strings.Join(symbols[name], " "))
		}
		return nil
	}

	adapter, err := cli.registry.Get(flags.Exchange)
	if err != nil {
		return err
	}
	symbols, err := adapter.ListSymbols(ctx)
	if err != nil {
		return err
	}
	if flags.JSON {
		return outputJSON(symbols)
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}

// handleAdd registers a new asset and creates its file
func (cli *CLI) handleAdd(ctx context.Context, args []string) error {
	flags, err := parseAddFlags(args, cli.config.Defaults)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("add")
		return nil
	}

	adapter, err := cli.registry.Get(flags.Exchange)
	if err != nil {
		return err
	}
	asset, err := flags.asset(adapter.Profile(), time.Now().UTC())
	if err != nil {
		return err
	}
	if err := cli.catalog.Add(asset); err != nil {
		return err
	}
	path, err := cli.log.Create(ctx, asset)
	if err != nil {
		_, _ = cli.catalog.Remove(asset.Exchange, asset.Name)
		return err
	}

	fmt.Println(adapter.Profile().Notice())
	fmt.Printf("\nAdded %s (%s %s) from %s to %s\nFile: %s\n",
		asset.Name, asset.Pair(), asset.Resolution,
		asset.RangeStart.Format(models.TimestampLayout),
		asset.RangeEnd.Format(models.TimestampLayout), path)
	return nil
}

// handleList prints the tracked assets
func (cli *CLI) handleList(ctx context.Context, args []string) error {
	flags, err := parseAssetFlags(args, false)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("list")
		return nil
	}

	exchanges := cli.registry.Names()
	if flags.Exchange != "" {
		adapter, err := cli.registry.Get(flags.Exchange)
		if err != nil {
			return err
		}
		exchanges = []string{adapter.Profile().Name}
	}

	var assets []*models.Asset
	for _, name := range exchanges {
		assets = append(assets, cli.catalog.List(name)...)
	}
	if flags.JSON {
		return outputJSON(assets)
	}
	return outputAssetTable(assets)
}

// handleDownload downloads the configured range of one asset
func (cli *CLI) handleDownload(ctx context.Context, args []string) error {
	flags, err := parseAssetFlags(args, true)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("download")
		return nil
	}

	asset, err := cli.catalog.Get(flags.Exchange, flags.Name)
	if err != nil {
		return err
	}
	job, err := cli.orch.Download(context.Background(), asset)
	if err != nil {
		return err
	}
	fmt.Printf("Downloading %s in %d parts\n", asset, job.PartsTotal)
	return cli.follow(ctx, 1)
}

// handleUpdate fetches everything after the watermark of one or all assets
func (cli *CLI) handleUpdate(ctx context.Context, args []string) error {
	flags, err := parseUpdateFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("update")
		return nil
	}

	var assets []*models.Asset
	if flags.All {
		for _, name := range cli.registry.Names() {
			for _, a := range cli.catalog.List(name) {
				if a.HasData() {
					assets = append(assets, a)
				}
			}
		}
		if len(assets) == 0 {
			fmt.Println("Nothing to update")
			return nil
		}
	} else {
		asset, err := cli.catalog.Get(flags.Exchange, flags.Name)
		if err != nil {
			return err
		}
		assets = append(assets, asset)
	}

	now := time.Now().UTC()
	started := 0
	var firstErr error
	for _, asset := range assets {
		job, err := cli.orch.Update(context.Background(), asset, now)
		if err != nil {
			if !flags.All {
				return err
			}
			fmt.Printf("%s: %s\n", asset, errors.UserMessage(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Printf("Updating %s in %d parts\n", asset, job.PartsTotal)
		started++
	}
	if err := cli.follow(ctx, started); err != nil {
		return err
	}
	return firstErr
}

// follow consumes orchestrator events until the given number of jobs ended.
// An interrupt cancels the running jobs cooperatively. The first job error is
// returned.
func (cli *CLI) follow(ctx context.Context, jobs int) error {
	var firstErr error
	interrupted := ctx.Done()
	for jobs > 0 {
		select {
		case <-interrupted:
			n := cli.orch.CancelAll()
			fmt.Printf("\nCancelling %d job(s) after the current part...\n", n)
			interrupted = nil
		case ev := <-cli.orch.Events():
			name := ev.AssetKey
			switch ev.Kind {
			case collector.EventProgress:
				fmt.Printf("%s: part %d of %d done, %d rows, last %s\n",
					name, ev.Part, ev.Total, ev.Rows, formatTime(ev.Watermark))
				cli.syncWatermark(ev)
				continue
			case collector.EventFinished:
				if ev.Total == 0 {
					fmt.Printf("%s: already up to date\n", name)
				} else {
					fmt.Printf("%s: download finished, %d rows\n", name, ev.Rows)
				}
			case collector.EventCancelled:
				fmt.Printf("%s: download cancelled after %d of %d parts\n", name, ev.Part, ev.Total)
			case collector.EventErrored:
				fmt.Printf("%s: download failed after %d of %d parts\n", name, ev.Part, ev.Total)
				if firstErr == nil {
					firstErr = ev.Err
				}
			}
			jobs--
		}
	}

	m := cli.orch.Metrics()
	cli.logger.Info("downloads complete",
		"windows", m.WindowsFetched,
		"rows", m.RowsWritten,
		"duplicates_dropped", m.DuplicatesDropped,
		"avg_fetch_time", m.AvgFetchTime)
	return firstErr
}

// syncWatermark mirrors a progress event into the catalog.
func (cli *CLI) syncWatermark(ev collector.Event) {
	if ev.Watermark == nil {
		return
	}
	exchangeName, _, _ := strings.Cut(ev.AssetKey, ":")
	if err := cli.catalog.SetWatermark(exchangeName, ev.AssetKey, *ev.Watermark); err != nil {
		cli.logger.Debug("catalog watermark not updated", "asset", ev.AssetKey, "error", err)
	}
}

// handleDelete removes an asset and its file
func (cli *CLI) handleDelete(ctx context.Context, args []string) error {
	flags, err := parseAssetFlags(args, true)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("delete")
		return nil
	}

	asset, err := cli.catalog.Get(flags.Exchange, flags.Name)
	if err != nil {
		return err
	}
	if cli.orch.IsRunning(asset.Key()) {
		return errors.NewConfigurationError("%s is downloading; cancel it first", asset)
	}
	if err := cli.log.Delete(ctx, asset); err != nil {
		return err
	}
	if _, err := cli.catalog.Remove(asset.Exchange, asset.Name); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", asset)
	return nil
}

// handleExport copies the rows of an asset into DuckDB
func (cli *CLI) handleExport(ctx context.Context, args []string) error {
	flags, err := parseExportFlags(args, cli.config.Export)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("export")
		return nil
	}

	asset, err := cli.catalog.Get(flags.Exchange, flags.Name)
	if err != nil {
		return err
	}
	rows, err := cli.log.ReadRows(ctx, asset)
	if err != nil {
		return err
	}

	exporter, err := storage.NewDuckDBExporter(flags.Database, flags.Table, cli.loggers.GetComponentLogger("export").Logger)
	if err != nil {
		return err
	}
	defer exporter.Close()
	if err := exporter.Initialize(ctx); err != nil {
		return err
	}

	var n int
	err = logger.TimedOperation(cli.logger, "export", func() error {
		n, err = exporter.Export(ctx, asset, rows)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d rows of %s to %s (table %s)\n", n, asset, flags.Database, flags.Table)
	return nil
}

// handleConfig shows or changes the configuration
func (cli *CLI) handleConfig(ctx context.Context, args []string) error {
	if len(args) == 0 || hasHelp(args) {
		printCommandHelp("config")
		return nil
	}
	switch args[0] {
	case "show":
		fmt.Println(cli.config.String())
		return nil
	case "set-save-path":
		if len(args) != 2 {
			return newUsageError("set-save-path requires exactly one folder")
		}
		if err := cli.configManager.SetSavePath(args[1]); err != nil {
			return errors.NewConfigurationError("%v", err)
		}
		fmt.Printf("Save folder set to %s\n", cli.config.SavePath)
		return nil
	default:
		return newUsageError("unknown config command: %s", args[0])
	}
}

// Output helpers

// outputJSON writes v as indented JSON
func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputAssetTable formats assets as a table
func outputAssetTable(assets []*models.Asset) error {
	if len(assets) == 0 {
		fmt.Println("No assets. Use 'ohlcv add' to track one.")
		return nil
	}

	fmt.Printf("%-10s %-12s %-10s %-8s %-20s %-20s %-20s\n",
		"Exchange", "Name", "Pair", "Res", "Start", "End", "Last candle")
	fmt.Println(strings.Repeat("-", 108))
	for _, a := range assets {
		fmt.Printf("%-10s %-12s %-10s %-8s %-20s %-20s %-20s\n",
			a.Exchange, a.Name, a.Pair(), a.Resolution,
			a.RangeStart.Format(models.TimestampLayout),
			a.RangeEnd.Format(models.TimestampLayout),
			formatTime(a.Watermark))
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(models.TimestampLayout)
}
