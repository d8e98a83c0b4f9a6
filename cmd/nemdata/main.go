// NEM Telemetry Collector CLI
// Fetches electricity market telemetry (demand, generation by fuel, spot
// price, temperature) for Australian NEM regions, validates it onto a fixed
// interval grid, imputes gaps, and persists the result.
//
// Usage:
//
//	nemdata collect --region SA --start 2020-01-01 --end 2020-01-08
//	nemdata load --region SA --start 2020-01-01 --end 2020-01-02
//	nemdata summarize --region SA --start 2020-01-01 --end 2020-01-08
//	nemdata plot --region SA --start 2020-01-01 --end 2020-01-02 --fields demand_mw
//
// For detailed help on any command, use: nemdata <command> --help
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/benmccoy/go-nem-collector/internal/collector"
	"github.com/benmccoy/go-nem-collector/internal/config"
	"github.com/benmccoy/go-nem-collector/internal/logger"
	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
	"github.com/benmccoy/go-nem-collector/internal/provider"
	"github.com/benmccoy/go-nem-collector/internal/stats"
	"github.com/benmccoy/go-nem-collector/internal/storage"
)

const (
	Version    = "1.0.0"
	AppName    = "nemdata"
	ConfigFile = "nemdata.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitSourceError = 3
	ExitDataError   = 4
	ExitInterrupt   = 130
)

type CLI struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.DatasetStore
	collector *collector.Collector
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "version", "--version", "-v":
		fmt.Printf("%s %s\n", AppName, Version)
		os.Exit(ExitSuccess)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(ExitSuccess)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &CLI{}
	if err := cli.initialize(command, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.store.Close()

	var err error
	switch command {
	case "collect":
		err = cli.handleCollect(ctx, args)
	case "load":
		err = cli.handleLoad(ctx, args)
	case "summarize":
		err = cli.handleSummarize(ctx, args)
	case "plot":
		err = cli.handlePlot(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "interrupted")
			os.Exit(ExitInterrupt)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case nemerrors.IsRetryable(err):
		return ExitSourceError
	case isUsage(err):
		return ExitUsageError
	default:
		return ExitDataError
	}
}

func isUsage(err error) bool {
	return err == flag.ErrHelp || strings.Contains(err.Error(), "invalid range")
}

// initialize loads configuration and wires the pipeline. The --config and
// --mock flags are read ahead of the per-command flag sets because every
// command needs them before its own flags are parsed.
func (cli *CLI) initialize(command string, args []string) error {
	configPath := ConfigFile
	useMock := false
	for i, a := range args {
		switch a {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
			}
		case "--mock":
			useMock = true
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cli.cfg = cfg
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	cli.logger = log

	store, err := createStore(cfg, cli.logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	cli.store = store

	var prov provider.Provider
	if useMock {
		prov = provider.NewMockProvider()
	} else {
		limiter := rate.NewLimiter(rate.Limit(float64(cfg.Provider.RateLimitPerMinute)/60.0), 1)
		prov = provider.NewHTTPProvider(cfg.Provider, limiter, cli.logger)
	}

	cli.collector = collector.New(cfg, prov, store, cli.logger)
	return nil
}

func createStore(cfg *config.Config, log *slog.Logger) (storage.DatasetStore, error) {
	switch cfg.Storage.Type {
	case "csv", "":
		return storage.NewCSVStore(cfg.Storage.Dir, log)
	case "duckdb":
		return storage.NewDuckDBStore(cfg.Storage.DatabasePath, log)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// seriesFlags are the flags every command shares.
type seriesFlags struct {
	region     models.Region
	resolution models.Resolution
	rng        models.Range
}

func registerCommonFlags(fs *flag.FlagSet) (region, resolution, start, end *string) {
	region = fs.String("region", "", "NEM region (SA, NSW, QLD, TAS, VIC)")
	resolution = fs.String("resolution", "30m", "grid resolution (5m or 30m)")
	start = fs.String("start", "", "range start, YYYY-MM-DD or RFC3339 (inclusive)")
	end = fs.String("end", "", "range end, YYYY-MM-DD or RFC3339 (exclusive)")
	fs.String("config", ConfigFile, "path to the config file")
	fs.Bool("mock", false, "use the deterministic mock source instead of the network")
	return region, resolution, start, end
}

func resolveCommonFlags(region, resolution, start, end string) (seriesFlags, error) {
	var out seriesFlags
	var err error

	if out.region, err = models.ParseRegion(region); err != nil {
		return out, err
	}
	if out.resolution, err = models.ParseResolution(resolution); err != nil {
		return out, err
	}
	if out.rng.Start, err = parseTime(start); err != nil {
		return out, fmt.Errorf("bad --start: %w", err)
	}
	if out.rng.End, err = parseTime(end); err != nil {
		return out, fmt.Errorf("bad --end: %w", err)
	}
	return out, out.rng.Validate()
}

// parseTime accepts a bare date (interpreted as market-time midnight) or a
// full RFC3339 timestamp.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("required")
	}
	if t, err := time.ParseInLocation("2006-01-02", s, models.MarketTime); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseFields(s string) ([]models.FieldName, error) {
	if s == "" {
		return nil, nil
	}
	known := make(map[models.FieldName]bool)
	for _, f := range models.AllFields() {
		known[f] = true
	}
	var fields []models.FieldName
	for _, part := range strings.Split(s, ",") {
		f := models.FieldName(strings.TrimSpace(part))
		if !known[f] {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (cli *CLI) handleCollect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	region, resolution, start, end := registerCommonFlags(fs)
	strategy := fs.String("strategy", "", "imputation strategy (none, forward_fill, linear_interpolate, seasonal_mean, daily_mean, median); default from config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	common, err := resolveCommonFlags(*region, *resolution, *start, *end)
	if err != nil {
		return err
	}

	req := collector.CollectRequest{
		Region:     common.region,
		Resolution: common.resolution,
		Range:      common.rng,
		Strategy:   models.ImputeStrategy(*strategy),
	}
	result, err := cli.collector.Collect(ctx, req)
	if result != nil {
		fmt.Printf("collected %s %s %s: %d sub-ranges ok, %d partial, %d failed, %d records stored\n",
			common.region, common.resolution, common.rng,
			len(result.Succeeded), len(result.Partial), len(result.Failed), result.Records())
		for _, o := range result.Partial {
			fmt.Printf("  partial %s: %d gaps unresolved\n", o.Range, len(o.Imputation.Unresolved))
		}
		for _, o := range result.Failed {
			fmt.Printf("  failed %s: %v\n", o.Range, o.Err)
		}
	}
	return err
}

func (cli *CLI) handleLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	region, resolution, start, end := registerCommonFlags(fs)
	format := fs.String("format", "table", "output format: table or json")
	allowPartial := fs.Bool("allow-partial", false, "accept partially covered ranges")
	if err := fs.Parse(args); err != nil {
		return err
	}
	common, err := resolveCommonFlags(*region, *resolution, *start, *end)
	if err != nil {
		return err
	}

	ds, err := cli.collector.Load(ctx, common.region, common.resolution, common.rng)
	if err != nil {
		var partial *nemerrors.PartialCoverageError
		if ok := asPartial(err, &partial); !ok || !*allowPartial {
			return err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", partial)
	}

	switch *format {
	case "json":
		return outputJSON(ds)
	case "table":
		table, _ := ds.Table(nil, true)
		sink := &collector.WriterSink{W: os.Stdout}
		return sink.Render(ctx, table)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func (cli *CLI) handleSummarize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("summarize", flag.ContinueOnError)
	region, resolution, start, end := registerCommonFlags(fs)
	fieldsFlag := fs.String("fields", "", "comma-separated fields; default all")
	includeSuspect := fs.Bool("include-suspect", false, "include suspect samples in the statistics")
	excludeImputed := fs.Bool("exclude-imputed", false, "exclude imputed samples from the statistics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	common, err := resolveCommonFlags(*region, *resolution, *start, *end)
	if err != nil {
		return err
	}
	fields, err := parseFields(*fieldsFlag)
	if err != nil {
		return err
	}

	summary, err := cli.collector.Summarize(ctx, common.region, common.resolution, common.rng, fields, stats.Options{
		IncludeSuspect: *includeSuspect,
		ExcludeImputed: *excludeImputed,
	})
	if err != nil {
		var partial *nemerrors.PartialCoverageError
		if !asPartial(err, &partial) {
			return err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", partial)
	}
	printSummary(summary)
	return nil
}

func (cli *CLI) handlePlot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	region, resolution, start, end := registerCommonFlags(fs)
	fieldsFlag := fs.String("fields", "", "comma-separated fields; default all")
	output := fs.String("output", "", "write the table to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	common, err := resolveCommonFlags(*region, *resolution, *start, *end)
	if err != nil {
		return err
	}
	fields, err := parseFields(*fieldsFlag)
	if err != nil {
		return err
	}

	ds, err := cli.collector.Load(ctx, common.region, common.resolution, common.rng)
	if err != nil {
		var partial *nemerrors.PartialCoverageError
		if !asPartial(err, &partial) {
			return err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", partial)
	}

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return cli.collector.Plot(ctx, ds, fields, &collector.WriterSink{W: w})
}

func asPartial(err error, target **nemerrors.PartialCoverageError) bool {
	return errors.As(err, target)
}

func printSummary(summary map[models.FieldName]stats.FieldStatistics) {
	fields := make([]string, 0, len(summary))
	for f := range summary {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)

	fmt.Printf("%-22s %8s %12s %12s %12s %12s %12s %14s %8s\n",
		"field", "count", "mean", "std", "median", "min", "max", "sum", "missing")
	for _, f := range fields {
		s := summary[models.FieldName(f)]
		fmt.Printf("%-22s %8d %12.2f %12.2f %12.2f %12.2f %12.2f %14.2f %8d\n",
			f, s.Count, s.Mean, s.Std, s.Median, s.Min, s.Max, s.Sum, s.MissingCount)
	}
}

func outputJSON(ds *models.Dataset) error {
	type row struct {
		Timestamp string             `json:"timestamp"`
		Fields    map[string]float64 `json:"fields,omitempty"`
		GapReason string             `json:"gap_reason,omitempty"`
		Imputed   bool               `json:"imputed,omitempty"`
		Suspect   []string           `json:"suspect,omitempty"`
	}
	rows := make([]row, 0, ds.GridSize())
	for _, e := range ds.Entries() {
		r := row{Timestamp: e.Timestamp.Format(time.RFC3339)}
		switch {
		case e.Gap != nil:
			r.GapReason = string(e.Gap.Reason)
		case e.Record != nil:
			r.Fields = make(map[string]float64)
			for _, f := range e.Record.Fields() {
				if v, ok := e.Record.Value(f); ok {
					r.Fields[string(f)] = v
				}
			}
			r.Imputed = e.Record.Imputed
			for _, f := range e.Record.Suspect {
				r.Suspect = append(r.Suspect, string(f))
			}
		}
		rows = append(rows, r)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func printUsage() {
	fmt.Printf(`%s %s - NEM telemetry acquisition, validation and imputation

Usage:
  %s <command> [flags]

Commands:
  collect     Fetch, validate, impute and store telemetry for a range
  load        Print stored telemetry for a range
  summarize   Per-field summary statistics over stored telemetry
  plot        Emit the tabular view of stored telemetry for plotting
  version     Print version information
  help        Show this help

Common flags:
  --region      NEM region: SA, NSW, QLD, TAS, VIC (required)
  --resolution  Grid resolution: 5m or 30m (default 30m)
  --start       Range start, YYYY-MM-DD or RFC3339, inclusive (required)
  --end         Range end, YYYY-MM-DD or RFC3339, exclusive (required)
  --config      Config file path (default %s)
  --mock        Use the deterministic mock source

Examples:
  %s collect --region SA --start 2020-01-01 --end 2020-01-08 --strategy seasonal_mean
  %s summarize --region SA --start 2020-01-01 --end 2020-01-08 --fields demand_mw,spot_price
`, AppName, Version, AppName, ConfigFile, AppName, AppName)
}
