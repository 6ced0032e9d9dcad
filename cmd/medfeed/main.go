package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IshaanNene/medfeed/internal/api"
	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/engine"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/storage"
	"github.com/IshaanNene/medfeed/pkg/medfeed"
)

var (
	cfgFile     string
	sitesFile   string
	verbose     bool
	jsonOutput  bool
	concurrency int
	sinks       string
	port        int
	noBrowser   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medfeed",
		Short: "medfeed: medical industry news aggregator",
		Long: `medfeed collects articles from medical, pharma and medtech news sites.

Each site is read through its RSS/Atom feeds when it has any, and through a
homepage scraper otherwise, with a headless browser for sites that need one.
Articles are deduplicated and tagged with the companies and products they
mention, then served over a small JSON API or exported to json, jsonl,
MongoDB and Redis.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&sitesFile, "sites", "", "YAML file with a sites list (overrides config sites)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noBrowser, "no-browser", false, "never start a headless browser")

	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(entitiesCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// refreshCmd creates the "refresh" subcommand.
func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one aggregation cycle",
		Long:  "Fetch every configured site once, print a summary and write the configured export sinks.",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full result as JSON on stdout")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "sites processed at once (0 = config default)")
	cmd.Flags().StringVar(&sinks, "sinks", "", "comma-separated export sinks: json, jsonl, mongodb, redis")
	return cmd
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Sites) == 0 {
		return fmt.Errorf("no sites configured: use --sites or add a sites list to the config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer startTracing(ctx, cfg, logger)()

	metrics := observability.NewMetrics(logger)
	agg, err := medfeed.NewFromConfig(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer agg.Close()

	res := agg.Refresh(ctx)
	snap := storage.FromResult(res, time.Now())

	out := storage.NewSinks(cfg.Storage, metrics, logger)
	defer out.Close()
	if err := out.Write(ctx, snap); err != nil {
		logger.Warn("some exports failed", "error", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printSummary(res)
	return nil
}

func printSummary(res *engine.Result) {
	fmt.Printf("\nRefresh complete in %s\n", res.Duration.Round(time.Millisecond))
	fmt.Printf("   Sites:     %d\n", len(res.Sites))
	fmt.Printf("   Articles:  %d\n", len(res.Articles))
	fmt.Printf("   Failures:  %d\n", len(res.Failures))
	for _, s := range res.Sites {
		mark := "ok"
		switch {
		case s.Articles == 0 && s.Failures > 0:
			mark = "FAILED"
		case s.Failures > 0:
			mark = "partial"
		}
		browser := ""
		if s.UsedBrowser {
			browser = " (browser)"
		}
		fmt.Printf("   %-7s %-32s %4d articles%s\n", mark, s.Site, s.Articles, browser)
	}
	for _, f := range res.Failures {
		fmt.Printf("   ! %s [%s/%s] %s\n", f.Site, f.Stage, f.Kind, f.Error)
	}
}

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API and refresh on a schedule",
		Long:  "Run an initial refresh, start the JSON API and refresh again every refresh.interval.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "API port (0 = config default)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "sites processed at once (0 = config default)")
	cmd.Flags().StringVar(&sinks, "sinks", "", "comma-separated export sinks: json, jsonl, mongodb, redis")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer startTracing(ctx, cfg, logger)()

	metrics := observability.NewMetrics(logger)
	agg, err := medfeed.NewFromConfig(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer agg.Close()

	store := storage.NewSnapshotStore()
	out := storage.NewSinks(cfg.Storage, metrics, logger)
	defer out.Close()

	refresh := func() {
		res := agg.Refresh(ctx)
		snap := storage.FromResult(res, time.Now())
		store.Swap(snap)
		if err := out.Write(ctx, snap); err != nil {
			logger.Warn("some exports failed", "error", err)
		}
	}

	var opts []api.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(metrics, cfg.Metrics.Path))
	}
	srv := api.NewServer(cfg.API, store, agg.Extractor(), logger, opts...)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start API: %w", err)
	}

	// One job value so the initial run and the scheduled runs never overlap.
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	job := cron.NewChain(cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(refresh))

	// The API answers with an empty snapshot until the first refresh lands.
	go job.Run()

	sched := cron.New(cron.WithLogger(cronLog))
	sched.Schedule(cron.Every(cfg.Refresh.Interval), job)
	sched.Start()
	logger.Info("refresh scheduled", "every", cfg.Refresh.Interval, "sites", len(cfg.Sites))

	<-ctx.Done()
	logger.Info("shutting down")

	cronCtx := sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown", "error", err)
	}
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}
	return nil
}

// startTracing installs the tracer provider and returns its shutdown func.
func startTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	if shutdown == nil {
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}
}

// discoverCmd creates the "discover" subcommand.
func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [url]",
		Short: "Find the RSS/Atom feeds of a homepage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateURL(args[0]); err != nil {
				return fmt.Errorf("invalid URL %q: %w", args[0], err)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Browser.Enabled = false

			agg, err := medfeed.NewFromConfig(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer agg.Close()

			feeds := agg.Discover(cmd.Context(), args[0])
			if len(feeds) == 0 {
				fmt.Println("No feeds found.")
				return nil
			}
			for _, f := range feeds {
				fmt.Println(f)
			}
			return nil
		},
	}
}

// entitiesCmd creates the "entities" subcommand.
func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities [text...]",
		Short: "Extract companies, products and deals from text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Browser.Enabled = false

			agg, err := medfeed.NewFromConfig(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer agg.Close()

			text := strings.Join(args, " ")
			ents := agg.Extract(text)
			fmt.Printf("Companies: %s\n", joinOrNone(ents.Companies))
			fmt.Printf("Products:  %s\n", joinOrNone(ents.Products))

			ex := agg.Extractor()
			for _, c := range ents.Companies {
				if p, ok := ex.Profile(c); ok && p.Ticker != "" {
					fmt.Printf("   %s: %s, %s\n", c, p.Ticker, p.Sector)
				}
			}
			for _, r := range ex.Relationships(text) {
				fmt.Printf("Deal:      %s -> %s (%s)\n", r.From, r.To, r.Kind)
			}
			return nil
		},
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("medfeed %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

// loadConfig reads the config, applies flag overrides and validates.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if sitesFile != "" {
		sites, err := config.LoadSites(sitesFile)
		if err != nil {
			return nil, nil, err
		}
		cfg.Sites = sites
	}
	applyCLIOverrides(cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, setupLogger(cfg), nil
}

// setupLogger creates a structured logger.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if concurrency > 0 {
		cfg.Scheduler.Concurrency = concurrency
	}
	if port > 0 {
		cfg.API.Port = port
	}
	if noBrowser {
		cfg.Browser.Enabled = false
	}
	if sinks != "" {
		var list []string
		for _, s := range strings.Split(sinks, ",") {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				list = append(list, s)
			}
		}
		cfg.Storage.Sinks = list
	}
}
