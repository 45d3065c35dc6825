package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/shop-price-scraper/internal/config"
	"github.com/maltedev/shop-price-scraper/internal/scraper"
)

var version = "dev"

type cliFlags struct {
	output     string
	stateFile  string
	engine     string
	headless   bool
	screenshot bool
	statusAddr string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags cliFlags
	var cfg *config.Config

	root := &cobra.Command{
		Use:     "price-scraper",
		Short:   "Scrape product titles and INR prices from Indian shops",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, &flags, loaded)
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format (text, json), overrides LOG_FORMAT")

	run := &cobra.Command{
		Use:   "run",
		Short: "Scrape a search result list or explicit product urls",
	}
	rf := run.PersistentFlags()
	rf.StringVarP(&flags.output, "output", "o", "", "CSV output file (default scraped_<term>.csv or scraped_urls.csv)")
	rf.StringVar(&flags.stateFile, "state-file", "", "JSON file tracking per-url outcomes across runs")
	rf.StringVar(&flags.engine, "engine", "", "Browser engine: playwright or rod")
	rf.BoolVar(&flags.headless, "headless", true, "Run the browser without a window")
	rf.BoolVar(&flags.screenshot, "screenshot", false, "Save a full-page screenshot after the first page load")
	rf.StringVar(&flags.statusAddr, "status-addr", "", "Serve /health, /metrics and /api/v1 on this address while running")

	run.AddCommand(
		&cobra.Command{
			Use:     "search <term> <minPrice> <maxPrice>",
			Short:   "Search amazon.in within a price band and scrape every product found",
			Example: `  price-scraper run search "wireless earbuds" 1000 3000`,
			Args:    cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				query, err := parseSearchArgs(args)
				if err != nil {
					return err
				}
				cmd.SilenceUsage = true
				return execute(cmd.Context(), cfg, scraper.Input{Search: &query})
			},
		},
		&cobra.Command{
			Use:     "urls <url>...",
			Short:   "Scrape explicit product urls",
			Example: `  price-scraper run urls https://www.amazon.in/dp/B0CHX1W1XY https://www.croma.com/apple-iphone-15/p/300652`,
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cmd.SilenceUsage = true
				return execute(cmd.Context(), cfg, scraper.Input{URLs: args})
			},
		},
		&cobra.Command{
			Use:   "failed",
			Short: "Scrape again every url the state file has not marked successful",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if cfg.Output.StateFile == "" {
					return fmt.Errorf("--state-file or OUTPUT_STATE_FILE is required")
				}
				cmd.SilenceUsage = true
				return retryFailed(cmd.Context(), cfg)
			},
		},
	)

	relay := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events from Postgres to Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			follow, _ := cmd.Flags().GetBool("follow")
			return runRelay(cmd.Context(), cfg, follow)
		},
	}
	relay.Flags().Bool("follow", false, "Keep polling until interrupted")

	var watch watchOptions
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow result events on the Redis stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runWatch(cmd.Context(), cfg, watch, cmd.OutOrStdout())
		},
	}
	watchCmd.Flags().Int64Var(&watch.below, "below", 0, "Warn when a price's normalized amount (every digit of the shown price, paise included, so ₹1,299.00 is 129900) is below this value")
	watchCmd.Flags().StringVar(&watch.group, "group", "price-watchers", "Consumer group name")
	watchCmd.Flags().StringVar(&watch.name, "name", "watcher-1", "Consumer name within the group")

	root.AddCommand(run, relay, watchCmd)
	return root
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command, flags *cliFlags, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("output") {
		cfg.Output.Path = flags.output
	}
	if changed("state-file") {
		cfg.Output.StateFile = flags.stateFile
	}
	if changed("engine") {
		cfg.Browser.Engine = flags.engine
	}
	if changed("headless") {
		cfg.Browser.Headless = flags.headless
	}
	if changed("screenshot") {
		cfg.Output.Screenshot = flags.screenshot
	}
	if changed("status-addr") {
		cfg.Server.StatusAddr = flags.statusAddr
	}
	if changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = flags.logFormat
	}
}

func parseSearchArgs(args []string) (scraper.SearchQuery, error) {
	if len(args) != 3 {
		return scraper.SearchQuery{}, fmt.Errorf("expected <term> <minPrice> <maxPrice>, got %d arguments", len(args))
	}

	minPrice, err := parsePrice(args[1])
	if err != nil {
		return scraper.SearchQuery{}, fmt.Errorf("invalid minPrice: %w", err)
	}
	maxPrice, err := parsePrice(args[2])
	if err != nil {
		return scraper.SearchQuery{}, fmt.Errorf("invalid maxPrice: %w", err)
	}

	query := scraper.SearchQuery{
		Term:     strings.TrimSpace(args[0]),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
	}
	if err := query.Validate(); err != nil {
		return scraper.SearchQuery{}, err
	}
	return query, nil
}

func parsePrice(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
