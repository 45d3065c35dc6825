package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shop-price-scraper/internal/api"
	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/config"
	"github.com/maltedev/shop-price-scraper/internal/database"
	"github.com/maltedev/shop-price-scraper/internal/events"
	"github.com/maltedev/shop-price-scraper/internal/logger"
	"github.com/maltedev/shop-price-scraper/internal/metrics"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/ratelimit"
	"github.com/maltedev/shop-price-scraper/internal/scraper"
	"github.com/maltedev/shop-price-scraper/internal/sites"
	"github.com/maltedev/shop-price-scraper/internal/storage"
)

// pipeline holds everything one run needs. Optional backends stay nil when
// they are not configured.
type pipeline struct {
	runID     string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	csv       *storage.CSVSink
	collector *storage.Collector
	runner    *scraper.Runner
	db        *database.DB
	redis     *redis.Client
	relay     *database.Relay
	server    *api.Server
}

func newLogger(cfg *config.Config) *slog.Logger {
	log := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	return log
}

func runSeed(cfg *config.Config) uint64 {
	if cfg.Pacing.Seed != 0 {
		return cfg.Pacing.Seed
	}
	return uint64(time.Now().UnixNano())
}

func outputPath(cfg *config.Config, in scraper.Input) string {
	if cfg.Output.Path != "" {
		return cfg.Output.Path
	}
	if in.Search != nil {
		return storage.DefaultFilename(in.Search.Term)
	}
	return storage.DefaultFilename("")
}

func newPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger, in scraper.Input) (*pipeline, error) {
	if err := sites.Validate(); err != nil {
		return nil, fmt.Errorf("invalid site table: %w", err)
	}

	p := &pipeline{
		runID:   uuid.NewString(),
		logger:  log,
		metrics: metrics.New(),
	}

	seed := runSeed(cfg)
	launcher, err := browser.NewLauncher(cfg.BrowserOptions(seed))
	if err != nil {
		return nil, err
	}

	pacer := ratelimit.NewPacer(cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay, seed)
	searchPacer := ratelimit.NewPacer(cfg.Pacing.SearchMinDelay, cfg.Pacing.SearchMaxDelay, seed+1)
	human := ratelimit.NewHumanizer(cfg.Pacing.KeyDelay, searchPacer, seed)

	resolverOpts := scraper.DefaultResolverOptions()
	resolverOpts.Interactive = cfg.Search.Interactive
	resolverOpts.NavigationTimeout = cfg.Browser.NavigationTimeout
	resolverOpts.ResultsTimeout = cfg.Search.ResultsTimeout
	resolverOpts.SettleDelay = cfg.Search.SettleDelay
	resolver := scraper.NewResolver(resolverOpts, searchPacer, human, log)

	chain := scraper.DefaultChain(log, p.metrics, cfg.Browser.SelectorTimeout)

	schema := storage.SchemaURLs
	if in.Search != nil {
		schema = storage.SchemaSearch
	}
	p.csv = storage.NewCSVSink(outputPath(cfg, in), schema)
	opts := []storage.CollectorOption{storage.WithRecordSink(p.csv)}

	if cfg.Output.StateFile != "" {
		state, err := storage.NewStateStore(cfg.Output.StateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load state file: %w", err)
		}
		opts = append(opts, storage.WithRecorder(state))
	}

	recorders, err := p.connectBackends(ctx, cfg)
	if err != nil {
		p.close()
		return nil, err
	}
	for _, r := range recorders {
		opts = append(opts, storage.WithRecorder(r))
	}

	p.collector = storage.NewCollector(p.metrics, opts...)

	runnerOpts := scraper.RunnerOptions{
		RunID:             p.runID,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	}
	if cfg.Output.Screenshot {
		runnerOpts.ScreenshotPath = cfg.Output.ScreenshotPath
	}
	p.runner = scraper.NewRunner(launcher, chain, resolver, pacer, p.collector, runnerOpts, log, p.metrics)

	if cfg.Server.StatusAddr != "" {
		var outbox api.OutboxStats
		if p.relay != nil {
			outbox = p.relay
		}
		handlers := api.NewHandlers(p.collector, p.runner, outbox, log)
		if p.db != nil {
			handlers.WithPriceHistory(p.db)
		}
		p.server = api.NewServer(cfg.Server.StatusAddr, api.NewRouter(handlers, p.metrics.Registry), log)
		if err := p.server.Start(); err != nil {
			p.close()
			return nil, fmt.Errorf("failed to start status server: %w", err)
		}
	}

	return p, nil
}

// connectBackends opens Postgres and Redis when configured. With both, results
// go through the outbox and the relay publishes them after the run. With Redis
// only, results are added to the stream directly.
func (p *pipeline) connectBackends(ctx context.Context, cfg *config.Config) ([]storage.Recorder, error) {
	var recorders []storage.Recorder

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, database.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		p.db = db
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		recorders = append(recorders, events.NewPublisher(db, p.runID, cfg.Redis.Stream, p.logger))
	}

	if cfg.Redis.Addr != "" {
		client, err := connectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.redis = client

		if p.db != nil {
			p.relay = database.NewRelay(p.db, client, p.logger, database.RelayConfig{})
		} else {
			recorders = append(recorders, events.NewStreamPublisher(client, p.runID, cfg.Redis.Stream, cfg.Redis.MaxLen, p.logger))
		}
	}

	return recorders, nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (p *pipeline) close() {
	if p.server != nil {
		if err := p.server.Shutdown(context.Background()); err != nil {
			p.logger.Warn("status server shutdown failed", "error", err)
		}
	}
	if p.collector != nil {
		if err := p.collector.Close(); err != nil {
			p.logger.Error("failed to close sinks", "error", err)
		}
	}
	if p.redis != nil {
		p.redis.Close()
	}
	if p.db != nil {
		p.db.Close()
	}
}

func execute(ctx context.Context, cfg *config.Config, in scraper.Input) error {
	log := newLogger(cfg)

	p, err := newPipeline(ctx, cfg, log, in)
	if err != nil {
		log.Error("failed to set up scraper", "error", err)
		return err
	}
	defer p.close()

	log.Info("starting scrape", "run_id", p.runID, "mode", in.Mode(), "engine", cfg.Browser.Engine, "output", p.csv.Path())

	report, err := p.runner.Run(ctx, in)
	if err != nil {
		var resolveErr *scraper.ResolveError
		if errors.As(err, &resolveErr) {
			log.Error("could not resolve targets", "kind", resolveErr.Kind, "error", resolveErr.Err)
		}
		return err
	}

	if err := storage.PrintReport(os.Stdout, report.Results); err != nil {
		log.Warn("failed to print report", "error", err)
	}

	summary := storage.Summarize(report.Results)
	log.Info("scrape finished",
		"run_id", report.RunID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"partial", summary.PartialFailure,
		"failed", summary.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	if p.csv.Rows() > 0 {
		log.Info("results saved", "path", p.csv.Path(), "rows", p.csv.Rows())
	}

	if p.relay != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		published, err := p.relay.Drain(drainCtx)
		if err != nil {
			log.Warn("outbox relay stopped early, run `price-scraper relay` to retry", "published", published, "error", err)
		} else {
			log.Info("outbox drained", "published", published)
		}
	}

	return nil
}

func retryFailed(ctx context.Context, cfg *config.Config) error {
	state, err := storage.NewStateStore(cfg.Output.StateFile)
	if err != nil {
		return fmt.Errorf("failed to load state file: %w", err)
	}
	urls := state.Unfinished()
	stats := state.Stats()

	log := newLogger(cfg)
	if len(urls) == 0 {
		log.Info("nothing to retry", "state_file", cfg.Output.StateFile, "tracked", stats["total"])
		return nil
	}
	log.Info("retrying unfinished urls",
		"count", len(urls),
		"tracked", stats["total"],
		"succeeded", stats[string(models.StatusSuccess)],
		"failed", stats[string(models.StatusFailure)],
		"partial", stats[string(models.StatusPartialFailure)],
	)
	return execute(ctx, cfg, scraper.Input{URLs: urls})
}

func runRelay(ctx context.Context, cfg *config.Config, follow bool) error {
	log := newLogger(cfg)

	if cfg.Database.URL == "" || cfg.Redis.Addr == "" {
		return fmt.Errorf("relay needs both DATABASE_URL and REDIS_ADDR")
	}

	db, err := database.New(ctx, database.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	relay := database.NewRelay(db, client, log, database.RelayConfig{})
	if follow {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	published, err := relay.Drain(ctx)
	if err != nil {
		return err
	}
	log.Info("outbox drained", "published", published)
	return nil
}
