package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/metrics"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/ratelimit"
	"github.com/maltedev/shop-price-scraper/internal/sites"
)

const DefaultScreenshotPath = "scraper-debug.png"

type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRunning
	SessionDraining
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionDraining:
		return "draining"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	ModeURLs   = "urls"
	ModeSearch = "search"
)

// Input selects the run mode: Search when set, otherwise the explicit URLs.
type Input struct {
	URLs   []string
	Search *SearchQuery
}

func (in Input) Mode() string {
	if in.Search != nil {
		return ModeSearch
	}
	return ModeURLs
}

// ResultSink receives every result as soon as it is produced.
type ResultSink interface {
	Add(ctx context.Context, result models.ExtractionResult) error
}

type Report struct {
	RunID      string                    `json:"run_id"`
	Mode       string                    `json:"mode"`
	Results    []models.ExtractionResult `json:"results"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

type RunnerOptions struct {
	// RunID is shared with sinks that tag their records. Generated when empty.
	RunID             string
	NavigationTimeout time.Duration
	// ScreenshotPath enables a full-page screenshot after the first page load.
	ScreenshotPath string
}

type Runner struct {
	launcher browser.Launcher
	chain    *Chain
	resolver *Resolver
	pacer    *ratelimit.Pacer
	sink     ResultSink
	opts     RunnerOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state SessionState
}

func NewRunner(
	launcher browser.Launcher,
	chain *Chain,
	resolver *Resolver,
	pacer *ratelimit.Pacer,
	sink ResultSink,
	opts RunnerOptions,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Runner {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Runner{
		launcher: launcher,
		chain:    chain,
		resolver: resolver,
		pacer:    pacer,
		sink:     sink,
		opts:     opts,
		logger:   logger.With("component", "runner"),
		metrics:  m,
	}
}

func (r *Runner) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s SessionState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.logger.Debug("session state", "state", s)
}

// Run owns one browser session for the whole batch. Only resolver failures
// are returned as errors; every target yields exactly one result otherwise.
func (r *Runner) Run(ctx context.Context, in Input) (*Report, error) {
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &Report{
		RunID:     runID,
		Mode:      in.Mode(),
		Results:   make([]models.ExtractionResult, 0),
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	r.setState(SessionRunning)
	session, err := r.launcher.Launch(ctx)
	if err != nil {
		r.setState(SessionClosed)
		return report, fmt.Errorf("failed to launch browser: %w", err)
	}
	release := r.releaser(session)
	defer release()

	page, err := session.NewPage(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to open page: %w", err)
	}
	if r.opts.ScreenshotPath != "" {
		page = &screenshotPage{Page: page, path: r.opts.ScreenshotPath, logger: r.logger}
	}

	targets, err := r.resolve(ctx, page, in)
	if err != nil {
		r.logger.Error("resolver failed", "run_id", report.RunID, "error", err)
		return report, err
	}
	r.logger.Info("targets resolved", "run_id", report.RunID, "mode", report.Mode, "count", len(targets))

	for i, target := range targets {
		var result models.ExtractionResult
		if err := ctx.Err(); err != nil {
			result = models.FailedResult(target, models.ErrKindNavigationFailed,
				fmt.Errorf("%w: run cancelled: %w", ErrNavigationFailed, err))
		} else {
			result = r.processTarget(ctx, page, target)
		}
		r.record(ctx, report, result)

		r.logger.Info("target done",
			"index", i+1,
			"total", len(targets),
			"url", target.URL,
			"status", result.Status,
			"error_kind", result.ErrorKind,
		)
	}

	return report, nil
}

// releaser returns a close func that is safe to call from every exit path and
// releases the session exactly once.
func (r *Runner) releaser(session browser.Session) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.setState(SessionDraining)
			if err := session.Close(); err != nil {
				r.logger.Warn("failed to close browser", "error", err)
			}
			r.setState(SessionClosed)
		})
	}
}

func (r *Runner) resolve(ctx context.Context, page browser.Page, in Input) (targets []models.Target, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ResolveError{Kind: models.ErrKindInternal, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	if in.Search != nil {
		return r.resolver.ResolveSearch(ctx, page, *in.Search)
	}
	return r.resolver.ResolveURLs(in.URLs), nil
}

func (r *Runner) processTarget(ctx context.Context, page browser.Page, target models.Target) (result models.ExtractionResult) {
	start := time.Now()
	log := r.logger.With("url", target.URL, "site", target.Site)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("recovered panic while scraping", "panic", rec)
			result = models.FailedResult(target, models.ErrKindInternal, fmt.Errorf("panic: %v", rec))
		}
		result.Duration = time.Since(start)
	}()

	log.Debug("target state", "state", "pending")
	delay, err := r.pacer.WaitNext(ctx)
	if err != nil {
		return models.FailedResult(target, models.ErrKindNavigationFailed, fmt.Errorf("%w: %w", ErrNavigationFailed, err))
	}
	r.metrics.ObservePacing(delay)

	site, known := sites.Lookup(target.Site)
	wait := browser.WaitDOMContentLoaded
	if known {
		wait = site.Wait
	}

	log.Debug("target state", "state", "navigating", "wait", wait, "delay", delay)
	navStart := time.Now()
	if err := page.Navigate(ctx, target.URL, wait, r.opts.NavigationTimeout); err != nil {
		if !errors.Is(err, browser.ErrNavigationTimeout) {
			err = fmt.Errorf("%w: %w", ErrNavigationFailed, err)
		}
		return models.FailedResult(target, Classify(err), err)
	}
	r.metrics.ObserveNavigation(time.Since(navStart))

	if known && site.SettleDelay > 0 {
		if err := r.pacer.Sleep(ctx, site.SettleDelay); err != nil {
			return models.FailedResult(target, models.ErrKindNavigationFailed, fmt.Errorf("%w: %w", ErrNavigationFailed, err))
		}
	}

	log.Debug("target state", "state", "extracting")
	out := r.chain.Extract(ctx, page, target)
	result = models.NewResult(target, out.Title, out.Price, out.Kind, out.Err)
	result.Strategy = out.Strategy
	return result
}

func (r *Runner) record(ctx context.Context, report *Report, result models.ExtractionResult) {
	report.Results = append(report.Results, result)
	r.metrics.IncTarget(result.Target.Site.String(), string(result.Status), result.ErrorKind.String())

	if r.sink == nil {
		return
	}
	// Results of a cancelled run are still persisted.
	if err := r.sink.Add(context.WithoutCancel(ctx), result); err != nil {
		r.logger.Error("failed to persist result", "url", result.Target.URL, "error", err)
	}
}

// screenshotPage captures one full-page screenshot after the first
// successful navigation of the session.
type screenshotPage struct {
	browser.Page
	path   string
	logger *slog.Logger
	once   sync.Once
}

func (p *screenshotPage) Navigate(ctx context.Context, url string, wait browser.WaitPolicy, timeout time.Duration) error {
	if err := p.Page.Navigate(ctx, url, wait, timeout); err != nil {
		return err
	}
	p.once.Do(func() {
		if err := p.Page.Screenshot(ctx, p.path); err != nil {
			p.logger.Warn("failed to take debug screenshot", "path", p.path, "error", err)
			return
		}
		p.logger.Info("debug screenshot saved", "path", p.path)
	})
	return nil
}
