package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/ratelimit"
)

type recordingSink struct {
	results []models.ExtractionResult
	onAdd   func()
	err     error
}

func (s *recordingSink) Add(ctx context.Context, result models.ExtractionResult) error {
	s.results = append(s.results, result)
	if s.onAdd != nil {
		s.onAdd()
	}
	return s.err
}

type runnerFixture struct {
	page     *fakePage
	session  *fakeSession
	launcher *fakeLauncher
	sink     *recordingSink
	pacer    *ratelimit.Pacer
	runner   *Runner
}

func newRunnerFixture(pages map[string]string, opts RunnerOptions) *runnerFixture {
	page := newFakePage(pages)
	session := &fakeSession{page: page}
	launcher := &fakeLauncher{session: session}
	sink := &recordingSink{}
	pacer := instantPacer()
	logger := discardLogger()

	resolver := NewResolver(DefaultResolverOptions(), pacer, ratelimit.NewHumanizer(time.Millisecond, pacer, 1), logger)
	resolver.opts.Interactive = false

	runner := NewRunner(launcher, DefaultChain(logger, nil, time.Second), resolver, pacer, sink, opts, logger, nil)
	return &runnerFixture{
		page:     page,
		session:  session,
		launcher: launcher,
		sink:     sink,
		pacer:    pacer,
		runner:   runner,
	}
}

func TestRunnerExplicitScenario(t *testing.T) {
	f := newRunnerFixture(map[string]string{
		amazonURL: widgetPage,
		cromaURL:  gadgetPage,
	}, RunnerOptions{})

	report, err := f.runner.Run(context.Background(), Input{URLs: []string{amazonURL, cromaURL}})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	first, second := report.Results[0], report.Results[1]

	assert.Equal(t, models.SiteAmazon, first.Target.Site)
	assert.Equal(t, "Widget", first.Title)
	assert.Equal(t, models.Money("₹499"), first.Price)
	assert.Equal(t, models.StatusSuccess, first.Status)

	assert.Equal(t, models.SiteCroma, second.Target.Site)
	assert.Equal(t, "Gadget", second.Title)
	assert.Equal(t, models.Money("₹999"), second.Price)
	assert.Equal(t, models.StatusSuccess, second.Status)

	assert.Equal(t, ModeURLs, report.Mode)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, report.Results, f.sink.results)
	assert.Equal(t, uint64(2), f.pacer.Count())
	assert.Equal(t, 1, f.session.closes)
	assert.Equal(t, SessionClosed, f.runner.State())
}

func TestRunnerYieldsOneResultPerTargetInOrder(t *testing.T) {
	urls := []string{
		"https://www.amazon.in/A/dp/B0AAAAAAA1",
		"https://www.croma.com/b/p/1",
		"https://unknown.example.org/c",
		"https://www.amazon.in/D/dp/B0DDDDDDD4",
	}
	f := newRunnerFixture(map[string]string{
		urls[0]: widgetPage,
		urls[3]: gadgetPage,
	}, RunnerOptions{})
	f.page.navErrs[urls[1]] = fmt.Errorf("goto: %w", browser.ErrNavigationTimeout)

	report, err := f.runner.Run(context.Background(), Input{URLs: urls})
	require.NoError(t, err)

	require.Len(t, report.Results, len(urls))
	for i, result := range report.Results {
		assert.Equal(t, urls[i], result.Target.URL)
	}

	assert.Equal(t, models.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, models.ErrKindNavigationTimeout, report.Results[1].ErrorKind)
	assert.Equal(t, models.ErrKindUnsupportedSite, report.Results[2].ErrorKind)
	assert.Equal(t, models.StatusFailure, report.Results[3].Status)
	assert.Equal(t, models.ErrKindExtractionNotFound, report.Results[3].ErrorKind)
}

func TestRunnerNavigationErrorsAreIsolated(t *testing.T) {
	broken := "https://www.amazon.in/Broken/dp/B0BROKEN01"
	f := newRunnerFixture(map[string]string{amazonURL: widgetPage}, RunnerOptions{})
	f.page.navErrs[broken] = errors.New("net::ERR_CONNECTION_RESET")

	report, err := f.runner.Run(context.Background(), Input{URLs: []string{broken, amazonURL}})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, models.StatusFailure, report.Results[0].Status)
	assert.Equal(t, models.ErrKindNavigationFailed, report.Results[0].ErrorKind)
	assert.Contains(t, report.Results[0].Error, "ERR_CONNECTION_RESET")
	assert.Equal(t, models.StatusSuccess, report.Results[1].Status)
}

func TestRunnerRecoversDriverPanic(t *testing.T) {
	crashing := "https://www.croma.com/crash/p/9"
	f := newRunnerFixture(map[string]string{amazonURL: widgetPage}, RunnerOptions{})
	f.page.panics[crashing] = true

	report, err := f.runner.Run(context.Background(), Input{URLs: []string{crashing, amazonURL}})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, models.ErrKindInternal, report.Results[0].ErrorKind)
	assert.Equal(t, models.StatusSuccess, report.Results[1].Status)
	assert.Equal(t, 1, f.session.closes)
}

func TestRunnerZeroTargets(t *testing.T) {
	f := newRunnerFixture(nil, RunnerOptions{})

	report, err := f.runner.Run(context.Background(), Input{URLs: []string{" "}})

	require.NoError(t, err)
	assert.NotNil(t, report.Results)
	assert.Empty(t, report.Results)
	assert.Empty(t, f.sink.results)
	assert.Equal(t, 1, f.session.closes)
}

func TestRunnerResolverFailureReleasesBrowserOnce(t *testing.T) {
	f := newRunnerFixture(map[string]string{"https://www.amazon.in/s": `<p>blocked</p>`}, RunnerOptions{})

	report, err := f.runner.Run(context.Background(), Input{Search: &SearchQuery{Term: "tv", MinPrice: 1, MaxPrice: 2}})

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, models.ErrKindFatalResolver, resolveErr.Kind)
	assert.Empty(t, report.Results)
	assert.Equal(t, 1, f.session.closes)
	assert.Equal(t, SessionClosed, f.runner.State())
}

func TestRunnerSearchMode(t *testing.T) {
	pages := map[string]string{"https://www.amazon.in/s": resultsPage}
	pages["https://www.amazon.in/Phone-X/dp/B0PHONEX01/ref=sr_1_1"] = widgetPage
	pages["https://www.amazon.in/Phone-Y/dp/B0PHONEY02"] = widgetPage
	f := newRunnerFixture(pages, RunnerOptions{})

	report, err := f.runner.Run(context.Background(), Input{Search: &SearchQuery{Term: "phone", MinPrice: 1, MaxPrice: 99999}})
	require.NoError(t, err)

	assert.Equal(t, ModeSearch, report.Mode)
	require.Len(t, report.Results, 2)
	for _, result := range report.Results {
		assert.Equal(t, models.OriginSearchResult, result.Target.Origin)
		assert.True(t, result.Succeeded())
	}
}

func TestRunnerLaunchFailure(t *testing.T) {
	f := newRunnerFixture(nil, RunnerOptions{})
	f.launcher.err = errors.New("chromium not installed")

	_, err := f.runner.Run(context.Background(), Input{URLs: []string{amazonURL}})

	assert.ErrorContains(t, err, "chromium not installed")
	assert.Equal(t, 0, f.session.closes)
	assert.Equal(t, SessionClosed, f.runner.State())
}

func TestRunnerCancellationStillYieldsAllResults(t *testing.T) {
	urls := []string{amazonURL, cromaURL, "https://www.amazon.in/Z/dp/B0ZZZZZZZZ"}
	f := newRunnerFixture(map[string]string{amazonURL: widgetPage, cromaURL: gadgetPage}, RunnerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sink.onAdd = cancel

	report, err := f.runner.Run(ctx, Input{URLs: urls})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, models.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, models.ErrKindNavigationFailed, report.Results[1].ErrorKind)
	assert.Equal(t, models.ErrKindNavigationFailed, report.Results[2].ErrorKind)
	assert.Len(t, f.sink.results, 3)
	assert.Equal(t, []string{amazonURL}, f.page.navigations)
}

func TestRunnerSinkErrorsAreNotFatal(t *testing.T) {
	f := newRunnerFixture(map[string]string{amazonURL: widgetPage, cromaURL: gadgetPage}, RunnerOptions{})
	f.sink.err = errors.New("disk full")

	report, err := f.runner.Run(context.Background(), Input{URLs: []string{amazonURL, cromaURL}})

	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
}

func TestRunnerTakesOneScreenshot(t *testing.T) {
	f := newRunnerFixture(map[string]string{amazonURL: widgetPage, cromaURL: gadgetPage}, RunnerOptions{
		ScreenshotPath: DefaultScreenshotPath,
	})

	_, err := f.runner.Run(context.Background(), Input{URLs: []string{amazonURL, cromaURL}})

	require.NoError(t, err)
	assert.Equal(t, []string{DefaultScreenshotPath}, f.page.screenshots)
}

func TestRunnerUsesConfiguredRunID(t *testing.T) {
	f := newRunnerFixture(map[string]string{amazonURL: widgetPage}, RunnerOptions{RunID: "run-42"})

	report, err := f.runner.Run(context.Background(), Input{URLs: []string{amazonURL}})

	require.NoError(t, err)
	assert.Equal(t, "run-42", report.RunID)
}
