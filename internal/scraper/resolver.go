package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/parser"
	"github.com/maltedev/shop-price-scraper/internal/queue"
	"github.com/maltedev/shop-price-scraper/internal/ratelimit"
	"github.com/maltedev/shop-price-scraper/internal/sites"
)

// SearchQuery is a search term restricted to a price band in whole rupees.
type SearchQuery struct {
	Term     string
	MinPrice int64
	MaxPrice int64
}

func (q SearchQuery) Validate() error {
	if strings.TrimSpace(q.Term) == "" {
		return fmt.Errorf("search term is required")
	}
	if q.MinPrice < 0 || q.MaxPrice < 0 {
		return fmt.Errorf("price bounds must not be negative")
	}
	if q.MaxPrice < q.MinPrice {
		return fmt.Errorf("max price %d is below min price %d", q.MaxPrice, q.MinPrice)
	}
	return nil
}

type ResolverOptions struct {
	Site              models.SiteID
	Interactive       bool
	NavigationTimeout time.Duration
	ResultsTimeout    time.Duration
	SettleDelay       time.Duration
}

func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		Site:              models.SiteAmazon,
		Interactive:       true,
		NavigationTimeout: 30 * time.Second,
		ResultsTimeout:    20 * time.Second,
		SettleDelay:       2 * time.Second,
	}
}

// Resolver builds the ordered work queue for a run.
type Resolver struct {
	opts   ResolverOptions
	pacer  *ratelimit.Pacer
	human  *ratelimit.Humanizer
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(opts ResolverOptions, pacer *ratelimit.Pacer, human *ratelimit.Humanizer, logger *slog.Logger) *Resolver {
	return &Resolver{
		opts:   opts,
		pacer:  pacer,
		human:  human,
		logger: logger.With("component", "resolver"),
		now:    time.Now,
	}
}

// ResolveURLs classifies explicit urls. Blank entries are ignored and
// duplicates dropped, keeping the first occurrence.
func (r *Resolver) ResolveURLs(urls []string) []models.Target {
	q := queue.NewTargetQueue()
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		target := models.Target{
			URL:    u,
			Site:   sites.Classify(u),
			Origin: models.OriginExplicit,
		}
		if !q.Push(target) {
			r.logger.Debug("dropping duplicate url", "url", u)
		}
	}
	return q.Targets()
}

// ResolveSearch loads the price-filtered results view and returns the product
// pages it links to. A missing results container is fatal for the run.
func (r *Resolver) ResolveSearch(ctx context.Context, page browser.Page, query SearchQuery) ([]models.Target, error) {
	if err := query.Validate(); err != nil {
		return nil, fatal(err)
	}

	site, ok := sites.Lookup(r.opts.Site)
	if !ok || site.Search == nil {
		return nil, fatal(fmt.Errorf("%w: %s has no search profile", ErrUnsupportedSite, r.opts.Site))
	}
	profile := site.Search

	var err error
	if r.opts.Interactive {
		err = r.interactiveSearch(ctx, page, profile, query)
	} else {
		err = r.directSearch(ctx, page, profile, query)
	}
	if err != nil {
		return nil, fatal(err)
	}

	if err := page.WaitForSelector(ctx, profile.ResultsContainer, r.opts.ResultsTimeout); err != nil {
		return nil, fatal(fmt.Errorf("%w: %w", ErrNoResultsContainer, err))
	}

	if err := r.human.RandomScroll(ctx, page); err != nil {
		r.logger.Warn("scroll failed", "error", err)
	}
	if err := r.pacer.Sleep(ctx, r.opts.SettleDelay); err != nil {
		return nil, fatal(err)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fatal(fmt.Errorf("read results page: %w", err))
	}
	links, err := parser.ResultLinks(html, page.URL(), profile.ResultHeading)
	if err != nil {
		return nil, fatal(err)
	}

	q := queue.NewTargetQueue()
	skipped := 0
	for _, link := range links {
		if !sites.IsPermalink(site.ID, link) {
			skipped++
			continue
		}
		q.Push(models.Target{
			URL:    link,
			Site:   sites.Classify(link),
			Origin: models.OriginSearchResult,
		})
	}

	r.logger.Info("search resolved",
		"term", query.Term,
		"links", len(links),
		"targets", q.Size(),
		"skipped", skipped,
	)
	return q.Targets(), nil
}

func (r *Resolver) interactiveSearch(ctx context.Context, page browser.Page, profile *sites.SearchProfile, query SearchQuery) error {
	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := page.Navigate(ctx, profile.HomeURL, browser.WaitDOMContentLoaded, r.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("open %s: %w", profile.HomeURL, err)
	}
	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := page.WaitForSelector(ctx, profile.SearchBox, r.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("search box: %w", err)
	}
	if err := r.human.TypeSlowly(ctx, page, profile.SearchBox, query.Term); err != nil {
		return fmt.Errorf("type search term: %w", err)
	}
	if err := r.human.HoverAndClick(ctx, page, profile.SubmitButton, browser.WaitDOMContentLoaded, r.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("submit search: %w", err)
	}

	filtered, err := WithPriceBand(page.URL(), query, r.now())
	if err != nil {
		return err
	}
	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := page.Navigate(ctx, filtered, browser.WaitDOMContentLoaded, r.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("open filtered results: %w", err)
	}
	return nil
}

func (r *Resolver) directSearch(ctx context.Context, page browser.Page, profile *sites.SearchProfile, query SearchQuery) error {
	searchURL, err := BuildSearchURL(profile.SearchURL, query)
	if err != nil {
		return err
	}
	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := page.Navigate(ctx, searchURL, browser.WaitDOMContentLoaded, r.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("open %s: %w", searchURL, err)
	}
	return nil
}

// BuildSearchURL returns the results url for query with the price band set.
func BuildSearchURL(base string, query SearchQuery) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid search url %q: %w", base, err)
	}
	values := u.Query()
	values.Set("k", query.Term)
	values.Set("low-price", strconv.FormatInt(query.MinPrice, 10))
	values.Set("high-price", strconv.FormatInt(query.MaxPrice, 10))
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// WithPriceBand adds the price filter to the url the search form landed on.
func WithPriceBand(current string, query SearchQuery, now time.Time) (string, error) {
	u, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("invalid results url %q: %w", current, err)
	}
	values := u.Query()
	values.Set("low-price", strconv.FormatInt(query.MinPrice, 10))
	values.Set("high-price", strconv.FormatInt(query.MaxPrice, 10))
	values.Set("qid", strconv.FormatInt(now.Unix(), 10))
	values.Set("ref", "sr_nr_p_36_0")
	u.RawQuery = values.Encode()
	return u.String(), nil
}
