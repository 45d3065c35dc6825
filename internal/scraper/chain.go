package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/metrics"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/parser"
	"github.com/maltedev/shop-price-scraper/internal/sites"
)

const (
	StrategyStructuredData = "structured-data"
	StrategyDOM            = "dom-selector"
)

type Fields struct {
	Title string
	Price models.Money
}

func (f Fields) Complete() bool {
	return f.Title != "" && f.Price != ""
}

func (f Fields) Empty() bool {
	return f.Title == "" && f.Price == ""
}

// Strategy extracts fields from a loaded page. It may return partial fields
// together with an error describing what is missing.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page browser.Page, target models.Target) (Fields, error)
}

// StructuredDataStrategy reads schema.org Product metadata embedded in the page.
type StructuredDataStrategy struct {
	logger *slog.Logger
}

func NewStructuredDataStrategy(logger *slog.Logger) *StructuredDataStrategy {
	return &StructuredDataStrategy{logger: logger}
}

func (s *StructuredDataStrategy) Name() string { return StrategyStructuredData }

func (s *StructuredDataStrategy) Extract(ctx context.Context, page browser.Page, target models.Target) (Fields, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return Fields{}, err
	}

	product, skipped, err := parser.FindProduct(html)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: %w", ErrNoStructuredData, err)
	}
	for _, blockErr := range skipped {
		s.logger.Warn("skipping malformed structured data block",
			"url", target.URL,
			"block", blockErr.Index,
			"error", blockErr.Err,
		)
	}
	if product == nil {
		return Fields{}, fmt.Errorf("%w: no Product block among %d malformed", ErrNoStructuredData, len(skipped))
	}

	fields := Fields{Title: product.Name}
	if money, ok := parser.NormalizePrice(product.Price); ok {
		fields.Price = money
	}
	if !fields.Complete() {
		return fields, fmt.Errorf("%w: Product block lacks name or offers.price", ErrNoStructuredData)
	}
	return fields, nil
}

// DOMStrategy reads the title and price nodes listed in the sites table.
type DOMStrategy struct {
	selectorTimeout time.Duration
}

func NewDOMStrategy(selectorTimeout time.Duration) *DOMStrategy {
	return &DOMStrategy{selectorTimeout: selectorTimeout}
}

func (s *DOMStrategy) Name() string { return StrategyDOM }

func (s *DOMStrategy) Extract(ctx context.Context, page browser.Page, target models.Target) (Fields, error) {
	site, ok := sites.Lookup(target.Site)
	if !ok {
		return Fields{}, fmt.Errorf("%w: %s", ErrUnsupportedSite, target.Site)
	}

	if err := page.WaitForSelector(ctx, site.PriceSelector, s.selectorTimeout); err != nil {
		return Fields{}, err
	}

	var fields Fields
	var missing []string

	if title, err := page.Text(ctx, site.TitleSelector); err == nil && title != "" {
		fields.Title = title
	} else {
		missing = append(missing, "title")
	}

	priceText, err := page.Text(ctx, site.PriceSelector)
	if money, ok := parser.NormalizePrice(priceText); err == nil && ok {
		fields.Price = money
	} else {
		missing = append(missing, "price")
	}

	if len(missing) > 0 {
		return fields, fmt.Errorf("%w: missing %s", ErrExtractionNotFound, strings.Join(missing, ", "))
	}
	return fields, nil
}

// Outcome is what the chain recovered for one target.
type Outcome struct {
	Fields
	Strategy string
	Kind     models.ErrorKind
	Err      error
}

// Chain tries strategies in order. Fields found by an earlier strategy are
// kept, later strategies only fill the gaps, and the chain stops as soon as
// the record is complete.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewChain(logger *slog.Logger, m *metrics.Metrics, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		logger:     logger,
		metrics:    m,
	}
}

// DefaultChain is structured data first, DOM selectors as the fallback.
func DefaultChain(logger *slog.Logger, m *metrics.Metrics, selectorTimeout time.Duration) *Chain {
	return NewChain(logger, m,
		NewStructuredDataStrategy(logger),
		NewDOMStrategy(selectorTimeout),
	)
}

func (c *Chain) Extract(ctx context.Context, page browser.Page, target models.Target) Outcome {
	var (
		fields       Fields
		contributors []string
		errs         []error
	)

	for _, strategy := range c.strategies {
		got, err := strategy.Extract(ctx, page, target)

		contributed := false
		if fields.Title == "" && got.Title != "" {
			fields.Title = got.Title
			contributed = true
		}
		if fields.Price == "" && got.Price != "" {
			fields.Price = got.Price
			contributed = true
		}
		if contributed {
			contributors = append(contributors, strategy.Name())
			c.metrics.IncStrategy(strategy.Name())
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			c.logger.Debug("strategy incomplete",
				"strategy", strategy.Name(),
				"url", target.URL,
				"error", err,
			)
		}

		if fields.Complete() {
			return Outcome{Fields: fields, Strategy: strings.Join(contributors, "+")}
		}
		if ctx.Err() != nil {
			break
		}
	}

	out := Outcome{Fields: fields, Strategy: strings.Join(contributors, "+")}
	var last error
	if len(errs) > 0 {
		last = errs[len(errs)-1]
	}

	if fields.Empty() {
		out.Kind = models.ErrKindExtractionNotFound
		if errors.Is(last, ErrUnsupportedSite) {
			out.Kind = models.ErrKindUnsupportedSite
		}
		out.Err = fmt.Errorf("%w: %w", ErrExtractionNotFound, errors.Join(errs...))
		return out
	}

	// Structured data failures only cause fallback and are never reported.
	out.Kind = Classify(last)
	if out.Kind == models.ErrKindNone || out.Kind == models.ErrKindStructuredDataParse {
		out.Kind = models.ErrKindExtractionNotFound
	}
	out.Err = errors.Join(errs...)
	return out
}
