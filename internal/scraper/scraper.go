package scraper

import (
	"errors"
	"fmt"

	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/models"
	"github.com/maltedev/shop-price-scraper/internal/parser"
)

var (
	ErrUnsupportedSite    = errors.New("no extraction table entry for site")
	ErrExtractionNotFound = errors.New("title and price not found")
	ErrNoResultsContainer = errors.New("search results container not found")
	ErrNoStructuredData   = errors.New("no usable structured data")
	ErrNavigationFailed   = errors.New("navigation failed")
)

// ResolveError aborts a run before any target could be processed.
type ResolveError struct {
	Kind models.ErrorKind
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

func fatal(err error) *ResolveError {
	return &ResolveError{Kind: models.ErrKindFatalResolver, Err: err}
}

// Classify maps an error from any pipeline stage to its ErrorKind.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrKindNone
	}

	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr.Kind
	}

	var blockErr *parser.BlockError
	switch {
	case errors.Is(err, browser.ErrNavigationTimeout):
		return models.ErrKindNavigationTimeout
	case errors.Is(err, ErrNavigationFailed):
		return models.ErrKindNavigationFailed
	case errors.Is(err, browser.ErrSelectorTimeout):
		return models.ErrKindSelectorTimeout
	case errors.Is(err, ErrUnsupportedSite):
		return models.ErrKindUnsupportedSite
	case errors.Is(err, ErrNoResultsContainer):
		return models.ErrKindFatalResolver
	case errors.Is(err, ErrNoStructuredData), errors.As(err, &blockErr):
		return models.ErrKindStructuredDataParse
	case errors.Is(err, ErrExtractionNotFound), errors.Is(err, browser.ErrElementNotFound):
		return models.ErrKindExtractionNotFound
	default:
		return models.ErrKindInternal
	}
}
