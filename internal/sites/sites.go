// Package sites holds the static per-shop configuration: which hosts belong to
// which shop, where the title and price live in the DOM, and how a page is
// considered loaded. Adding a shop means adding one entry to the table.
package sites

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/maltedev/shop-price-scraper/internal/browser"
	"github.com/maltedev/shop-price-scraper/internal/models"
)

type Site struct {
	ID            models.SiteID
	Hosts         []string
	TitleSelector string
	PriceSelector string
	Wait          browser.WaitPolicy
	// SettleDelay is slept after navigation for pages that keep rendering
	// after the wait policy fires.
	SettleDelay time.Duration
	Permalink   *regexp.Regexp
	Search      *SearchProfile
}

// SearchProfile describes the search-results flow of a shop.
type SearchProfile struct {
	HomeURL          string
	SearchURL        string
	SearchBox        string
	SubmitButton     string
	ResultsContainer string
	ResultHeading    string
}

var table = []Site{
	{
		ID:            models.SiteAmazon,
		Hosts:         []string{"amazon.in"},
		TitleSelector: "#productTitle",
		PriceSelector: "span.a-price-whole",
		Wait:          browser.WaitDOMContentLoaded,
		Permalink:     regexp.MustCompile(`/dp/[A-Z0-9]{10}`),
		Search: &SearchProfile{
			HomeURL:          "https://www.amazon.in",
			SearchURL:        "https://www.amazon.in/s",
			SearchBox:        "#twotabsearchtextbox",
			SubmitButton:     "#nav-search-submit-button",
			ResultsContainer: `[data-component-type="s-search-results"]`,
			ResultHeading:    `div[data-component-type="s-search-result"] h2`,
		},
	},
	{
		ID:            models.SiteCroma,
		Hosts:         []string{"croma.com"},
		TitleSelector: "h1.pd-title",
		PriceSelector: "#pdp-product-price",
		Wait:          browser.WaitDOMContentLoaded,
		Permalink:     regexp.MustCompile(`/p/\d+`),
	},
	{
		ID:            models.SiteBooksWagon,
		Hosts:         []string{"bookswagon.com"},
		TitleSelector: "h1#ctl00_phBody_ProductDetail_lblTitle",
		PriceSelector: "span#ctl00_phBody_ProductDetail_lblourPrice",
		Wait:          browser.WaitNetworkIdle,
		SettleDelay:   3 * time.Second,
		Permalink:     regexp.MustCompile(`/book/[^/]+/\d{10,13}`),
	},
}

// Classify maps a url to its shop by host substring. It is a pure function
// of the url.
func Classify(rawURL string) models.SiteID {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return models.SiteUnknown
	}

	host := strings.ToLower(u.Hostname())
	for _, s := range table {
		for _, pattern := range s.Hosts {
			if strings.Contains(host, pattern) {
				return s.ID
			}
		}
	}
	return models.SiteUnknown
}

// Lookup returns the table entry for id. SiteUnknown has no entry.
func Lookup(id models.SiteID) (Site, bool) {
	for _, s := range table {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

// IsPermalink reports whether link points at a product page of site id.
func IsPermalink(id models.SiteID, link string) bool {
	s, ok := Lookup(id)
	if !ok || s.Permalink == nil {
		return false
	}
	return s.Permalink.MatchString(link)
}

// Validate compiles every selector in the table.
func Validate() error {
	for _, s := range table {
		selectors := []string{s.TitleSelector, s.PriceSelector}
		if s.Search != nil {
			selectors = append(selectors,
				s.Search.SearchBox,
				s.Search.SubmitButton,
				s.Search.ResultsContainer,
				s.Search.ResultHeading,
			)
		}
		for _, sel := range selectors {
			if _, err := cascadia.Compile(sel); err != nil {
				return fmt.Errorf("site %s: invalid selector %q: %w", s.ID, sel, err)
			}
		}
		if len(s.Hosts) == 0 {
			return fmt.Errorf("site %s: no host patterns", s.ID)
		}
	}
	return nil
}
