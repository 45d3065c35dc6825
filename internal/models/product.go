package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CurrencySymbol prefixes every Money value. All supported shops price in INR.
const CurrencySymbol = "₹"

type SiteID int

const (
	SiteUnknown SiteID = iota
	SiteAmazon
	SiteCroma
	SiteBooksWagon
)

func (s SiteID) String() string {
	switch s {
	case SiteAmazon:
		return "Amazon"
	case SiteCroma:
		return "Croma"
	case SiteBooksWagon:
		return "BooksWagon"
	default:
		return "Unknown"
	}
}

func (s SiteID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SiteID) UnmarshalText(text []byte) error {
	for id := SiteUnknown; id <= SiteBooksWagon; id++ {
		if id.String() == string(text) {
			*s = id
			return nil
		}
	}
	return fmt.Errorf("unknown site %q", string(text))
}

type Origin string

const (
	OriginExplicit     Origin = "explicit"
	OriginSearchResult Origin = "search-result"
)

// Target is one url scheduled for extraction. Identity is the URL.
type Target struct {
	URL    string `json:"url"`
	Site   SiteID `json:"site"`
	Origin Origin `json:"origin"`
}

// Money is a currency-tagged amount such as "₹12999". Grouping separators and
// decimal points are already stripped.
type Money string

// Digits returns the amount without the currency symbol.
func (m Money) Digits() string {
	return strings.TrimPrefix(string(m), CurrencySymbol)
}

func (m Money) Value() (int64, error) {
	if m == "" {
		return 0, fmt.Errorf("empty price")
	}
	v, err := strconv.ParseInt(m.Digits(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", string(m), err)
	}
	return v, nil
}

func (m Money) String() string {
	return string(m)
}

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailure        Status = "failure"
)

type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindNavigationTimeout
	ErrKindNavigationFailed
	ErrKindSelectorTimeout
	ErrKindStructuredDataParse
	ErrKindExtractionNotFound
	ErrKindUnsupportedSite
	ErrKindFatalResolver
	ErrKindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNone:
		return ""
	case ErrKindNavigationTimeout:
		return "navigation_timeout"
	case ErrKindNavigationFailed:
		return "navigation_failed"
	case ErrKindSelectorTimeout:
		return "selector_timeout"
	case ErrKindStructuredDataParse:
		return "structured_data_parse_error"
	case ErrKindExtractionNotFound:
		return "extraction_not_found"
	case ErrKindUnsupportedSite:
		return "unsupported_site"
	case ErrKindFatalResolver:
		return "fatal_resolver_error"
	default:
		return "internal"
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(text []byte) error {
	kind, err := ParseErrorKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, error) {
	for k := ErrKindNone; k <= ErrKindInternal; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return ErrKindNone, fmt.Errorf("unknown error kind %q", s)
}

// ExtractionResult is produced exactly once per Target and is not modified
// after it has been handed to the result sink.
type ExtractionResult struct {
	Target    Target        `json:"target"`
	Title     string        `json:"title,omitempty"`
	Price     Money         `json:"price,omitempty"`
	Status    Status        `json:"status"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	Duration  time.Duration `json:"duration"`
	ScrapedAt time.Time     `json:"scraped_at"`
}

// NewResult derives the status from the recovered fields.
func NewResult(target Target, title string, price Money, kind ErrorKind, err error) ExtractionResult {
	r := ExtractionResult{
		Target:    target,
		Title:     title,
		Price:     price,
		ScrapedAt: time.Now(),
	}

	switch {
	case title != "" && price != "":
		r.Status = StatusSuccess
		return r
	case title != "" || price != "":
		r.Status = StatusPartialFailure
	default:
		r.Status = StatusFailure
	}

	r.ErrorKind = kind
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// FailedResult is used when a target never reached extraction.
func FailedResult(target Target, kind ErrorKind, err error) ExtractionResult {
	return NewResult(target, "", "", kind, err)
}

// HasData reports whether any field was recovered.
func (r ExtractionResult) HasData() bool {
	return r.Title != "" || r.Price != ""
}

func (r ExtractionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
