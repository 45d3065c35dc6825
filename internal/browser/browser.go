package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrSelectorTimeout   = errors.New("selector wait timed out")
	ErrElementNotFound   = errors.New("element not found")
)

// WaitPolicy decides when a navigation counts as settled.
type WaitPolicy int

const (
	WaitDOMContentLoaded WaitPolicy = iota
	WaitNetworkIdle
)

func (w WaitPolicy) String() string {
	if w == WaitNetworkIdle {
		return "networkidle"
	}
	return "domcontentloaded"
}

// Page is the subset of a browser tab the scraper drives. Every blocking call
// is bounded by its timeout argument or by ctx.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitPolicy, timeout time.Duration) error
	URL() string
	HTML(ctx context.Context) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Text returns the trimmed inner text of the first match without waiting.
	Text(ctx context.Context, selector string) (string, error)
	Type(ctx context.Context, selector, text string, keyDelay time.Duration) error
	Hover(ctx context.Context, selector string) error
	ClickAndWait(ctx context.Context, selector string, wait WaitPolicy, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (any, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Session is one running browser.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

type Engine string

const (
	EnginePlaywright Engine = "playwright"
	EngineRod        Engine = "rod"
)

type Options struct {
	Engine         Engine
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Engine:         EnginePlaywright,
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1440,
		ViewportHeight: 900,
		AcceptLanguage: "en-IN,en;q=0.9",
		TimezoneID:     "Asia/Kolkata",
		Locale:         "en-IN",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// NewLauncher picks the driver implementation for opts.Engine.
func NewLauncher(opts *Options) (Launcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	switch opts.Engine {
	case EnginePlaywright, "":
		return NewPlaywrightLauncher(opts), nil
	case EngineRod:
		return NewRodLauncher(opts), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", opts.Engine)
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
