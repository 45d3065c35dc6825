package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/maltedev/shop-price-scraper/internal/browser"
)

const (
	DefaultKeyDelay   = 150 * time.Millisecond
	defaultHoverPause = 300 * time.Millisecond
)

// Humanizer performs the interactive steps of the search flow the way a
// person would. It is never used on product page fetches.
type Humanizer struct {
	keyDelay time.Duration
	pacer    *Pacer
	rnd      *rand.Rand
}

func NewHumanizer(keyDelay time.Duration, pacer *Pacer, seed uint64) *Humanizer {
	if keyDelay <= 0 {
		keyDelay = DefaultKeyDelay
	}
	return &Humanizer{
		keyDelay: keyDelay,
		pacer:    pacer,
		rnd:      rand.New(rand.NewPCG(seed, 0x5eed)),
	}
}

// TypeSlowly types text one key at a time.
func (h *Humanizer) TypeSlowly(ctx context.Context, page browser.Page, selector, text string) error {
	return page.Type(ctx, selector, text, h.keyDelay)
}

// HoverAndClick hovers the element, pauses briefly, then clicks it and waits
// for the resulting navigation.
func (h *Humanizer) HoverAndClick(ctx context.Context, page browser.Page, selector string, wait browser.WaitPolicy, timeout time.Duration) error {
	if err := page.Hover(ctx, selector); err != nil {
		return fmt.Errorf("hover %s: %w", selector, err)
	}
	if err := h.pacer.Sleep(ctx, defaultHoverPause); err != nil {
		return err
	}
	return page.ClickAndWait(ctx, selector, wait, timeout)
}

// RandomScroll scrolls down by a random fraction of the viewport once.
func (h *Humanizer) RandomScroll(ctx context.Context, page browser.Page) error {
	fraction := h.rnd.Float64()
	script := fmt.Sprintf("() => window.scrollBy(0, Math.floor(window.innerHeight * %.3f))", fraction)
	_, err := page.Evaluate(ctx, script)
	return err
}
