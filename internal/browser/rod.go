package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// networkIdleWindow is how long the network must stay quiet for WaitNetworkIdle.
const networkIdleWindow = 500 * time.Millisecond

// RodLauncher drives Chromium over CDP with the stealth evasions injected
// into every page.
type RodLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func NewRodLauncher(opts *Options) *RodLauncher {
	return &RodLauncher{
		opts:   opts,
		logger: slog.Default().With("component", "browser", "engine", EngineRod),
	}
}

func (l *RodLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lc := launcher.New().
		Headless(l.opts.Headless).
		NoSandbox(true)

	lc.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	lc.Delete(flags.Flag("enable-automation"))
	lc.Set(flags.Flag("disable-dev-shm-usage"))

	controlURL, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	l.logger.Info("browser launched", "headless", l.opts.Headless, "controlURL", controlURL)

	return &rodSession{browser: b, launcher: lc, opts: l.opts}, nil
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     *Options
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.opts.ViewportWidth,
		Height:            s.opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if s.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      s.opts.UserAgent,
			AcceptLanguage: s.opts.AcceptLanguage,
		}); err != nil {
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	return &rodPage{page: page}, nil
}

func (s *rodSession) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
	}
	return err
}

type rodPage struct {
	page *rod.Page
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (r *rodPage) Navigate(ctx context.Context, url string, wait WaitPolicy, timeout time.Duration) error {
	p := r.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	// Waiters are registered before Navigate so no lifecycle event is missed.
	var waitFn func()
	if wait == WaitNetworkIdle {
		waitFn = p.WaitRequestIdle(networkIdleWindow, nil, nil, nil)
	} else {
		waitFn = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	}

	if err := p.Navigate(url); err != nil {
		if isDeadline(err) {
			return fmt.Errorf("%w after %s: %s", ErrNavigationTimeout, timeout, url)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	waitFn()
	if err := p.GetContext().Err(); err != nil {
		if isDeadline(err) {
			return fmt.Errorf("%w after %s: %s", ErrNavigationTimeout, timeout, url)
		}
		return err
	}
	return nil
}

func (r *rodPage) URL() string {
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (r *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := r.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

func (r *rodPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	p := r.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	if _, err := p.Element(selector); err != nil {
		if isDeadline(err) {
			return fmt.Errorf("%w after %s: %s", ErrSelectorTimeout, timeout, selector)
		}
		return fmt.Errorf("failed waiting for %s: %w", selector, err)
	}
	return nil
}

func (r *rodPage) Text(ctx context.Context, selector string) (string, error) {
	has, el, err := r.page.Context(ctx).Has(selector)
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if !has {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (r *rodPage) Type(ctx context.Context, selector, text string, keyDelay time.Duration) error {
	el, err := r.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("failed to focus %s: %w", selector, err)
	}

	for _, ch := range text {
		if err := el.Input(string(ch)); err != nil {
			return fmt.Errorf("failed to type into %s: %w", selector, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(keyDelay):
		}
	}
	return nil
}

func (r *rodPage) Hover(ctx context.Context, selector string) error {
	el, err := r.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Hover()
}

func (r *rodPage) ClickAndWait(ctx context.Context, selector string, wait WaitPolicy, timeout time.Duration) error {
	p := r.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}

	event := proto.PageLifecycleEventNameDOMContentLoaded
	if wait == WaitNetworkIdle {
		event = proto.PageLifecycleEventNameNetworkIdle
	}
	waitFn := p.WaitNavigation(event)

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}

	waitFn()
	if err := p.GetContext().Err(); isDeadline(err) {
		return fmt.Errorf("%w after clicking %s", ErrNavigationTimeout, selector)
	}
	return nil
}

func (r *rodPage) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := r.page.Context(ctx).Eval(script)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (r *rodPage) Screenshot(ctx context.Context, path string) error {
	data, err := r.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (r *rodPage) Close() error {
	return r.page.Close()
}
