package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Session is one browser tab. It implements crawl.Session. Methods are not
// safe for concurrent use; a session belongs to a single worker.
type Session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	profile  Profile
	provider *Provider
}

// bind derives a run context on the tab that honors the caller's deadline
// and cancellation. chromedp actions must run on the tab context chain.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }
}

func (s *Session) applyProfile(ctx context.Context) error {
	runCtx, done := s.bind(ctx)
	defer done()

	return chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if err := emulation.SetUserAgentOverride(s.profile.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			return nil
		}),
		chromedp.EmulateViewport(s.profile.Width, s.profile.Height),
	)
}

// Navigate loads url and waits for the document body, respecting the
// per-host pacing budget first.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.provider.waitHost(ctx, url); err != nil {
		return err
	}
	runCtx, done := s.bind(ctx)
	defer done()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitAny polls until one of the selectors matches and returns it. The
// page decides the classification, so the first match wins regardless of
// selector order within a poll.
func (s *Session) WaitAny(ctx context.Context, selectors ...string) (string, error) {
	if len(selectors) == 0 {
		return "", fmt.Errorf("no selectors to wait for")
	}
	runCtx, done := s.bind(ctx)
	defer done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for _, sel := range selectors {
			found, err := s.matches(runCtx, sel)
			if err != nil {
				return "", err
			}
			if found {
				return sel, nil
			}
		}
		select {
		case <-runCtx.Done():
			return "", runCtx.Err()
		case <-ticker.C:
		}
	}
}

// Visible reports whether the selector matches a rendered element.
func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	runCtx, done := s.bind(ctx)
	defer done()
	return s.matches(runCtx, selector)
}

func (s *Session) matches(runCtx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &found)); err != nil {
		return false, fmt.Errorf("evaluate selector %s: %w", selector, err)
	}
	return found, nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	runCtx, done := s.bind(ctx)
	defer done()

	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// HTML returns the rendered document markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	runCtx, done := s.bind(ctx)
	defer done()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

// SetCookies installs session cookies into the tab.
func (s *Session) SetCookies(ctx context.Context, cookies []*http.Cookie) error {
	runCtx, done := s.bind(ctx)
	defer done()

	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HttpOnly)
			if !c.Expires.IsZero() {
				expiry := cdp.TimeSinceEpoch(c.Expires)
				param = param.WithExpires(&expiry)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Close tears down the tab.
func (s *Session) Close() error {
	s.cancel()
	return nil
}
