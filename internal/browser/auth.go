package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/crawl"
)

// AuthConfig controls cookie-based session authentication.
type AuthConfig struct {
	// CookieFile is a JSON array of exported browser cookies.
	CookieFile string `mapstructure:"cookie_file"`
	// VerifyURL, when set, is loaded after installing cookies to confirm
	// the session is actually logged in.
	VerifyURL string `mapstructure:"verify_url"`
	// LoggedInSelector matches only when the account session is live.
	LoggedInSelector string `mapstructure:"logged_in_selector"`
	// LoginFormSelector matches the anonymous login page.
	LoginFormSelector string `mapstructure:"login_form_selector"`
}

// cookieEntry is the exported-cookie JSON shape, as written by browser
// devtools extensions and by Playwright storage dumps.
type cookieEntry struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

// CookieAuthenticator installs cookies from a file into each session and
// optionally verifies the login actually took. It implements
// crawl.Authenticator.
type CookieAuthenticator struct {
	cfg     AuthConfig
	cookies []*http.Cookie
	log     *zap.Logger
}

// NewCookieAuthenticator loads and validates the cookie file.
func NewCookieAuthenticator(cfg AuthConfig, log *zap.Logger) (*CookieAuthenticator, error) {
	if cfg.CookieFile == "" {
		return nil, fmt.Errorf("cookie file is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	data, err := os.ReadFile(cfg.CookieFile)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	var entries []cookieEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode cookie file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cookie file %s holds no cookies", cfg.CookieFile)
	}

	cookies := make([]*http.Cookie, 0, len(entries))
	for _, e := range entries {
		c := &http.Cookie{
			Name:     e.Name,
			Value:    e.Value,
			Domain:   e.Domain,
			Path:     e.Path,
			Secure:   e.Secure,
			HttpOnly: e.HTTPOnly,
		}
		if e.Expires > 0 {
			c.Expires = time.Unix(int64(e.Expires), 0)
		}
		cookies = append(cookies, c)
	}
	return &CookieAuthenticator{cfg: cfg, cookies: cookies, log: log}, nil
}

// Ensure installs the cookies and, when configured, loads the verify page
// to confirm the session is logged in.
func (a *CookieAuthenticator) Ensure(ctx context.Context, s crawl.Session) error {
	if err := s.SetCookies(ctx, a.cookies); err != nil {
		return fmt.Errorf("install cookies: %w", err)
	}
	if a.cfg.VerifyURL == "" || a.cfg.LoggedInSelector == "" {
		return nil
	}

	if err := s.Navigate(ctx, a.cfg.VerifyURL); err != nil {
		return fmt.Errorf("load verify page: %w", err)
	}
	selectors := []string{a.cfg.LoggedInSelector}
	if a.cfg.LoginFormSelector != "" {
		selectors = append(selectors, a.cfg.LoginFormSelector)
	}
	matched, err := s.WaitAny(ctx, selectors...)
	if err != nil {
		return fmt.Errorf("verify login: %w", err)
	}
	if matched == a.cfg.LoginFormSelector {
		return fmt.Errorf("login form shown, session cookies are stale")
	}
	a.log.Debug("session verified logged in")
	return nil
}
