// Package browser runs crawl sessions in headless Chrome via chromedp.
// One allocator (one Chrome process tree) is shared by all workers; each
// task gets its own tab with a freshly rotated identity profile.
package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Profile is the browser identity presented by one session.
type Profile struct {
	UserAgent string
	Width     int64
	Height    int64
}

var defaultProfiles = []Profile{
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", Width: 1920, Height: 1080},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", Width: 1536, Height: 960},
	{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", Width: 1440, Height: 900},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", Width: 1600, Height: 1000},
}

// Config controls the shared Chrome process and per-host pacing.
type Config struct {
	// Headless disables the visible browser window.
	Headless bool `mapstructure:"headless"`
	// DomainQPS caps navigations per second per host. Zero disables
	// the per-host limiter.
	DomainQPS float64 `mapstructure:"domain_qps"`
	// Profiles overrides the built-in identity rotation set.
	Profiles []Profile `mapstructure:"-"`
}

// Provider creates browser sessions. It implements crawl.SessionProvider.
type Provider struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	limiters    sync.Map
	log         *zap.Logger
}

// NewProvider starts the Chrome allocator.
func NewProvider(cfg Config, log *zap.Logger) (*Provider, error) {
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = defaultProfiles
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Provider{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		log:         log,
	}, nil
}

// NewSession opens a fresh tab with a randomly drawn identity profile.
func (p *Provider) NewSession(ctx context.Context) (crawl.Session, error) {
	profile := p.cfg.Profiles[rand.IntN(len(p.cfg.Profiles))]

	tabCtx, tabCancel := chromedp.NewContext(p.allocator)
	stop := context.AfterFunc(ctx, tabCancel)

	s := &Session{
		ctx:      tabCtx,
		cancel:   func() { stop(); tabCancel() },
		profile:  profile,
		provider: p,
	}
	if err := s.applyProfile(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("apply browser profile: %w", err)
	}
	p.log.Debug("session opened",
		zap.String("user_agent", profile.UserAgent),
		zap.Int64("width", profile.Width),
		zap.Int64("height", profile.Height),
	)
	return s, nil
}

// Close shuts down the Chrome process tree.
func (p *Provider) Close() {
	p.allocCancel()
}

// waitHost blocks until the per-host navigation budget admits one request.
func (p *Provider) waitHost(ctx context.Context, rawURL string) error {
	if p.cfg.DomainQPS <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	limiter := p.hostLimiter(u.Host)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host budget %s: %w", u.Host, err)
	}
	return nil
}

func (p *Provider) hostLimiter(host string) *rate.Limiter {
	if v, ok := p.limiters.Load(host); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(p.cfg.DomainQPS), 1)
	actual, _ := p.limiters.LoadOrStore(host, limiter)
	return actual.(*rate.Limiter)
}

// pollInterval is how often WaitAny re-checks its selectors.
const pollInterval = 250 * time.Millisecond
