// Package classify decides what a loaded page means: a block wall, an
// empty result set, or content worth extracting. Block indicators always
// win over empty-state markers, and an extraction that yields nothing is
// reported as no results rather than a success.
package classify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
	"github.com/venuegrid/crawler/internal/crawl"
)

// Config holds the page-state selectors for one page family.
type Config struct {
	// Content matches when results rendered.
	Content string
	// NoResults markers mean the page loaded but holds nothing.
	NoResults []string
	// Blocked markers mean the site refused to serve results.
	Blocked []string
	// LoadMore is the pagination button, empty when the family has none.
	LoadMore string
	// MaxLoadMore bounds pagination clicks per page.
	MaxLoadMore int
}

type extractFunc func(doc *goquery.Document, task crawl.Task, now time.Time) []crawl.Record

// PageClassifier implements crawl.Classifier for one page family.
type PageClassifier struct {
	cfg     Config
	extract extractFunc
	clk     clock.Clock
	log     *zap.Logger
}

// Option adjusts a PageClassifier at construction.
type Option func(*PageClassifier)

// WithClock swaps the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *PageClassifier) { c.clk = clk }
}

// WithConfig replaces the default selector set.
func WithConfig(cfg Config) Option {
	return func(c *PageClassifier) { c.cfg = cfg }
}

// WithMaxLoadMore overrides the pagination click budget while keeping the
// family's default selectors.
func WithMaxLoadMore(n int) Option {
	return func(c *PageClassifier) { c.cfg.MaxLoadMore = n }
}

func newClassifier(cfg Config, extract extractFunc, log *zap.Logger, opts ...Option) *PageClassifier {
	if log == nil {
		log = zap.NewNop()
	}
	c := &PageClassifier{
		cfg:     cfg,
		extract: extract,
		clk:     clock.System{},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxLoadMore <= 0 {
		c.cfg.MaxLoadMore = 20
	}
	return c
}

// Classify waits for the page to settle into a recognizable state and
// extracts records when content is present.
func (c *PageClassifier) Classify(ctx context.Context, s crawl.Session, task crawl.Task) (crawl.Classification, error) {
	waitFor := make([]string, 0, len(c.cfg.Blocked)+len(c.cfg.NoResults)+1)
	waitFor = append(waitFor, c.cfg.Blocked...)
	waitFor = append(waitFor, c.cfg.NoResults...)
	waitFor = append(waitFor, c.cfg.Content)

	if _, err := s.WaitAny(ctx, waitFor...); err != nil {
		return crawl.Classification{}, fmt.Errorf("wait for page state: %w", err)
	}

	// Block markers outrank everything else; a block page may still render
	// an empty-looking shell underneath.
	for _, sel := range c.cfg.Blocked {
		visible, err := s.Visible(ctx, sel)
		if err != nil {
			return crawl.Classification{}, err
		}
		if visible {
			return crawl.Classification{Tag: crawl.OutcomeBlocked}, nil
		}
	}
	for _, sel := range c.cfg.NoResults {
		visible, err := s.Visible(ctx, sel)
		if err != nil {
			return crawl.Classification{}, err
		}
		if visible {
			return crawl.Classification{Tag: crawl.OutcomeNoResults}, nil
		}
	}

	if err := c.expand(ctx, s); err != nil {
		return crawl.Classification{}, err
	}

	html, err := s.HTML(ctx)
	if err != nil {
		return crawl.Classification{}, fmt.Errorf("read page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawl.Classification{}, fmt.Errorf("parse page: %w", err)
	}

	records := c.extract(doc, task, c.clk.Now())
	if len(records) == 0 {
		return crawl.Classification{Tag: crawl.OutcomeNoResults}, nil
	}
	return crawl.Classification{Tag: crawl.OutcomeSuccess, Records: records}, nil
}

// expand clicks the pagination button until it disappears or the click
// budget runs out.
func (c *PageClassifier) expand(ctx context.Context, s crawl.Session) error {
	if c.cfg.LoadMore == "" {
		return nil
	}
	for i := 0; i < c.cfg.MaxLoadMore; i++ {
		visible, err := s.Visible(ctx, c.cfg.LoadMore)
		if err != nil {
			return err
		}
		if !visible {
			return nil
		}
		if err := s.Click(ctx, c.cfg.LoadMore); err != nil {
			return fmt.Errorf("load more results: %w", err)
		}
		if _, err := s.WaitAny(ctx, c.cfg.Content); err != nil {
			return fmt.Errorf("settle after load more: %w", err)
		}
	}
	c.log.Debug("pagination budget exhausted", zap.Int("clicks", c.cfg.MaxLoadMore))
	return nil
}

// absoluteURL resolves href against the page the task navigated to.
func absoluteURL(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
