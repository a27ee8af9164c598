package classify

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/clock"
	"github.com/venuegrid/crawler/internal/crawl"
)

// pageSession replays a static page: WaitAny matches the first selector in
// the visible set, Visible consults the same set, and HTML returns the
// fixture markup.
type pageSession struct {
	visible map[string]bool
	html    string
	clicks  []string
	// clicksUntilHidden hides a selector after that many clicks.
	clicksUntilHidden map[string]int
}

func (s *pageSession) Navigate(context.Context, string) error { return nil }

func (s *pageSession) WaitAny(_ context.Context, selectors ...string) (string, error) {
	for _, sel := range selectors {
		if s.visible[sel] {
			return sel, nil
		}
	}
	return selectors[len(selectors)-1], nil
}

func (s *pageSession) Visible(_ context.Context, selector string) (bool, error) {
	return s.visible[selector], nil
}

func (s *pageSession) Click(_ context.Context, selector string) error {
	s.clicks = append(s.clicks, selector)
	if n, ok := s.clicksUntilHidden[selector]; ok {
		if n <= 1 {
			s.visible[selector] = false
		} else {
			s.clicksUntilHidden[selector] = n - 1
		}
	}
	return nil
}

func (s *pageSession) HTML(context.Context) (string, error)            { return s.html, nil }
func (s *pageSession) SetCookies(context.Context, []*http.Cookie) error { return nil }
func (s *pageSession) Close() error                                     { return nil }

const venueHTML = `<html><body>
<div class="contentHolder">
  <a class="venueLink" href="/v/cafe-uno/123">Cafe Uno</a>
  <span class="categoryName">Cafe</span>
  <span class="venueAddress">Calle 1 #2-3</span>
  <span class="venueScore">8.7</span>
</div>
<div class="contentHolder">
  <a class="venueLink" href="https://example.com/v/bar-dos/456">Bar Dos</a>
  <span class="categoryName">Bar</span>
</div>
<div class="contentHolder"><span class="categoryName">no link, skipped</span></div>
</body></html>`

const reviewerHTML = `<html><body>
<div class="tipsContainer">
  <span class="userName"><a href="/user/11">Ana</a></span>
  <span class="userName"><a href="/user/22">Luis</a></span>
  <span class="userName"><a href="/user/11">Ana</a></span>
</div>
</body></html>`

func task(kind crawl.RecordKind) crawl.Task {
	return crawl.Task{
		Index:  3,
		Zone:   "centro",
		URL:    "https://example.com/search/centro",
		Region: "norte",
		Kind:   kind,
	}
}

func fixedClock() clock.Clock {
	return clock.NewFake(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
}

func TestClassifyVenuesExtractsCards(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{".contentHolder": true},
		html:    venueHTML,
	}
	c := NewVenue(zap.NewNop(), WithClock(fixedClock()))

	cls, err := c.Classify(context.Background(), session, task(crawl.KindVenue))
	require.NoError(t, err)

	require.Equal(t, crawl.OutcomeSuccess, cls.Tag)
	require.Len(t, cls.Records, 2, "cards without a link are skipped")

	first := cls.Records[0]
	require.Equal(t, crawl.KindVenue, first.Kind)
	require.Equal(t, "https://example.com/v/cafe-uno/123", first.URL, "relative hrefs resolve against the page")
	require.Equal(t, "Cafe Uno", first.Name)
	require.Equal(t, "Cafe", first.Category)
	require.Equal(t, "Calle 1 #2-3", first.Address)
	require.Equal(t, "8.7", first.Rating)
	require.Equal(t, "norte", first.Context)
	require.Equal(t, "https://example.com/search/centro", first.SourceURL)
	require.False(t, first.ExtractedAt.IsZero())
}

func TestClassifyBlockedBeatsEverything(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{
			".generic_error_card": true,
			".noResultsCard":      true,
			".contentHolder":      true,
		},
		html: venueHTML,
	}
	c := NewVenue(zap.NewNop(), WithClock(fixedClock()))

	cls, err := c.Classify(context.Background(), session, task(crawl.KindVenue))
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeBlocked, cls.Tag)
	require.Empty(t, cls.Records)
}

func TestClassifyNoResultsBeatsContent(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{
			".noResultsCard": true,
			".contentHolder": true,
		},
		html: venueHTML,
	}
	c := NewVenue(zap.NewNop(), WithClock(fixedClock()))

	cls, err := c.Classify(context.Background(), session, task(crawl.KindVenue))
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeNoResults, cls.Tag)
}

func TestClassifyEmptyExtractionIsNoResults(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{".contentHolder": true},
		html:    `<html><body><div class="contentHolder"></div></body></html>`,
	}
	c := NewVenue(zap.NewNop(), WithClock(fixedClock()))

	cls, err := c.Classify(context.Background(), session, task(crawl.KindVenue))
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeNoResults, cls.Tag)
}

func TestClassifyClicksLoadMoreUntilHidden(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{
			".contentHolder":        true,
			".moreResults > button": true,
		},
		clicksUntilHidden: map[string]int{".moreResults > button": 3},
		html:              venueHTML,
	}
	c := NewVenue(zap.NewNop(), WithClock(fixedClock()))

	cls, err := c.Classify(context.Background(), session, task(crawl.KindVenue))
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeSuccess, cls.Tag)
	require.Len(t, session.clicks, 3)
}

func TestClassifyLoadMoreClickBudget(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{
			".contentHolder":        true,
			".moreResults > button": true,
		},
		html: venueHTML,
	}
	c := NewVenue(zap.NewNop(), WithClock(fixedClock()), WithConfig(Config{
		Content:     ".contentHolder",
		LoadMore:    ".moreResults > button",
		MaxLoadMore: 5,
	}))

	_, err := c.Classify(context.Background(), session, task(crawl.KindVenue))
	require.NoError(t, err)
	require.Len(t, session.clicks, 5, "a button that never disappears stops at the budget")
}

func TestClassifyReviewersExtractsProfiles(t *testing.T) {
	t.Parallel()

	session := &pageSession{
		visible: map[string]bool{".tipsContainer": true},
		html:    reviewerHTML,
	}
	c := NewReviewer(zap.NewNop(), WithClock(fixedClock()))

	cls, err := c.Classify(context.Background(), session, task(crawl.KindReviewer))
	require.NoError(t, err)

	require.Equal(t, crawl.OutcomeSuccess, cls.Tag)
	// Duplicate authors stay here; the sink deduplicates by URL.
	require.Len(t, cls.Records, 3)
	require.Equal(t, crawl.KindReviewer, cls.Records[0].Kind)
	require.Equal(t, "https://example.com/user/11", cls.Records[0].URL)
	require.Equal(t, "Ana", cls.Records[0].Name)
}
