package classify

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Venue page selectors. The card markup is stable across zones; the block
// wall and empty states share markers with the rest of the site.
var venueDefaults = Config{
	Content:     ".contentHolder",
	NoResults:   []string{".noResultsCard", ".noTips"},
	Blocked:     []string{".generic_error_card", ".captchaChallenge"},
	LoadMore:    ".moreResults > button",
	MaxLoadMore: 20,
}

// NewVenue builds the classifier for zone search pages listing venues.
func NewVenue(log *zap.Logger, opts ...Option) *PageClassifier {
	return newClassifier(venueDefaults, extractVenues, log, opts...)
}

func extractVenues(doc *goquery.Document, task crawl.Task, now time.Time) []crawl.Record {
	var records []crawl.Record
	doc.Find(".contentHolder").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a.venueLink").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		venueURL := absoluteURL(task.URL, href)
		name := strings.TrimSpace(link.Text())
		if venueURL == "" || name == "" {
			return
		}
		records = append(records, crawl.Record{
			Kind:        crawl.KindVenue,
			URL:         venueURL,
			Name:        name,
			Category:    strings.TrimSpace(card.Find(".categoryName").First().Text()),
			Address:     strings.TrimSpace(card.Find(".venueAddress").First().Text()),
			Rating:      strings.TrimSpace(card.Find(".venueScore").First().Text()),
			Context:     task.Context(),
			SourceURL:   task.URL,
			ExtractedAt: now,
		})
	})
	return records
}
