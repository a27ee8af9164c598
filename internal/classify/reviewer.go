package classify

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/crawl"
)

// Reviewer selectors target the tip list on a venue page. Each tip names
// its author with a profile link.
var reviewerDefaults = Config{
	Content:     ".tipsContainer",
	NoResults:   []string{".noTips"},
	Blocked:     []string{".generic_error_card", ".captchaChallenge"},
	LoadMore:    ".moreTips > button",
	MaxLoadMore: 20,
}

// NewReviewer builds the classifier for venue pages listing reviewers.
func NewReviewer(log *zap.Logger, opts ...Option) *PageClassifier {
	return newClassifier(reviewerDefaults, extractReviewers, log, opts...)
}

func extractReviewers(doc *goquery.Document, task crawl.Task, now time.Time) []crawl.Record {
	var records []crawl.Record
	doc.Find("span.userName a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		profileURL := absoluteURL(task.URL, href)
		name := strings.TrimSpace(link.Text())
		if profileURL == "" || name == "" {
			return
		}
		records = append(records, crawl.Record{
			Kind:        crawl.KindReviewer,
			URL:         profileURL,
			Name:        name,
			Context:     task.Context(),
			SourceURL:   task.URL,
			ExtractedAt: now,
		})
	})
	return records
}
