// Package extract turns a fetched feed document into an output row.
package extract

import (
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/JakeFAU/feed-finder/internal/crawler"
)

// MaxTags bounds the number of tag terms kept per feed.
const MaxTags = 32

// commentFeedPrefixes are lower-cased title prefixes of comment feeds, across
// the languages most often seen in WordPress-style blogs.
var commentFeedPrefixes = []string{
	"comments on:",
	"comentarios en:",
	"commentaires sur",
	"reacties op:",
	"komente te:",
	"kommentare zu:",
	"comentários sobre:",
	"kommentarer til:",
	"kommentarer på:",
}

// Extractor builds FeedRecords from feed text.
type Extractor struct {
	clock crawler.Clock
}

// New returns an Extractor stamping rows with clock.
func New(clock crawler.Clock) *Extractor {
	return &Extractor{clock: clock}
}

// Extract parses text fetched from feedURL. It returns false when the feed is a
// comments feed and must be discarded without a row.
func (e *Extractor) Extract(feedURL, text string, statusCode int) (crawler.FeedRecord, bool) {
	now := e.clock.Now()
	if text == "" || statusCode != http.StatusOK {
		return crawler.NewErrorRecord(feedURL, crawler.HTTPStatus(statusCode), now), true
	}

	// gofeed parsers keep per-document state, so one per call.
	feed, err := gofeed.NewParser().ParseString(text)
	if err != nil {
		return crawler.NewErrorRecord(feedURL, crawler.Parse(err), now), true
	}

	content := crawler.FeedContent{
		Language:          FirstLine(feed.Language),
		Title:             FirstLine(feed.Title),
		Subtitle:          FirstLine(feed.Description),
		Link:              FirstLine(feed.Link),
		SyUpdatePeriod:    FirstLine(extensionValue(feed.Extensions, "sy", "updatePeriod")),
		SyUpdateFrequency: FirstLine(extensionValue(feed.Extensions, "sy", "updateFrequency")),
		StatusCode:        http.StatusOK,
	}
	if IsCommentsFeed(content.Title) {
		return crawler.FeedRecord{}, false
	}

	content.Tags = selectTags(feed)
	if feed.UpdatedParsed != nil {
		updated := feed.UpdatedParsed.UTC()
		content.Updated = &updated
	}
	if len(feed.Items) > 0 {
		if first := feed.Items[0]; first != nil && first.PublishedParsed != nil {
			published := first.PublishedParsed.UTC()
			content.LatestArticlePublished = &published
		}
		count := len(feed.Items)
		content.EntryCount = &count
	}

	return crawler.NewContentRecord(feedURL, content, now), true
}

// IsCommentsFeed reports whether title marks a feed of comments rather than
// primary content.
func IsCommentsFeed(title string) bool {
	lower := strings.ToLower(title)
	for _, prefix := range commentFeedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// FirstLine keeps the first line of s with tabs and carriage returns replaced
// by spaces, trimmed.
func FirstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.NewReplacer("\t", " ", "\r", " ").Replace(line)
	return strings.TrimSpace(line)
}

// selectTags prefers channel categories and falls back to the first entry's.
func selectTags(feed *gofeed.Feed) []string {
	terms := feed.Categories
	if len(terms) == 0 && len(feed.Items) > 0 && feed.Items[0] != nil {
		terms = feed.Items[0].Categories
	}

	kept := make([]string, 0, min(len(terms), MaxTags))
	for _, term := range terms {
		if len(kept) == MaxTags {
			break
		}
		if term != "" {
			kept = append(kept, term)
		}
	}

	tags := make([]string, 0, len(kept))
	for _, term := range kept {
		if line := FirstLine(term); line != "" {
			tags = append(tags, line)
		}
	}
	return tags
}

func extensionValue(exts ext.Extensions, prefix, name string) string {
	if exts == nil {
		return ""
	}
	values := exts[prefix][name]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}
