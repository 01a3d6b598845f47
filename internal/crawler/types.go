package crawler

import (
	"encoding/json"
	"strconv"
	"time"
)

// ISOLayout renders timestamps at second precision without a zone suffix.
const ISOLayout = "2006-01-02T15:04:05"

// Columns lists the output fields in on-disk order. Downstream consumers rely on
// this order; no header row is written.
var Columns = []string{
	"rss_href",
	"language",
	"title",
	"subtitle",
	"link",
	"tags",
	"sy_updateperiod",
	"sy_updatefrequency",
	"updated",
	"updated_isoformat",
	"latest_article_published",
	"latest_article_published_isoformat",
	"entry_count",
	"status_code",
	"fetch_ts_isoformat",
	"exception_class",
	"exception_text",
}

// FeedContent holds the channel metadata parsed from a successfully fetched feed.
type FeedContent struct {
	Language               string
	Title                  string
	Subtitle               string
	Link                   string
	Tags                   []string
	SyUpdatePeriod         string
	SyUpdateFrequency      string
	Updated                *time.Time
	LatestArticlePublished *time.Time
	EntryCount             *int
	StatusCode             int
}

// FeedRecord is one output row. It carries either Content or Err, never both.
type FeedRecord struct {
	RSSHref   string
	Content   *FeedContent
	FetchedAt time.Time
	Err       *FetchError
}

// NewContentRecord builds the success-path row for a parsed feed.
func NewContentRecord(rssHref string, content FeedContent, fetchedAt time.Time) FeedRecord {
	return FeedRecord{
		RSSHref:   rssHref,
		Content:   &content,
		FetchedAt: fetchedAt,
	}
}

// NewErrorRecord builds a row whose content columns are all empty.
func NewErrorRecord(rssHref string, err *FetchError, fetchedAt time.Time) FeedRecord {
	return FeedRecord{
		RSSHref:   rssHref,
		FetchedAt: fetchedAt,
		Err:       err,
	}
}

// Fields renders the record as strings in Columns order. Absent values render
// as empty strings.
func (r FeedRecord) Fields() []string {
	out := make([]string, 0, len(Columns))
	out = append(out, r.RSSHref)
	out = append(out, r.contentFields()...)
	out = append(out, r.FetchedAt.Format(ISOLayout))
	if r.Err != nil {
		out = append(out, r.Err.Class(), r.Err.Error())
	} else {
		out = append(out, "", "")
	}
	return out
}

func (r FeedRecord) contentFields() []string {
	c := r.Content
	if c == nil {
		return make([]string, 13)
	}
	updated, updatedISO := unixAndISO(c.Updated)
	latest, latestISO := unixAndISO(c.LatestArticlePublished)
	entryCount := ""
	if c.EntryCount != nil {
		entryCount = strconv.Itoa(*c.EntryCount)
	}
	return []string{
		c.Language,
		c.Title,
		c.Subtitle,
		c.Link,
		EncodeTags(c.Tags),
		c.SyUpdatePeriod,
		c.SyUpdateFrequency,
		updated,
		updatedISO,
		latest,
		latestISO,
		entryCount,
		strconv.Itoa(c.StatusCode),
	}
}

// EncodeTags serializes tags as a JSON array, falling back to "[]".
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unixAndISO(t *time.Time) (string, string) {
	if t == nil {
		return "", ""
	}
	u := t.UTC()
	return strconv.FormatInt(u.Unix(), 10), u.Format(ISOLayout)
}

// Fetched is the outcome of a single GET that did not fail at the transport or
// content-type level. Body is empty whenever StatusCode is not 200.
type Fetched struct {
	URL        string
	StatusCode int
	Body       string
}
