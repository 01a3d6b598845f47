package crawler

import (
	"context"
	"time"
)

// Fetcher performs one GET and negotiates the response content type.
type Fetcher interface {
	Fetch(ctx context.Context, url string, allowed ContentTypes) (Fetched, error)
}

// RecordWriter appends a row to the output dataset. Implementations must be safe
// for concurrent use.
type RecordWriter interface {
	Write(ctx context.Context, record FeedRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// ContentTypes is an allow-list of media types without parameters.
type ContentTypes []string

// Allows reports whether mediaType is a member of the list.
func (c ContentTypes) Allows(mediaType string) bool {
	for _, t := range c {
		if t == mediaType {
			return true
		}
	}
	return false
}

// HTMLContentTypes is accepted for the page fetch.
var HTMLContentTypes = ContentTypes{
	"text/html",
	"text/plain",
}

// FeedContentTypes is accepted for the feed fetch. HTML and plain text are
// lenient fallbacks for misconfigured servers.
var FeedContentTypes = ContentTypes{
	"application/atom+xml",
	"application/rss+xml",
	"application/rdf+xml",
	"application/x-rss+xml",
	"application/xml",
	"text/xml",
	"text/html",
	"text/plain",
	"xml",
}
