package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-finder/internal/clock"
	"github.com/JakeFAU/feed-finder/internal/crawler"
	"github.com/JakeFAU/feed-finder/internal/extract"
	"github.com/JakeFAU/feed-finder/internal/sink"
)

const (
	pageURL = "https://example.com/"
	feedURL = "https://example.com/feed"
	pageSrc = `<html><head><link rel="alternate" type="application/rss+xml" href="/feed"></head></html>`
	rssSrc  = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example Blog</title><link>https://example.com/</link><description>Posts</description>
<language>en</language>
<item><title>First</title><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
</channel></rss>`
)

var stamp = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func TestWorker_Process_WritesContentRow(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}},
		feedURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: rssSrc}},
	}}
	writer := &fakeWriter{}
	w := newTestWorker(fetcher, writer)

	w.Process(context.Background(), pageURL)

	require.Len(t, writer.records, 1)
	rec := writer.records[0]
	require.Equal(t, feedURL, rec.RSSHref)
	require.Nil(t, rec.Err)
	require.NotNil(t, rec.Content)
	require.Equal(t, "Example Blog", rec.Content.Title)
	require.Equal(t, http.StatusOK, rec.Content.StatusCode)
	require.Equal(t, stamp, rec.FetchedAt)
	require.Equal(t, int64(1), w.Written())
	require.Equal(t, []crawler.ContentTypes{crawler.HTMLContentTypes, crawler.FeedContentTypes}, fetcher.allowedSeen())
}

func TestWorker_Process_PageFailuresWriteNothing(t *testing.T) {
	t.Parallel()

	cases := map[string]fakeResponse{
		"non-200":         {fetched: crawler.Fetched{StatusCode: http.StatusNotFound}},
		"empty body":      {fetched: crawler.Fetched{StatusCode: http.StatusOK}},
		"wrong type":      {err: crawler.InvalidContentType("application/pdf")},
		"transport error": {err: crawler.Transport(errors.New("connection refused"))},
		"no feed link":    {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: "<html><head></head></html>"}},
	}
	for name, page := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fetcher := &fakeFetcher{responses: map[string]fakeResponse{pageURL: page}}
			writer := &fakeWriter{}
			w := newTestWorker(fetcher, writer)

			w.Process(context.Background(), pageURL)

			require.Empty(t, writer.records)
			require.Len(t, fetcher.allowedSeen(), 1, "feed is never fetched")
		})
	}
}

func TestWorker_Process_FeedFailuresWriteErrorRow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		feed      fakeResponse
		wantClass string
		wantText  string
	}{
		{
			name:      "not found",
			feed:      fakeResponse{fetched: crawler.Fetched{StatusCode: http.StatusNotFound}},
			wantClass: "HTTPStatusException",
			wantText:  "no content, http status code: 404",
		},
		{
			name:      "invalid content type",
			feed:      fakeResponse{err: crawler.InvalidContentType("image/png")},
			wantClass: "InvalidContentType",
			wantText:  "image/png",
		},
		{
			name:      "plain error is transport",
			feed:      fakeResponse{err: errors.New("tls handshake timeout")},
			wantClass: "TransportError",
			wantText:  "tls handshake timeout",
		},
		{
			name:      "unparseable",
			feed:      fakeResponse{fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: "not a feed"}},
			wantClass: "FeedParseError",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fetcher := &fakeFetcher{responses: map[string]fakeResponse{
				pageURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}},
				feedURL: tc.feed,
			}}
			writer := &fakeWriter{}
			w := newTestWorker(fetcher, writer)

			w.Process(context.Background(), pageURL)

			require.Len(t, writer.records, 1)
			rec := writer.records[0]
			require.Nil(t, rec.Content)
			require.NotNil(t, rec.Err)
			require.Equal(t, tc.wantClass, rec.Err.Class())
			if tc.wantText != "" {
				require.Equal(t, tc.wantText, rec.Err.Error())
			}
			require.Equal(t, stamp, rec.FetchedAt)
		})
	}
}

func TestWorker_Process_CommentsFeedDropped(t *testing.T) {
	t.Parallel()

	comments := `<?xml version="1.0"?><rss version="2.0"><channel><title>Comments on: Hello</title></channel></rss>`
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}},
		feedURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: comments}},
	}}
	writer := &fakeWriter{}
	w := newTestWorker(fetcher, writer)

	w.Process(context.Background(), pageURL)

	require.Empty(t, writer.records)
	require.Zero(t, w.Written())
}

func TestWorker_Process_AbandonedAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}},
		feedURL: {err: context.Canceled},
	}}
	fetcher.onFetch = func(url string) {
		if url == feedURL {
			cancel()
		}
	}
	writer := &fakeWriter{}
	w := newTestWorker(fetcher, writer)

	w.Process(ctx, pageURL)

	require.Empty(t, writer.records)
}

func TestWorker_Process_RecoversPanic(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{onFetch: func(string) { panic("boom") }}
	writer := &fakeWriter{}
	w := newTestWorker(fetcher, writer)

	require.NotPanics(t, func() { w.Process(context.Background(), pageURL) })
	require.Empty(t, writer.records)
}

func TestWorker_Process_WriteFailureIsLogged(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}},
		feedURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: rssSrc}},
	}}
	writer := &fakeWriter{err: errors.New("disk full")}
	w := newTestWorker(fetcher, writer)

	w.Process(context.Background(), pageURL)

	require.Len(t, writer.records, 1)
	require.Zero(t, w.Written())
}

func TestWorker_Process_MirrorFailureStillCountsRow(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		pageURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}},
		feedURL: {fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: rssSrc}},
	}}
	primary := &fakeWriter{}
	mirror := &fakeWriter{err: errors.New("connection refused")}
	w := newTestWorker(fetcher, sink.Fanout{primary, mirror})

	w.Process(context.Background(), pageURL)

	require.Len(t, primary.records, 1)
	require.Len(t, mirror.records, 1)
	require.EqualValues(t, 1, w.Written())
}

func TestWorker_Process_ConcurrentTasks(t *testing.T) {
	t.Parallel()

	responses := map[string]fakeResponse{}
	urls := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/"}
	for _, u := range urls {
		responses[u] = fakeResponse{fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: pageSrc}}
		responses[u+"feed"] = fakeResponse{fetched: crawler.Fetched{StatusCode: http.StatusOK, Body: rssSrc}}
	}
	writer := &fakeWriter{}
	w := newTestWorker(&fakeFetcher{responses: responses}, writer)

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			w.Process(context.Background(), u)
		}(u)
	}
	wg.Wait()

	require.Len(t, writer.records, len(urls))
	require.Equal(t, int64(len(urls)), w.Written())
}

func newTestWorker(fetcher crawler.Fetcher, writer crawler.RecordWriter) *Worker {
	clk := clock.Fixed{At: stamp}
	return New(fetcher, extract.New(clk), writer, clk, zap.NewNop())
}

type fakeResponse struct {
	fetched crawler.Fetched
	err     error
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	allowed   []crawler.ContentTypes
	onFetch   func(url string)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, allowed crawler.ContentTypes) (crawler.Fetched, error) {
	f.mu.Lock()
	f.allowed = append(f.allowed, allowed)
	resp, ok := f.responses[url]
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if !ok {
		return crawler.Fetched{}, crawler.Transport(errors.New("no such host"))
	}
	if resp.err != nil {
		return crawler.Fetched{}, resp.err
	}
	resp.fetched.URL = url
	return resp.fetched, nil
}

func (f *fakeFetcher) allowedSeen() []crawler.ContentTypes {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.ContentTypes(nil), f.allowed...)
}

type fakeWriter struct {
	mu      sync.Mutex
	records []crawler.FeedRecord
	err     error
}

func (f *fakeWriter) Write(_ context.Context, rec crawler.FeedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}
