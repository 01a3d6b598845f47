// Package worker runs the per-domain feed probe: page fetch, feed discovery,
// feed fetch, metadata extraction and row write.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-finder/internal/crawler"
	"github.com/JakeFAU/feed-finder/internal/discover"
	"github.com/JakeFAU/feed-finder/internal/metrics"
	"github.com/JakeFAU/feed-finder/internal/sink"
)

// Extractor converts fetched feed text into a row.
type Extractor interface {
	Extract(feedURL, text string, statusCode int) (crawler.FeedRecord, bool)
}

// DiscoverFunc picks the feed URL advertised by an HTML page.
type DiscoverFunc func(html, pageURL string) (string, bool)

// Worker executes crawl tasks. A single Worker is shared by every task
// goroutine; it holds no per-task state.
type Worker struct {
	fetcher   crawler.Fetcher
	extractor Extractor
	writer    crawler.RecordWriter
	clock     crawler.Clock
	discover  DiscoverFunc
	logger    *zap.Logger
	written   atomic.Int64
}

// New constructs a Worker.
func New(
	fetcher crawler.Fetcher,
	extractor Extractor,
	writer crawler.RecordWriter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		writer:    writer,
		clock:     clock,
		discover:  discover.Discover,
		logger:    logger,
	}
}

// Written returns the number of rows written so far.
func (w *Worker) Written() int64 {
	return w.written.Load()
}

// Process runs one task for pageURL. It never panics and never returns an
// error: failures either become an error row or are dropped.
func (w *Worker) Process(ctx context.Context, pageURL string) {
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveTask(metrics.TaskPanicked)
			w.logger.Error("task panicked",
				zap.String("error_class", "panic"),
				zap.String("error", fmt.Sprint(rec)),
				zap.String("url", pageURL),
			)
		}
	}()

	metrics.ObserveTask(w.process(ctx, pageURL))
}

func (w *Worker) process(ctx context.Context, pageURL string) string {
	html, ok := w.fetchPage(ctx, pageURL)
	if !ok {
		return metrics.TaskNoPage
	}
	feedURL, ok := w.discoverFeed(html, pageURL)
	if !ok {
		return metrics.TaskNoFeed
	}
	record, keep := w.fetchFeed(ctx, feedURL)
	if !keep {
		if ctx.Err() != nil {
			return metrics.TaskAbandoned
		}
		return metrics.TaskCommentsFeed
	}
	if err := w.writer.Write(ctx, record); err != nil {
		var mirrorErr *sink.MirrorError
		if !errors.As(err, &mirrorErr) {
			w.logger.Error("write feed record failed",
				zap.String("url", pageURL),
				zap.String("rss_href", record.RSSHref),
				zap.Error(err),
			)
			return metrics.TaskWriteFailed
		}
		metrics.ObserveMirrorFailure()
		w.logger.Warn("mirror feed record failed",
			zap.String("url", pageURL),
			zap.String("rss_href", record.RSSHref),
			zap.Error(mirrorErr.Err),
		)
	}
	w.written.Add(1)
	class := ""
	if record.Err != nil {
		class = record.Err.Class()
	}
	metrics.ObserveRow(class)
	return metrics.TaskWritten
}

// fetchPage returns the page HTML. Any failure is silent.
func (w *Worker) fetchPage(ctx context.Context, pageURL string) (string, bool) {
	start := time.Now()
	page, err := w.fetcher.Fetch(ctx, pageURL, crawler.HTMLContentTypes)
	metrics.ObserveFetch(metrics.StagePage, time.Since(start))
	if err != nil {
		w.logger.Debug("page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return "", false
	}
	if page.StatusCode != http.StatusOK || page.Body == "" {
		w.logger.Debug("page has no content",
			zap.String("url", pageURL),
			zap.Int("status_code", page.StatusCode),
		)
		return "", false
	}
	return page.Body, true
}

func (w *Worker) discoverFeed(html, pageURL string) (string, bool) {
	feedURL, ok := w.discover(html, pageURL)
	if !ok {
		w.logger.Debug("no feed advertised", zap.String("url", pageURL))
		return "", false
	}
	return feedURL, true
}

// fetchFeed returns the row for feedURL and whether it should be written.
// Fetch failures become error rows unless the task was abandoned.
func (w *Worker) fetchFeed(ctx context.Context, feedURL string) (crawler.FeedRecord, bool) {
	start := time.Now()
	feed, err := w.fetcher.Fetch(ctx, feedURL, crawler.FeedContentTypes)
	metrics.ObserveFetch(metrics.StageFeed, time.Since(start))
	if ctx.Err() != nil {
		return crawler.FeedRecord{}, false
	}
	if err != nil {
		fe := crawler.AsFetchError(err)
		w.logger.Debug("feed fetch failed",
			zap.String("rss_href", feedURL),
			zap.String("error_class", fe.Class()),
			zap.Error(fe),
		)
		return crawler.NewErrorRecord(feedURL, fe, w.clock.Now()), true
	}
	return w.extractor.Extract(feedURL, feed.Body, feed.StatusCode)
}
