// Package crawler defines the core types shared by the feed discovery pipeline:
// the output row, the tagged feed-stage error, and the seams between the
// scheduler, the fetcher, and the result writers.
package crawler
