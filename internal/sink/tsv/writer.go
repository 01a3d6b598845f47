// Package tsv appends FeedRecords to a tab-separated output file.
package tsv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/feed-finder/internal/crawler"
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("tsv writer closed")

// Writer serializes appends from many goroutines onto one file. Each row is
// encoded in memory and handed to the file in a single write, so rows never
// interleave.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	// #nosec G304 -- the operator chooses the output path.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &Writer{file: f, path: path}, nil
}

// Path returns the output file path.
func (w *Writer) Path() string {
	return w.path
}

// Write appends one row.
func (w *Writer) Write(ctx context.Context, record crawler.FeedRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	row, err := EncodeRow(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.file.Write(row); err != nil {
		return fmt.Errorf("append row to %s: %w", w.path, err)
	}
	return nil
}

// Close waits for any in-progress append and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", w.path, err)
	}
	return nil
}

// EncodeRow renders record as one tab-delimited, CRLF-terminated line.
// Fields containing tabs, quotes, or line breaks are quoted.
func EncodeRow(record crawler.FeedRecord) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = '\t'
	cw.UseCRLF = true
	if err := cw.Write(record.Fields()); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush row: %w", err)
	}
	return buf.Bytes(), nil
}
