// Package scheduler turns the input URL stream into bounded, per-domain crawl
// tasks and owns the seen-domain set for the lifetime of a run.
package scheduler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/feed-finder/internal/metrics"
	"github.com/JakeFAU/feed-finder/internal/state"
)

// DefaultConcurrency caps in-flight tasks when Config leaves it unset.
const DefaultConcurrency = 100

const maxLineBytes = 1 << 20

// Processor runs one crawl task.
type Processor interface {
	Process(ctx context.Context, pageURL string)
}

// SeenSaver persists the seen-domain set.
type SeenSaver interface {
	Save(set *state.SeenSet) error
}

// Config controls dispatch behavior.
type Config struct {
	Concurrency int64
}

// Summary counts what happened to the input lines of a run.
type Summary struct {
	Lines      int64 `json:"lines"`
	Invalid    int64 `json:"invalid"`
	Duplicates int64 `json:"duplicates"`
	Dispatched int64 `json:"dispatched"`
}

// Scheduler dispatches one task per previously unseen network location.
type Scheduler struct {
	proc   Processor
	seen   *state.SeenSet
	saver  SeenSaver
	sem    *semaphore.Weighted
	logger *zap.Logger
	wg     sync.WaitGroup

	lines      atomic.Int64
	invalid    atomic.Int64
	duplicates atomic.Int64
	dispatched atomic.Int64
}

// New creates a Scheduler. The scheduler becomes the sole owner of seen.
func New(cfg Config, proc Processor, seen *state.SeenSet, saver SeenSaver, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if seen == nil {
		seen = state.NewSeenSet()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		proc:   proc,
		seen:   seen,
		saver:  saver,
		sem:    semaphore.NewWeighted(cfg.Concurrency),
		logger: logger,
	}
}

// Progress returns a snapshot of the dispatch counters.
func (s *Scheduler) Progress() Summary {
	return Summary{
		Lines:      s.lines.Load(),
		Invalid:    s.invalid.Load(),
		Duplicates: s.duplicates.Load(),
		Dispatched: s.dispatched.Load(),
	}
}

// Run reads newline-delimited URLs from in until it is exhausted or ctx is
// canceled, then saves the seen set once. At end of input it waits for every
// in-flight task first; on cancellation it returns ctx.Err() without waiting.
func (s *Scheduler) Run(ctx context.Context, in io.Reader) (Summary, error) {
	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(in, done)

	for {
		select {
		case <-ctx.Done():
			return s.stop(ctx.Err())
		case line, ok := <-lines:
			if ctx.Err() != nil {
				return s.stop(ctx.Err())
			}
			if !ok {
				err := <-readErr
				s.wg.Wait()
				if err != nil {
					err = fmt.Errorf("read input: %w", err)
				}
				return s.stop(err)
			}
			if err := s.dispatch(ctx, line); err != nil {
				return s.stop(err)
			}
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, line string) error {
	s.lines.Add(1)
	raw := strings.TrimSpace(line)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		s.invalid.Add(1)
		metrics.ObserveInput(metrics.InputInvalid)
		s.logger.Debug("skipping input line", zap.String("line", raw), zap.Error(err))
		return nil
	}
	if !s.seen.MarkIfNew(u.Host) {
		s.duplicates.Add(1)
		metrics.ObserveInput(metrics.InputDuplicate)
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.dispatched.Add(1)
	metrics.ObserveInput(metrics.InputDispatched)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("task panicked", zap.Any("error", rec), zap.String("url", raw))
			}
		}()
		s.proc.Process(ctx, raw)
	}()
	return nil
}

func (s *Scheduler) stop(cause error) (Summary, error) {
	summary := s.Progress()
	if s.saver == nil {
		return summary, cause
	}
	if err := s.saver.Save(s.seen); err != nil {
		s.logger.Error("save seen domains failed", zap.Error(err))
		return summary, errors.Join(cause, fmt.Errorf("save seen domains: %w", err))
	}
	s.logger.Info("saved seen domains", zap.Int("domains", s.seen.Len()))
	return summary, cause
}

// readLines scans in on its own goroutine so a blocked read never delays
// cancellation. readErr receives exactly one value after lines closes.
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()
	return lines, readErr
}
