package scheduler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-finder/internal/state"
)

func TestRun_DedupesByNetworkLocation(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"https://example.com/a",
		"  https://example.com/b  ",
		"http://example.com:8080/",
		"https://Example.com/",
		"https://other.example/x",
	}, "\n")
	proc := &recordingProcessor{}
	saver := &recordingSaver{}
	s := New(Config{Concurrency: 4}, proc, state.NewSeenSet(), saver, zap.NewNop())

	summary, err := s.Run(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Equal(t, Summary{Lines: 5, Duplicates: 1, Dispatched: 4}, summary)
	require.ElementsMatch(t, []string{
		"https://example.com/a",
		"http://example.com:8080/",
		"https://Example.com/",
		"https://other.example/x",
	}, proc.urls())
	require.Equal(t, 1, saver.count())
	require.Equal(t, []string{"Example.com", "example.com", "example.com:8080", "other.example"}, saver.last())
}

func TestRun_SkipsInvalidLines(t *testing.T) {
	t.Parallel()

	input := "\n   \nexample.com\nhttp://[::1\nnot a url\nhttps://ok.example/\n"
	proc := &recordingProcessor{}
	s := New(Config{}, proc, nil, &recordingSaver{}, nil)

	summary, err := s.Run(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Equal(t, int64(6), summary.Lines)
	require.Equal(t, int64(5), summary.Invalid)
	require.Equal(t, []string{"https://ok.example/"}, proc.urls())
}

func TestRun_PersistedDomainsAreSkippedAfterRestart(t *testing.T) {
	t.Parallel()

	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "seen.gob"))
	require.NoError(t, err)
	require.NoError(t, store.Save(state.NewSeenSet("example.com")))

	seen, err := store.Load()
	require.NoError(t, err)
	proc := &recordingProcessor{}
	s := New(Config{}, proc, seen, store, zap.NewNop())

	summary, err := s.Run(context.Background(), strings.NewReader("https://example.com/\n"))

	require.NoError(t, err)
	require.Empty(t, proc.urls())
	require.Equal(t, int64(1), summary.Duplicates)
}

func TestRun_EndOfInputWaitsForTasks(t *testing.T) {
	t.Parallel()

	var finished atomic.Int64
	proc := processorFunc(func(context.Context, string) {
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
	})
	saver := &recordingSaver{}
	s := New(Config{Concurrency: 2}, proc, nil, saver, zap.NewNop())

	input := "https://a.example/\nhttps://b.example/\nhttps://c.example/\n"
	_, err := s.Run(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	require.Equal(t, int64(3), finished.Load())
	require.Equal(t, 1, saver.count())
}

func TestRun_RespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	var (
		inFlight atomic.Int64
		peak     atomic.Int64
	)
	proc := processorFunc(func(context.Context, string) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
	})
	s := New(Config{Concurrency: 3}, proc, nil, nil, zap.NewNop())

	var lines []string
	for _, h := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		lines = append(lines, "https://"+h+".example/")
	}
	summary, err := s.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")))

	require.NoError(t, err)
	require.Equal(t, int64(10), summary.Dispatched)
	require.LessOrEqual(t, peak.Load(), int64(3))
}

func TestRun_InterruptSavesWithoutWaiting(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	proc := processorFunc(func(context.Context, string) {
		started <- struct{}{}
		<-release
	})
	saver := &recordingSaver{}
	s := New(Config{}, proc, nil, saver, zap.NewNop())

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		summary Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := s.Run(ctx, pr)
		done <- result{summary, err}
	}()

	_, err := io.WriteString(pw, "https://slow.example/\n")
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task did not start")
	}

	cancel()

	select {
	case res := <-done:
		require.ErrorIs(t, res.err, context.Canceled)
		require.Equal(t, int64(1), res.summary.Dispatched)
	case <-time.After(time.Second):
		t.Fatal("scheduler waited for in-flight task after interrupt")
	}
	require.Equal(t, 1, saver.count())
	require.Equal(t, []string{"slow.example"}, saver.last())
	close(release)
}

func TestRun_SaveFailureIsReported(t *testing.T) {
	t.Parallel()

	saver := &recordingSaver{err: errors.New("read-only filesystem")}
	s := New(Config{}, &recordingProcessor{}, nil, saver, zap.NewNop())

	_, err := s.Run(context.Background(), strings.NewReader("https://a.example/\n"))

	require.ErrorContains(t, err, "save seen domains: read-only filesystem")
}

func TestRun_OverlongLineFailsRead(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &recordingProcessor{}, nil, &recordingSaver{}, zap.NewNop())
	long := "https://a.example/" + strings.Repeat("x", maxLineBytes+1)

	_, err := s.Run(context.Background(), strings.NewReader(long))

	require.ErrorContains(t, err, "read input")
}

func TestRun_TaskPanicIsContained(t *testing.T) {
	t.Parallel()

	proc := processorFunc(func(_ context.Context, u string) {
		if strings.Contains(u, "bad") {
			panic("boom")
		}
	})
	s := New(Config{}, proc, nil, nil, zap.NewNop())

	var (
		summary Summary
		err     error
	)
	require.NotPanics(t, func() {
		summary, err = s.Run(context.Background(), strings.NewReader("https://bad.example/\nhttps://good.example/\n"))
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Dispatched)
}

type processorFunc func(ctx context.Context, pageURL string)

func (f processorFunc) Process(ctx context.Context, pageURL string) {
	f(ctx, pageURL)
}

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
}

func (p *recordingProcessor) Process(_ context.Context, pageURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, pageURL)
}

func (p *recordingProcessor) urls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

type recordingSaver struct {
	mu    sync.Mutex
	saves [][]string
	err   error
}

func (s *recordingSaver) Save(set *state.SeenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, set.Hosts())
	return s.err
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *recordingSaver) last() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}
