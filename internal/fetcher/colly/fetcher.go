// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/feed-finder/internal/crawler"
)

const maxResponseHeaderBytes = 64 << 10

// ErrBodyTooLarge reports a response body longer than Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// Config controls collector and connection pool behavior.
type Config struct {
	Headers        http.Header
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SessionTimeout time.Duration
	// PerHost caps simultaneous connections to a single destination host.
	PerHost      int
	MaxIdleConns int
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector. All clones share
// one transport, so the per-host connection cap holds across every task.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	cfg = withDefaults(cfg)

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Non-2xx responses are outcomes, not errors.
	c.ParseHTTPErrorResponse = true
	// One byte past the limit so an oversized body is detectable.
	c.MaxBodySize = cfg.MaxBodyBytes + 1
	if ua := cfg.Headers.Get("User-Agent"); ua != "" {
		c.UserAgent = ua
	}
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.SessionTimeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = time.Hour
	}
	if cfg.PerHost <= 0 {
		cfg.PerHost = 1
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return cfg
}

// Fetch executes a single HTTP GET. A non-200 status is returned with an empty
// body and no error; a 200 whose media type is not in allowed fails with an
// InvalidContentType error.
func (f *Fetcher) Fetch(ctx context.Context, url string, allowed crawler.ContentTypes) (crawler.Fetched, error) {
	var (
		result   crawler.Fetched
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, allowed, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return crawler.Fetched{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	allowed crawler.ContentTypes,
	result *crawler.Fetched,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Fetched{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
		}
		if r.StatusCode != http.StatusOK {
			return
		}
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		mediaType := stripParams(contentType)
		if !allowed.Allows(strings.ToLower(mediaType)) {
			*fetchErr = crawler.InvalidContentType(mediaType)
			return
		}
		if len(r.Body) > f.cfg.MaxBodyBytes {
			*fetchErr = crawler.Transport(fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes))
			return
		}
		result.Body = string(r.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = crawler.Transport(err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return crawler.Transport(fmt.Errorf("fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return crawler.Transport(fmt.Errorf("visit %s: %w", url, err))
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func stripParams(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mediaType)
}

func newHTTPTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            readTimeoutDialer(dialer, cfg.ReadTimeout),
		TLSHandshakeTimeout:    cfg.ConnectTimeout,
		ResponseHeaderTimeout:  cfg.ReadTimeout,
		ExpectContinueTimeout:  1 * time.Second,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.PerHost,
		MaxConnsPerHost:        cfg.PerHost,
		MaxResponseHeaderBytes: maxResponseHeaderBytes,
		IdleConnTimeout:        90 * time.Second,
	}
}

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// readTimeoutDialer bounds every socket read on dialed connections by timeout.
func readTimeoutDialer(dialer *net.Dialer, timeout time.Duration) dialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &readDeadlineConn{Conn: conn, timeout: timeout}, nil
	}
}

type readDeadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *readDeadlineConn) Read(p []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
