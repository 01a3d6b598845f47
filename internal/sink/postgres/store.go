// Package postgres mirrors written FeedRecords into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/feed-finder/internal/crawler"
)

const defaultTable = "feed_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for feed rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes feed rows into Postgres. It satisfies crawler.RecordWriter.
type Store struct {
	pool  execCloser
	table string
	query string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	placeholders := make([]string, len(crawler.Columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(crawler.Columns, ", "),
		strings.Join(placeholders, ","),
	)
	return &Store{pool: pool, table: table, query: query}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write inserts one feed row.
func (s *Store) Write(ctx context.Context, record crawler.FeedRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store is not configured")
	}
	if record.RSSHref == "" {
		return fmt.Errorf("rss_href is required")
	}
	if _, err := s.pool.Exec(ctx, s.query, rowArgs(record)...); err != nil {
		return fmt.Errorf("insert feed record: %w", err)
	}
	return nil
}

// rowArgs mirrors crawler.Columns; absent values become SQL NULL.
func rowArgs(r crawler.FeedRecord) []any {
	args := make([]any, 0, len(crawler.Columns))
	args = append(args, r.RSSHref)
	if c := r.Content; c != nil {
		updated, updatedISO := unixAndISO(c.Updated)
		latest, latestISO := unixAndISO(c.LatestArticlePublished)
		var entryCount any
		if c.EntryCount != nil {
			entryCount = *c.EntryCount
		}
		args = append(args,
			c.Language,
			c.Title,
			c.Subtitle,
			c.Link,
			crawler.EncodeTags(c.Tags),
			c.SyUpdatePeriod,
			c.SyUpdateFrequency,
			updated,
			updatedISO,
			latest,
			latestISO,
			entryCount,
			c.StatusCode,
		)
	} else {
		args = append(args, make([]any, 13)...)
	}
	args = append(args, r.FetchedAt.Format(crawler.ISOLayout))
	if r.Err != nil {
		args = append(args, r.Err.Class(), r.Err.Error())
	} else {
		args = append(args, nil, nil)
	}
	return args
}

func unixAndISO(t *time.Time) (any, any) {
	if t == nil {
		return nil, nil
	}
	u := t.UTC()
	return u.Unix(), u.Format(crawler.ISOLayout)
}
