// Package sink combines the row destinations of a crawl run.
package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/feed-finder/internal/crawler"
)

// MirrorError reports mirror destinations that failed to store a record the
// primary destination accepted.
type MirrorError struct {
	Err error
}

func (e *MirrorError) Error() string {
	return "mirror write: " + e.Err.Error()
}

// Unwrap exposes the joined mirror failures.
func (e *MirrorError) Unwrap() error {
	return e.Err
}

// Fanout writes every record to each destination in order. The first non-nil
// destination is primary; later ones mirror it.
type Fanout []crawler.RecordWriter

// Write delivers record to the primary, then to every mirror. A primary
// failure is returned as is and skips the mirrors. Mirror failures come back
// as a *MirrorError.
func (f Fanout) Write(ctx context.Context, record crawler.FeedRecord) error {
	var (
		errs    []error
		primary = true
	)
	for _, w := range f {
		if w == nil {
			continue
		}
		err := w.Write(ctx, record)
		if primary {
			if err != nil {
				return err
			}
			primary = false
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &MirrorError{Err: errors.Join(errs...)}
	}
	return nil
}
