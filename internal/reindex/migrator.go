// Package reindex copies documents from a scroll session into an index with
// bulk writes.
package reindex

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
)

// Pages is a source of hit pages; *scroll.Cursor implements it.
type Pages interface {
	Next(ctx context.Context) ([]gateway.SearchHit, error)
	Total() int64
	Bytes() int64
}

// BulkWriter writes batches of hits.
type BulkWriter interface {
	BulkWrite(ctx context.Context, req gateway.BulkRequest) ([]int, error)
}

// TransformFunc rewrites a page before it is written. It may drop, add or modify hits.
type TransformFunc func(hits []gateway.SearchHit) ([]gateway.SearchHit, error)

// Options controls where and how a page stream is written.
type Options struct {
	Index       string
	Type        string
	WithVersion bool
	// Wait is slept before every page except the first.
	Wait      time.Duration
	Transform TransformFunc
}

// Outcome summarizes a migration. Per-document failures are counted, never returned as errors.
type Outcome struct {
	Index     string        `json:"index"`
	Type      string        `json:"type,omitempty"`
	Total     int64         `json:"total"`
	Collected int64         `json:"collected"`
	Skipped   int64         `json:"skipped"`
	Failed    int64         `json:"failed"`
	Bytes     int64         `json:"bytes"`
	Elapsed   time.Duration `json:"elapsedNanos"`
}

// Migrator drives page streams into bulk writes.
type Migrator struct {
	writer BulkWriter
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Migrator) { m.log = l }
}

// WithSleep replaces the throttle sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Migrator) { m.sleep = sleep }
}

// NewMigrator creates a migrator writing through w.
func NewMigrator(w BulkWriter, opts ...Option) *Migrator {
	m := &Migrator{
		writer: w,
		log:    logger.Discard(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Migrate reads pages until an empty one and writes each as one bulk request.
// The returned outcome is valid even when an error aborts the run.
func (m *Migrator) Migrate(ctx context.Context, pages Pages, opts Options) (*Outcome, error) {
	if opts.Index == "" {
		return nil, fmt.Errorf("destination index is required")
	}
	start := time.Now()
	out := &Outcome{Index: opts.Index, Type: opts.Type, Total: pages.Total()}
	defer func() {
		out.Bytes = pages.Bytes()
		out.Elapsed = time.Since(start)
	}()

	for page := 0; ; page++ {
		if page > 0 && opts.Wait > 0 {
			if err := m.sleep(ctx, opts.Wait); err != nil {
				return out, err
			}
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		queryStart := time.Now()
		hits, err := pages.Next(ctx)
		if err != nil {
			return out, err
		}
		if len(hits) == 0 {
			break
		}
		queryTime := time.Since(queryStart)

		if opts.Transform != nil {
			hits, err = opts.Transform(hits)
			if err != nil {
				return out, fmt.Errorf("failed to transform page %d: %w", page, err)
			}
		}

		batch := make([]gateway.SearchHit, 0, len(hits))
		for _, h := range hits {
			if h.ID == "" {
				out.Skipped++
				m.log.Warningf("skipped document without id (%d bytes)", len(h.Source))
				continue
			}
			batch = append(batch, h)
		}

		updateStart := time.Now()
		if len(batch) > 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			failed, err := m.writer.BulkWrite(ctx, gateway.BulkRequest{
				Index:       opts.Index,
				Type:        opts.Type,
				Hits:        batch,
				WithVersion: opts.WithVersion,
			})
			if err != nil {
				return out, fmt.Errorf("failed to write page %d into %s: %w", page, opts.Index, err)
			}
			out.Failed += int64(len(failed))
		}
		out.Collected += int64(len(hits))

		m.log.Infof("Progress %d/%d update:%s query:%s failed:%d",
			out.Collected, out.Total, time.Since(updateStart).Round(time.Millisecond),
			queryTime.Round(time.Millisecond), out.Failed)
	}

	read := humanize.Bytes(uint64(pages.Bytes()))
	if out.Failed > 0 {
		m.log.Warningf("%d documents failed! found %d, collected %d into %s (%s read)",
			out.Failed, out.Total, out.Collected, opts.Index, read)
	} else {
		m.log.Infof("found %d, collected %d into %s (%s read)", out.Total, out.Collected, opts.Index, read)
	}
	return out, nil
}
