// Package scroll wraps one server-side scroll session.
package scroll

import (
	"context"
	"fmt"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// Source opens and advances scroll sessions.
type Source interface {
	OpenScroll(ctx context.Context, req gateway.ScrollRequest) (*gateway.ScrollPage, error)
	ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*gateway.ScrollPage, error)
	ClearScroll(ctx context.Context, scrollID string) error
}

// Cursor reads a scroll session page by page. It is not safe for concurrent use.
type Cursor struct {
	src       Source
	keepAlive time.Duration
	now       func() time.Time

	id        string
	total     int64
	bytes     int64
	buffered  []gateway.SearchHit
	lastPage  time.Time
	exhausted bool
	closed    bool
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithClock sets the time source of the keep-alive timer.
func WithClock(now func() time.Time) Option {
	return func(c *Cursor) { c.now = now }
}

// Open validates req and issues the opening search.
func Open(ctx context.Context, src Source, req gateway.ScrollRequest, opts ...Option) (*Cursor, error) {
	if req.Index == "" {
		return nil, fault.Configf("open scroll", "index is required")
	}
	if req.PageSize <= 0 {
		return nil, fault.Configf("open scroll", "page size must be positive, got %d", req.PageSize)
	}
	if req.KeepAlive <= 0 {
		return nil, fault.Configf("open scroll", "keep-alive must be positive, got %s", req.KeepAlive)
	}
	if err := gateway.ValidateFilter(req.Filter); err != nil {
		return nil, err
	}

	c := &Cursor{src: src, keepAlive: req.KeepAlive, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	page, err := src.OpenScroll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open scroll on %s: %w", req.Index, err)
	}
	c.lastPage = c.now()
	c.id = page.ScrollID
	c.total = page.Total
	c.buffered = page.Hits
	if c.id == "" {
		c.exhausted = len(page.Hits) == 0
	}
	return c, nil
}

// Total is the number of hits reported when the session was opened.
func (c *Cursor) Total() int64 { return c.total }

// Bytes is the sum of _source sizes handed out so far.
func (c *Cursor) Bytes() int64 { return c.bytes }

// ID is the newest scroll id.
func (c *Cursor) ID() string { return c.id }

// Exhausted reports whether an empty page has been seen.
func (c *Cursor) Exhausted() bool { return c.exhausted }

// Next returns the next page. An empty page means the session is exhausted;
// later calls return empty pages without contacting the cluster.
func (c *Cursor) Next(ctx context.Context) ([]gateway.SearchHit, error) {
	if c.closed {
		return nil, fmt.Errorf("scroll %s is closed", c.id)
	}
	if len(c.buffered) > 0 {
		hits := c.buffered
		c.buffered = nil
		c.count(hits)
		return hits, nil
	}
	if c.exhausted {
		return nil, nil
	}
	if elapsed := c.now().Sub(c.lastPage); elapsed > c.keepAlive {
		return nil, fault.CursorExpired("continue scroll",
			fmt.Errorf("keep-alive of %s elapsed %s ago", c.keepAlive, elapsed-c.keepAlive))
	}

	page, err := c.src.ContinueScroll(ctx, c.id, c.keepAlive)
	if err != nil {
		return nil, fmt.Errorf("failed to continue scroll: %w", err)
	}
	c.lastPage = c.now()
	if page.ScrollID != "" {
		c.id = page.ScrollID
	}
	if len(page.Hits) == 0 {
		c.exhausted = true
		return nil, nil
	}
	c.count(page.Hits)
	return page.Hits, nil
}

func (c *Cursor) count(hits []gateway.SearchHit) {
	for _, h := range hits {
		c.bytes += int64(len(h.Source))
	}
}

// Close releases the server-side session. Calling it again is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.id == "" {
		return nil
	}
	if err := c.src.ClearScroll(ctx, c.id); err != nil {
		return fmt.Errorf("failed to clear scroll: %w", err)
	}
	return nil
}
