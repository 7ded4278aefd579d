package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// OpenScroll starts a scroll session and returns its first page. The cluster has
// no mapping types, so req.Type does not narrow the hits.
func (c *Client) OpenScroll(ctx context.Context, req gateway.ScrollRequest) (*gateway.ScrollPage, error) {
	op := "open scroll on " + req.Index
	body, err := gateway.ScrollQuery(req.Filter, false)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(req.Index),
		c.es.Search.WithScroll(req.KeepAlive),
		c.es.Search.WithSize(req.PageSize),
		c.es.Search.WithVersion(req.WithVersion),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err := check(op, res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	page, err := gateway.DecodeScrollPage(res.Body)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return page, nil
}

// ContinueScroll fetches the next page. A scroll the cluster no longer knows
// is reported as an expired cursor.
func (c *Client) ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*gateway.ScrollPage, error) {
	const op = "continue scroll"
	res, err := c.es.Scroll(
		c.es.Scroll.WithContext(ctx),
		c.es.Scroll.WithScrollID(scrollID),
		c.es.Scroll.WithScroll(keepAlive),
	)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		statusErr := &gateway.StatusError{Op: op, StatusCode: res.StatusCode, Body: string(body)}
		if gateway.IsScrollMissing(res.StatusCode, statusErr.Body) {
			return nil, fault.CursorExpired(op, statusErr)
		}
		return nil, fault.Gateway(op, statusErr)
	}

	page, err := gateway.DecodeScrollPage(res.Body)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return page, nil
}

// ClearScroll releases a scroll session; an unknown id is not an error
func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	if scrollID == "" {
		return nil
	}
	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return fault.Gateway("clear scroll", err)
	}
	if res.StatusCode == 404 {
		drain(res)
		return nil
	}
	if err := check("clear scroll", res, nil); err != nil {
		return err
	}
	drain(res)
	return nil
}

// BulkWrite indexes hits and returns the positions of rejected items. Action
// lines never carry _type, which 8.x clusters reject.
func (c *Client) BulkWrite(ctx context.Context, req gateway.BulkRequest) ([]int, error) {
	if len(req.Hits) == 0 {
		return nil, nil
	}
	op := fmt.Sprintf("bulk write %d documents into %s", len(req.Hits), req.Index)

	var buf bytes.Buffer
	if err := gateway.EncodeBulk(&buf, req, gateway.BulkOptions{}); err != nil {
		return nil, fault.Config(op, err)
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
	)
	if err := check(op, res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	failed, err := gateway.DecodeBulkFailures(res.Body)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return failed, nil
}
