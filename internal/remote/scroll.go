package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// scrollTarget returns the search path and body for req. Legacy clusters get
// the type in the path and a top-level filter; current ones a typed bool query.
func (c *Client) scrollTarget(req gateway.ScrollRequest) (string, []byte, error) {
	if c.legacy {
		body, err := gateway.ScrollQuery(req.Filter, true)
		if err != nil {
			return "", nil, err
		}
		path := indexPath(req.Index)
		if req.Type != "" {
			path += "/" + req.Type
		}
		return path + "/_search", body, nil
	}
	body, err := gateway.TypedScrollQuery(req)
	if err != nil {
		return "", nil, err
	}
	return indexPath(req.Index) + "/_search", body, nil
}

// OpenScroll starts a scroll session. On legacy clusters it is a scan search
// whose first page carries no hits.
func (c *Client) OpenScroll(ctx context.Context, req gateway.ScrollRequest) (*gateway.ScrollPage, error) {
	op := "open scroll on " + req.Index
	path, body, err := c.scrollTarget(req)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"scroll": {keepAliveParam(req.KeepAlive)},
		"size":   {strconv.Itoa(req.PageSize)},
	}
	if c.legacy {
		query.Set("search_type", "scan")
	}
	if req.WithVersion {
		query.Set("version", "true")
	}

	raw, err := c.read(ctx, op, http.MethodGet, path, query, body)
	if err != nil {
		return nil, err
	}
	page, err := gateway.DecodeScrollPage(bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return page, nil
}

// ContinueScroll fetches the next page; a session the cluster no longer knows
// is reported as an expired cursor.
func (c *Client) ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*gateway.ScrollPage, error) {
	const op = "continue scroll"
	query := url.Values{
		"scroll":    {keepAliveParam(keepAlive)},
		"scroll_id": {scrollID},
	}
	res, err := c.perform(ctx, http.MethodGet, "/_search/scroll", query, nil, "")
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		statusErr := &gateway.StatusError{Op: op, StatusCode: res.StatusCode, Body: string(raw)}
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

// ClearScroll releases a scroll session; an unknown id is not an error.
func (c *Client) ClearScroll(ctx context.Context, scrollID string) error {
	if scrollID == "" {
		return nil
	}
	const op = "clear scroll"
	var err error
	if c.legacy {
		err = c.call(ctx, op, http.MethodDelete, "/_search/scroll/"+url.PathEscape(scrollID), nil, nil, nil)
	} else {
		body, _ := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
		err = c.call(ctx, op, http.MethodDelete, "/_search/scroll", nil, body, nil)
	}
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// BulkWrite indexes hits and returns the positions of rejected items.
func (c *Client) BulkWrite(ctx context.Context, req gateway.BulkRequest) ([]int, error) {
	if len(req.Hits) == 0 {
		return nil, nil
	}
	op := fmt.Sprintf("bulk write %d documents into %s", len(req.Hits), req.Index)

	opts := gateway.BulkOptions{
		IncludeType: req.Type != "" && (c.legacy || req.Type != gateway.DocType),
		ParentField: c.legacy,
	}
	var buf bytes.Buffer
	if err := gateway.EncodeBulk(&buf, req, opts); err != nil {
		return nil, fault.Config(op, err)
	}

	res, err := c.perform(ctx, http.MethodPost, "/_bulk", nil, buf.Bytes(), "application/x-ndjson")
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return nil, fault.Gateway(op, &gateway.StatusError{Op: op, StatusCode: res.StatusCode, Body: string(raw)})
	}
	failed, err := gateway.DecodeBulkFailures(res.Body)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return failed, nil
}
