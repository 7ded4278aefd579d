// Package remote is a gateway speaking plain HTTP+JSON to any Elasticsearch
// endpoint, including legacy clusters that still have mapping types, parent
// fields and scan searches.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

const (
	// DefaultPort is used when Config.Port is zero.
	DefaultPort = 9200
	// DefaultTimeout bounds every request when Config.Timeout is zero.
	DefaultTimeout = 20 * time.Second
)

// Config holds connection settings of a remote cluster.
type Config struct {
	// URL takes precedence over Host and Port.
	URL  string
	Host string
	Port int

	Username string
	Password string
	// Credentials is a pre-encoded basic token sent as "Authorization: Basic <token>".
	Credentials string

	// Legacy selects the wire dialect of clusters with mapping types.
	Legacy  bool
	Timeout time.Duration
}

// BaseURL returns the address requests are sent to.
func (c Config) BaseURL() (*url.URL, error) {
	raw := c.URL
	if raw == "" {
		if c.Host == "" {
			return nil, fault.Configf("remote cluster", "host or URL is required")
		}
		port := c.Port
		if port == 0 {
			port = DefaultPort
		}
		raw = fmt.Sprintf("http://%s", net.JoinHostPort(c.Host, fmt.Sprint(port)))
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fault.Configf("remote cluster", "invalid URL %q", raw)
	}
	return u, nil
}

// Client is a gateway.Gateway over elastic-transport.
type Client struct {
	tp     *elastictransport.Client
	legacy bool
}

var _ gateway.Gateway = (*Client)(nil)

// NewClient creates a remote client. Retries are disabled.
func NewClient(cfg Config) (*Client, error) {
	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tpCfg := elastictransport.Config{
		URLs:         []*url.URL{base},
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   timeout,
		},
	}
	if cfg.Credentials != "" {
		tpCfg.Header = http.Header{"Authorization": []string{"Basic " + cfg.Credentials}}
	}

	tp, err := elastictransport.New(tpCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %s: %w", base.Redacted(), err)
	}
	return &Client{tp: tp, legacy: cfg.Legacy}, nil
}

// Legacy reports whether the client speaks the legacy dialect.
func (c *Client) Legacy() bool { return c.legacy }

// keepAliveParam renders a keep-alive as whole minutes, rounding up.
func keepAliveParam(d time.Duration) string {
	minutes := int(math.Ceil(d.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%dm", minutes)
}

// perform sends one request. The caller closes the response body.
func (c *Client) perform(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (*http.Response, error) {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return c.tp.Perform(req)
}

// call performs a request and decodes a 2xx body into out when out is non-nil.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body []byte, out interface{}) error {
	res, err := c.perform(ctx, method, path, query, body, "")
	if err != nil {
		return fault.Gateway(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		return fault.Gateway(op, &gateway.StatusError{Op: op, StatusCode: res.StatusCode, Body: string(raw)})
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fault.Gateway(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// indexPath turns an index name, pattern or comma list into a path segment.
func indexPath(name string) string {
	return "/" + name
}

func joinList(names []string) string {
	return strings.Join(names, ",")
}

// read performs a request and returns the body of a 2xx response.
func (c *Client) read(ctx context.Context, op, method, path string, query url.Values, body []byte) ([]byte, error) {
	res, err := c.perform(ctx, method, path, query, body, "")
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	if res.StatusCode >= 300 {
		return nil, fault.Gateway(op, &gateway.StatusError{Op: op, StatusCode: res.StatusCode, Body: string(raw)})
	}
	return raw, nil
}

func isStatus(err error, code int) bool {
	var statusErr *gateway.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
