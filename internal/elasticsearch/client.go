// Package elasticsearch is the local cluster gateway, built on the official
// Elasticsearch client. It also lists indices for display and provides a
// cluster-wide rotation lock.
package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 20 * time.Second

// Config holds connection settings of the local cluster.
type Config struct {
	URL      string
	Username string
	Password string
	// Credentials is a pre-encoded basic token sent as "Authorization: Basic <token>".
	Credentials string
	Timeout     time.Duration
}

// Client represents an Elasticsearch client
type Client struct {
	es *elasticsearch.Client
}

// IndexInfo represents detailed information about an Elasticsearch index
type IndexInfo struct {
	Health      string `json:"health"`
	Status      string `json:"status"`
	Index       string `json:"index"`
	UUID        string `json:"uuid"`
	Pri         string `json:"pri"`
	Rep         string `json:"rep"`
	DocsCount   string `json:"docs.count"`
	DocsDeleted string `json:"docs.deleted"`
	StoreSize   string `json:"store.size"`
}

// NewClient creates a new Elasticsearch client. Retries are disabled; callers
// decide what to do with a failed request.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fault.Configf("new elasticsearch client", "cluster URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	esCfg := elasticsearch.Config{
		Addresses:    []string{cfg.URL},
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
		esCfg.Header = http.Header{"Authorization": []string{"Basic " + cfg.Credentials}}
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Client{
		es: es,
	}, nil
}

// check turns a transport error or a non-2xx response into a gateway fault.
// The response body is closed when an error is returned.
func check(op string, res *esapi.Response, err error) error {
	if err != nil {
		return fault.Gateway(op, err)
	}
	if res.IsError() {
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return fault.Gateway(op, &gateway.StatusError{Op: op, StatusCode: res.StatusCode, Body: string(body)})
	}
	return nil
}

// drain closes a response whose body is not needed.
func drain(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

// CreateIndex creates an index with an optional settings/mappings body
func (c *Client) CreateIndex(ctx context.Context, name string, body []byte) error {
	opts := []func(*esapi.IndicesCreateRequest){c.es.Indices.Create.WithContext(ctx)}
	if len(body) > 0 {
		opts = append(opts, c.es.Indices.Create.WithBody(strings.NewReader(string(body))))
	}
	res, err := c.es.Indices.Create(name, opts...)
	if err := check("create index "+name, res, err); err != nil {
		return err
	}
	drain(res)
	return nil
}

// DeleteIndex deletes a specific index
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Delete(
		[]string{name},
		c.es.Indices.Delete.WithContext(ctx),
	)
	if err := check("delete index "+name, res, err); err != nil {
		return err
	}
	drain(res)
	return nil
}

// CloseIndex closes an index, keeping its data on disk
func (c *Client) CloseIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Close(
		[]string{name},
		c.es.Indices.Close.WithContext(ctx),
	)
	if err := check("close index "+name, res, err); err != nil {
		return err
	}
	drain(res)
	return nil
}

// IndexExists checks if an index or alias exists
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists(
		[]string{name},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fault.Gateway("index exists "+name, err)
	}
	defer drain(res)

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, fault.Gateway("index exists "+name,
			&gateway.StatusError{Op: "index exists " + name, StatusCode: res.StatusCode})
	}
	return true, nil
}

// GetIndex reads settings (flat), mappings and aliases of one index
func (c *Client) GetIndex(ctx context.Context, name string) (*gateway.IndexDefinition, error) {
	res, err := c.es.Indices.Get(
		[]string{name},
		c.es.Indices.Get.WithContext(ctx),
		c.es.Indices.Get.WithFlatSettings(true),
	)
	if err := check("get index "+name, res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	def, err := gateway.DecodeIndexDefinition(res.Body, name)
	if err != nil {
		return nil, fault.Gateway("get index "+name, err)
	}
	return def, nil
}

// ListIndices retrieves all indices matching a pattern
func (c *Client) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := c.es.Cat.Indices(
		c.es.Cat.Indices.WithContext(ctx),
		c.es.Cat.Indices.WithIndex(pattern),
		c.es.Cat.Indices.WithH("index"),
		c.es.Cat.Indices.WithFormat("json"),
	)
	if err := check("list indices "+pattern, res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var indices []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fault.Gateway("list indices "+pattern, fmt.Errorf("failed to decode response: %w", err))
	}

	result := make([]string, len(indices))
	for i, idx := range indices {
		result[i] = idx.Index
	}

	return result, nil
}

// ListIndicesDetailed retrieves health, status and size of the indices matching pattern
func (c *Client) ListIndicesDetailed(ctx context.Context, pattern string) ([]IndexInfo, error) {
	opts := []func(*esapi.CatIndicesRequest){
		c.es.Cat.Indices.WithContext(ctx),
		c.es.Cat.Indices.WithH("health,status,index,uuid,pri,rep,docs.count,docs.deleted,store.size"),
		c.es.Cat.Indices.WithFormat("json"),
	}
	if pattern != "" {
		opts = append(opts, c.es.Cat.Indices.WithIndex(pattern))
	}
	res, err := c.es.Cat.Indices(opts...)
	if err := check("list indices", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var indices []IndexInfo
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fault.Gateway("list indices", fmt.Errorf("failed to decode response: %w", err))
	}

	return indices, nil
}

// Refresh makes recent writes to index searchable
func (c *Client) Refresh(ctx context.Context, index string) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(index),
	)
	if err := check("refresh "+index, res, err); err != nil {
		return err
	}
	drain(res)
	return nil
}

// Count returns the number of documents in index
func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(index),
	)
	if err := check("count "+index, res, err); err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var count struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&count); err != nil {
		return 0, fault.Gateway("count "+index, fmt.Errorf("failed to decode response: %w", err))
	}
	return count.Count, nil
}
