package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// CreateIndex creates an index with an optional settings/mappings body.
func (c *Client) CreateIndex(ctx context.Context, name string, body []byte) error {
	if len(body) == 0 {
		body = nil
	}
	return c.call(ctx, "create index "+name, http.MethodPut, indexPath(name), nil, body, nil)
}

// DeleteIndex deletes an index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	return c.call(ctx, "delete index "+name, http.MethodDelete, indexPath(name), nil, nil, nil)
}

// CloseIndex closes an index.
func (c *Client) CloseIndex(ctx context.Context, name string) error {
	return c.call(ctx, "close index "+name, http.MethodPost, indexPath(name)+"/_close", nil, nil, nil)
}

// IndexExists reports whether an index or alias exists.
func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	err := c.call(ctx, "index exists "+name, http.MethodHead, indexPath(name), nil, nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetIndex reads settings (flat), mappings and aliases of one index.
func (c *Client) GetIndex(ctx context.Context, name string) (*gateway.IndexDefinition, error) {
	op := "get index " + name
	raw, err := c.read(ctx, op, http.MethodGet, indexPath(name), url.Values{"flat_settings": {"true"}}, nil)
	if err != nil {
		return nil, err
	}
	def, err := gateway.DecodeIndexDefinition(bytes.NewReader(raw), name)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return def, nil
}

// ListIndices lists the concrete indices matching pattern. Legacy clusters have
// no JSON cat output, so their index names are read from the _settings keys.
func (c *Client) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	if c.legacy {
		return c.listLegacyIndices(ctx, pattern)
	}
	var rows []struct {
		Index string `json:"index"`
	}
	err := c.call(ctx, "list indices "+pattern, http.MethodGet, "/_cat/indices"+indexPath(pattern),
		url.Values{"format": {"json"}, "h": {"index"}}, nil, &rows)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Index
	}
	return names, nil
}

func (c *Client) listLegacyIndices(ctx context.Context, pattern string) ([]string, error) {
	var settings map[string]json.RawMessage
	err := c.call(ctx, "list indices "+pattern, http.MethodGet, indexPath(pattern)+"/_settings", nil, nil, &settings)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Refresh makes recent writes to index searchable.
func (c *Client) Refresh(ctx context.Context, index string) error {
	return c.call(ctx, "refresh "+index, http.MethodPost, indexPath(index)+"/_refresh", nil, nil, nil)
}

// Count returns the number of documents in index.
func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.call(ctx, "count "+index, http.MethodGet, indexPath(index)+"/_count", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// AddAlias adds alias to index.
func (c *Client) AddAlias(ctx context.Context, index, alias string) error {
	return c.UpdateAliases(ctx, []gateway.AliasAction{{Op: gateway.AliasAdd, Index: index, Alias: alias}})
}

// RemoveAlias removes alias from index.
func (c *Client) RemoveAlias(ctx context.Context, index, alias string) error {
	return c.UpdateAliases(ctx, []gateway.AliasAction{{Op: gateway.AliasRemove, Index: index, Alias: alias}})
}

// MoveAlias moves alias from oldIndex to newIndex in one request.
func (c *Client) MoveAlias(ctx context.Context, oldIndex, newIndex, alias string) error {
	return c.UpdateAliases(ctx, []gateway.AliasAction{
		{Op: gateway.AliasAdd, Index: newIndex, Alias: alias},
		{Op: gateway.AliasRemove, Index: oldIndex, Alias: alias},
	})
}

// UpdateAliases applies alias actions atomically.
func (c *Client) UpdateAliases(ctx context.Context, actions []gateway.AliasAction) error {
	body, err := gateway.AliasActionsBody(actions)
	if err != nil {
		return fault.Config("update aliases", err)
	}
	return c.call(ctx, "update aliases", http.MethodPost, "/_aliases", nil, body, nil)
}

// AliasMembers returns the indices holding alias; a missing alias yields an empty map.
func (c *Client) AliasMembers(ctx context.Context, alias string) (map[string]gateway.AliasMetadata, error) {
	op := "get alias " + alias
	raw, err := c.read(ctx, op, http.MethodGet, "/_alias"+indexPath(alias), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return map[string]gateway.AliasMetadata{}, nil
	}
	if err != nil {
		return nil, err
	}
	members, err := gateway.DecodeAliasMembers(bytes.NewReader(raw), alias)
	if err != nil {
		return nil, fault.Gateway(op, err)
	}
	return members, nil
}

// ConcreteIndices resolves indices and aliases into sorted concrete index names.
func (c *Client) ConcreteIndices(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	indices, err := c.ListIndices(ctx, joinList(names))
	if err != nil {
		return nil, err
	}
	sort.Strings(indices)
	return indices, nil
}
