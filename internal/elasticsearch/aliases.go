package elasticsearch

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// AddAlias adds alias to index
func (c *Client) AddAlias(ctx context.Context, index, alias string) error {
	return c.UpdateAliases(ctx, []gateway.AliasAction{{Op: gateway.AliasAdd, Index: index, Alias: alias}})
}

// RemoveAlias removes alias from index
func (c *Client) RemoveAlias(ctx context.Context, index, alias string) error {
	return c.UpdateAliases(ctx, []gateway.AliasAction{{Op: gateway.AliasRemove, Index: index, Alias: alias}})
}

// MoveAlias moves alias from oldIndex to newIndex in one request
func (c *Client) MoveAlias(ctx context.Context, oldIndex, newIndex, alias string) error {
	return c.UpdateAliases(ctx, []gateway.AliasAction{
		{Op: gateway.AliasAdd, Index: newIndex, Alias: alias},
		{Op: gateway.AliasRemove, Index: oldIndex, Alias: alias},
	})
}

// UpdateAliases applies alias actions atomically
func (c *Client) UpdateAliases(ctx context.Context, actions []gateway.AliasAction) error {
	body, err := gateway.AliasActionsBody(actions)
	if err != nil {
		return fault.Config("update aliases", err)
	}
	res, err := c.es.Indices.UpdateAliases(
		strings.NewReader(string(body)),
		c.es.Indices.UpdateAliases.WithContext(ctx),
	)
	if err := check("update aliases", res, err); err != nil {
		return err
	}
	drain(res)
	return nil
}

// AliasMembers returns the indices holding alias; a missing alias yields an empty map
func (c *Client) AliasMembers(ctx context.Context, alias string) (map[string]gateway.AliasMetadata, error) {
	res, err := c.es.Indices.GetAlias(
		c.es.Indices.GetAlias.WithContext(ctx),
		c.es.Indices.GetAlias.WithName(alias),
	)
	if err != nil {
		return nil, fault.Gateway("get alias "+alias, err)
	}
	if res.StatusCode == http.StatusNotFound {
		drain(res)
		return map[string]gateway.AliasMetadata{}, nil
	}
	if err := check("get alias "+alias, res, nil); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	members, err := gateway.DecodeAliasMembers(res.Body, alias)
	if err != nil {
		return nil, fault.Gateway("get alias "+alias, err)
	}
	return members, nil
}

// ConcreteIndices resolves indices and aliases into concrete index names
func (c *Client) ConcreteIndices(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	indices, err := c.ListIndices(ctx, strings.Join(names, ","))
	if err != nil {
		return nil, err
	}
	sort.Strings(indices)
	return indices, nil
}
