package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// AllTypes selects every mapping type of the source index in CopyRequest.Type.
const AllTypes = "*"

// CopyRequest copies an index into a new index created with the same
// settings and mappings.
type CopyRequest struct {
	SourceIndex string
	NewIndex    string
	// Type is the mapping type to copy, or "*" for all.
	Type string
	// Shards overrides the shard count of the new index when positive.
	Shards      int
	Filter      json.RawMessage
	PageSize    int
	KeepAlive   time.Duration
	Wait        time.Duration
	WithVersion bool
	Transform   TransformFunc
	// DeleteSource deletes the source when both indices hold the same number of documents.
	DeleteSource bool
	// CopyAliases adds the aliases of the source to the new index.
	CopyAliases bool
	// AddOldIndexAsAlias adds the source name as alias of the new index once the source is gone.
	AddOldIndexAsAlias bool
}

// CopyResult reports what CopyIndex did.
type CopyResult struct {
	Created       bool       `json:"created"`
	Outcomes      []*Outcome `json:"outcomes"`
	SourceDeleted bool       `json:"sourceDeleted"`
	AddedAliases  []string   `json:"addedAliases,omitempty"`
}

// internalSettings are cluster-assigned and rejected by the create index API.
var internalSettings = []string{
	"index.uuid",
	"index.creation_date",
	"index.provided_name",
	"index.version.",
	"index.resize.",
	"index.verified_before_close",
	"index.history.uuid",
	"index.routing.allocation.initial_recovery.",
	"index.shrink.",
	"index.frozen",
}

// CreateBody derives a create-index body from def. A positive shards value
// overrides the shard count. docType limits typed mappings to one type.
func CreateBody(def *gateway.IndexDefinition, docType string, shards int) ([]byte, error) {
	settings := make(map[string]interface{}, len(def.Settings))
	for key, value := range flatten("", def.Settings) {
		if !isInternalSetting(key) {
			settings[key] = value
		}
	}
	if shards > 0 {
		settings["index.number_of_shards"] = strconv.Itoa(shards)
	}

	body := map[string]interface{}{"settings": settings}
	mappings, err := selectMappings(def, docType)
	if err != nil {
		return nil, err
	}
	if len(mappings) > 0 {
		body["mappings"] = mappings
	}
	return json.Marshal(body)
}

func isInternalSetting(key string) bool {
	for _, prefix := range internalSettings {
		if key == prefix || (strings.HasSuffix(prefix, ".") && strings.HasPrefix(key, prefix)) {
			return true
		}
	}
	return false
}

// flatten turns nested settings into dotted keys.
func flatten(prefix string, settings map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(settings))
	for key, value := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			for k, v := range flatten(full, nested) {
				flat[k] = v
			}
			continue
		}
		flat[full] = value
	}
	return flat
}

func selectMappings(def *gateway.IndexDefinition, docType string) (json.RawMessage, error) {
	if len(def.Mappings) == 0 || docType == AllTypes || docType == "" || isTypeless(def) {
		return def.Mappings, nil
	}
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(def.Mappings, &typed); err != nil {
		return nil, fmt.Errorf("failed to decode mappings of %s: %w", def.Name, err)
	}
	mapping, ok := typed[docType]
	if !ok {
		return nil, fault.Configf("copy index", "index %s has no mapping type %s", def.Name, docType)
	}
	return json.Marshal(map[string]json.RawMessage{docType: mapping})
}

func isTypeless(def *gateway.IndexDefinition) bool {
	return len(def.Types) == 1 && def.Types[0] == gateway.DocType
}

// CopyIndex creates req.NewIndex from the source definition unless it exists,
// copies the selected types, then optionally deletes the source and moves aliases.
func (m *Migrator) CopyIndex(ctx context.Context, gw gateway.Gateway, req CopyRequest) (*CopyResult, error) {
	if req.SourceIndex == "" || req.NewIndex == "" || req.Type == "" {
		return nil, fault.Configf("copy index", "source index, new index and type are required")
	}
	if req.SourceIndex == req.NewIndex {
		return nil, fault.Configf("copy index", "new index must differ from %s", req.SourceIndex)
	}

	def, err := gw.GetIndex(ctx, req.SourceIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", req.SourceIndex, err)
	}
	res := &CopyResult{}

	exists, err := gw.IndexExists(ctx, req.NewIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to check index %s: %w", req.NewIndex, err)
	}
	if exists {
		m.log.Infof("Target index %s already exists, skipping creation", req.NewIndex)
	} else {
		body, err := CreateBody(def, req.Type, req.Shards)
		if err != nil {
			return nil, err
		}
		if err := gw.CreateIndex(ctx, req.NewIndex, body); err != nil {
			return nil, fmt.Errorf("failed to create index %s from %s: %w", req.NewIndex, req.SourceIndex, err)
		}
		res.Created = true
		m.log.Successf("Created index %s from %s", req.NewIndex, req.SourceIndex)
	}

	types := []string{req.Type}
	if req.Type == AllTypes {
		types = def.Types
	}
	for _, t := range types {
		out, err := m.Run(ctx, Job{
			Source:      gw,
			SourceIndex: def.Name,
			SourceType:  t,
			Filter:      req.Filter,
			PageSize:    req.PageSize,
			KeepAlive:   req.KeepAlive,
			Options: Options{
				Index:       req.NewIndex,
				Type:        t,
				WithVersion: req.WithVersion,
				Wait:        req.Wait,
				Transform:   req.Transform,
			},
		})
		if out != nil {
			res.Outcomes = append(res.Outcomes, out)
		}
		if err != nil {
			return res, err
		}
	}

	if req.DeleteSource {
		deleted, err := m.deleteIfComplete(ctx, gw, def.Name, req.NewIndex)
		if err != nil {
			return res, err
		}
		res.SourceDeleted = deleted
	}

	if req.CopyAliases || req.AddOldIndexAsAlias {
		added, err := m.copyAliases(ctx, gw, def, req)
		if err != nil {
			return res, err
		}
		res.AddedAliases = added
	}
	return res, nil
}

func (m *Migrator) deleteIfComplete(ctx context.Context, gw gateway.Gateway, source, target string) (bool, error) {
	m.log.Infof("Refreshing %s", target)
	if err := gw.Refresh(ctx, target); err != nil {
		return false, fmt.Errorf("failed to refresh %s: %w", target, err)
	}
	oldCount, err := gw.Count(ctx, source)
	if err != nil {
		return false, fmt.Errorf("failed to count %s: %w", source, err)
	}
	newCount, err := gw.Count(ctx, target)
	if err != nil {
		return false, fmt.Errorf("failed to count %s: %w", target, err)
	}
	if oldCount != newCount {
		m.log.Warningf("Not deleting %s: it holds %d documents, %s holds %d", source, oldCount, target, newCount)
		return false, nil
	}
	if err := gw.DeleteIndex(ctx, source); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", source, err)
	}
	m.log.Successf("Deleted %s", source)
	return true, nil
}

// copyAliases uses the aliases read before the copy, so they survive a source delete.
func (m *Migrator) copyAliases(ctx context.Context, gw gateway.Gateway, def *gateway.IndexDefinition, req CopyRequest) ([]string, error) {
	var aliases []string
	if req.CopyAliases {
		aliases = append(aliases, def.Aliases...)
	}
	if req.AddOldIndexAsAlias {
		exists, err := gw.IndexExists(ctx, def.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check index %s: %w", def.Name, err)
		}
		if exists {
			m.log.Warningf("Cannot add old index name %s as alias of %s while the old index still exists", def.Name, req.NewIndex)
		} else {
			aliases = append(aliases, def.Name)
		}
	}
	if len(aliases) == 0 {
		return nil, nil
	}
	sort.Strings(aliases)

	actions := make([]gateway.AliasAction, 0, len(aliases))
	for _, alias := range aliases {
		actions = append(actions, gateway.AliasAction{Op: gateway.AliasAdd, Index: req.NewIndex, Alias: alias})
	}
	if err := gw.UpdateAliases(ctx, actions); err != nil {
		return nil, fmt.Errorf("failed to add aliases to %s: %w", req.NewIndex, err)
	}
	m.log.Successf("Added aliases %s to %s", strings.Join(aliases, ", "), req.NewIndex)
	return aliases, nil
}
