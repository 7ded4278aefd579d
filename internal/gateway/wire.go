package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
)

// DocType is the mapping type reported by clusters that no longer have types.
const DocType = "_doc"

// ValidateFilter checks that filter is empty or a JSON object.
func ValidateFilter(filter json.RawMessage) error {
	trimmed := bytes.TrimSpace(filter)
	if len(trimmed) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fault.Configf("validate filter", "filter is not a JSON object: %v", err)
	}
	return nil
}

// ScrollQuery builds the body of a scroll open request. Legacy clusters take the
// filter at top level; current clusters take it as a bool filter clause.
func ScrollQuery(filter json.RawMessage, legacy bool) ([]byte, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	filter = bytes.TrimSpace(filter)
	var body map[string]interface{}
	switch {
	case len(filter) == 0:
		body = map[string]interface{}{
			"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		}
	case legacy:
		body = map[string]interface{}{"filter": filter}
	default:
		body = map[string]interface{}{
			"query": map[string]interface{}{
				"bool": map[string]interface{}{"filter": filter},
			},
		}
	}
	return json.Marshal(body)
}

// TypedScrollQuery builds a scroll open body for a current cluster, restricting
// hits to req.Type with a _type term unless the type is empty or "_doc".
func TypedScrollQuery(req ScrollRequest) ([]byte, error) {
	if req.Type == "" || req.Type == DocType {
		return ScrollQuery(req.Filter, false)
	}
	if err := ValidateFilter(req.Filter); err != nil {
		return nil, err
	}
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"_type": req.Type}},
	}
	if f := bytes.TrimSpace(req.Filter); len(f) > 0 {
		filters = append(filters, json.RawMessage(f))
	}
	return json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
	})
}

// scrollResponse is the common shape of search and scroll responses.
type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total hitsTotal `json:"total"`
		Hits  []rawHit  `json:"hits"`
	} `json:"hits"`
}

// hitsTotal accepts both the legacy number and the {"value": n} object.
type hitsTotal struct {
	Value int64
}

func (t *hitsTotal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Value int64 `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		t.Value = obj.Value
		return nil
	}
	return json.Unmarshal(data, &t.Value)
}

type rawHit struct {
	ID      string          `json:"_id"`
	Version int64           `json:"_version"`
	Routing string          `json:"_routing"`
	Parent  string          `json:"_parent"`
	Source  json.RawMessage `json:"_source"`
	Fields  struct {
		Routing string `json:"_routing"`
		Parent  string `json:"_parent"`
	} `json:"fields"`
}

func (h rawHit) toSearchHit() SearchHit {
	routing := firstNonEmpty(h.Routing, h.Fields.Routing, h.Parent, h.Fields.Parent)
	return SearchHit{
		ID:      h.ID,
		Routing: routing,
		Version: h.Version,
		Source:  h.Source,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// DecodeScrollPage decodes a search or scroll response body.
func DecodeScrollPage(r io.Reader) (*ScrollPage, error) {
	var resp scrollResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode scroll response: %w", err)
	}
	page := &ScrollPage{
		ScrollID: resp.ScrollID,
		Total:    resp.Hits.Total.Value,
		Hits:     make([]SearchHit, 0, len(resp.Hits.Hits)),
	}
	for _, h := range resp.Hits.Hits {
		page.Hits = append(page.Hits, h.toSearchHit())
	}
	return page, nil
}

// IsScrollMissing reports whether a failed scroll continuation means the
// server-side context is gone.
func IsScrollMissing(statusCode int, body string) bool {
	return statusCode == 404 || strings.Contains(body, "search_context_missing_exception")
}

// BulkOptions controls the action metadata written for each hit.
type BulkOptions struct {
	// IncludeType writes _type into the action line.
	IncludeType bool
	// ParentField writes the routing key as "parent" instead of "routing".
	ParentField bool
}

type bulkMeta struct {
	Index       string `json:"_index"`
	Type        string `json:"_type,omitempty"`
	ID          string `json:"_id"`
	Routing     string `json:"routing,omitempty"`
	Parent      string `json:"parent,omitempty"`
	Version     int64  `json:"version,omitempty"`
	VersionType string `json:"version_type,omitempty"`
}

// EncodeBulk writes req as newline-delimited action/source pairs.
func EncodeBulk(buf *bytes.Buffer, req BulkRequest, opts BulkOptions) error {
	for i, hit := range req.Hits {
		meta := bulkMeta{Index: req.Index, ID: hit.ID}
		if opts.IncludeType && req.Type != "" {
			meta.Type = req.Type
		}
		if hit.Routing != "" {
			if opts.ParentField {
				meta.Parent = hit.Routing
			} else {
				meta.Routing = hit.Routing
			}
		}
		if req.WithVersion && hit.Version > 0 {
			meta.Version = hit.Version
			meta.VersionType = "external"
		}
		action, err := json.Marshal(map[string]bulkMeta{"index": meta})
		if err != nil {
			return fmt.Errorf("failed to encode bulk action %d: %w", i, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')

		source := bytes.TrimSpace(hit.Source)
		if len(source) == 0 {
			source = []byte("{}")
		}
		if bytes.ContainsAny(source, "\n\r") {
			var compact bytes.Buffer
			if err := json.Compact(&compact, source); err != nil {
				return fmt.Errorf("failed to compact source of %s: %w", hit.ID, err)
			}
			source = compact.Bytes()
		}
		buf.Write(source)
		buf.WriteByte('\n')
	}
	return nil
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// DecodeBulkFailures returns the positions of failed items in a bulk response.
func DecodeBulkFailures(r io.Reader) ([]int, error) {
	var resp bulkResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !resp.Errors {
		return nil, nil
	}
	var failed []int
	for i, item := range resp.Items {
		for _, outcome := range item {
			if len(outcome.Error) > 0 && string(outcome.Error) != "null" || outcome.Status >= 300 {
				failed = append(failed, i)
			}
		}
	}
	return failed, nil
}

// AliasActionsBody builds the body of an atomic _aliases request.
func AliasActionsBody(actions []AliasAction) ([]byte, error) {
	type target struct {
		Index string `json:"index"`
		Alias string `json:"alias"`
	}
	entries := make([]map[AliasOp]target, 0, len(actions))
	for _, a := range actions {
		if a.Op != AliasAdd && a.Op != AliasRemove {
			return nil, fmt.Errorf("unsupported alias action %q", a.Op)
		}
		entries = append(entries, map[AliasOp]target{a.Op: {Index: a.Index, Alias: a.Alias}})
	}
	return json.Marshal(map[string]interface{}{"actions": entries})
}

// DecodeAliasMembers decodes a GET _alias/<name> response into index -> metadata for alias.
func DecodeAliasMembers(r io.Reader, alias string) (map[string]AliasMetadata, error) {
	var resp map[string]struct {
		Aliases map[string]AliasMetadata `json:"aliases"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode alias response: %w", err)
	}
	members := make(map[string]AliasMetadata, len(resp))
	for index, entry := range resp {
		if md, ok := entry.Aliases[alias]; ok {
			members[index] = md
		}
	}
	return members, nil
}

// typelessMappingKeys are top-level mapping keys of clusters without mapping types.
var typelessMappingKeys = map[string]bool{
	"properties":        true,
	"dynamic":           true,
	"dynamic_templates": true,
	"_source":           true,
	"_meta":             true,
	"_routing":          true,
	"runtime":           true,
	"date_detection":    true,
}

// DecodeIndexDefinition decodes a GET /<index> response.
func DecodeIndexDefinition(r io.Reader, name string) (*IndexDefinition, error) {
	var resp map[string]struct {
		Aliases  map[string]json.RawMessage `json:"aliases"`
		Mappings json.RawMessage            `json:"mappings"`
		Settings map[string]interface{}     `json:"settings"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode index definition: %w", err)
	}
	entry, ok := resp[name]
	if !ok {
		// name may have been an alias resolving to a single index
		if len(resp) != 1 {
			return nil, fmt.Errorf("index %s not found in response", name)
		}
		for concrete, e := range resp {
			name, entry = concrete, e
		}
	}

	def := &IndexDefinition{
		Name:     name,
		Settings: entry.Settings,
		Mappings: entry.Mappings,
	}
	for alias := range entry.Aliases {
		def.Aliases = append(def.Aliases, alias)
	}
	sort.Strings(def.Aliases)
	def.Types = MappingTypes(entry.Mappings)
	return def, nil
}

// MappingTypes returns the mapping types declared by mappings, or "_doc" for typeless mappings.
func MappingTypes(mappings json.RawMessage) []string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(mappings, &top); err != nil || len(top) == 0 {
		return []string{DocType}
	}
	types := make([]string, 0, len(top))
	for key := range top {
		if typelessMappingKeys[key] {
			return []string{DocType}
		}
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}
