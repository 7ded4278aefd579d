// Package gatewaytest provides an in-memory gateway.Gateway for engine tests.
package gatewaytest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// Operation names accepted by FailOn and Calls.
const (
	OpCreateIndex     = "CreateIndex"
	OpDeleteIndex     = "DeleteIndex"
	OpCloseIndex      = "CloseIndex"
	OpIndexExists     = "IndexExists"
	OpGetIndex        = "GetIndex"
	OpListIndices     = "ListIndices"
	OpRefresh         = "Refresh"
	OpCount           = "Count"
	OpAddAlias        = "AddAlias"
	OpRemoveAlias     = "RemoveAlias"
	OpMoveAlias       = "MoveAlias"
	OpUpdateAliases   = "UpdateAliases"
	OpAliasMembers    = "AliasMembers"
	OpConcreteIndices = "ConcreteIndices"
	OpOpenScroll      = "OpenScroll"
	OpContinueScroll  = "ContinueScroll"
	OpClearScroll     = "ClearScroll"
	OpBulkWrite       = "BulkWrite"
)

type document struct {
	id      string
	docType string
	routing string
	version int64
	source  json.RawMessage
}

type index struct {
	settings map[string]interface{}
	mappings json.RawMessage
	closed   bool
	docs     map[string]*document
	order    []string
	created  int
}

type session struct {
	hits        []gateway.SearchHit
	pos         int
	pageSize    int
	withVersion bool
}

type failRule struct {
	op     string
	atCall int
	err    error
}

// Cluster is a thread-safe in-memory cluster.
type Cluster struct {
	// ScanMode mimics legacy scan searches whose opening response carries no hits.
	ScanMode bool

	mu         sync.Mutex
	indices    map[string]*index
	aliases    map[string]map[string]gateway.AliasMetadata
	scrolls    map[string]*session
	scrollSeq  int
	createSeq  int
	calls      map[string]int
	rules      []failRule
	operations []string
}

var _ gateway.Gateway = (*Cluster)(nil)

// New returns an empty cluster.
func New() *Cluster {
	return &Cluster{
		indices: make(map[string]*index),
		aliases: make(map[string]map[string]gateway.AliasMetadata),
		scrolls: make(map[string]*session),
		calls:   make(map[string]int),
	}
}

// FailOn makes the nth next call of op fail with err (wrapped as a gateway fault).
func (c *Cluster) FailOn(op string, nth int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, failRule{op: op, atCall: c.calls[op] + nth, err: err})
}

// Calls returns how many times op has been invoked.
func (c *Cluster) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Operations returns the log of successful mutating calls, e.g. "CloseIndex logs_1".
func (c *Cluster) Operations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.operations...)
}

// Seed creates index when missing and stores hits in it as type "_doc".
func (c *Cluster) Seed(name string, hits ...gateway.SearchHit) {
	c.SeedTyped(name, gateway.DocType, hits...)
}

// SeedTyped creates index when missing and stores hits under docType.
func (c *Cluster) SeedTyped(name, docType string, hits ...gateway.SearchHit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.ensureIndex(name)
	for _, h := range hits {
		version := h.Version
		if version == 0 {
			version = 1
		}
		idx.put(&document{id: h.ID, docType: docType, routing: h.Routing, version: version, source: copyBytes(h.Source)})
	}
}

// SeedAlias points alias at index without going through the gateway.
func (c *Cluster) SeedAlias(name, alias string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureIndex(name)
	c.addAlias(name, alias)
}

// Indices returns every index name, sorted.
func (c *Cluster) Indices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.indices))
	for name := range c.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsClosed reports whether index exists and is closed.
func (c *Cluster) IsClosed(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[name]
	return ok && idx.closed
}

// AliasesOf returns the sorted aliases held by index.
func (c *Cluster) AliasesOf(name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliasesOf(name)
}

// Holders returns the sorted indices holding alias.
func (c *Cluster) Holders(alias string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	holders := make([]string, 0, len(c.aliases[alias]))
	for name := range c.aliases[alias] {
		holders = append(holders, name)
	}
	sort.Strings(holders)
	return holders
}

// Documents returns the documents of index in insertion order.
func (c *Cluster) Documents(name string) []gateway.SearchHit {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indices[name]
	if !ok {
		return nil
	}
	hits := make([]gateway.SearchHit, 0, len(idx.order))
	for _, key := range idx.order {
		d := idx.docs[key]
		hits = append(hits, gateway.SearchHit{ID: d.id, Routing: d.routing, Version: d.version, Source: copyBytes(d.source)})
	}
	return hits
}

// OpenScrolls returns the number of live scroll sessions.
func (c *Cluster) OpenScrolls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scrolls)
}

// enter counts a call and returns an injected failure, if any. Callers hold mu.
func (c *Cluster) enter(op string) error {
	c.calls[op]++
	for i, r := range c.rules {
		if r.op == op && r.atCall == c.calls[op] {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			return fault.Gateway(op, r.err)
		}
	}
	return nil
}

func (c *Cluster) record(format string, args ...interface{}) {
	c.operations = append(c.operations, fmt.Sprintf(format, args...))
}

func statusErr(op string, code int, format string, args ...interface{}) error {
	return fault.Gateway(op, &gateway.StatusError{Op: op, StatusCode: code, Body: fmt.Sprintf(format, args...)})
}

func notFound(op, name string) error {
	return statusErr(op, http.StatusNotFound, "index_not_found_exception: %s", name)
}

func (c *Cluster) ensureIndex(name string) *index {
	idx, ok := c.indices[name]
	if !ok {
		c.createSeq++
		idx = &index{settings: map[string]interface{}{}, docs: make(map[string]*document), created: c.createSeq}
		c.indices[name] = idx
	}
	return idx
}

func (idx *index) put(d *document) {
	key := d.docType + "/" + d.id
	if _, exists := idx.docs[key]; !exists {
		idx.order = append(idx.order, key)
	}
	idx.docs[key] = d
}

func (c *Cluster) aliasesOf(name string) []string {
	var result []string
	for alias, members := range c.aliases {
		if _, ok := members[name]; ok {
			result = append(result, alias)
		}
	}
	sort.Strings(result)
	return result
}

func (c *Cluster) addAlias(name, alias string) {
	if c.aliases[alias] == nil {
		c.aliases[alias] = make(map[string]gateway.AliasMetadata)
	}
	c.aliases[alias][name] = gateway.AliasMetadata{}
}

func (c *Cluster) removeAlias(name, alias string) {
	delete(c.aliases[alias], name)
	if len(c.aliases[alias]) == 0 {
		delete(c.aliases, alias)
	}
}

func (c *Cluster) holds(name, alias string) bool {
	_, ok := c.aliases[alias][name]
	return ok
}

// resolve expands an index, alias or pattern into sorted concrete names.
func (c *Cluster) resolve(name string) []string {
	seen := make(map[string]bool)
	for _, part := range strings.Split(name, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "_all" || part == "*":
			for n := range c.indices {
				seen[n] = true
			}
		case strings.ContainsAny(part, "*?"):
			for n := range c.indices {
				if ok, _ := path.Match(part, n); ok {
					seen[n] = true
				}
			}
		default:
			if _, ok := c.indices[part]; ok {
				seen[part] = true
			}
			for n := range c.aliases[part] {
				seen[n] = true
			}
		}
	}
	result := make([]string, 0, len(seen))
	for n := range seen {
		result = append(result, n)
	}
	sort.Strings(result)
	return result
}

// CreateIndex creates an index from a JSON body with optional settings, mappings and aliases.
func (c *Cluster) CreateIndex(_ context.Context, name string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpCreateIndex); err != nil {
		return err
	}
	if _, ok := c.indices[name]; ok {
		return statusErr(OpCreateIndex, http.StatusBadRequest, "resource_already_exists_exception: %s", name)
	}
	var parsed struct {
		Settings map[string]interface{}     `json:"settings"`
		Mappings json.RawMessage            `json:"mappings"`
		Aliases  map[string]json.RawMessage `json:"aliases"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return statusErr(OpCreateIndex, http.StatusBadRequest, "parse_exception: %v", err)
		}
	}
	idx := c.ensureIndex(name)
	if parsed.Settings != nil {
		idx.settings = parsed.Settings
	}
	idx.mappings = parsed.Mappings
	for alias := range parsed.Aliases {
		c.addAlias(name, alias)
	}
	c.record("CreateIndex %s", name)
	return nil
}

// DeleteIndex removes an index and its alias memberships.
func (c *Cluster) DeleteIndex(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpDeleteIndex); err != nil {
		return err
	}
	if _, ok := c.indices[name]; !ok {
		return notFound(OpDeleteIndex, name)
	}
	delete(c.indices, name)
	for _, alias := range c.aliasesOf(name) {
		c.removeAlias(name, alias)
	}
	c.record("DeleteIndex %s", name)
	return nil
}

// CloseIndex marks an index closed.
func (c *Cluster) CloseIndex(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpCloseIndex); err != nil {
		return err
	}
	idx, ok := c.indices[name]
	if !ok {
		return notFound(OpCloseIndex, name)
	}
	idx.closed = true
	c.record("CloseIndex %s", name)
	return nil
}

// IndexExists reports whether name is an index or an alias.
func (c *Cluster) IndexExists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpIndexExists); err != nil {
		return false, err
	}
	return len(c.resolve(name)) > 0, nil
}

// GetIndex returns the definition of one concrete index.
func (c *Cluster) GetIndex(_ context.Context, name string) (*gateway.IndexDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpGetIndex); err != nil {
		return nil, err
	}
	names := c.resolve(name)
	if len(names) != 1 {
		return nil, notFound(OpGetIndex, name)
	}
	concrete := names[0]
	idx := c.indices[concrete]

	settings := map[string]interface{}{}
	for k, v := range idx.settings {
		settings[k] = v
	}
	settings["index.uuid"] = fmt.Sprintf("uuid-%d", idx.created)
	settings["index.creation_date"] = fmt.Sprintf("%d", idx.created)
	settings["index.provided_name"] = concrete

	def := &gateway.IndexDefinition{
		Name:     concrete,
		Settings: settings,
		Mappings: copyBytes(idx.mappings),
		Aliases:  c.aliasesOf(concrete),
		Types:    idx.types(),
	}
	return def, nil
}

func (idx *index) types() []string {
	if len(bytes.TrimSpace(idx.mappings)) > 0 {
		return gateway.MappingTypes(idx.mappings)
	}
	seen := make(map[string]bool)
	for _, d := range idx.docs {
		seen[d.docType] = true
	}
	if len(seen) == 0 {
		return []string{gateway.DocType}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ListIndices returns the concrete indices matching pattern.
func (c *Cluster) ListIndices(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpListIndices); err != nil {
		return nil, err
	}
	return c.resolve(pattern), nil
}

// Refresh is a no-op on an existing, open index.
func (c *Cluster) Refresh(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpRefresh); err != nil {
		return err
	}
	if len(c.resolve(name)) == 0 {
		return notFound(OpRefresh, name)
	}
	return nil
}

// Count returns the number of documents behind name.
func (c *Cluster) Count(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpCount); err != nil {
		return 0, err
	}
	names := c.resolve(name)
	if len(names) == 0 {
		return 0, notFound(OpCount, name)
	}
	var total int64
	for _, n := range names {
		idx := c.indices[n]
		if idx.closed {
			return 0, statusErr(OpCount, http.StatusBadRequest, "index_closed_exception: %s", n)
		}
		total += int64(len(idx.docs))
	}
	return total, nil
}

// AddAlias adds alias to index.
func (c *Cluster) AddAlias(_ context.Context, name, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpAddAlias); err != nil {
		return err
	}
	if _, ok := c.indices[name]; !ok {
		return notFound(OpAddAlias, name)
	}
	c.addAlias(name, alias)
	c.record("AddAlias %s %s", name, alias)
	return nil
}

// RemoveAlias removes alias from index; the index must hold it.
func (c *Cluster) RemoveAlias(_ context.Context, name, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpRemoveAlias); err != nil {
		return err
	}
	if !c.holds(name, alias) {
		return statusErr(OpRemoveAlias, http.StatusNotFound, "aliases_not_found_exception: %s on %s", alias, name)
	}
	c.removeAlias(name, alias)
	c.record("RemoveAlias %s %s", name, alias)
	return nil
}

// MoveAlias atomically moves alias from oldIndex to newIndex.
func (c *Cluster) MoveAlias(ctx context.Context, oldIndex, newIndex, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpMoveAlias); err != nil {
		return err
	}
	return c.applyAliases(OpMoveAlias, []gateway.AliasAction{
		{Op: gateway.AliasAdd, Index: newIndex, Alias: alias},
		{Op: gateway.AliasRemove, Index: oldIndex, Alias: alias},
	})
}

// UpdateAliases applies actions atomically: all succeed or none are applied.
func (c *Cluster) UpdateAliases(_ context.Context, actions []gateway.AliasAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpUpdateAliases); err != nil {
		return err
	}
	return c.applyAliases(OpUpdateAliases, actions)
}

func (c *Cluster) applyAliases(op string, actions []gateway.AliasAction) error {
	for _, a := range actions {
		if _, ok := c.indices[a.Index]; !ok {
			return notFound(op, a.Index)
		}
		if a.Op == gateway.AliasRemove && !c.holds(a.Index, a.Alias) {
			return statusErr(op, http.StatusNotFound, "aliases_not_found_exception: %s on %s", a.Alias, a.Index)
		}
		if a.Op != gateway.AliasAdd && a.Op != gateway.AliasRemove {
			return statusErr(op, http.StatusBadRequest, "unknown alias action %q", a.Op)
		}
	}
	for _, a := range actions {
		if a.Op == gateway.AliasAdd {
			c.addAlias(a.Index, a.Alias)
		} else {
			c.removeAlias(a.Index, a.Alias)
		}
		c.record("%s %s %s %s", op, a.Op, a.Index, a.Alias)
	}
	return nil
}

// AliasMembers returns the holders of alias; a missing alias yields an empty map.
func (c *Cluster) AliasMembers(_ context.Context, alias string) (map[string]gateway.AliasMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpAliasMembers); err != nil {
		return nil, err
	}
	members := make(map[string]gateway.AliasMetadata, len(c.aliases[alias]))
	for name, md := range c.aliases[alias] {
		members[name] = md
	}
	return members, nil
}

// ConcreteIndices resolves names (indices or aliases) into sorted concrete indices.
func (c *Cluster) ConcreteIndices(_ context.Context, names []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpConcreteIndices); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, name := range names {
		resolved := c.resolve(name)
		if len(resolved) == 0 {
			return nil, notFound(OpConcreteIndices, name)
		}
		for _, n := range resolved {
			seen[n] = true
		}
	}
	result := make([]string, 0, len(seen))
	for n := range seen {
		result = append(result, n)
	}
	sort.Strings(result)
	return result, nil
}

// OpenScroll snapshots the matching documents and returns the first page.
func (c *Cluster) OpenScroll(_ context.Context, req gateway.ScrollRequest) (*gateway.ScrollPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpOpenScroll); err != nil {
		return nil, err
	}
	if req.PageSize <= 0 || req.KeepAlive <= 0 {
		return nil, statusErr(OpOpenScroll, http.StatusBadRequest, "invalid page size or keep-alive")
	}
	names := c.resolve(req.Index)
	if len(names) == 0 {
		return nil, notFound(OpOpenScroll, req.Index)
	}

	match := matcher(matchAll)
	if len(bytes.TrimSpace(req.Filter)) > 0 {
		m, err := compileFilter(req.Filter)
		if err != nil {
			return nil, statusErr(OpOpenScroll, http.StatusBadRequest, "parsing_exception: %v", err)
		}
		match = m
	}

	s := &session{pageSize: req.PageSize, withVersion: req.WithVersion}
	for _, n := range names {
		idx := c.indices[n]
		if idx.closed {
			return nil, statusErr(OpOpenScroll, http.StatusBadRequest, "index_closed_exception: %s", n)
		}
		for _, key := range idx.order {
			d := idx.docs[key]
			if req.Type != "" && d.docType != req.Type {
				continue
			}
			var src map[string]interface{}
			_ = json.Unmarshal(d.source, &src)
			if !match(src) {
				continue
			}
			hit := gateway.SearchHit{ID: d.id, Routing: d.routing, Source: copyBytes(d.source)}
			if req.WithVersion {
				hit.Version = d.version
			}
			s.hits = append(s.hits, hit)
		}
	}

	page := &gateway.ScrollPage{Total: int64(len(s.hits)), ScrollID: c.newScrollID(s)}
	if !c.ScanMode {
		page.Hits = s.next()
	}
	return page, nil
}

// ContinueScroll returns the next page. Only the newest id of a session is valid.
func (c *Cluster) ContinueScroll(_ context.Context, scrollID string, _ time.Duration) (*gateway.ScrollPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpContinueScroll); err != nil {
		return nil, err
	}
	s, ok := c.scrolls[scrollID]
	if !ok {
		return nil, fault.CursorExpired(OpContinueScroll, &gateway.StatusError{
			Op: OpContinueScroll, StatusCode: http.StatusNotFound, Body: "search_context_missing_exception",
		})
	}
	delete(c.scrolls, scrollID)
	return &gateway.ScrollPage{
		ScrollID: c.newScrollID(s),
		Total:    int64(len(s.hits)),
		Hits:     s.next(),
	}, nil
}

// ClearScroll releases a session. Unknown ids are ignored.
func (c *Cluster) ClearScroll(_ context.Context, scrollID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpClearScroll); err != nil {
		return err
	}
	delete(c.scrolls, scrollID)
	return nil
}

func (c *Cluster) newScrollID(s *session) string {
	c.scrollSeq++
	id := fmt.Sprintf("scroll-%d", c.scrollSeq)
	c.scrolls[id] = s
	return id
}

func (s *session) next() []gateway.SearchHit {
	end := s.pos + s.pageSize
	if end > len(s.hits) {
		end = len(s.hits)
	}
	page := s.hits[s.pos:end]
	s.pos = end
	return page
}

// BulkWrite indexes hits, creating the index when missing. External versions
// lower than or equal to the stored one are rejected per item.
func (c *Cluster) BulkWrite(_ context.Context, req gateway.BulkRequest) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpBulkWrite); err != nil {
		return nil, err
	}
	if existing, ok := c.indices[req.Index]; ok && existing.closed {
		return nil, statusErr(OpBulkWrite, http.StatusBadRequest, "index_closed_exception: %s", req.Index)
	}
	docType := req.Type
	if docType == "" {
		docType = gateway.DocType
	}
	idx := c.ensureIndex(req.Index)

	var failed []int
	for i, h := range req.Hits {
		if h.ID == "" || !json.Valid(h.Source) {
			failed = append(failed, i)
			continue
		}
		prev := idx.docs[docType+"/"+h.ID]
		version := int64(1)
		if prev != nil {
			version = prev.version + 1
		}
		if req.WithVersion && h.Version > 0 {
			if prev != nil && prev.version >= h.Version {
				failed = append(failed, i)
				continue
			}
			version = h.Version
		}
		idx.put(&document{id: h.ID, docType: docType, routing: h.Routing, version: version, source: copyBytes(h.Source)})
	}
	return failed, nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
