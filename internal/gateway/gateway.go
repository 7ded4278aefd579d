// Package gateway defines the contract for talking to an Elasticsearch cluster.
// The rotation and reindex engines depend only on this package; the local
// (official client) and remote (HTTP+JSON) adapters implement it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Gateway is every cluster operation the engines need.
// Implementations do not retry; a returned error is fatal to the calling operation.
type Gateway interface {
	// Index operations
	CreateIndex(ctx context.Context, name string, body []byte) error
	DeleteIndex(ctx context.Context, name string) error
	CloseIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	GetIndex(ctx context.Context, name string) (*IndexDefinition, error)
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	Refresh(ctx context.Context, index string) error
	Count(ctx context.Context, index string) (int64, error)

	// Alias operations
	AddAlias(ctx context.Context, index, alias string) error
	RemoveAlias(ctx context.Context, index, alias string) error
	// MoveAlias adds alias to newIndex and removes it from oldIndex in one request,
	// so there is no instant with zero or two holders.
	MoveAlias(ctx context.Context, oldIndex, newIndex, alias string) error
	UpdateAliases(ctx context.Context, actions []AliasAction) error
	// AliasMembers returns the indices holding alias. A missing alias yields an empty map.
	AliasMembers(ctx context.Context, alias string) (map[string]AliasMetadata, error)
	ConcreteIndices(ctx context.Context, names []string) ([]string, error)

	// Scroll operations
	OpenScroll(ctx context.Context, req ScrollRequest) (*ScrollPage, error)
	ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*ScrollPage, error)
	ClearScroll(ctx context.Context, scrollID string) error

	// BulkWrite indexes hits into req.Index and returns the positions (within
	// req.Hits) of the items the cluster rejected.
	BulkWrite(ctx context.Context, req BulkRequest) ([]int, error)
}

// SearchHit is one document read from a scroll.
type SearchHit struct {
	ID string
	// Routing carries the parent/routing key, empty when the document has none.
	Routing string
	// Version is the document version, 0 when not requested or not returned.
	Version int64
	// Source is the raw _source; it is never decoded by the engines.
	Source json.RawMessage
}

// ScrollRequest opens a scroll session.
type ScrollRequest struct {
	Index string
	// Type is the mapping type; empty means all types.
	Type string
	// Filter is a query clause applied as a filter; empty matches all documents.
	Filter      json.RawMessage
	PageSize    int
	WithVersion bool
	KeepAlive   time.Duration
}

// ScrollPage is one response of a scroll session.
type ScrollPage struct {
	ScrollID string
	Total    int64
	Hits     []SearchHit
}

// BulkRequest indexes a batch of hits.
type BulkRequest struct {
	Index       string
	Type        string
	Hits        []SearchHit
	WithVersion bool
}

// AliasMetadata describes one alias on one index.
type AliasMetadata struct {
	Filter        json.RawMessage `json:"filter,omitempty"`
	IndexRouting  string          `json:"index_routing,omitempty"`
	SearchRouting string          `json:"search_routing,omitempty"`
	IsWriteIndex  *bool           `json:"is_write_index,omitempty"`
}

// AliasOp is the kind of an alias action.
type AliasOp string

const (
	AliasAdd    AliasOp = "add"
	AliasRemove AliasOp = "remove"
)

// AliasAction is one entry of an atomic alias update.
type AliasAction struct {
	Op    AliasOp
	Index string
	Alias string
}

// IndexDefinition is what is needed to create an identical index.
type IndexDefinition struct {
	Name     string
	Settings map[string]interface{}
	Mappings json.RawMessage
	Aliases  []string
	// Types lists mapping types. Clusters without types report "_doc".
	Types []string
}

// StatusError is a non-2xx answer from the cluster.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}
