package elasticsearch

import (
	"context"

	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// Interface defines the contract for local cluster operations.
// This interface allows for easy mocking in tests
type Interface interface {
	gateway.Gateway

	// ListIndicesDetailed lists health, status and size of the indices matching pattern
	ListIndicesDetailed(ctx context.Context, pattern string) ([]IndexInfo, error)
}

// Ensure *Client implements Interface
var _ Interface = (*Client)(nil)
