// Package proto defines the messages exchanged between the search API or
// task worker and a backend node over the JSON-over-TCP RPC layer (see
// pkg/rpc). Each Backend operation has one method name and one request type.
package proto

import (
	"errors"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

// ---------- Methods ----------

const (
	MethodAddIndex            = "Backend.AddIndex"
	MethodUpdateIndex         = "Backend.UpdateIndex"
	MethodRemoveIndex         = "Backend.RemoveIndex"
	MethodIndexItems          = "Backend.IndexItems"
	MethodDeleteItems         = "Backend.DeleteItems"
	MethodDeleteAllIndexItems = "Backend.DeleteAllIndexItems"
	MethodSearch              = "Backend.Search"
	MethodHealth              = "Backend.Health"
)

// ---------- Index ----------

// IndexRequest carries the full index definition for AddIndex and
// DeleteAllIndexItems.
type IndexRequest struct {
	Index *catalog.Index `json:"index"`
}

// UpdateIndexRequest carries the new definition and, when known, the one it
// replaces.
type UpdateIndexRequest struct {
	Index    *catalog.Index `json:"index"`
	Previous *catalog.Index `json:"previous,omitempty"`
}

type RemoveIndexRequest struct {
	IndexID string `json:"index_id"`
}

// ---------- Items ----------

type IndexItemsRequest struct {
	Index *catalog.Index `json:"index"`
	Items []*item.Item   `json:"items"`
}

// IndexItemsResponse lists the ids the node actually indexed.
type IndexItemsResponse struct {
	IDs []string `json:"ids"`
}

type DeleteItemsRequest struct {
	Index *catalog.Index `json:"index"`
	IDs   []string       `json:"ids"`
}

// ---------- Search ----------

type SearchRequest struct {
	Index *catalog.Index `json:"index"`
	Query *query.Query   `json:"query"`
}

// SearchResponse is the backend's result set before postprocessing.
type SearchResponse = query.Results

// ---------- Health ----------

// HealthCheckResponse mirrors the gRPC health check statuses.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING
}

// ---------- Errors ----------

// Error codes carried in rpc.Response.Code so that sentinel errors survive
// the wire.
const (
	CodeIndexNotFound = "index_not_found"
	CodeItemNotFound  = "item_not_found"
	CodeInvalidInput  = "invalid_input"
	CodeInvalidConfig = "invalid_config"
	CodeReadOnly      = "read_only"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

var codes = []struct {
	code     string
	sentinel error
}{
	{CodeIndexNotFound, apperrors.ErrIndexNotFound},
	{CodeItemNotFound, apperrors.ErrItemNotFound},
	{CodeInvalidInput, apperrors.ErrInvalidInput},
	{CodeInvalidConfig, apperrors.ErrInvalidConfig},
	{CodeReadOnly, apperrors.ErrReadOnlyIndex},
	{CodeUnavailable, apperrors.ErrBackendUnavailable},
}

// ErrorCode classifies err for the wire. It matches rpc.ErrorCoder.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return CodeInternal
}

// Sentinel maps a wire code back to its sentinel error, or nil for
// CodeInternal and unknown codes.
func Sentinel(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.sentinel
		}
	}
	return nil
}
