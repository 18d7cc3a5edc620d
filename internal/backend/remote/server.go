package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/rpc"
)

// NewServer exposes b under the Backend.* RPC methods.
func NewServer(b backend.Backend) *rpc.Server {
	s := rpc.NewServer(proto.ErrorCode)

	s.Register(proto.MethodAddIndex, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.IndexRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.AddIndex(ctx, req.Index)
	})
	s.Register(proto.MethodUpdateIndex, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.UpdateIndexRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.UpdateIndex(ctx, req.Index, req.Previous)
	})
	s.Register(proto.MethodRemoveIndex, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.RemoveIndexRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		return nil, b.RemoveIndex(ctx, req.IndexID)
	})
	s.Register(proto.MethodIndexItems, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.IndexItemsRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		for _, it := range req.Items {
			if err := it.Normalize(); err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
			}
		}
		ids, err := b.IndexItems(ctx, req.Index, req.Items)
		if err != nil {
			return nil, err
		}
		return &proto.IndexItemsResponse{IDs: ids}, nil
	})
	s.Register(proto.MethodDeleteItems, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.DeleteItemsRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.DeleteItems(ctx, req.Index, req.IDs)
	})
	s.Register(proto.MethodDeleteAllIndexItems, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.IndexRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return nil, b.DeleteAllIndexItems(ctx, req.Index)
	})
	s.Register(proto.MethodSearch, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.SearchRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		if req.Query == nil {
			return nil, fmt.Errorf("%w: missing query", apperrors.ErrInvalidInput)
		}
		return b.Search(ctx, req.Index, req.Query)
	})
	s.Register(proto.MethodHealth, func(context.Context, json.RawMessage) (any, error) {
		return &proto.HealthCheckResponse{Status: "SERVING"}, nil
	})
	return s
}

type indexed interface {
	proto.IndexRequest | proto.UpdateIndexRequest | proto.IndexItemsRequest | proto.DeleteItemsRequest | proto.SearchRequest
}

// decode unmarshals a request that must name an index.
func decode[T indexed](raw json.RawMessage, req *T) error {
	if err := json.Unmarshal(raw, req); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	var missing bool
	switch r := any(req).(type) {
	case *proto.IndexRequest:
		missing = r.Index == nil
	case *proto.UpdateIndexRequest:
		missing = r.Index == nil
	case *proto.IndexItemsRequest:
		missing = r.Index == nil
	case *proto.DeleteItemsRequest:
		missing = r.Index == nil
	case *proto.SearchRequest:
		missing = r.Index == nil
	}
	if missing {
		return fmt.Errorf("%w: missing index", apperrors.ErrInvalidInput)
	}
	return nil
}
