// Package remote forwards backend operations to a backend node over the
// JSON-over-TCP RPC layer, and serves any local backend to such clients.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/rpc"
)

const DefaultTimeout = 10 * time.Second

// Client is a backend.Backend living on another node. The connection is
// dialed on first use, so a node that is down only fails the operations
// that reach it.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn *rpc.Client
}

var _ backend.Backend = (*Client)(nil)

// New returns a client for the node at addr. A zero timeout means
// DefaultTimeout.
func New(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// TimeoutFrom reads the "timeout" backend option, a Go duration string.
func TimeoutFrom(opts map[string]any) time.Duration {
	s, _ := opts["timeout"].(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (c *Client) client() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := rpc.Dial(c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.client()
	if err != nil {
		return err
	}
	err = resilience.WithTimeout(ctx, c.timeout, method, func(ctx context.Context) error {
		return conn.Call(ctx, method, params, result)
	})
	if err == nil {
		return nil
	}
	var remote *rpc.RemoteError
	if errors.As(err, &remote) {
		if sentinel := proto.Sentinel(remote.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, remote.Message)
		}
		return fmt.Errorf("%s on %s: %w", method, c.addr, err)
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %s on %s: %v", apperrors.ErrBackendUnavailable, method, c.addr, err)
}

func (c *Client) AddIndex(ctx context.Context, idx *catalog.Index) error {
	return c.call(ctx, proto.MethodAddIndex, &proto.IndexRequest{Index: idx}, nil)
}

func (c *Client) UpdateIndex(ctx context.Context, idx *catalog.Index, prev *catalog.Index) error {
	return c.call(ctx, proto.MethodUpdateIndex, &proto.UpdateIndexRequest{Index: idx, Previous: prev}, nil)
}

func (c *Client) RemoveIndex(ctx context.Context, indexID string) error {
	return c.call(ctx, proto.MethodRemoveIndex, &proto.RemoveIndexRequest{IndexID: indexID}, nil)
}

func (c *Client) IndexItems(ctx context.Context, idx *catalog.Index, items []*item.Item) ([]string, error) {
	var resp proto.IndexItemsResponse
	if err := c.call(ctx, proto.MethodIndexItems, &proto.IndexItemsRequest{Index: idx, Items: items}, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *Client) DeleteItems(ctx context.Context, idx *catalog.Index, ids []string) error {
	return c.call(ctx, proto.MethodDeleteItems, &proto.DeleteItemsRequest{Index: idx, IDs: ids}, nil)
}

func (c *Client) DeleteAllIndexItems(ctx context.Context, idx *catalog.Index) error {
	return c.call(ctx, proto.MethodDeleteAllIndexItems, &proto.IndexRequest{Index: idx}, nil)
}

func (c *Client) Search(ctx context.Context, idx *catalog.Index, q *query.Query) (*query.Results, error) {
	var resp proto.SearchResponse
	if err := c.call(ctx, proto.MethodSearch, &proto.SearchRequest{Index: idx, Query: q}, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []query.Result{}
	}
	return &resp, nil
}

// Health asks the node for its serving status.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp proto.HealthCheckResponse
	if err := c.call(ctx, proto.MethodHealth, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
