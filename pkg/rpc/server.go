// Package rpc provides a lightweight JSON-over-TCP RPC layer used between
// the search API / task worker and backend nodes.
//
// Protocol: newline-delimited JSON over a persistent TCP connection, one
// request in flight per connection.
//
// Example server:
//
//	s := rpc.NewServer(nil)
//	s.Register("Backend.RemoveIndex", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var p proto.RemoveIndexRequest
//	    if err := json.Unmarshal(req, &p); err != nil {
//	        return nil, err
//	    }
//	    return nil, b.RemoveIndex(ctx, p.IndexID)
//	})
//	s.Serve(":9400")
//
// Example client:
//
//	c, _ := rpc.Dial("localhost:9400")
//	err := c.Call(ctx, "Backend.RemoveIndex", &proto.RemoveIndexRequest{IndexID: "articles"}, nil)
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response. Code carries a stable
// error class so clients can map remote failures back to sentinels.
type Response struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// ErrorCoder lets handlers attach a Code to a failed Response.
type ErrorCoder func(err error) string

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers *xsync.MapOf[string, HandlerFunc]
	conns    *xsync.MapOf[string, net.Conn]
	coder    ErrorCoder
	mu       sync.Mutex
	listener net.Listener
	logger   *slog.Logger
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a new RPC server. coder may be nil.
func NewServer(coder ErrorCoder) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handlers: xsync.NewMapOf[string, HandlerFunc](),
		conns:    xsync.NewMapOf[string, net.Conn](),
		coder:    coder,
		logger:   slog.Default().With("component", "rpc-server"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a handler for the given RPC method name.
// Method names follow the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.handlers.Store(method, handler)
	s.logger.Debug("method registered", "method", method)
}

// Serve starts accepting TCP connections on the given address.
// It blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()
	s.conns.Store(remote, conn)
	defer func() {
		s.conns.Delete(remote)
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}

		resp := Response{ID: req.ID}
		handler, exists := s.handlers.Load(req.Method)
		if !exists {
			resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		} else {
			data, err := handler(s.ctx, req.Params)
			switch {
			case err != nil:
				resp.Error = err.Error()
				if s.coder != nil {
					resp.Code = s.coder(err)
				}
			case data != nil:
				raw, mErr := json.Marshal(data)
				if mErr != nil {
					resp.Error = fmt.Sprintf("marshaling response: %v", mErr)
				} else {
					resp.Data = raw
				}
			}
		}

		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	return s.handlers.Size()
}

// Stop closes the listener and every open connection, then waits for
// in-flight handlers to return.
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	s.conns.Range(func(_ string, c net.Conn) bool {
		c.Close()
		return true
	})
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
}
