// Package registry resolves servers and indexes from the catalog and owns
// one backend instance and one circuit breaker per server.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/bleve"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/memory"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/remote"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/sqlite"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/resilience"
)

// Factory builds the backend of one server.
type Factory func(ctx context.Context, srv *catalog.Server) (backend.Backend, error)

// FactoryOptions tune the built-in backends.
type FactoryOptions struct {
	// DataDir is the base for relative bleve and sqlite paths.
	DataDir           string
	RPCTimeout        time.Duration
	SQLiteBusyTimeout time.Duration
}

// DefaultFactory builds the backend named by the server's backend type.
func DefaultFactory(opts FactoryOptions) Factory {
	resolve := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) || opts.DataDir == "" {
			return p
		}
		return filepath.Join(opts.DataDir, p)
	}
	return func(ctx context.Context, srv *catalog.Server) (backend.Backend, error) {
		cfg := srv.Backend
		switch cfg.Type {
		case catalog.BackendMemory:
			return memory.New(memory.OptionsFrom(cfg.Options)), nil
		case catalog.BackendBleve:
			return bleve.New(resolve(cfg.Path))
		case catalog.BackendSQLite:
			return sqlite.New(ctx, resolve(cfg.Path), opts.SQLiteBusyTimeout)
		case catalog.BackendRemote:
			timeout := remote.TimeoutFrom(cfg.Options)
			if timeout == 0 {
				timeout = opts.RPCTimeout
			}
			return remote.New(cfg.Addr, timeout), nil
		}
		return nil, fmt.Errorf("%w: server %s: unknown backend type %q", apperrors.ErrInvalidConfig, srv.ID, cfg.Type)
	}
}

type Option func(*Registry)

func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Registry) { r.breakerCfg = cfg }
}

type Registry struct {
	catalog    atomic.Pointer[catalog.Catalog]
	backends   *xsync.MapOf[string, backend.Backend]
	breakers   *xsync.MapOf[string, *resilience.CircuitBreaker]
	factory    Factory
	breakerCfg resilience.CircuitBreakerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(cat *catalog.Catalog, opts ...Option) *Registry {
	r := &Registry{
		backends: xsync.NewMapOf[string, backend.Backend](),
		breakers: xsync.NewMapOf[string, *resilience.CircuitBreaker](),
		factory:  DefaultFactory(FactoryOptions{}),
		logger:   slog.Default().With("component", "backend-registry"),
	}
	for _, o := range opts {
		o(r)
	}
	r.catalog.Store(cat)
	return r
}

// Catalog returns the current catalog snapshot.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog.Load()
}

// SetCatalog swaps the catalog. Backends of servers that disappeared or
// changed backend configuration are closed and rebuilt on next use.
func (r *Registry) SetCatalog(cat *catalog.Catalog) {
	old := r.catalog.Swap(cat)
	r.backends.Range(func(id string, b backend.Backend) bool {
		next, ok := cat.Server(id)
		if ok && old != nil {
			if prev, had := old.Server(id); had && sameBackend(prev.Backend, next.Backend) {
				return true
			}
		}
		r.backends.Delete(id)
		if err := b.Close(); err != nil {
			r.logger.Warn("closing backend", "server_id", id, "error", err)
		}
		return true
	})
}

func sameBackend(a, b catalog.BackendConfig) bool {
	return a.Type == b.Type && a.Path == b.Path && a.Addr == b.Addr && fmt.Sprint(a.Options) == fmt.Sprint(b.Options)
}

// Server returns the server with id, or ErrServerNotFound.
func (r *Registry) Server(id string) (*catalog.Server, error) {
	srv, ok := r.Catalog().Server(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrServerNotFound, id)
	}
	return srv, nil
}

// Index returns the index with id, or ErrIndexNotFound.
func (r *Registry) Index(id string) (*catalog.Index, error) {
	idx, ok := r.Catalog().Index(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, id)
	}
	return idx, nil
}

// Backend returns the backend of an enabled server, building it on first
// use.
func (r *Registry) Backend(ctx context.Context, serverID string) (backend.Backend, error) {
	srv, err := r.Server(serverID)
	if err != nil {
		return nil, err
	}
	if !srv.Enabled {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrServerDisabled, serverID)
	}
	if b, ok := r.backends.Load(serverID); ok {
		return b, nil
	}
	b, err := r.factory(ctx, srv)
	if err != nil {
		return nil, fmt.Errorf("building backend for %s: %w", serverID, err)
	}
	actual, loaded := r.backends.LoadOrStore(serverID, b)
	if loaded {
		_ = b.Close()
	} else {
		r.logger.Info("backend ready", "server_id", serverID, "type", srv.Backend.Type)
	}
	return actual, nil
}

// Breaker returns the circuit breaker guarding serverID.
func (r *Registry) Breaker(serverID string) *resilience.CircuitBreaker {
	if cb, ok := r.breakers.Load(serverID); ok {
		return cb
	}
	cfg := r.breakerCfg
	if cfg.IsFailure == nil {
		cfg.IsFailure = serverFault
	}
	if r.metrics != nil {
		gauge := r.metrics.CircuitBreakerState
		prev := cfg.OnStateChange
		cfg.OnStateChange = func(name string, to resilience.State) {
			gauge.WithLabelValues(name).Set(float64(to))
			if prev != nil {
				prev(name, to)
			}
		}
	}
	cb, _ := r.breakers.LoadOrStore(serverID, resilience.NewCircuitBreaker("server:"+serverID, cfg))
	return cb
}

// serverFault reports whether err says something about the server itself.
// Bad queries, unknown indexes and callers that went away do not.
func serverFault(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindInput, apperrors.KindResolution, apperrors.KindConfig:
		return false
	}
	return true
}

type healthReporter interface {
	Health(ctx context.Context) (string, error)
}

// Ping builds the server's backend and, for remote backends, asks the node
// whether it is serving.
func (r *Registry) Ping(ctx context.Context, serverID string) error {
	b, err := r.Backend(ctx, serverID)
	if err != nil {
		return err
	}
	if hr, ok := b.(healthReporter); ok {
		status, err := hr.Health(ctx)
		if err != nil {
			return err
		}
		if status != "SERVING" {
			return fmt.Errorf("%w: %s reports %s", apperrors.ErrBackendUnavailable, serverID, status)
		}
	}
	return nil
}

// RegisterHealth probes every enabled server of the current catalog as a
// non-critical "server:<id>" check.
func (r *Registry) RegisterHealth(c *health.Checker) {
	c.RegisterGroup("server", func() map[string]health.Check {
		checks := make(map[string]health.Check)
		for _, srv := range r.Catalog().Servers {
			if !srv.Enabled {
				continue
			}
			id := srv.ID
			checks[id] = health.FromPing(func(ctx context.Context) error {
				return r.Ping(ctx, id)
			}, false)
		}
		return checks
	})
}

func (r *Registry) Close() error {
	var errs []error
	r.backends.Range(func(id string, b backend.Backend) bool {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
		r.backends.Delete(id)
		return true
	})
	return errors.Join(errs...)
}
