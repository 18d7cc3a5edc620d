package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
)

// Resolver loads servers, indexes and backends. The backend registry
// implements it.
type Resolver interface {
	Server(id string) (*catalog.Server, error)
	Index(id string) (*catalog.Index, error)
	Backend(ctx context.Context, serverID string) (backend.Backend, error)
}

// DrainReport is the outcome of one drain pass.
type DrainReport struct {
	// Executed lists the ids of tasks that ran (or were skipped as no
	// longer applicable) and were deleted.
	Executed []int64 `json:"executed"`
	// FailingServers lists the servers that ended the drain failing.
	FailingServers []string `json:"failing_servers"`
	// Skipped lists tasks left queued without being attempted: tasks of
	// disabled or locked servers and tasks behind a failure.
	Skipped []int64 `json:"skipped"`
	// Purged counts tasks removed by removeIndex tasks.
	Purged int64 `json:"purged"`
}

// AnyFailed reports whether some server ended the drain failing.
func (r *DrainReport) AnyFailed() bool {
	return len(r.FailingServers) > 0
}

// Event is published on the task events topic.
type Event struct {
	Kind     string `json:"kind"`
	TaskID   int64  `json:"task_id,omitempty"`
	ServerID string `json:"server_id"`
	Type     Type   `json:"type,omitempty"`
	IndexID  string `json:"index_id,omitempty"`
	Executed int    `json:"executed,omitempty"`
	Failing  bool   `json:"failing,omitempty"`
	Time     int64  `json:"time"`
}

const (
	EventEnqueued = "task.enqueued"
	EventDrained  = "server.drained"
)

type Option func(*Manager)

// WithNotifier publishes an Event for every enqueued task and every
// drained server.
func WithNotifier(p kafka.Publisher) Option {
	return func(m *Manager) { m.notifier = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLockDir enables per-server file locks in dir so that concurrent
// workers never drain the same server at once.
func WithLockDir(dir string) Option {
	return func(m *Manager) { m.lockDir = dir }
}

// WithConcurrency bounds how many servers drain in parallel.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

type Manager struct {
	store       Store
	resolver    Resolver
	notifier    kafka.Publisher
	metrics     *metrics.Metrics
	lockDir     string
	concurrency int
	logger      *slog.Logger

	mu    sync.RWMutex
	hooks []func(Task)
}

func NewManager(store Store, resolver Resolver, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		resolver:    resolver,
		concurrency: 4,
		logger:      slog.Default().With("component", "task-manager"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnExecuted registers fn to run after each executed task has been removed
// from the log.
func (m *Manager) OnExecuted(fn func(Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) fire(t Task) {
	m.mu.RLock()
	hooks := m.hooks
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(t)
	}
}

func (m *Manager) publish(ctx context.Context, e Event) {
	if m.notifier == nil {
		return
	}
	e.Time = time.Now().UnixMilli()
	if err := m.notifier.Publish(ctx, kafka.Event{Key: e.ServerID, Type: e.Kind, Value: e}); err != nil {
		m.logger.Warn("publishing task event", "kind", e.Kind, "server_id", e.ServerID, "error", err)
	}
}

// Enqueue appends a task. data is stored as JSON; []byte and
// json.RawMessage must already be JSON. deleteItems needs a list of item
// ids and updateIndex an index or nothing.
func (m *Manager) Enqueue(ctx context.Context, serverID string, typ Type, indexID string, data any) (Task, error) {
	if serverID == "" {
		return Task{}, fmt.Errorf("%w: task without server", apperrors.ErrInvalidInput)
	}
	if !typ.Valid() {
		return Task{}, fmt.Errorf("%w: unknown task type %q", apperrors.ErrInvalidInput, typ)
	}
	raw, err := encodeData(data)
	if err != nil {
		return Task{}, err
	}
	t := Task{ServerID: serverID, Type: typ, IndexID: indexID, Data: raw}
	if err := t.validate(); err != nil {
		return Task{}, err
	}
	t, err = m.store.Append(ctx, t)
	if err != nil {
		return Task{}, err
	}
	if m.metrics != nil {
		m.metrics.TasksEnqueuedTotal.WithLabelValues(serverID, string(typ)).Inc()
	}
	m.logger.Info("task enqueued", "task_id", t.ID, "server_id", serverID, "type", typ, "index_id", indexID)
	m.publish(ctx, Event{Kind: EventEnqueued, TaskID: t.ID, ServerID: serverID, Type: typ, IndexID: indexID})
	return t, nil
}

func (m *Manager) List(ctx context.Context, f Filter) ([]Task, error) {
	return m.store.List(ctx, f)
}

func (m *Manager) Delete(ctx context.Context, f Filter) (int64, error) {
	return m.store.Delete(ctx, f)
}

// Pending counts the queued tasks of serverID.
func (m *Manager) Pending(ctx context.Context, serverID string) (int, error) {
	return m.store.Count(ctx, Filter{ServerID: serverID})
}

// serverRun is the outcome of draining one server.
type serverRun struct {
	executed []Task
	skipped  []int64
	failing  bool
	purged   int64
	// release drops the server lock once executed tasks are deleted.
	release func()
}

// Drain executes the queued tasks of serverIDs, or of every server when
// none are given. Tasks of one server run in ascending id order; the first
// backend error leaves the rest of that server's tasks queued. The error
// result is reserved for task log failures.
func (m *Manager) Drain(ctx context.Context, serverIDs ...string) (*DrainReport, error) {
	start := time.Now()
	all, err := m.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(serverIDs))
	for _, id := range serverIDs {
		wanted[id] = true
	}
	seen := make(map[string]bool)
	var servers []string
	for _, t := range all {
		if (len(wanted) > 0 && !wanted[t.ServerID]) || seen[t.ServerID] {
			continue
		}
		seen[t.ServerID] = true
		servers = append(servers, t.ServerID)
	}
	sort.Strings(servers)

	var (
		mu   sync.Mutex
		runs = make(map[string]serverRun, len(servers))
		g    errgroup.Group
	)
	g.SetLimit(m.concurrency)
	for _, id := range servers {
		g.Go(func() error {
			run := m.drainServer(ctx, id)
			mu.Lock()
			runs[id] = run
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := &DrainReport{Executed: []int64{}, FailingServers: []string{}, Skipped: []int64{}}
	var executed []Task
	for _, id := range servers {
		run := runs[id]
		for _, t := range run.executed {
			report.Executed = append(report.Executed, t.ID)
		}
		executed = append(executed, run.executed...)
		report.Skipped = append(report.Skipped, run.skipped...)
		report.Purged += run.purged
		if run.failing {
			report.FailingServers = append(report.FailingServers, id)
		}
	}
	sort.Slice(report.Executed, func(i, j int) bool { return report.Executed[i] < report.Executed[j] })

	var deleteErr error
	if len(report.Executed) > 0 {
		_, deleteErr = m.store.Delete(ctx, Filter{IDs: report.Executed})
	}
	for _, id := range servers {
		if release := runs[id].release; release != nil {
			release()
		}
	}
	if deleteErr != nil {
		return report, fmt.Errorf("deleting executed tasks: %w", deleteErr)
	}
	for _, t := range executed {
		m.fire(t)
	}
	m.observeDrain(ctx, servers, runs, time.Since(start), report)
	return report, nil
}

func (m *Manager) observeDrain(ctx context.Context, servers []string, runs map[string]serverRun, elapsed time.Duration, report *DrainReport) {
	for _, id := range servers {
		run := runs[id]
		m.publish(ctx, Event{Kind: EventDrained, ServerID: id, Executed: len(run.executed), Failing: run.failing})
	}
	if len(report.Executed) > 0 || report.AnyFailed() {
		m.logger.Info("drain finished",
			"executed", len(report.Executed),
			"skipped", len(report.Skipped),
			"failing_servers", report.FailingServers,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	if m.metrics == nil {
		return
	}
	m.metrics.DrainDuration.Observe(elapsed.Seconds())
	m.metrics.FailingServers.Set(float64(len(report.FailingServers)))
	for _, id := range servers {
		if n, err := m.store.Count(ctx, Filter{ServerID: id}); err == nil {
			m.metrics.TasksPending.WithLabelValues(id).Set(float64(n))
		}
	}
}

func lockName(serverID string) string {
	return "server-" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, serverID) + ".lock"
}

func ids(tasks []Task) []int64 {
	out := make([]int64, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// ServerLocker is implemented by stores that can lock a server for every
// worker sharing the store, not only those on one host.
type ServerLocker interface {
	TryLockServer(ctx context.Context, serverID string) (release func(), ok bool, err error)
}

func noop() {}

// lock takes the server's drain lock: the file lock in lockDir, when set,
// and the store's lock, when it has one. release is never nil.
func (m *Manager) lock(ctx context.Context, serverID string) (locked bool, release func(), err error) {
	release = noop
	if m.lockDir != "" {
		if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
			return false, nil, fmt.Errorf("creating lock directory: %w", err)
		}
		fl := flock.New(filepath.Join(m.lockDir, lockName(serverID)))
		ok, err := fl.TryLock()
		if err != nil || !ok {
			return false, nil, err
		}
		release = func() {
			if err := fl.Unlock(); err != nil {
				m.logger.Warn("releasing server lock", "server_id", serverID, "error", err)
			}
		}
	}
	sl, ok := m.store.(ServerLocker)
	if !ok {
		return true, release, nil
	}
	unlockStore, ok, err := sl.TryLockServer(ctx, serverID)
	if err != nil || !ok {
		release()
		return false, nil, err
	}
	fileRelease := release
	return true, func() {
		unlockStore()
		fileRelease()
	}, nil
}

// drainServer executes the queued tasks of one server. The tasks are read
// again under the server lock so that a concurrent drain's deletions are
// seen.
func (m *Manager) drainServer(ctx context.Context, serverID string) serverRun {
	log := logger.Enrich(ctx, m.logger).With("server_id", serverID)

	locked, release, err := m.lock(ctx, serverID)
	if err != nil {
		log.Error("locking server", "error", err)
		return serverRun{failing: true}
	}
	if !locked {
		log.Info("server is being drained elsewhere")
		queued, _ := m.store.List(ctx, Filter{ServerID: serverID})
		return serverRun{skipped: ids(queued)}
	}
	run := m.drainLocked(ctx, log, serverID)
	run.release = release
	return run
}

// drainLocked runs the server's queue. The caller holds the server lock.
func (m *Manager) drainLocked(ctx context.Context, log *slog.Logger, serverID string) serverRun {
	var run serverRun
	queued, err := m.store.List(ctx, Filter{ServerID: serverID})
	if err != nil {
		log.Error("listing server tasks", "error", err)
		run.failing = true
		return run
	}

	srv, err := m.resolver.Server(serverID)
	if err != nil {
		log.Error("server cannot be loaded, tasks left queued", "error", err)
		run.failing = true
		run.skipped = ids(queued)
		return run
	}
	if !srv.Enabled {
		run.skipped = ids(queued)
		return run
	}

	b, err := m.resolver.Backend(ctx, serverID)
	if err != nil {
		log.Error("backend unavailable, tasks left queued", "error", err)
		run.failing = true
		run.skipped = ids(queued)
		return run
	}

	purged := make(map[string]bool)
	for i, t := range queued {
		if purged[t.IndexID] {
			continue
		}
		if !t.Type.Valid() {
			log.Warn("unknown task type left queued", "task_id", t.ID, "type", t.Type)
			run.skipped = append(run.skipped, t.ID)
			continue
		}
		err := m.execute(ctx, b, t)
		if errors.Is(err, ErrMalformedTask) {
			log.Warn("dropping task with malformed data",
				"task_id", t.ID, "type", t.Type, "index_id", t.IndexID, "error", err)
			run.executed = append(run.executed, t)
			continue
		}
		if err != nil {
			log.Error("task failed, later tasks of this server left queued",
				"task_id", t.ID, "type", t.Type, "index_id", t.IndexID, "kind", apperrors.KindOf(err), "error", err)
			if m.metrics != nil {
				m.metrics.TasksFailedTotal.WithLabelValues(serverID, string(t.Type)).Inc()
			}
			run.failing = true
			run.skipped = append(run.skipped, ids(queued[i+1:])...)
			return run
		}
		if t.Type == TypeRemoveIndex && t.IndexID != "" {
			done := append(ids(run.executed), t.ID)
			n, err := m.store.Delete(ctx, Filter{ServerID: serverID, IndexIDs: []string{t.IndexID}, ExcludeIDs: done})
			if err != nil {
				log.Error("purging tasks of removed index", "task_id", t.ID, "index_id", t.IndexID, "error", err)
				run.failing = true
				run.skipped = append(run.skipped, ids(queued[i+1:])...)
				return run
			}
			run.purged += n
			purged[t.IndexID] = true
		}
		run.executed = append(run.executed, t)
		if m.metrics != nil {
			m.metrics.TasksExecutedTotal.WithLabelValues(serverID, string(t.Type)).Inc()
		}
	}
	return run
}

// execute applies one task to b. Tasks whose index can no longer be loaded,
// or whose index is read-only for item deletion, succeed without effect.
func (m *Manager) execute(ctx context.Context, b backend.Backend, t Task) error {
	var idx *catalog.Index
	if t.IndexID != "" {
		loaded, err := m.resolver.Index(t.IndexID)
		switch {
		case err == nil:
			idx = loaded
		case !errors.Is(err, apperrors.ErrIndexNotFound):
			return err
		}
	}

	switch t.Type {
	case TypeAddIndex:
		if idx == nil {
			return nil
		}
		return b.AddIndex(ctx, idx)
	case TypeUpdateIndex:
		if idx == nil {
			return nil
		}
		prev, err := t.PreviousIndex()
		if err != nil {
			return err
		}
		return b.UpdateIndex(ctx, idx, prev)
	case TypeRemoveIndex:
		return b.RemoveIndex(ctx, t.IndexID)
	case TypeDeleteItems:
		if idx == nil || idx.ReadOnly {
			return nil
		}
		itemIDs, err := t.ItemIDs()
		if err != nil {
			return err
		}
		return b.DeleteItems(ctx, idx, itemIDs)
	case TypeDeleteAllIndexItems:
		if idx == nil || idx.ReadOnly {
			return nil
		}
		return b.DeleteAllIndexItems(ctx, idx)
	}
	return fmt.Errorf("%w: unknown task type %q", apperrors.ErrInvalidInput, t.Type)
}

// Submit applies an operation right away when the server is reachable and
// has nothing queued, and queues it otherwise. Earlier tasks of the server
// are drained first so that ordering holds; the server lock is held from
// that drain until the operation ran or was queued.
func (m *Manager) Submit(ctx context.Context, serverID string, typ Type, indexID string, data any) error {
	srv, err := m.resolver.Server(serverID)
	if err != nil {
		return err
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown task type %q", apperrors.ErrInvalidInput, typ)
	}
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	t := Task{ServerID: serverID, Type: typ, IndexID: indexID, Data: raw, CreatedAt: time.Now().UTC()}
	if err := t.validate(); err != nil {
		return err
	}
	if !srv.Enabled {
		_, err := m.Enqueue(ctx, serverID, typ, indexID, raw)
		return err
	}

	locked, release, err := m.lock(ctx, serverID)
	if err != nil {
		return err
	}
	if !locked {
		// The worker holding the lock is draining this server; the new task
		// runs after what it drains.
		_, err := m.Enqueue(ctx, serverID, typ, indexID, raw)
		return err
	}
	defer release()

	log := logger.Enrich(ctx, m.logger).With("server_id", serverID)
	start := time.Now()
	run := m.drainLocked(ctx, log, serverID)
	report := &DrainReport{Executed: ids(run.executed), Skipped: run.skipped, Purged: run.purged}
	if run.failing {
		report.FailingServers = []string{serverID}
	}
	if len(run.executed) > 0 {
		if _, err := m.store.Delete(ctx, Filter{IDs: report.Executed}); err != nil {
			return fmt.Errorf("deleting executed tasks: %w", err)
		}
		for _, done := range run.executed {
			m.fire(done)
		}
	}
	m.observeDrain(ctx, []string{serverID}, map[string]serverRun{serverID: run}, time.Since(start), report)

	pending, err := m.Pending(ctx, serverID)
	if err != nil {
		return err
	}
	if pending > 0 {
		_, err := m.Enqueue(ctx, serverID, typ, indexID, raw)
		return err
	}

	b, err := m.resolver.Backend(ctx, serverID)
	if err == nil {
		err = m.execute(ctx, b, t)
	}
	if err != nil {
		log.Warn("operation failed, queued for later", "type", typ, "index_id", indexID, "error", err)
		_, qerr := m.Enqueue(ctx, serverID, typ, indexID, raw)
		return qerr
	}
	if m.metrics != nil {
		m.metrics.TasksExecutedTotal.WithLabelValues(serverID, string(typ)).Inc()
	}
	m.fire(t)
	return nil
}
