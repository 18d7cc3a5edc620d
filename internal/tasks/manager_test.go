package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/sqlite"
)

// recordingBackend logs every call as "<op>:<index>" and fails the calls
// listed in failOn. onCall, when set, sees each call before it is recorded.
type recordingBackend struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
	onCall func(call string)
}

func (b *recordingBackend) record(op, index string) error {
	call := op + ":" + index
	if b.onCall != nil {
		b.onCall(call)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn[call] {
		return fmt.Errorf("%w: %s", apperrors.ErrBackendUnavailable, call)
	}
	b.calls = append(b.calls, call)
	return nil
}

func (b *recordingBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *recordingBackend) AddIndex(_ context.Context, idx *catalog.Index) error {
	return b.record("add", idx.ID)
}

func (b *recordingBackend) UpdateIndex(_ context.Context, idx *catalog.Index, prev *catalog.Index) error {
	op := "update"
	if prev != nil {
		op = "update(prev=" + prev.Name + ")"
	}
	return b.record(op, idx.ID)
}

func (b *recordingBackend) RemoveIndex(_ context.Context, id string) error {
	return b.record("remove", id)
}

func (b *recordingBackend) IndexItems(_ context.Context, idx *catalog.Index, items []*item.Item) ([]string, error) {
	return nil, b.record("index", idx.ID)
}

func (b *recordingBackend) DeleteItems(_ context.Context, idx *catalog.Index, ids []string) error {
	return b.record(fmt.Sprintf("delete%v", ids), idx.ID)
}

func (b *recordingBackend) DeleteAllIndexItems(_ context.Context, idx *catalog.Index) error {
	return b.record("deleteAll", idx.ID)
}

func (b *recordingBackend) Search(context.Context, *catalog.Index, *query.Query) (*query.Results, error) {
	return &query.Results{}, nil
}

func (b *recordingBackend) Close() error { return nil }

type fakeResolver struct {
	servers  map[string]*catalog.Server
	indexes  map[string]*catalog.Index
	backends map[string]*recordingBackend
}

func (r *fakeResolver) Server(id string) (*catalog.Server, error) {
	if s, ok := r.servers[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrServerNotFound, id)
}

func (r *fakeResolver) Index(id string) (*catalog.Index, error) {
	if idx, ok := r.indexes[id]; ok {
		return idx, nil
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrIndexNotFound, id)
}

func (r *fakeResolver) Backend(_ context.Context, id string) (backend.Backend, error) {
	return r.backends[id], nil
}

func newResolver() *fakeResolver {
	return &fakeResolver{
		servers: map[string]*catalog.Server{
			"solr":    {ID: "solr", Enabled: true},
			"elastic": {ID: "elastic", Enabled: true},
			"off":     {ID: "off", Enabled: false},
		},
		indexes: map[string]*catalog.Index{
			"articles": {ID: "articles", ServerID: "solr"},
			"pages":    {ID: "pages", ServerID: "solr"},
			"archive":  {ID: "archive", ServerID: "solr", ReadOnly: true},
			"users":    {ID: "users", ServerID: "elastic"},
		},
		backends: map[string]*recordingBackend{
			"solr":    {failOn: map[string]bool{}},
			"elastic": {failOn: map[string]bool{}},
			"off":     {failOn: map[string]bool{}},
		},
	}
}

func newStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "tasks.db"), 0, SQLiteSchema...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func setup(t *testing.T, opts ...Option) (*Manager, *fakeResolver) {
	t.Helper()
	r := newResolver()
	return NewManager(newStore(t), r, opts...), r
}

func enqueue(t *testing.T, m *Manager, server string, typ Type, index string, data any) Task {
	t.Helper()
	task, err := m.Enqueue(context.Background(), server, typ, index, data)
	require.NoError(t, err)
	return task
}

func remaining(t *testing.T, m *Manager, server string) []Type {
	t.Helper()
	tasks, err := m.List(context.Background(), Filter{ServerID: server})
	require.NoError(t, err)
	out := make([]Type, len(tasks))
	for i, task := range tasks {
		out[i] = task.Type
	}
	return out
}

func TestDrainRunsInInsertionOrderPerServer(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)

	// Given interleaved tasks for two servers
	enqueue(t, m, "solr", TypeAddIndex, "articles", nil)
	enqueue(t, m, "elastic", TypeAddIndex, "users", nil)
	enqueue(t, m, "solr", TypeDeleteItems, "articles", []string{"1", "2"})
	enqueue(t, m, "solr", TypeDeleteAllIndexItems, "pages", nil)
	enqueue(t, m, "elastic", TypeDeleteAllIndexItems, "users", nil)

	// When the queue is drained
	report, err := m.Drain(ctx)
	require.NoError(t, err)

	// Then each server saw its tasks in ascending id order
	assert.Equal(t, []string{"add:articles", "delete[1 2]:articles", "deleteAll:pages"}, r.backends["solr"].Calls())
	assert.Equal(t, []string{"add:users", "deleteAll:users"}, r.backends["elastic"].Calls())
	assert.Len(t, report.Executed, 5)
	assert.False(t, report.AnyFailed())
	assert.Empty(t, remaining(t, m, ""))
}

func TestFailureIsolatesOnlyThatServer(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	r.backends["solr"].failOn["delete[7]:articles"] = true

	enqueue(t, m, "solr", TypeAddIndex, "articles", nil)
	failing := enqueue(t, m, "solr", TypeDeleteItems, "articles", []string{"7"})
	enqueue(t, m, "solr", TypeDeleteAllIndexItems, "articles", nil)
	enqueue(t, m, "elastic", TypeAddIndex, "users", nil)
	enqueue(t, m, "elastic", TypeDeleteAllIndexItems, "users", nil)

	report, err := m.Drain(ctx)
	require.NoError(t, err)

	assert.True(t, report.AnyFailed())
	assert.Equal(t, []string{"solr"}, report.FailingServers)
	assert.Equal(t, []string{"add:articles"}, r.backends["solr"].Calls())
	assert.Equal(t, []string{"add:users", "deleteAll:users"}, r.backends["elastic"].Calls())

	// The failed task and everything behind it stay queued, untouched.
	left, err := m.List(ctx, Filter{ServerID: "solr"})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, failing.ID, left[0].ID)
	assert.JSONEq(t, `["7"]`, string(left[0].Data))
	assert.Equal(t, TypeDeleteAllIndexItems, left[1].Type)
	assert.Contains(t, report.Skipped, left[1].ID)
	assert.Empty(t, remaining(t, m, "elastic"))

	// Once the backend recovers the remaining tasks run in order.
	delete(r.backends["solr"].failOn, "delete[7]:articles")
	report, err = m.Drain(ctx, "solr")
	require.NoError(t, err)
	assert.False(t, report.AnyFailed())
	assert.Equal(t, []string{"add:articles", "delete[7]:articles", "deleteAll:articles"}, r.backends["solr"].Calls())
}

func TestDrainTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	enqueue(t, m, "solr", TypeAddIndex, "articles", nil)
	enqueue(t, m, "elastic", TypeAddIndex, "users", nil)

	first, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, first.Executed, 2)

	second, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Executed)
	assert.False(t, second.AnyFailed())
	assert.Len(t, r.backends["solr"].Calls(), 1)
}

func TestRemoveIndexPurgesOtherTasksOfThatIndex(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	r.backends["solr"].failOn["add:pages"] = true

	enqueue(t, m, "solr", TypeAddIndex, "articles", nil)
	enqueue(t, m, "solr", TypeRemoveIndex, "articles", nil)
	enqueue(t, m, "solr", TypeDeleteItems, "articles", []string{"1"})
	enqueue(t, m, "solr", TypeDeleteAllIndexItems, "articles", nil)
	enqueue(t, m, "solr", TypeAddIndex, "pages", nil)
	enqueue(t, m, "solr", TypeDeleteAllIndexItems, "pages", nil)
	enqueue(t, m, "elastic", TypeDeleteAllIndexItems, "articles", nil)

	report, err := m.Drain(ctx, "solr")
	require.NoError(t, err)

	assert.Equal(t, []string{"add:articles", "remove:articles"}, r.backends["solr"].Calls())
	assert.Equal(t, int64(2), report.Purged)
	assert.Len(t, report.Executed, 2)

	// Only the pages tasks, blocked by their failure, are left for solr.
	left, err := m.List(ctx, Filter{ServerID: "solr"})
	require.NoError(t, err)
	for _, task := range left {
		assert.Equal(t, "pages", task.IndexID)
	}
	assert.Len(t, left, 2)
	// Other servers' tasks for an index of the same id are untouched.
	assert.Equal(t, []Type{TypeDeleteAllIndexItems}, remaining(t, m, "elastic"))
}

func TestRemoveIndexProceedsWithUnresolvableIndex(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	enqueue(t, m, "solr", TypeRemoveIndex, "deleted-index", nil)
	enqueue(t, m, "solr", TypeDeleteItems, "deleted-index", []string{"1"})

	report, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"remove:deleted-index"}, r.backends["solr"].Calls())
	assert.Len(t, report.Executed, 1)
	assert.Equal(t, int64(1), report.Purged)
	assert.Empty(t, remaining(t, m, "solr"))
}

func TestMissingIndexAndReadOnlyCountAsExecuted(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	enqueue(t, m, "solr", TypeAddIndex, "gone", nil)
	enqueue(t, m, "solr", TypeUpdateIndex, "gone", nil)
	enqueue(t, m, "solr", TypeDeleteItems, "archive", []string{"1"})
	enqueue(t, m, "solr", TypeDeleteAllIndexItems, "archive", nil)

	report, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, r.backends["solr"].Calls())
	assert.Len(t, report.Executed, 4)
	assert.Empty(t, remaining(t, m, "solr"))
}

func TestDisabledAndMissingServers(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	off := enqueue(t, m, "off", TypeAddIndex, "articles", nil)
	enqueue(t, m, "nowhere", TypeAddIndex, "articles", nil)

	report, err := m.Drain(ctx)
	require.NoError(t, err)

	// A disabled server is skipped without failing; a missing one fails.
	assert.Equal(t, []string{"nowhere"}, report.FailingServers)
	assert.Contains(t, report.Skipped, off.ID)
	assert.Empty(t, r.backends["off"].Calls())
	assert.Len(t, remaining(t, m, "off"), 1)
	assert.Len(t, remaining(t, m, "nowhere"), 1)
}

func TestUpdateIndexCarriesPreviousState(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)
	enqueue(t, m, "solr", TypeUpdateIndex, "articles", &catalog.Index{ID: "articles", Name: "Old articles"})
	enqueue(t, m, "solr", TypeUpdateIndex, "articles", nil)

	_, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"update(prev=Old articles):articles", "update:articles"}, r.backends["solr"].Calls())
}

func TestLockedServerIsLeftForNextDrain(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, r := setup(t, WithLockDir(dir))
	task := enqueue(t, m, "solr", TypeAddIndex, "articles", nil)

	held := flock.New(filepath.Join(dir, lockName("solr")))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	report, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, report.Skipped)
	assert.False(t, report.AnyFailed())
	assert.Empty(t, r.backends["solr"].Calls())

	require.NoError(t, held.Unlock())
	report, err = m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, report.Executed)
}

func TestOnExecutedAndMetrics(t *testing.T) {
	ctx := context.Background()
	mt := metrics.NewWithRegistry(prometheus.NewRegistry())
	m, r := setup(t, WithMetrics(mt))
	r.backends["elastic"].failOn["add:users"] = true

	var seen []string
	m.OnExecuted(func(task Task) { seen = append(seen, task.IndexID) })

	enqueue(t, m, "solr", TypeAddIndex, "articles", nil)
	enqueue(t, m, "elastic", TypeAddIndex, "users", nil)
	_, err := m.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"articles"}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.TasksExecutedTotal.WithLabelValues("solr", "addIndex")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.TasksFailedTotal.WithLabelValues("elastic", "addIndex")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.TasksPending.WithLabelValues("elastic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.FailingServers))
}

type capturePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func TestEnqueueNotifiesAndValidates(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{err: errors.New("broker down")}
	m, _ := setup(t, WithNotifier(pub))

	// A failing notifier never fails the enqueue.
	task, err := m.Enqueue(ctx, "solr", TypeAddIndex, "articles", nil)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "solr", pub.events[0].Key)
	ev := pub.events[0].Value.(Event)
	assert.Equal(t, EventEnqueued, ev.Kind)
	assert.Equal(t, task.ID, ev.TaskID)

	_, err = m.Enqueue(ctx, "solr", Type("reindex"), "articles", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = m.Enqueue(ctx, "", TypeAddIndex, "articles", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = m.Enqueue(ctx, "solr", TypeDeleteItems, "articles", []byte("not json"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("executes immediately when nothing is queued", func(t *testing.T) {
		m, r := setup(t)
		require.NoError(t, m.Submit(ctx, "solr", TypeDeleteItems, "articles", []string{"9"}))
		assert.Equal(t, []string{"delete[9]:articles"}, r.backends["solr"].Calls())
		assert.Empty(t, remaining(t, m, "solr"))
	})

	t.Run("queues behind a failing task", func(t *testing.T) {
		m, r := setup(t)
		r.backends["solr"].failOn["add:articles"] = true
		enqueue(t, m, "solr", TypeAddIndex, "articles", nil)

		require.NoError(t, m.Submit(ctx, "solr", TypeDeleteAllIndexItems, "articles", nil))
		assert.Empty(t, r.backends["solr"].Calls())
		assert.Equal(t, []Type{TypeAddIndex, TypeDeleteAllIndexItems}, remaining(t, m, "solr"))
	})

	t.Run("queues when the backend errors", func(t *testing.T) {
		m, r := setup(t)
		r.backends["solr"].failOn["deleteAll:articles"] = true
		require.NoError(t, m.Submit(ctx, "solr", TypeDeleteAllIndexItems, "articles", nil))
		assert.Equal(t, []Type{TypeDeleteAllIndexItems}, remaining(t, m, "solr"))
	})

	t.Run("queues for a disabled server", func(t *testing.T) {
		m, _ := setup(t)
		require.NoError(t, m.Submit(ctx, "off", TypeAddIndex, "articles", nil))
		n, err := m.Pending(ctx, "off")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("rejects unknown servers", func(t *testing.T) {
		m, _ := setup(t)
		err := m.Submit(ctx, "nowhere", TypeAddIndex, "articles", nil)
		assert.ErrorIs(t, err, apperrors.ErrServerNotFound)
	})
}

func TestConcurrentDrainsExecuteEachTaskOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, r := setup(t, WithLockDir(dir))
	for i := 0; i < 20; i++ {
		enqueue(t, m, "solr", TypeDeleteItems, "articles", []string{fmt.Sprint(i)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Drain(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, r.backends["solr"].Calls(), 20)
}

func TestEnqueueRejectsDataThatDoesNotFitTheType(t *testing.T) {
	ctx := context.Background()
	m, _ := setup(t)

	for name, tc := range map[string]struct {
		typ  Type
		data any
	}{
		"deleteItems with an object":   {TypeDeleteItems, map[string]int{"x": 1}},
		"deleteItems without data":     {TypeDeleteItems, nil},
		"deleteItems with no ids":      {TypeDeleteItems, []string{}},
		"deleteItems with numbers":     {TypeDeleteItems, json.RawMessage(`[1,2]`)},
		"updateIndex with a list":      {TypeUpdateIndex, []string{"a"}},
		"updateIndex with a bare text": {TypeUpdateIndex, json.RawMessage(`"articles"`)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Enqueue(ctx, "solr", tc.typ, "articles", tc.data)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.ErrorIs(t, err, ErrMalformedTask)

			err = m.Submit(ctx, "solr", tc.typ, "articles", tc.data)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
	assert.Empty(t, remaining(t, m, "solr"))

	enqueue(t, m, "solr", TypeUpdateIndex, "articles", nil)
	enqueue(t, m, "solr", TypeUpdateIndex, "articles", &catalog.Index{ID: "articles"})
	assert.Len(t, remaining(t, m, "solr"), 2)
}

func TestMalformedStoredTaskDoesNotBlockTheServer(t *testing.T) {
	ctx := context.Background()
	m, r := setup(t)

	// Rows written before payloads were checked can still be in the log.
	bad, err := m.store.Append(ctx, Task{
		ServerID:  "solr",
		Type:      TypeDeleteItems,
		IndexID:   "articles",
		Data:      json.RawMessage(`{"x":1}`),
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	next := enqueue(t, m, "solr", TypeDeleteItems, "articles", []string{"2"})

	report, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.False(t, report.AnyFailed())
	assert.Equal(t, []int64{bad.ID, next.ID}, report.Executed)
	assert.Equal(t, []string{"delete[2]:articles"}, r.backends["solr"].Calls())
	assert.Empty(t, remaining(t, m, "solr"))
}

// lockingStore stands in for a store shared by several hosts.
type lockingStore struct {
	*SQLStore
	mu   sync.Mutex
	held map[string]bool
}

func (s *lockingStore) TryLockServer(_ context.Context, serverID string) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[serverID] {
		return nil, false, nil
	}
	s.held[serverID] = true
	return func() { s.setHeld(serverID, false) }, true, nil
}

func (s *lockingStore) setHeld(serverID string, held bool) {
	s.mu.Lock()
	s.held[serverID] = held
	s.mu.Unlock()
}

func (s *lockingStore) Held(serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[serverID]
}

func TestStoreLockExcludesOtherWorkers(t *testing.T) {
	ctx := context.Background()
	store := &lockingStore{SQLStore: newStore(t), held: map[string]bool{}}
	r := newResolver()
	m := NewManager(store, r)
	task := enqueue(t, m, "solr", TypeAddIndex, "articles", nil)

	// Another worker holds solr.
	store.setHeld("solr", true)
	report, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, report.Skipped)
	require.NoError(t, m.Submit(ctx, "solr", TypeDeleteAllIndexItems, "articles", nil))
	assert.Empty(t, r.backends["solr"].Calls())
	assert.Equal(t, []Type{TypeAddIndex, TypeDeleteAllIndexItems}, remaining(t, m, "solr"))

	store.setHeld("solr", false)
	report, err = m.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Executed, 2)
	assert.False(t, store.Held("solr"))
}

func TestSubmitHoldsTheServerLockUntilItRan(t *testing.T) {
	ctx := context.Background()
	store := &lockingStore{SQLStore: newStore(t), held: map[string]bool{}}
	r := newResolver()
	m := NewManager(store, r, WithLockDir(t.TempDir()))
	enqueue(t, m, "solr", TypeAddIndex, "articles", nil)

	var heldDuringCalls []bool
	r.backends["solr"].onCall = func(string) {
		heldDuringCalls = append(heldDuringCalls, store.Held("solr"))
	}
	require.NoError(t, m.Submit(ctx, "solr", TypeDeleteItems, "articles", []string{"3"}))

	assert.Equal(t, []string{"add:articles", "delete[3]:articles"}, r.backends["solr"].Calls())
	assert.Equal(t, []bool{true, true}, heldDuringCalls)
	assert.False(t, store.Held("solr"))
	assert.Empty(t, remaining(t, m, "solr"))
}

func TestAdvisoryKeyIsStablePerServer(t *testing.T) {
	assert.Equal(t, advisoryKey("solr"), advisoryKey("solr"))
	assert.NotEqual(t, advisoryKey("solr"), advisoryKey("elastic"))

	// Embedded databases need no cross-host lock.
	release, ok, err := newStore(t).TryLockServer(context.Background(), "solr")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}
