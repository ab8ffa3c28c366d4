package coordinator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/database"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/remote"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

const testAdminEmail = "ops@campus.edu"

func testAdmin() users.User {
	return users.User{
		ID:           "admin1",
		Name:         "Ops Admin",
		Email:        testAdminEmail,
		Profile:      users.AdminProfile{},
		Verified:     true,
		PasswordHash: "$2a$10$hash",
	}
}

func newTestCache(t *testing.T, quota int64) *cache.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	store, err := cache.NewStore(cache.Config{Database: db, QuotaBytes: quota, Dispatcher: events.NewDispatcher()})
	require.NoError(t, err)
	return store
}

func newTestCoordinator(t *testing.T, store *cache.Store, remoteStore remote.Store) *Coordinator {
	t.Helper()
	coordinator, err := New(Config{Cache: store, Remote: remoteStore, Admin: testAdmin(), WriteTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coordinator.Close(ctx)
	})
	return coordinator
}

func newTestRedis(t *testing.T) (*remote.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := remote.NewRedisStore(context.Background(), remote.RedisConfig{URL: "redis://" + server.Addr(), KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func flush(t *testing.T, coordinator *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, coordinator.Flush(ctx))
}

func sampleRequest(id string, created time.Time) requests.Request {
	return requests.Request{
		ID:          id,
		Requester:   requests.Requester{ID: "u-1", Name: "Jane", Profile: users.StudentProfile{Course: "BSIT"}},
		Title:       "Broken light " + id,
		Description: "Flickers",
		Category:    requests.CategoryFacilities,
		Location:    "Hall A",
		Status:      requests.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
		Images:      []string{"img-" + id},
		Comments:    []requests.Comment{},
	}
}

func requestIDs(list []requests.Request) []string {
	ids := make([]string, 0, len(list))
	for _, item := range list {
		ids = append(ids, item.ID)
	}
	return ids
}

// recorder collects every delivered list.
type recorder[T any] struct {
	mu     sync.Mutex
	lists  [][]T
	signal chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{signal: make(chan struct{}, 64)}
}

func (r *recorder[T]) handle(list []T) {
	r.mu.Lock()
	r.lists = append(r.lists, list)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

func (r *recorder[T]) last() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lists) == 0 {
		return nil
	}
	return r.lists[len(r.lists)-1]
}

func (r *recorder[T]) waitFor(t *testing.T, match func([]T) bool) []T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		for index := len(r.lists) - 1; index >= 0; index-- {
			if match(r.lists[index]) {
				found := r.lists[index]
				r.mu.Unlock()
				return found
			}
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("no matching list delivered")
			return nil
		}
	}
}

// gatedRemote is an in-memory remote store whose writes block until released.
type gatedRemote struct {
	mu        sync.Mutex
	documents map[string]map[string]json.RawMessage
	handlers  map[string]remote.SnapshotHandler
	gate      chan struct{}
	puts      int
}

func newGatedRemote() *gatedRemote {
	return &gatedRemote{
		documents: map[string]map[string]json.RawMessage{},
		handlers:  map[string]remote.SnapshotHandler{},
		gate:      make(chan struct{}),
	}
}

func (g *gatedRemote) release() {
	close(g.gate)
}

func (g *gatedRemote) putCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.puts
}

func (g *gatedRemote) snapshot(collection string) remote.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := remote.Snapshot{}
	for id, document := range g.documents[collection] {
		out[id] = document
	}
	return out
}

func (g *gatedRemote) emit(collection string, snapshot remote.Snapshot) {
	g.mu.Lock()
	handler := g.handlers[collection]
	g.mu.Unlock()
	if handler != nil {
		handler(snapshot)
	}
}

func (g *gatedRemote) Subscribe(_ context.Context, collection string, onSnapshot remote.SnapshotHandler) (func(), error) {
	g.mu.Lock()
	g.handlers[collection] = onSnapshot
	g.mu.Unlock()
	onSnapshot(g.snapshot(collection))
	return func() {
		g.mu.Lock()
		delete(g.handlers, collection)
		g.mu.Unlock()
	}, nil
}

func (g *gatedRemote) ReadCollection(_ context.Context, collection string) (remote.Snapshot, error) {
	return g.snapshot(collection), nil
}

func (g *gatedRemote) PutEntity(ctx context.Context, collection, id string, value any) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.documents[collection] == nil {
		g.documents[collection] = map[string]json.RawMessage{}
	}
	g.documents[collection][id] = encoded
	g.puts++
	return nil
}

func (g *gatedRemote) PatchEntity(context.Context, string, string, map[string]any) error {
	return nil
}

func (g *gatedRemote) DeleteEntity(_ context.Context, collection, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.documents[collection], id)
	return nil
}
