// Package coordinator keeps the local cache and the shared remote store in
// step: local-first writes mirrored in the background, startup
// reconciliation, and live snapshot delivery to subscribers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/remote"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	opNew                   = "coordinator.new"
	opSaveRequest           = "coordinator.save_request"
	opDeleteRequest         = "coordinator.delete_request"
	opRestoreRequest        = "coordinator.restore_request"
	opPermanentDelete       = "coordinator.permanent_delete_request"
	opSaveUser              = "coordinator.save_user"
	opDeleteUser            = "coordinator.delete_user"
	opApplySnapshot         = "coordinator.apply_snapshot"
	opSubscribe             = "coordinator.subscribe"
	opEnsureAdmin           = "coordinator.ensure_admin"
	opUpgradeCredential     = "coordinator.upgrade_credential"
	reasonLocalWriteFailed  = "local_write_failed"
	reasonRemoteWriteFailed = "remote_write_failed"
	reasonRemoteUnavailable = "remote_unavailable"
	reasonEnqueueFailed     = "enqueue_failed"
	reasonDropped           = "dropped"
	reasonHashFailed        = "hash_failed"
	fieldCollection         = "collection"
	fieldEntityID           = "id"
	defaultWriteTimeout     = 10 * time.Second
)

var (
	// ErrOffline indicates an operation that needs the remote store while none is configured.
	ErrOffline = errors.New("coordinator: no remote store configured")

	errMissingCache      = errors.New("coordinator: cache store is required")
	errMissingDispatcher = errors.New("coordinator: cache store has no dispatcher")
	errMissingAdmin      = errors.New("coordinator: default administrator is required")
)

// Config wires a Coordinator. A nil Remote runs the coordinator offline:
// subscribers are driven by local writes only.
type Config struct {
	Cache        *cache.Store
	Remote       remote.Store
	Admin        users.User
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Coordinator is the single writer of the local cache.
type Coordinator struct {
	cache    *cache.Store
	remote   remote.Store
	admin    users.User
	logger   *zap.Logger
	requests Collection[requests.Request]
	users    Collection[users.User]
	queue    *mirrorQueue

	// mu serialises every read-modify-write of the local cache.
	mu sync.Mutex
}

// New validates cfg and starts the remote mirror worker when online.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("%s: %w", opNew, errMissingCache)
	}
	if cfg.Cache.Dispatcher() == nil {
		return nil, fmt.Errorf("%s: %w", opNew, errMissingDispatcher)
	}
	if strings.TrimSpace(cfg.Admin.ID) == "" || strings.TrimSpace(cfg.Admin.Email) == "" {
		return nil, fmt.Errorf("%s: %w", opNew, errMissingAdmin)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	admin := cfg.Admin
	admin.Profile = users.AdminProfile{}
	admin.Verified = true

	c := &Coordinator{
		cache:    cfg.Cache,
		remote:   cfg.Remote,
		admin:    admin,
		logger:   logger,
		requests: NewCollection[requests.Request](cache.KeyRequests, cfg.Cache, requests.SortNewestFirst),
		users:    NewCollection[users.User](cache.KeyUsers, cfg.Cache, nil),
	}
	if cfg.Remote != nil {
		c.queue = newMirrorQueue(cfg.Remote, timeout, logger)
	}
	return c, nil
}

// Online reports whether a remote store is configured.
func (c *Coordinator) Online() bool {
	return c.remote != nil
}

// Admin returns the default administrator record.
func (c *Coordinator) Admin() users.User {
	return c.admin
}

// Requests returns the cached requests, newest first.
func (c *Coordinator) Requests() []requests.Request {
	return c.requests.Load()
}

// Users returns the cached users.
func (c *Coordinator) Users() []users.User {
	return c.users.Load()
}

// Request returns the cached request with id.
func (c *Coordinator) Request(id string) (requests.Request, bool) {
	return requests.FindByID(c.requests.Load(), id)
}

// User returns the cached user with id.
func (c *Coordinator) User(id string) (users.User, bool) {
	return users.FindByID(c.users.Load(), id)
}

// SaveRequest upserts request locally, prepending it when new, and mirrors it
// to the remote store in the background. A request without an id is ignored.
// Only cache.ErrQuotaExceeded is returned.
func (c *Coordinator) SaveRequest(request requests.Request) error {
	if strings.TrimSpace(request.ID) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := upsert(c.requests.Load(), request, true)
	_, err := c.requests.Replace(list, events.OriginLocalWrite)
	c.mirrorPut(opSaveRequest, c.requests.Name(), request.ID, request)
	return c.localResult(opSaveRequest, err)
}

// DeleteRequest archives the request locally and patches the archive flag remotely.
func (c *Coordinator) DeleteRequest(id string) error {
	return c.setArchived(opDeleteRequest, id, true)
}

// RestoreRequest clears the archive flag locally and remotely.
func (c *Coordinator) RestoreRequest(id string) error {
	return c.setArchived(opRestoreRequest, id, false)
}

func (c *Coordinator) setArchived(operation, id string, archived bool) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	list := c.requests.Load()
	if current, ok := requests.FindByID(list, id); ok {
		_, err = c.requests.Replace(upsert(list, current.WithArchived(archived), true), events.OriginLocalWrite)
	}
	c.mirror(mirrorTask{
		operation:  operation,
		collection: c.requests.Name(),
		id:         id,
		run: func(ctx context.Context, store remote.Store) error {
			return store.PatchEntity(ctx, cache.KeyRequests, id, map[string]any{requests.FieldArchived: archived})
		},
	})
	return c.localResult(operation, err)
}

// PermanentDeleteRequest removes the request from both stores.
func (c *Coordinator) PermanentDeleteRequest(id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if list, found := without(c.requests.Load(), id); found {
		_, err = c.requests.Replace(list, events.OriginLocalWrite)
	}
	c.mirrorDelete(opPermanentDelete, c.requests.Name(), id)
	return c.localResult(opPermanentDelete, err)
}

// SaveUser upserts user locally, appending it when new, and mirrors it remotely.
// Plaintext credentials carried over from old records are hashed before any
// record is written.
func (c *Coordinator) SaveUser(user users.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list, _ := c.upgradeCredentials(upsert(c.users.Load(), user, false))
	saved, _ := users.FindByID(list, user.ID)
	_, err := c.users.Replace(list, events.OriginLocalWrite)
	c.mirrorPut(opSaveUser, c.users.Name(), saved.ID, saved.WithoutLegacyCredential())
	return c.localResult(opSaveUser, err)
}

// DeleteUser removes the user from both stores. Callers must refuse to delete
// the signed-in user before calling.
func (c *Coordinator) DeleteUser(id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if list, found := without(c.users.Load(), id); found {
		list, _ = c.upgradeCredentials(list)
		_, err = c.users.Replace(list, events.OriginLocalWrite)
	}
	c.mirrorDelete(opDeleteUser, c.users.Name(), id)
	return c.localResult(opDeleteUser, err)
}

// Flush waits until every queued remote write has finished or ctx ends.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	select {
	case <-c.queue.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting remote writes and drains the queue.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}
	return c.queue.close(ctx)
}

func (c *Coordinator) mirrorPut(operation, collection, id string, value any) {
	c.mirror(mirrorTask{
		operation:  operation,
		collection: collection,
		id:         id,
		run: func(ctx context.Context, store remote.Store) error {
			return store.PutEntity(ctx, collection, id, value)
		},
	})
}

func (c *Coordinator) mirrorDelete(operation, collection, id string) {
	c.mirror(mirrorTask{
		operation:  operation,
		collection: collection,
		id:         id,
		run: func(ctx context.Context, store remote.Store) error {
			return store.DeleteEntity(ctx, collection, id)
		},
	})
}

func (c *Coordinator) mirror(task mirrorTask) {
	if c.queue == nil || task.id == "" {
		return
	}
	if err := c.queue.enqueue(task); err != nil {
		c.logError(task.operation, reasonEnqueueFailed, err,
			zap.String(fieldCollection, task.collection),
			zap.String(fieldEntityID, task.id))
	}
}

func (c *Coordinator) inFlight(collection string) func(id string) bool {
	return func(id string) bool {
		return c.queue != nil && c.queue.pending(collection, id)
	}
}

// localResult lets the quota signal through and logs every other local failure.
func (c *Coordinator) localResult(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrQuotaExceeded) {
		return err
	}
	c.logError(operation, reasonLocalWriteFailed, err)
	return nil
}

func (c *Coordinator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("coordinator error", attrs...)
}
