package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/remote"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

// Report summarises one reconciliation pass.
type Report struct {
	Requests       int
	Users          int
	SeededRequests int
	SeededUsers    int
}

// collectionSync runs reconciliation and snapshot delivery for one collection.
type collectionSync[T Entity[T]] struct {
	c          *Coordinator
	collection Collection[T]
	// repair adjusts a snapshot before it is stored and reports whether it
	// changed anything; it may queue remote writes.
	repair func([]T) ([]T, bool)
}

func (c *Coordinator) requestSync() collectionSync[requests.Request] {
	return collectionSync[requests.Request]{c: c, collection: c.requests}
}

func (c *Coordinator) userSync() collectionSync[users.User] {
	return collectionSync[users.User]{c: c, collection: c.users, repair: c.repairUsers}
}

// SubscribeRequests delivers the requests collection, newest first, now and
// after every change. The returned function stops delivery and is idempotent.
func (c *Coordinator) SubscribeRequests(ctx context.Context, onChange func([]requests.Request)) func() {
	return c.requestSync().subscribe(ctx, onChange)
}

// SubscribeUsers delivers the users collection now and after every change.
// Every delivered list contains the default administrator.
func (c *Coordinator) SubscribeUsers(ctx context.Context, onChange func([]users.User)) func() {
	return c.userSync().subscribe(ctx, onChange)
}

// ReconcileOnce runs one reconciliation pass of both collections against the
// remote store and waits for the resulting remote writes.
func (c *Coordinator) ReconcileOnce(ctx context.Context) (Report, error) {
	if c.remote == nil {
		return Report{}, ErrOffline
	}
	requestsList, seededRequests, err := c.requestSync().reconcileOnce(ctx)
	if err != nil {
		return Report{}, err
	}
	usersList, seededUsers, err := c.userSync().reconcileOnce(ctx)
	if err != nil {
		return Report{}, err
	}
	if err := c.Flush(ctx); err != nil {
		return Report{}, err
	}
	return Report{
		Requests:       len(requestsList),
		Users:          len(usersList),
		SeededRequests: seededRequests,
		SeededUsers:    seededUsers,
	}, nil
}

func (s collectionSync[T]) reconcileOnce(ctx context.Context) ([]T, int, error) {
	snapshot, err := s.c.remote.ReadCollection(ctx, s.collection.Name())
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile %s: %w", s.collection.Name(), err)
	}
	list, seeded := s.apply(snapshot, true)
	return list, seeded, nil
}

func (s collectionSync[T]) subscribe(ctx context.Context, onChange func([]T)) func() {
	subscriptionCtx, cancel := context.WithCancel(ctx)

	var deliverMu sync.Mutex
	deliver := func(items []T) {
		deliverMu.Lock()
		defer deliverMu.Unlock()
		if subscriptionCtx.Err() != nil {
			return
		}
		onChange(items)
	}

	stream, stopLocal := s.c.cache.Dispatcher().Subscribe(subscriptionCtx, s.collection.Name())
	go func() {
		for event := range stream {
			if event.Origin != events.OriginLocalWrite {
				continue
			}
			deliver(s.collection.Load())
		}
	}()

	var stopRemote func()
	if s.c.remote == nil {
		deliver(s.loadLocal())
	} else {
		var firstSeen atomic.Bool
		stop, err := s.c.remote.Subscribe(subscriptionCtx, s.collection.Name(), func(snapshot remote.Snapshot) {
			first := firstSeen.CompareAndSwap(false, true)
			list, _ := s.apply(snapshot, first)
			deliver(list)
		})
		if err != nil {
			s.c.logError(opSubscribe, reasonRemoteUnavailable, err, zap.String(fieldCollection, s.collection.Name()))
			deliver(s.loadLocal())
		} else {
			stopRemote = stop
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if stopRemote != nil {
				stopRemote()
			}
			cancel()
			stopLocal()
		})
	}
}

// apply stores a remote snapshot locally and returns the list to deliver
// along with the number of local records queued to seed the remote store.
func (s collectionSync[T]) apply(snapshot remote.Snapshot, first bool) ([]T, int) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	name := s.collection.Name()
	local := s.collection.Load()
	effective := s.collection.FromSnapshot(snapshot, s.c.logger)
	seeded := 0
	if first {
		plan := Reconcile(local, effective)
		for _, item := range plan.Pending {
			s.c.mirrorPut(opApplySnapshot, name, item.EntityID(), item)
		}
		seeded = len(plan.Pending)
		effective = plan.Snapshot
	}
	effective = overlay(effective, local, s.c.inFlight(name))
	if s.repair != nil {
		effective, _ = s.repair(effective)
	}
	stored, err := s.collection.Replace(effective, events.OriginRemoteSnapshot)
	if err != nil {
		s.c.logError(opApplySnapshot, reasonLocalWriteFailed, err, zap.String(fieldCollection, name))
	}
	return stored, seeded
}

// loadLocal reads the cached list for offline or degraded delivery, applying
// the repair step and persisting its result.
func (s collectionSync[T]) loadLocal() []T {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	list := s.collection.Load()
	if s.repair == nil {
		return list
	}
	repaired, changed := s.repair(list)
	if !changed {
		return list
	}
	stored, err := s.collection.Replace(repaired, events.OriginReconcile)
	if err != nil {
		s.c.logError(opEnsureAdmin, reasonLocalWriteFailed, err, zap.String(fieldCollection, s.collection.Name()))
	}
	return stored
}

// repairUsers hashes leftover plaintext credentials and enforces the default
// administrator. Callers hold c.mu.
func (c *Coordinator) repairUsers(list []users.User) ([]users.User, bool) {
	upgraded, rehashed := c.upgradeCredentials(list)
	repaired, changed := c.ensureAdmin(upgraded)
	return repaired, rehashed || changed
}

// upgradeCredentials replaces plaintext credentials read from old records
// with their hash and queues the rewritten users. Callers hold c.mu.
func (c *Coordinator) upgradeCredentials(list []users.User) ([]users.User, bool) {
	result := make([]users.User, len(list))
	changed := false
	for index, user := range list {
		upgraded, rewrite, err := users.UpgradeLegacyCredential(user)
		if err != nil {
			c.logError(opUpgradeCredential, reasonHashFailed, err, zap.String(fieldEntityID, user.ID))
		}
		result[index] = upgraded
		if rewrite {
			changed = true
			c.mirrorPut(opUpgradeCredential, c.users.Name(), upgraded.ID, upgraded)
		}
	}
	return result, changed
}

// ensureAdmin applies EnsureAdmin and queues the remote writes it implies.
// Callers hold c.mu.
func (c *Coordinator) ensureAdmin(list []users.User) ([]users.User, bool) {
	plan := EnsureAdmin(list, c.admin)
	if plan.Upsert != nil {
		c.mirrorPut(opEnsureAdmin, c.users.Name(), plan.Upsert.ID, *plan.Upsert)
	}
	for _, id := range plan.Remove {
		c.mirrorDelete(opEnsureAdmin, c.users.Name(), id)
	}
	return plan.Users, plan.Changed()
}
