package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/remote"
)

var errQueueClosed = errors.New("coordinator: mirror queue closed")

type mirrorTask struct {
	operation  string
	collection string
	id         string
	run        func(ctx context.Context, store remote.Store) error
}

func (t mirrorTask) key() string {
	return t.collection + "/" + t.id
}

// mirrorQueue runs remote writes one at a time in submission order, so two
// writes of the same record reach the remote store in call order. It tracks
// how many writes are outstanding per record for the snapshot overlay.
type mirrorQueue struct {
	store   remote.Store
	timeout time.Duration
	logger  *zap.Logger

	mu          sync.Mutex
	tasks       []mirrorTask
	inFlight    map[string]int
	outstanding int
	waiters     []chan struct{}
	closed      bool

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func newMirrorQueue(store remote.Store, timeout time.Duration, logger *zap.Logger) *mirrorQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &mirrorQueue{
		store:    store,
		timeout:  timeout,
		logger:   logger,
		inFlight: make(map[string]int),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go q.run()
	return q
}

func (q *mirrorQueue) enqueue(task mirrorTask) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	q.tasks = append(q.tasks, task)
	q.inFlight[task.key()]++
	q.outstanding++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// pending reports whether a write for collection/id is queued or running.
func (q *mirrorQueue) pending(collection, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[collection+"/"+id] > 0
}

// idle returns a channel closed once every queued write has finished.
func (q *mirrorQueue) idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	signal := make(chan struct{})
	if q.outstanding == 0 {
		close(signal)
		return signal
	}
	q.waiters = append(q.waiters, signal)
	return signal
}

// close stops accepting writes and waits for the queue to drain. When ctx
// ends first, running writes are cancelled and the remainder is dropped.
func (q *mirrorQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *mirrorQueue) run() {
	defer close(q.done)
	for {
		task, ok := q.next()
		if !ok {
			return
		}
		q.execute(task)
		q.finish(task)
	}
}

func (q *mirrorQueue) next() (mirrorTask, bool) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks[0] = mirrorTask{}
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return mirrorTask{}, false
		}
		<-q.wake
	}
}

func (q *mirrorQueue) execute(task mirrorTask) {
	if q.ctx.Err() != nil {
		q.logError(task, reasonDropped, q.ctx.Err())
		return
	}
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(q.ctx, q.timeout)
		defer cancel()
	}
	if err := task.run(ctx, q.store); err != nil {
		q.logError(task, reasonRemoteWriteFailed, err)
	}
}

func (q *mirrorQueue) finish(task mirrorTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := task.key()
	q.inFlight[key]--
	if q.inFlight[key] <= 0 {
		delete(q.inFlight, key)
	}
	q.outstanding--
	if q.outstanding == 0 {
		for _, waiter := range q.waiters {
			close(waiter)
		}
		q.waiters = nil
	}
}

func (q *mirrorQueue) logError(task mirrorTask, reason string, err error) {
	q.logger.Error("remote mirror failed",
		zap.String("operation", task.operation),
		zap.String("reason", reason),
		zap.String(fieldCollection, task.collection),
		zap.String(fieldEntityID, task.id),
		zap.Error(err))
}
