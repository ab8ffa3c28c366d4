// Package events fans out in-process change notifications to subscribers.
package events

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 16

// Origin tells subscribers which path produced a change.
type Origin string

const (
	// OriginLocalWrite marks a mutation applied by this process.
	OriginLocalWrite Origin = "local-write"
	// OriginRemoteSnapshot marks a cache refresh driven by a remote snapshot.
	OriginRemoteSnapshot Origin = "remote-snapshot"
	// OriginReconcile marks a cache repair made while reconciling, such as
	// synthesising the default administrator.
	OriginReconcile Origin = "reconcile"
)

// Event announces that a topic (a collection name or the session slot) changed.
type Event struct {
	Topic     string
	Origin    Origin
	Timestamp time.Time
}

// Dispatcher delivers events to per-topic subscribers without blocking publishers.
// A subscriber whose buffer is full misses the event; every event carries the
// whole topic as changed, so the next delivered event still triggers a full refresh.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
	once   sync.Once
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers for events on topic. The returned cleanup closes the
// stream; it is idempotent and also runs when ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(topic, sub)
	cleanup := func() {
		sub.once.Do(func() {
			d.unregister(topic, sub.id)
			close(sub.stream)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers event to every current subscriber of its topic.
func (d *Dispatcher) Publish(event Event) {
	if event.Topic == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	// The read lock is held while sending so unregister (which takes the write
	// lock before closing a stream) cannot close a channel mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[event.Topic] {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(topic string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher) unregister(topic string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
}
