package coordinator

import (
	"errors"

	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/remote"
)

// Entity is a record with a stable identifier that can be re-keyed.
type Entity[T any] interface {
	EntityID() string
	WithEntityID(id string) T
}

// Collection binds one named collection of T to its slot in the local cache.
type Collection[T Entity[T]] struct {
	name  string
	store *cache.Store
	order func([]T)
}

// NewCollection binds name to store. order, when set, sorts every list read
// from or written to the cache.
func NewCollection[T Entity[T]](name string, store *cache.Store, order func([]T)) Collection[T] {
	return Collection[T]{name: name, store: store, order: order}
}

// Name returns the collection name shared by the cache key and the remote path.
func (c Collection[T]) Name() string {
	return c.name
}

// Load reads the cached list. Corrupt or missing data reads as empty.
func (c Collection[T]) Load() []T {
	items := cache.ReadItems[T](c.store, c.name)
	c.sort(items)
	return items
}

// Replace overwrites the cached list and returns it in collection order.
func (c Collection[T]) Replace(items []T, origin events.Origin) ([]T, error) {
	ordered := make([]T, len(items))
	copy(ordered, items)
	c.sort(ordered)
	return ordered, cache.WriteItems(c.store, c.name, ordered, origin)
}

// FromSnapshot decodes a remote snapshot, taking each id from its key.
// Documents that fail to decode are logged and skipped.
func (c Collection[T]) FromSnapshot(snapshot remote.Snapshot, logger *zap.Logger) []T {
	decoded, failures := remote.Decode[T](snapshot)
	for _, failure := range failures {
		var decodeErr *remote.DecodeError
		if errors.As(failure, &decodeErr) {
			logger.Warn("skipping undecodable remote document",
				zap.String(fieldCollection, c.name),
				zap.String(fieldEntityID, decodeErr.ID),
				zap.Error(decodeErr.Err))
		}
	}
	items := make([]T, 0, len(decoded))
	for id, item := range decoded {
		items = append(items, item.WithEntityID(id))
	}
	c.sort(items)
	return items
}

func (c Collection[T]) sort(items []T) {
	if c.order != nil {
		c.order(items)
	}
}

// upsert replaces the entry with item's id, or adds item at the front when
// prepend is set and at the back otherwise.
func upsert[T Entity[T]](list []T, item T, prepend bool) []T {
	id := item.EntityID()
	result := make([]T, 0, len(list)+1)
	replaced := false
	for _, existing := range list {
		if existing.EntityID() == id {
			result = append(result, item)
			replaced = true
			continue
		}
		result = append(result, existing)
	}
	if replaced {
		return result
	}
	if prepend {
		return append([]T{item}, result...)
	}
	return append(result, item)
}

// without drops the entry with id and reports whether it was present.
func without[T Entity[T]](list []T, id string) ([]T, bool) {
	result := make([]T, 0, len(list))
	found := false
	for _, existing := range list {
		if existing.EntityID() == id {
			found = true
			continue
		}
		result = append(result, existing)
	}
	return result, found
}
