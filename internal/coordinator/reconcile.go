package coordinator

// Plan is the outcome of reconciling a local list with the first remote snapshot.
type Plan[T Entity[T]] struct {
	// Snapshot is the list to store locally and deliver to subscribers.
	Snapshot []T
	// Pending lists the records to write to the remote store.
	Pending []T
}

// Reconcile decides the initial state of a collection. A non-empty remote
// snapshot is authoritative. An empty remote with local records means the
// remote has not been seeded yet: every local record with an id is pushed and
// the local list is delivered as is.
func Reconcile[T Entity[T]](local, remote []T) Plan[T] {
	if len(remote) > 0 {
		return Plan[T]{Snapshot: clone(remote)}
	}
	snapshot := clone(local)
	pending := make([]T, 0, len(local))
	for _, item := range local {
		if item.EntityID() != "" {
			pending = append(pending, item)
		}
	}
	return Plan[T]{Snapshot: snapshot, Pending: pending}
}

// overlay keeps the local version of every record that still has a write
// queued for the remote store, so a snapshot that predates the write cannot
// roll it back. Records absent locally but pending (a queued delete) are dropped.
func overlay[T Entity[T]](incoming, local []T, inFlight func(id string) bool) []T {
	localByID := make(map[string]T, len(local))
	for _, item := range local {
		localByID[item.EntityID()] = item
	}
	result := make([]T, 0, len(incoming))
	seen := make(map[string]struct{}, len(incoming))
	for _, item := range incoming {
		id := item.EntityID()
		seen[id] = struct{}{}
		if !inFlight(id) {
			result = append(result, item)
			continue
		}
		if kept, ok := localByID[id]; ok {
			result = append(result, kept)
		}
	}
	for _, item := range local {
		id := item.EntityID()
		if _, ok := seen[id]; ok {
			continue
		}
		if inFlight(id) {
			result = append(result, item)
		}
	}
	return result
}

func clone[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
