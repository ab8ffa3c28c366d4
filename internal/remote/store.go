// Package remote talks to the shared replica store that every client mirrors into.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrMissingID indicates a write without an entity id.
	ErrMissingID = errors.New("remote: entity id is required")
	// ErrNotDocument indicates a value that does not encode to a JSON object.
	ErrNotDocument = errors.New("remote: value is not a document")
)

// Snapshot is the full contents of a collection keyed by entity id. Each
// document already carries its id field.
type Snapshot map[string]json.RawMessage

// SnapshotHandler receives every delivered snapshot.
type SnapshotHandler func(Snapshot)

// Store is the contract of the shared replica store.
type Store interface {
	// Subscribe delivers the current contents of collection before returning,
	// then again after every change from any client until the returned
	// function is called. The returned function is idempotent.
	Subscribe(ctx context.Context, collection string, onSnapshot SnapshotHandler) (func(), error)
	// ReadCollection returns the current contents of collection.
	ReadCollection(ctx context.Context, collection string) (Snapshot, error)
	// PutEntity replaces the document stored under id.
	PutEntity(ctx context.Context, collection, id string, value any) error
	// PatchEntity shallow-merges fields into the document stored under id.
	// Patching a missing document does nothing.
	PatchEntity(ctx context.Context, collection, id string, fields map[string]any) error
	// DeleteEntity removes the document stored under id.
	DeleteEntity(ctx context.Context, collection, id string) error
}

// Decode unmarshals every document of snapshot into T, keyed by entity id.
// Documents that fail to decode are skipped and reported as *DecodeError.
func Decode[T any](snapshot Snapshot) (map[string]T, []error) {
	items := make(map[string]T, len(snapshot))
	var failures []error
	for id, raw := range snapshot {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			failures = append(failures, &DecodeError{ID: id, Err: err})
			continue
		}
		items[id] = item
	}
	return items, failures
}

// DecodeError reports a document that could not be decoded.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return "remote: decode " + e.ID + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
