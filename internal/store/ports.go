// Package store defines the record store port: a collection of sales records
// that pushes the full collection to subscribers after every change.
package store

import (
	"context"
	"errors"
	"sort"

	"salesrecord/internal/core"
)

// ErrNotFound is returned when a record id is not in the collection.
var ErrNotFound = errors.New("record not found")

// Snapshot replaces the whole collection. It is never a diff. Records is
// shared between subscribers and must not be modified.
type Snapshot struct {
	Revision uint64
	Records  map[string]core.SalesRecord
}

// List returns the records in ascending id order.
func (s Snapshot) List() []core.SalesRecord {
	out := make([]core.SalesRecord, 0, len(s.Records))
	for _, r := range s.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ports for record store adapters.
type (
	// Subscription delivers snapshots until Unsubscribe is called or the
	// subscribing context ends. Only the latest undelivered snapshot is kept.
	Subscription interface {
		Snapshots() <-chan Snapshot
		Unsubscribe()
	}

	Subscriber interface {
		// Subscribe starts a subscription; the current collection is delivered
		// first.
		Subscribe(ctx context.Context, collection string) (Subscription, error)
	}

	Reader interface {
		Load(ctx context.Context, collection string) (Snapshot, error)
		Get(ctx context.Context, collection, id string) (core.SalesRecord, error)
	}

	Writer interface {
		// Create stores rec under a new id and returns it. rec.ID is ignored.
		Create(ctx context.Context, collection string, rec core.SalesRecord) (string, error)
		Update(ctx context.Context, collection, id string, rec core.SalesRecord) error
		Delete(ctx context.Context, collection, id string) error
	}

	RecordStore interface {
		Subscriber
		Reader
		Writer
	}
)
