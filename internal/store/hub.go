package store

import (
	"context"
	"sync"
)

// Hub fans snapshots out to subscribers. Adapters call Publish after every
// change they observe; a slow subscriber only ever sees the newest snapshot.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	latest map[string]Snapshot
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*hubSub]struct{}),
		latest: make(map[string]Snapshot),
	}
}

type hubSub struct {
	ch   chan Snapshot
	once sync.Once
	hub  *Hub
	coll string
	stop context.CancelFunc
}

func (s *hubSub) Snapshots() <-chan Snapshot { return s.ch }

func (s *hubSub) Unsubscribe() {
	s.once.Do(func() {
		s.stop()
		s.hub.remove(s)
	})
}

// Subscribe registers a subscriber. If initial is non-nil it is delivered
// first unless a newer snapshot was already published.
func (h *Hub) Subscribe(ctx context.Context, collection string, initial *Snapshot) Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &hubSub{ch: make(chan Snapshot, 1), hub: h, coll: collection, stop: cancel}

	h.mu.Lock()
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[*hubSub]struct{})
	}
	h.subs[collection][s] = struct{}{}
	first, ok := h.latest[collection]
	if initial != nil && (!ok || initial.Revision >= first.Revision) {
		first, ok = *initial, true
	}
	if ok {
		s.ch <- first
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Unsubscribe()
	}()
	return s
}

// Publish delivers snap to every subscriber of collection. Snapshots older
// than the last published revision are ignored.
func (h *Hub) Publish(collection string, snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.latest[collection]; ok && snap.Revision < prev.Revision {
		return
	}
	h.latest[collection] = snap
	for s := range h.subs[collection] {
		// Drop the pending snapshot, if any, then hand over the new one.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

// Subscribers reports the number of live subscriptions on collection.
func (h *Hub) Subscribers(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[s.coll]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subs, s.coll)
		}
	}
	close(s.ch)
}
