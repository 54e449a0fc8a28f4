package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"

	"github.com/google/uuid"

	"salesrecord/internal/core"
	"salesrecord/internal/store"
)

// Store keeps collections in process memory.
type Store struct {
	mu    sync.Mutex
	colls map[string]*collection
	hub   *store.Hub
}

type collection struct {
	rev     uint64
	records map[string]core.SalesRecord
}

func New() *Store {
	return &Store{colls: make(map[string]*collection), hub: store.NewHub()}
}

// NewFromFile seeds coll with the JSON array of records in path. A missing file
// yields an empty store.
func NewFromFile(path, coll string) (*Store, error) {
	s := New()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed []core.SalesRecord
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	c := s.coll(coll)
	for _, r := range seed {
		if r.ID == "" {
			r.ID = newID()
		}
		r = r.Derive()
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("seed record %s: %w", r.ID, err)
		}
		c.records[r.ID] = r
	}
	if len(seed) > 0 {
		c.rev++
	}
	return s, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// coll must be called with s.mu held.
func (s *Store) coll(name string) *collection {
	c, ok := s.colls[name]
	if !ok {
		c = &collection{records: make(map[string]core.SalesRecord)}
		s.colls[name] = c
	}
	return c
}

func (c *collection) snapshot() store.Snapshot {
	return store.Snapshot{Revision: c.rev, Records: maps.Clone(c.records)}
}

// commit bumps the revision and broadcasts; s.mu must be held.
func (s *Store) commit(name string, c *collection) {
	c.rev++
	s.hub.Publish(name, c.snapshot())
}

func (s *Store) Subscribe(ctx context.Context, coll string) (store.Subscription, error) {
	s.mu.Lock()
	initial := s.coll(coll).snapshot()
	s.mu.Unlock()
	return s.hub.Subscribe(ctx, coll, &initial), nil
}

func (s *Store) Load(_ context.Context, coll string) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll(coll).snapshot(), nil
}

func (s *Store) Get(_ context.Context, coll, id string) (core.SalesRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.coll(coll).records[id]
	if !ok {
		return core.SalesRecord{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) Create(ctx context.Context, coll string, rec core.SalesRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec.ID = newID()
	if err := rec.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	c.records[rec.ID] = rec
	s.commit(coll, c)
	return rec.ID, nil
}

func (s *Store) Update(ctx context.Context, coll, id string, rec core.SalesRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	if _, ok := c.records[id]; !ok {
		return store.ErrNotFound
	}
	c.records[id] = rec
	s.commit(coll, c)
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	if _, ok := c.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(c.records, id)
	s.commit(coll, c)
	return nil
}

var _ store.RecordStore = (*Store)(nil)
