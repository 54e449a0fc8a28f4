// Package redis stores collections as Redis hashes and fans out changes over
// Redis pub/sub, so several processes can share one collection.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"salesrecord/internal/core"
	"salesrecord/internal/store"
)

const defaultLockTTL = 10 * time.Second

// ErrLocked is returned when another writer holds the record lock past the
// lock TTL.
var ErrLocked = errors.New("record is locked by another writer")

type Store struct {
	rdb     *goredis.Client
	locker  *redislock.Client
	lockTTL time.Duration
	hub     *store.Hub
	logger  *slog.Logger

	mu        sync.Mutex
	listeners map[string]*goredis.PubSub
	wg        sync.WaitGroup
	closed    bool
}

// Open connects to url (redis://...) and verifies the connection.
func Open(ctx context.Context, url string, lockTTL time.Duration) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, lockTTL), nil
}

func New(rdb *goredis.Client, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Store{
		rdb:       rdb,
		locker:    redislock.New(rdb),
		lockTTL:   lockTTL,
		hub:       store.NewHub(),
		logger:    slog.Default().With("component", "redis_store"),
		listeners: make(map[string]*goredis.PubSub),
	}
}

func recordsKey(coll string) string  { return coll + ":records" }
func revisionKey(coll string) string { return coll + ":revision" }
func channelName(coll string) string { return coll + ":changed" }
func lockKey(coll, id string) string { return coll + ":lock:" + id }

// Close stops the pub/sub listeners and closes the client.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ps := range s.listeners {
		ps.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.rdb.Close()
}

func (s *Store) Load(ctx context.Context, coll string) (store.Snapshot, error) {
	var (
		revCmd  *goredis.StringCmd
		hashCmd *goredis.MapStringStringCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		revCmd = p.Get(ctx, revisionKey(coll))
		hashCmd = p.HGetAll(ctx, recordsKey(coll))
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return store.Snapshot{}, fmt.Errorf("load collection: %w", err)
	}

	var rev uint64
	if v, err := revCmd.Result(); err == nil {
		if rev, err = strconv.ParseUint(v, 10, 64); err != nil {
			return store.Snapshot{}, fmt.Errorf("parse revision: %w", err)
		}
	}

	snap := store.Snapshot{Revision: rev, Records: make(map[string]core.SalesRecord)}
	for id, raw := range hashCmd.Val() {
		var rec core.SalesRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return store.Snapshot{}, fmt.Errorf("decode record %s: %w", id, err)
		}
		rec.ID = id
		snap.Records[id] = rec
	}
	return snap, nil
}

func (s *Store) Get(ctx context.Context, coll, id string) (core.SalesRecord, error) {
	raw, err := s.rdb.HGet(ctx, recordsKey(coll), id).Result()
	if errors.Is(err, goredis.Nil) {
		return core.SalesRecord{}, store.ErrNotFound
	}
	if err != nil {
		return core.SalesRecord{}, fmt.Errorf("get record: %w", err)
	}
	var rec core.SalesRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return core.SalesRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

func (s *Store) Create(ctx context.Context, coll string, rec core.SalesRecord) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	rec.ID = id.String()
	if err := rec.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSetNX(ctx, recordsKey(coll), rec.ID, raw)
		p.Incr(ctx, revisionKey(coll))
		p.Publish(ctx, channelName(coll), rec.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) Update(ctx context.Context, coll, id string, rec core.SalesRecord) error {
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.withLock(ctx, coll, id, func() error {
		exists, err := s.rdb.HExists(ctx, recordsKey(coll), id).Result()
		if err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, recordsKey(coll), id, raw)
			p.Incr(ctx, revisionKey(coll))
			p.Publish(ctx, channelName(coll), id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	return s.withLock(ctx, coll, id, func() error {
		n, err := s.rdb.HDel(ctx, recordsKey(coll), id).Result()
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Incr(ctx, revisionKey(coll))
			p.Publish(ctx, channelName(coll), id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("announce delete: %w", err)
		}
		return nil
	})
}

// withLock serializes writers of one record across processes.
func (s *Store) withLock(ctx context.Context, coll, id string, fn func() error) error {
	lock, err := s.locker.Obtain(ctx, lockKey(coll, id), s.lockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(s.lockTTL/(50*time.Millisecond))),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLocked
	}
	if err != nil {
		return fmt.Errorf("obtain record lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			s.logger.Warn("Failed to release record lock", "record_id", id, "error", err)
		}
	}()
	return fn()
}

// Subscribe delivers the current collection, then a fresh snapshot after each
// change announced on the collection channel by any process.
func (s *Store) Subscribe(ctx context.Context, coll string) (store.Subscription, error) {
	if err := s.listen(ctx, coll); err != nil {
		return nil, err
	}
	snap, err := s.Load(ctx, coll)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, coll, &snap), nil
}

func (s *Store) listen(ctx context.Context, coll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("redis store closed")
	}
	if _, ok := s.listeners[coll]; ok {
		return nil
	}

	ps := s.rdb.Subscribe(ctx, channelName(coll))
	// Wait for the subscription to be confirmed so no change is missed
	// between this point and the initial load.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", channelName(coll), err)
	}
	s.listeners[coll] = ps

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for range ps.Channel() {
			s.reload(coll)
		}
	}()
	return nil
}

func (s *Store) reload(coll string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Load(ctx, coll)
	if err != nil {
		s.logger.Warn("Failed to reload collection", "collection", coll, "error", err)
		return
	}
	s.hub.Publish(coll, snap)
}

var _ store.RecordStore = (*Store)(nil)
