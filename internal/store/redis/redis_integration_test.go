//go:build integration

package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesrecord/internal/core"
	"salesrecord/internal/store"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	s, err := Open(context.Background(), url, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func collectionName(t *testing.T) string {
	return fmt.Sprintf("test:%s:%d", t.Name(), time.Now().UnixNano())
}

func sale(client string) core.SalesRecord {
	return core.SalesRecord{
		Date:            core.NewDate(2024, 9, 9),
		ClientName:      client,
		Location:        "Jos",
		AmountOnInvoice: decimal.NewFromInt(90),
		AmountPaid:      decimal.NewFromInt(30),
		CreatedAt:       time.Now().UnixMilli(),
	}.Derive()
}

func TestRedisCRUD(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	coll := collectionName(t)

	id, err := s.Create(ctx, coll, sale("Emeka"))
	require.NoError(t, err)

	got, err := s.Get(ctx, coll, id)
	require.NoError(t, err)
	assert.Equal(t, "Emeka", got.ClientName)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(60)))

	require.NoError(t, s.Update(ctx, coll, id, sale("Emeka Jr")))
	got, err = s.Get(ctx, coll, id)
	require.NoError(t, err)
	assert.Equal(t, "Emeka Jr", got.ClientName)

	require.NoError(t, s.Delete(ctx, coll, id))
	_, err = s.Get(ctx, coll, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, coll, id), store.ErrNotFound)

	snap, err := s.Load(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Revision)
}

func TestRedisSubscribeAcrossClients(t *testing.T) {
	reader := openStore(t)
	writer := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coll := collectionName(t)

	sub, err := reader.Subscribe(ctx, coll)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := writer.Create(ctx, coll, sale("Funke"))
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-sub.Snapshots():
			if _, ok := snap.Records[id]; ok {
				return
			}
		case <-deadline:
			t.Fatal("change not observed")
		}
	}
}

func TestRedisConcurrentUpdatesSerialize(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	coll := collectionName(t)

	id, err := s.Create(ctx, coll, sale("start"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, coll, id, sale(fmt.Sprintf("writer %d", i))))
		}(i)
	}
	wg.Wait()

	snap, err := s.Load(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), snap.Revision)
}
