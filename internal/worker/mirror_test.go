package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesrecord/internal/amqp"
	"salesrecord/internal/core"
	sheetsmem "salesrecord/internal/sheets/memory"
	"salesrecord/internal/store"
	"salesrecord/internal/store/memory"
)

const coll = "sales"

func sale(client string, year int, createdAt int64) core.SalesRecord {
	return core.SalesRecord{
		Date:            core.NewDate(year, 4, 4),
		ClientName:      client,
		Location:        "Cape Coast",
		AmountOnInvoice: decimal.NewFromInt(100),
		AmountPaid:      decimal.NewFromInt(25),
		CreatedAt:       createdAt,
	}.Derive()
}

func seed(t *testing.T, st *memory.Store, recs ...core.SalesRecord) []string {
	t.Helper()
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		id, err := st.Create(context.Background(), coll, r)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func clients(recs []core.SalesRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ClientName
	}
	return out
}

func TestSyncYearWritesFilteredView(t *testing.T) {
	st := memory.New()
	seed(t, st, sale("Kofi", 2024, 1), sale("Ama", 2024, 3), sale("Yaw", 2023, 2))
	tabs := sheetsmem.New()
	w := NewMirrorWorker(st, coll, tabs, nil)

	require.NoError(t, w.SyncYear(context.Background(), 2024))

	got, ok := tabs.Year(2024)
	require.True(t, ok)
	assert.Equal(t, []string{"Ama", "Kofi"}, clients(got))
	_, ok = tabs.Year(2023)
	assert.False(t, ok)
}

func TestHandleRecordChangedMovedYear(t *testing.T) {
	st := memory.New()
	ids := seed(t, st, sale("Kofi", 2024, 1))
	tabs := sheetsmem.New()
	w := NewMirrorWorker(st, coll, tabs, nil)

	msg := amqp.NewRecordChangedMessage(coll, ids[0], amqp.OpUpdate, 2024, 2023)
	require.NoError(t, w.HandleRecordChanged(context.Background(), msg))

	assert.Equal(t, []int{2023, 2024}, tabs.Years())
	old, _ := tabs.Year(2023)
	assert.Empty(t, old)
}

func TestHandleRecordChangedOtherCollection(t *testing.T) {
	tabs := sheetsmem.New()
	w := NewMirrorWorker(memory.New(), coll, tabs, nil)

	msg := amqp.NewRecordChangedMessage("other", "x", amqp.OpCreate, 2024, 0)
	require.NoError(t, w.HandleRecordChanged(context.Background(), msg))
	assert.Equal(t, 0, tabs.Writes())
}

func TestHandleRecordChangedWriteFailure(t *testing.T) {
	st := memory.New()
	seed(t, st, sale("Kofi", 2024, 1))
	tabs := sheetsmem.New()
	boom := errors.New("quota exceeded")
	tabs.FailWith(boom)
	w := NewMirrorWorker(st, coll, tabs, nil)

	err := w.HandleRecordChanged(context.Background(), amqp.NewRecordChangedMessage(coll, "x", amqp.OpCreate, 2024, 0))
	assert.ErrorIs(t, err, boom)
}

func TestSyncAll(t *testing.T) {
	st := memory.New()
	seed(t, st, sale("Kofi", 2024, 1), sale("Yaw", 2023, 2), sale("Esi", 2021, 3))
	tabs := sheetsmem.New()
	w := NewMirrorWorker(st, coll, tabs, nil)

	require.NoError(t, w.SyncAll(context.Background()))
	assert.Equal(t, []int{2021, 2023, 2024}, tabs.Years())

	tabs.FailWith(errors.New("down"))
	assert.Error(t, w.SyncAll(context.Background()))
}

// blockingReader holds Load until released so concurrent SyncYear calls pile up.
type blockingReader struct {
	store.Reader
	mu      sync.Mutex
	loads   int
	release chan struct{}
}

func (b *blockingReader) Load(ctx context.Context, c string) (store.Snapshot, error) {
	b.mu.Lock()
	b.loads++
	b.mu.Unlock()
	<-b.release
	return b.Reader.Load(ctx, c)
}

func TestSyncYearCoalesces(t *testing.T) {
	st := memory.New()
	seed(t, st, sale("Kofi", 2024, 1))
	reader := &blockingReader{Reader: st, release: make(chan struct{})}
	tabs := sheetsmem.New()
	w := NewMirrorWorker(reader, coll, tabs, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.SyncYear(context.Background(), 2024))
		}()
	}

	// Give the callers time to join the first rebuild.
	time.Sleep(50 * time.Millisecond)
	close(reader.release)
	wg.Wait()

	reader.mu.Lock()
	loads := reader.loads
	reader.mu.Unlock()
	assert.Less(t, loads, 5)
	assert.Equal(t, loads, tabs.Writes())
}

// gatedReader is blockingReader that also honours ctx once released.
type gatedReader struct {
	blockingReader
}

func (g *gatedReader) Load(ctx context.Context, c string) (store.Snapshot, error) {
	snap, err := g.blockingReader.Load(ctx, c)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return store.Snapshot{}, ctxErr
	}
	return snap, err
}

func TestSyncYearSurvivesFirstCallerCancel(t *testing.T) {
	st := memory.New()
	seed(t, st, sale("Kofi", 2024, 1))
	reader := &gatedReader{blockingReader{Reader: st, release: make(chan struct{})}}
	tabs := sheetsmem.New()
	w := NewMirrorWorker(reader, coll, tabs, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- w.SyncYear(firstCtx, 2024) }()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return reader.loads == 1
	}, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- w.SyncYear(context.Background(), 2024) }()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	close(reader.release)

	assert.NoError(t, <-second)
	<-first

	rows, ok := tabs.Year(2024)
	require.True(t, ok)
	assert.Len(t, rows, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	st := memory.New()
	seed(t, st, sale("Kofi", 2024, 1))
	tabs := sheetsmem.New()
	w := NewMirrorWorker(st, coll, tabs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return tabs.Writes() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
