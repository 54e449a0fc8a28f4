package services

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
	"salesrecord/internal/store"
	"salesrecord/internal/store/memory"
)

const coll = "sales"

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.RecordChangedMessage
	err  error
}

func (p *recordingPublisher) PublishRecordChanged(_ context.Context, msg *amqp.RecordChangedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) sent() []*amqp.RecordChangedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.RecordChangedMessage(nil), p.msgs...)
}

// failingStore fails every write with err.
type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) Create(context.Context, string, core.SalesRecord) (string, error) {
	return "", f.err
}

func (f failingStore) Update(context.Context, string, string, core.SalesRecord) error {
	return f.err
}

func (f failingStore) Delete(context.Context, string, string) error {
	return f.err
}

func form(date, client, invoice, paid string) core.FormInput {
	return core.FormInput{
		Date:            core.FormValue(date),
		ClientName:      core.FormValue(client),
		Location:        "Takoradi",
		AmountOnInvoice: core.FormValue(invoice),
		AmountPaid:      core.FormValue(paid),
		Transport:       "abc",
	}
}

func newService(st RecordStore, pub *recordingPublisher) *EntryService {
	opts := []Option{WithClock(func() time.Time { return fixedNow })}
	if pub != nil {
		opts = append(opts, WithPublisher(pub))
	}
	return NewEntryService(st, coll, opts...)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	pub := &recordingPublisher{}
	svc := newService(st, pub)

	rec, err := svc.Create(ctx, form("2024-03-02", "Kofi", "1000", "600"))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, fixedNow.UnixMilli(), rec.CreatedAt)
	assert.Equal(t, 2024, rec.Year)
	assert.True(t, rec.Balance.Equal(decimal.NewFromInt(400)))
	assert.True(t, rec.Transport.IsZero())

	stored, err := st.Get(ctx, coll, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kofi", stored.ClientName)

	msgs := pub.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, amqp.OpCreate, msgs[0].Op)
	assert.Equal(t, rec.ID, msgs[0].ID)
	assert.Equal(t, 2024, msgs[0].Year)
}

func TestCreateValidationNeverReachesStore(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	pub := &recordingPublisher{}
	svc := newService(st, pub)

	_, err := svc.Create(ctx, form("", "", "abc", "10"))

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("date"))
	assert.True(t, verr.Has("clientName"))
	assert.True(t, verr.Has("amountOnInvoice"))

	snap, err := st.Load(ctx, coll)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Empty(t, pub.sent())
}

func TestUpdatePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	pub := &recordingPublisher{}
	svc := newService(st, pub)

	created, err := svc.Create(ctx, form("2023-12-30", "Kofi", "1000", "600"))
	require.NoError(t, err)

	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	updated, err := svc.Update(ctx, created.ID, form("2024-01-02", "Kofi Mensah", "1000", "1000"))
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 2024, updated.Year)
	assert.True(t, updated.Balance.IsZero())

	stored, err := st.Get(ctx, coll, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, stored.CreatedAt)
	assert.Equal(t, "Kofi Mensah", stored.ClientName)

	msgs := pub.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, amqp.OpUpdate, msgs[1].Op)
	assert.Equal(t, []int{2024, 2023}, msgs[1].Years())
}

func TestUpdateMissingRecord(t *testing.T) {
	svc := newService(memory.New(), nil)

	_, err := svc.Update(context.Background(), "nope", form("2024-01-02", "Ama", "10", "5"))

	var perr *core.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "update", perr.Op)
	assert.Equal(t, "nope", perr.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateValidationBeforeLookup(t *testing.T) {
	svc := newService(memory.New(), nil)

	_, err := svc.Update(context.Background(), "nope", form("2024-13-40", "Ama", "10", "5"))

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("date"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	pub := &recordingPublisher{}
	svc := newService(st, pub)

	rec, err := svc.Create(ctx, form("2022-05-05", "Yaw", "50", "0"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, rec.ID))
	_, err = st.Get(ctx, coll, rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	msgs := pub.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, amqp.OpDelete, msgs[1].Op)
	assert.Equal(t, 2022, msgs[1].Year)

	err = svc.Delete(ctx, rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreFailuresBecomePersistenceErrors(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	seeded, err := newService(base, nil).Create(ctx, form("2024-02-02", "Esi", "10", "1"))
	require.NoError(t, err)

	boom := errors.New("disk full")
	svc := newService(failingStore{Store: base, err: boom}, nil)

	_, err = svc.Create(ctx, form("2024-02-02", "Esi", "10", "1"))
	var perr *core.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create", perr.Op)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Update(ctx, seeded.ID, form("2024-02-02", "Esi", "10", "1"))
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "update", perr.Op)

	err = svc.Delete(ctx, seeded.ID)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "delete", perr.Op)
	assert.Equal(t, seeded.ID, perr.ID)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newService(memory.New(), pub)

	rec, err := svc.Create(context.Background(), form("2024-02-02", "Esi", "10", "1"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Len(t, pub.sent(), 1)
}

func TestConcurrentUpdatesSameRecord(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New(), nil)

	rec, err := svc.Create(ctx, form("2024-02-02", "Esi", "10", "1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Update(ctx, rec.ID, form("2024-02-02", "Esi", "10", "2"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, svc.locks.size())
}
