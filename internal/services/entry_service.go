package services

import (
	"context"
	"log/slog"
	"time"

	"salesrecord/internal/amqp"
	"salesrecord/internal/core"
	applog "salesrecord/internal/log"
	"salesrecord/internal/store"
)

// RecordStore is the part of the store port the service writes through.
type RecordStore interface {
	store.Reader
	store.Writer
}

// ChangePublisher announces committed mutations. *amqp.Client implements it.
type ChangePublisher interface {
	PublishRecordChanged(ctx context.Context, msg *amqp.RecordChangedMessage) error
}

// EntryService turns form submissions into store writes. Validation happens
// before the store is touched; store failures come back as
// *core.PersistenceError and are never retried.
type EntryService struct {
	store      RecordStore
	collection string
	publisher  ChangePublisher
	now        func() time.Time
	locks      *keyLock
}

type Option func(*EntryService)

// WithPublisher enables change events after every successful mutation.
func WithPublisher(p ChangePublisher) Option {
	return func(s *EntryService) { s.publisher = p }
}

// WithClock sets the clock used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *EntryService) { s.now = now }
}

func NewEntryService(st RecordStore, collection string, opts ...Option) *EntryService {
	s := &EntryService{
		store:      st,
		collection: collection,
		now:        time.Now,
		locks:      newKeyLock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create normalizes in and stores it as a new record.
func (s *EntryService) Create(ctx context.Context, in core.FormInput) (core.SalesRecord, error) {
	rec, err := core.Normalize(in, nil)
	if err != nil {
		return core.SalesRecord{}, err
	}
	rec.CreatedAt = s.now().UnixMilli()

	id, err := s.store.Create(ctx, s.collection, rec)
	if err != nil {
		return core.SalesRecord{}, &core.PersistenceError{Op: applog.OpCreate, Err: err}
	}
	rec.ID = id

	s.logMutation(ctx, applog.OpCreate, rec)
	s.publish(ctx, amqp.NewRecordChangedMessage(s.collection, id, amqp.OpCreate, rec.Year, 0))
	return rec, nil
}

// Update replaces the record id with the normalized in, keeping its id and
// createdAt.
func (s *EntryService) Update(ctx context.Context, id string, in core.FormInput) (core.SalesRecord, error) {
	// Invalid input is rejected before the store is touched.
	if _, err := core.Normalize(in, nil); err != nil {
		return core.SalesRecord{}, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	prior, err := s.store.Get(ctx, s.collection, id)
	if err != nil {
		return core.SalesRecord{}, &core.PersistenceError{Op: applog.OpUpdate, ID: id, Err: err}
	}
	rec, err := core.Normalize(in, &prior)
	if err != nil {
		return core.SalesRecord{}, err
	}

	if err := s.store.Update(ctx, s.collection, id, rec); err != nil {
		return core.SalesRecord{}, &core.PersistenceError{Op: applog.OpUpdate, ID: id, Err: err}
	}

	s.logMutation(ctx, applog.OpUpdate, rec)
	s.publish(ctx, amqp.NewRecordChangedMessage(s.collection, id, amqp.OpUpdate, rec.Year, prior.Year))
	return rec, nil
}

// Delete removes the record id.
func (s *EntryService) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	prior, err := s.store.Get(ctx, s.collection, id)
	if err != nil {
		return &core.PersistenceError{Op: applog.OpDelete, ID: id, Err: err}
	}
	if err := s.store.Delete(ctx, s.collection, id); err != nil {
		return &core.PersistenceError{Op: applog.OpDelete, ID: id, Err: err}
	}

	s.logMutation(ctx, applog.OpDelete, prior)
	s.publish(ctx, amqp.NewRecordChangedMessage(s.collection, id, amqp.OpDelete, prior.Year, 0))
	return nil
}

func (s *EntryService) logMutation(ctx context.Context, op string, rec core.SalesRecord) {
	applog.LogRecordMutation(ctx, op, rec.ID, rec.Year, rec.ClientName,
		core.FormatAmount(rec.AmountOnInvoice), core.FormatAmount(rec.AmountPaid))
}

// publish never fails the mutation: the record is already committed.
func (s *EntryService) publish(ctx context.Context, msg *amqp.RecordChangedMessage) {
	if s.publisher == nil {
		return
	}
	// Publish even if the request was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := s.publisher.PublishRecordChanged(ctx, msg); err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to publish record changed message",
			slog.String(applog.FieldRecordID, msg.ID),
			slog.String(applog.FieldOperation, string(msg.Op)),
			slog.Any(applog.FieldError, err))
	}
}
