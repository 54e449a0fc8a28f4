// Package worker keeps the spreadsheet mirror in step with the record store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"salesrecord/internal/amqp"
	"salesrecord/internal/projection"
	"salesrecord/internal/sheets"
	"salesrecord/internal/store"
)

// MirrorWorker rebuilds a year's spreadsheet tab from the store whenever a
// record of that year changes. Concurrent rebuilds of one year share a single
// load and write.
type MirrorWorker struct {
	reader     store.Reader
	collection string
	writer     sheets.YearWriter
	group      singleflight.Group
	logger     *slog.Logger
}

func NewMirrorWorker(reader store.Reader, collection string, writer sheets.YearWriter, logger *slog.Logger) *MirrorWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorWorker{
		reader:     reader,
		collection: collection,
		writer:     writer,
		logger:     logger,
	}
}

// HandleRecordChanged rebuilds every year the change touched. Messages for
// other collections are acknowledged and ignored.
func (w *MirrorWorker) HandleRecordChanged(ctx context.Context, msg *amqp.RecordChangedMessage) error {
	if msg.Collection != "" && msg.Collection != w.collection {
		w.logger.DebugContext(ctx, "Ignoring change for other collection",
			"collection", msg.Collection,
			"record_id", msg.ID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing record changed message",
		"record_id", msg.ID,
		"operation", string(msg.Op),
		"years", msg.Years())

	for _, year := range msg.Years() {
		if err := w.SyncYear(ctx, year); err != nil {
			return err
		}
	}
	return nil
}

// SyncYear replaces the year's tab with the year's view of the current
// collection.
func (w *MirrorWorker) SyncYear(ctx context.Context, year int) error {
	_, err, shared := w.group.Do(strconv.Itoa(year), func() (any, error) {
		// The rebuild is shared; one caller going away must not fail the others.
		ctx := context.WithoutCancel(ctx)
		snap, err := w.reader.Load(ctx, w.collection)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", w.collection, err)
		}
		view := projection.Project(snap.List(), year)
		if err := w.writer.ReplaceYear(ctx, year, view.Filtered); err != nil {
			return nil, fmt.Errorf("mirror year %d: %w", year, err)
		}
		w.logger.InfoContext(ctx, "Year mirrored",
			"year", year,
			"revision", snap.Revision,
			"rows", len(view.Filtered))
		return nil, nil
	})
	if shared {
		w.logger.DebugContext(ctx, "Joined in-flight mirror rebuild", "year", year)
	}
	return err
}

// SyncAll mirrors every year present in the collection. It is the backup path
// for change events that were lost while the worker was down.
func (w *MirrorWorker) SyncAll(ctx context.Context) error {
	snap, err := w.reader.Load(ctx, w.collection)
	if err != nil {
		return fmt.Errorf("load %s: %w", w.collection, err)
	}
	years := projection.AvailableYears(snap.List())

	synced, failed := 0, 0
	for _, year := range years {
		if err := w.SyncYear(ctx, year); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mirror year", "year", year, "error", err)
			failed++
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "Full mirror completed",
		"years", len(years),
		"synced", synced,
		"errors", failed)
	if failed > 0 {
		return fmt.Errorf("mirror: %d of %d years failed", failed, len(years))
	}
	return nil
}

// Run performs a full mirror at startup and then every interval until ctx is
// done. Individual failures are logged and retried on the next tick.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	if err := w.SyncAll(ctx); err != nil && ctx.Err() == nil {
		w.logger.WarnContext(ctx, "Startup mirror incomplete", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.SyncAll(ctx); err != nil && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "Periodic mirror incomplete", "error", err)
			}
		}
	}
}
