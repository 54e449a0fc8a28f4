// Package dashboard owns the live view of the sales collection: the latest
// snapshot pushed by the store, the selected year and the projections derived
// from them.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"salesrecord/internal/cache"
	"salesrecord/internal/core"
	applog "salesrecord/internal/log"
	"salesrecord/internal/projection"
	"salesrecord/internal/store"
)

// ErrSubscriptionClosed is returned by Run when the store ends the
// subscription before the context is done.
var ErrSubscriptionClosed = errors.New("snapshot subscription closed")

// Update is delivered to watchers after every recomputation.
type Update struct {
	Revision uint64
	View     projection.View
}

type watcher struct {
	year int // 0 follows the selected year
	ch   chan Update
}

// Dashboard recomputes views whenever a snapshot arrives or the selected year
// changes. Recomputations run under one mutex and never overlap.
type Dashboard struct {
	sub        store.Subscriber
	collection string
	logger     *slog.Logger
	views      *cache.LRUCache[projection.View]
	now        func() time.Time

	mu       sync.RWMutex
	snap     store.Snapshot
	records  []core.SalesRecord
	selected int
	current  projection.View
	watchers map[*watcher]struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dashboard) { d.logger = l }
}

// WithCache replaces the default view cache.
func WithCache(c *cache.LRUCache[projection.View]) Option {
	return func(d *Dashboard) { d.views = c }
}

// WithClock sets the clock used to pick the default selected year.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) { d.now = now }
}

func New(sub store.Subscriber, collection string, opts ...Option) *Dashboard {
	d := &Dashboard{
		sub:        sub,
		collection: collection,
		logger:     slog.Default(),
		now:        time.Now,
		watchers:   make(map[*watcher]struct{}),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.views == nil {
		d.views = cache.NewLRUCache[projection.View](64, 10*time.Minute)
	}
	d.selected = d.now().Year()
	d.current = projection.Project(nil, d.selected)
	return d
}

// Views exposes the view cache so it can be registered with a cache.Manager.
func (d *Dashboard) Views() *cache.LRUCache[projection.View] {
	return d.views
}

// Run subscribes to the collection and applies snapshots until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	sub, err := d.sub.Subscribe(ctx, d.collection)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", d.collection, err)
	}
	defer sub.Unsubscribe()

	d.logger.Info("Dashboard subscribed", applog.FieldCollection, d.collection)
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Snapshots():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			d.Apply(snap)
		}
	}
}

// Apply replaces the collection with snap. Snapshots older than the one held
// are ignored.
func (d *Dashboard) Apply(snap store.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isReady() && snap.Revision < d.snap.Revision {
		return
	}
	d.snap = snap
	d.records = snap.List()
	d.readyOnce.Do(func() { close(d.ready) })
	d.current = d.viewLocked(d.selected)
	d.notifyLocked()

	d.logger.Debug("Snapshot applied",
		applog.FieldCollection, d.collection,
		applog.FieldRevision, snap.Revision,
		"records", len(d.records))
}

// SelectYear changes the selected year and returns the recomputed view.
func (d *Dashboard) SelectYear(year int) projection.View {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.selected = year
	d.current = d.viewLocked(year)
	d.notifyLocked()
	return d.current
}

// Current returns the view of the selected year and the revision it was
// computed from.
func (d *Dashboard) Current() (projection.View, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current, d.snap.Revision
}

// ViewFor returns the view of year without changing the selection.
func (d *Dashboard) ViewFor(year int) (projection.View, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewLocked(year), d.snap.Revision
}

// Record looks id up in the latest snapshot.
func (d *Dashboard) Record(id string) (core.SalesRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.snap.Records[id]
	return r, ok
}

// Ready is closed once the first snapshot has been applied.
func (d *Dashboard) Ready() <-chan struct{} {
	return d.ready
}

// Watch returns a channel receiving an Update after every recomputation,
// starting with the current state. year 0 follows the selected year. Only
// the latest undelivered update is kept. The returned func stops the watch.
func (d *Dashboard) Watch(year int) (<-chan Update, func()) {
	w := &watcher{year: year, ch: make(chan Update, 1)}

	d.mu.Lock()
	d.watchers[w] = struct{}{}
	if d.isReady() {
		w.ch <- d.updateLocked(w)
	}
	d.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.watchers, w)
			close(w.ch)
			d.mu.Unlock()
		})
	}
}

func (d *Dashboard) isReady() bool {
	select {
	case <-d.ready:
		return true
	default:
		return false
	}
}

func (d *Dashboard) viewLocked(year int) projection.View {
	if !d.isReady() {
		return projection.Project(d.records, year)
	}
	key := strconv.FormatUint(d.snap.Revision, 10) + ":" + strconv.Itoa(year)
	return d.views.GetOrCompute(key, func() projection.View {
		return projection.Project(d.records, year)
	})
}

func (d *Dashboard) updateLocked(w *watcher) Update {
	year := w.year
	if year == 0 {
		year = d.selected
	}
	return Update{Revision: d.snap.Revision, View: d.viewLocked(year)}
}

func (d *Dashboard) notifyLocked() {
	for w := range d.watchers {
		u := d.updateLocked(w)
		select {
		case <-w.ch:
		default:
		}
		w.ch <- u
	}
}
