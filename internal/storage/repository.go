package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"salesrecord/internal/core"
	"salesrecord/internal/store"

	_ "modernc.org/sqlite"
)

const defaultPollInterval = 2 * time.Second

// SQLiteRepository is a store.RecordStore backed by a SQLite file. Writes made
// by other processes are picked up by polling the per-collection revision
// counter that the schema triggers maintain.
type SQLiteRepository struct {
	db           *sql.DB
	hub          *store.Hub
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	pollers map[string]struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

func NewSQLiteRepository(dbPath string, pollInterval time.Duration) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &SQLiteRepository{
		db:           db,
		hub:          store.NewHub(),
		pollInterval: pollInterval,
		logger:       slog.Default().With("component", "sqlite_store"),
		pollers:      make(map[string]struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Close stops the pollers and closes the database.
func (r *SQLiteRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	return r.db.Close()
}

const selectColumns = `id, date, client_name, location, amount_on_invoice, amount_paid,
	carpenters_discount, marketers_discount, transport, installation, accessories,
	balance, year, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (core.SalesRecord, error) {
	var (
		r    core.SalesRecord
		date string
	)
	err := s.Scan(&r.ID, &date, &r.ClientName, &r.Location,
		&r.AmountOnInvoice, &r.AmountPaid, &r.CarpentersDiscount, &r.MarketersDiscount,
		&r.Transport, &r.Installation, &r.Accessories, &r.Balance, &r.Year, &r.CreatedAt)
	if err != nil {
		return core.SalesRecord{}, err
	}
	if r.Date, err = core.ParseDate(date); err != nil {
		return core.SalesRecord{}, fmt.Errorf("record %s: %w", r.ID, err)
	}
	return r, nil
}

func amountArgs(rec core.SalesRecord) []any {
	return []any{
		rec.AmountOnInvoice.String(), rec.AmountPaid.String(),
		rec.CarpentersDiscount.String(), rec.MarketersDiscount.String(),
		rec.Transport.String(), rec.Installation.String(), rec.Accessories.String(),
		rec.Balance.String(),
	}
}

// Load reads the collection and its revision in one transaction.
func (r *SQLiteRepository) Load(ctx context.Context, coll string) (store.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	rev, err := revision(ctx, tx, coll)
	if err != nil {
		return store.Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+selectColumns+` FROM sales_records WHERE collection = ?`, coll)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	snap := store.Snapshot{Revision: rev, Records: make(map[string]core.SalesRecord)}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("scan record: %w", err)
		}
		snap.Records[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, fmt.Errorf("iterate records: %w", err)
	}
	return snap, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func revision(ctx context.Context, q querier, coll string) (uint64, error) {
	var rev int64
	err := q.QueryRowContext(ctx, `SELECT revision FROM collection_revisions WHERE collection = ?`, coll).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return uint64(rev), nil
}

func (r *SQLiteRepository) Get(ctx context.Context, coll, id string) (core.SalesRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sales_records WHERE collection = ? AND id = ?`, coll, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SalesRecord{}, store.ErrNotFound
	}
	if err != nil {
		return core.SalesRecord{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, coll string, rec core.SalesRecord) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	rec.ID = id.String()
	if err := rec.Validate(); err != nil {
		return "", err
	}

	args := []any{coll, rec.ID, rec.Date.String(), rec.ClientName, rec.Location}
	args = append(args, amountArgs(rec)...)
	args = append(args, rec.Year, rec.CreatedAt)
	_, err = r.db.ExecContext(ctx, `INSERT INTO sales_records (
		collection, id, date, client_name, location, amount_on_invoice, amount_paid,
		carpenters_discount, marketers_discount, transport, installation, accessories,
		balance, year, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}

	slog.InfoContext(ctx, "Sales record saved to SQLite",
		"record_id", rec.ID,
		"collection", coll,
		"year", rec.Year)

	r.broadcast(ctx, coll)
	return rec.ID, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, coll, id string, rec core.SalesRecord) error {
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return err
	}

	args := []any{rec.Date.String(), rec.ClientName, rec.Location}
	args = append(args, amountArgs(rec)...)
	args = append(args, rec.Year, rec.CreatedAt, coll, id)
	res, err := r.db.ExecContext(ctx, `UPDATE sales_records SET
		date = ?, client_name = ?, location = ?, amount_on_invoice = ?, amount_paid = ?,
		carpenters_discount = ?, marketers_discount = ?, transport = ?, installation = ?,
		accessories = ?, balance = ?, year = ?, created_at = ?
	WHERE collection = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Sales record updated in SQLite", "record_id", id, "collection", coll)
	r.broadcast(ctx, coll)
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, coll, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sales_records WHERE collection = ? AND id = ?`, coll, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Sales record deleted from SQLite", "record_id", id, "collection", coll)
	r.broadcast(ctx, coll)
	return nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Subscribe delivers the current collection, then a new snapshot after every
// local write and every foreign write seen by the poller.
func (r *SQLiteRepository) Subscribe(ctx context.Context, coll string) (store.Subscription, error) {
	snap, err := r.Load(ctx, coll)
	if err != nil {
		return nil, err
	}
	sub := r.hub.Subscribe(ctx, coll, &snap)
	r.startPoller(coll, snap.Revision)
	return sub, nil
}

// broadcast publishes a fresh snapshot. The write already succeeded, so a
// failed reload is only logged; the poller catches up later.
func (r *SQLiteRepository) broadcast(ctx context.Context, coll string) {
	snap, err := r.Load(context.WithoutCancel(ctx), coll)
	if err != nil {
		r.logger.Warn("Failed to reload collection after write", "collection", coll, "error", err)
		return
	}
	r.hub.Publish(coll, snap)
}

func (r *SQLiteRepository) startPoller(coll string, seen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.pollers[coll]; ok {
		return
	}
	r.pollers[coll] = struct{}{}
	r.wg.Add(1)
	go r.poll(coll, seen)
}

func (r *SQLiteRepository) poll(coll string, seen uint64) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.pollInterval)
		rev, err := revision(ctx, r.db, coll)
		if err == nil && rev != seen {
			var snap store.Snapshot
			if snap, err = r.Load(ctx, coll); err == nil {
				seen = snap.Revision
				r.hub.Publish(coll, snap)
			}
		}
		cancel()
		if err != nil {
			r.logger.Warn("Revision poll failed", "collection", coll, "error", err)
		}
	}
}

var _ store.RecordStore = (*SQLiteRepository)(nil)
