/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements persistence for credit batches and purchase intents using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  credit.Store:        Prepaid hour batches with guarded decrements
  checkout.IntentStore: Idempotent purchase intents

OPTIMISTIC DECREMENTS:
  Hours are stored as canonical decimal strings (shopspring
  decimal.String()), so the compare-and-swap guard is a plain string
  equality in SQL:

    UPDATE credit_batches SET hours_remaining = ?
    WHERE id = ? AND hours_remaining = ?

  RowsAffected == 0 means another writer got there first; the whole
  transaction rolls back and the caller retries from a fresh read.

KEY TABLES:
  credit_batches:   Purchased hour batches; never deleted, only archived
  purchase_intents: One row per client intent token (idempotency)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/hours.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := credit.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - credit/store.go: Store interface definition
  - checkout/checkout.go: IntentStore interface definition
  - credit/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/limpahora/hours-engine/checkout"
	"github.com/limpahora/hours-engine/credit"
)

// Store implements credit.Store and checkout.IntentStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Credit batches (archived on expiry, never deleted)
	CREATE TABLE IF NOT EXISTS credit_batches (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		hours_purchased TEXT NOT NULL,
		hours_remaining TEXT NOT NULL,
		purchased_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		archived_at TEXT,
		created_at TEXT NOT NULL
	);

	-- FIFO redemption walks batches oldest-first per customer (hot path)
	CREATE INDEX IF NOT EXISTS idx_batches_customer_purchased
		ON credit_batches(customer_id, purchased_at ASC);

	-- Expiration sweep scans unarchived batches by expiry
	CREATE INDEX IF NOT EXISTS idx_batches_expiry
		ON credit_batches(expires_at) WHERE archived_at IS NULL;

	-- Purchase intents (one row per client intent token)
	CREATE TABLE IF NOT EXISTS purchase_intents (
		token TEXT PRIMARY KEY,
		purchase_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		hours TEXT NOT NULL,
		final_price TEXT NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		batch_id TEXT,
		provider_ref TEXT,
		failure_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intents_customer
		ON purchase_intents(customer_id);
	CREATE INDEX IF NOT EXISTS idx_intents_status
		ON purchase_intents(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CREDIT BATCH STORE (credit.Store interface)
// =============================================================================

// InsertBatch persists a new credit batch.
func (s *Store) InsertBatch(ctx context.Context, b credit.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertBatchTx(ctx, s.db, b)
}

func (s *Store) insertBatchTx(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, b credit.Batch) error {
	query := `
		INSERT INTO credit_batches
		(id, customer_id, hours_purchased, hours_remaining, purchased_at, expires_at, archived_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var archivedAt *string
	if b.ArchivedAt != nil {
		t := b.ArchivedAt.Format(time.RFC3339)
		archivedAt = &t
	}

	_, err := db.ExecContext(ctx, query,
		b.ID,
		b.CustomerID,
		b.HoursPurchased.String(),
		b.HoursRemaining.String(),
		b.PurchasedAt.Format(time.RFC3339),
		b.ExpiresAt.Format(time.RFC3339),
		archivedAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("batch %s already exists: %w", b.ID, err)
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch by ID. Returns credit.ErrBatchNotFound if absent.
func (s *Store) GetBatch(ctx context.Context, id string) (*credit.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, hours_purchased, hours_remaining, purchased_at, expires_at, archived_at
		FROM credit_batches
		WHERE id = ?
	`

	b, err := scanBatch(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, credit.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// BatchesByCustomer returns all batches for a customer, oldest purchase first.
func (s *Store) BatchesByCustomer(ctx context.Context, customerID string) ([]credit.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, customer_id, hours_purchased, hours_remaining, purchased_at, expires_at, archived_at
		FROM credit_batches
		WHERE customer_id = ?
		ORDER BY purchased_at ASC, created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []credit.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}

	return batches, rows.Err()
}

// ApplyDecrements applies a set of guarded decrements atomically.
// Every decrement carries the hours_remaining value the planner read;
// if any guard misses, nothing is applied and
// credit.ErrConcurrentModification is returned.
func (s *Store) ApplyDecrements(ctx context.Context, decs []credit.Decrement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		UPDATE credit_batches
		SET hours_remaining = ?
		WHERE id = ? AND hours_remaining = ?
	`

	for _, d := range decs {
		next := d.Expected.Sub(d.Hours)
		res, err := sqlTx.ExecContext(ctx, query,
			next.String(), d.BatchID, d.Expected.String())
		if err != nil {
			return fmt.Errorf("failed to decrement batch %s: %w", d.BatchID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return credit.ErrConcurrentModification
		}
	}

	return sqlTx.Commit()
}

// ArchiveExpired stamps archived_at on every unarchived batch whose
// expiry has passed. Returns the number of batches archived.
func (s *Store) ArchiveExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE credit_batches
		SET archived_at = ?
		WHERE archived_at IS NULL AND expires_at <= ?
	`

	res, err := s.db.ExecContext(ctx, query,
		now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to archive expired batches: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*credit.Batch, error) {
	var (
		b           credit.Batch
		purchased   string
		remaining   string
		purchasedAt string
		expiresAt   string
		archivedAt  sql.NullString
	)

	err := row.Scan(&b.ID, &b.CustomerID, &purchased, &remaining,
		&purchasedAt, &expiresAt, &archivedAt)
	if err != nil {
		return nil, err
	}

	b.HoursPurchased, err = decimal.NewFromString(purchased)
	if err != nil {
		return nil, fmt.Errorf("corrupt hours_purchased for batch %s: %w", b.ID, err)
	}
	b.HoursRemaining, err = decimal.NewFromString(remaining)
	if err != nil {
		return nil, fmt.Errorf("corrupt hours_remaining for batch %s: %w", b.ID, err)
	}

	b.PurchasedAt, _ = time.Parse(time.RFC3339, purchasedAt)
	b.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	if archivedAt.Valid {
		t, _ := time.Parse(time.RFC3339, archivedAt.String)
		b.ArchivedAt = &t
	}

	return &b, nil
}

// =============================================================================
// PURCHASE INTENT STORE (checkout.IntentStore interface)
// =============================================================================

// ClaimIntent registers the intent token for processing. If the token is
// new or belongs to a failed attempt, the caller owns it (claimed=true).
// A pending or completed token is returned as-is with claimed=false.
func (s *Store) ClaimIntent(ctx context.Context, intent checkout.Intent) (*checkout.Intent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	insert := `
		INSERT INTO purchase_intents
		(token, purchase_id, customer_id, hours, final_price, currency, method, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
	`

	_, err := s.db.ExecContext(ctx, insert,
		intent.Token, intent.PurchaseID, intent.CustomerID,
		intent.Hours.String(), intent.FinalPrice.String(),
		intent.Currency, string(intent.Method), now, now,
	)
	if err == nil {
		claimed, err := s.getIntent(ctx, intent.Token)
		return claimed, true, err
	}
	if !isUniqueConstraintError(err) {
		return nil, false, fmt.Errorf("failed to claim intent: %w", err)
	}

	// Token already exists. A failed attempt is re-claimed with the
	// fresh request's figures; anything else is returned untouched.
	reclaim := `
		UPDATE purchase_intents
		SET purchase_id = ?, hours = ?, final_price = ?, currency = ?, method = ?,
		    status = 'pending', failure_reason = '', updated_at = ?
		WHERE token = ? AND status = 'failed'
	`

	res, err := s.db.ExecContext(ctx, reclaim,
		intent.PurchaseID, intent.Hours.String(), intent.FinalPrice.String(),
		intent.Currency, string(intent.Method), now, intent.Token,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reclaim intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	existing, gerr := s.getIntent(ctx, intent.Token)
	if gerr != nil {
		return nil, false, gerr
	}
	return existing, n > 0, nil
}

// GetIntent retrieves an intent by token. Returns nil if absent.
func (s *Store) GetIntent(ctx context.Context, token string) (*checkout.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getIntent(ctx, token)
}

func (s *Store) getIntent(ctx context.Context, token string) (*checkout.Intent, error) {
	query := `
		SELECT token, purchase_id, customer_id, hours, final_price, currency, method,
		       status, batch_id, provider_ref, failure_reason, created_at, updated_at
		FROM purchase_intents
		WHERE token = ?
	`

	var (
		in          checkout.Intent
		hours       string
		finalPrice  string
		method      string
		status      string
		batchID     sql.NullString
		providerRef sql.NullString
		failure     sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&in.Token, &in.PurchaseID, &in.CustomerID, &hours, &finalPrice,
		&in.Currency, &method, &status, &batchID, &providerRef, &failure,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query intent: %w", err)
	}

	in.Hours, err = decimal.NewFromString(hours)
	if err != nil {
		return nil, fmt.Errorf("corrupt hours for intent %s: %w", token, err)
	}
	in.FinalPrice, err = decimal.NewFromString(finalPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt final_price for intent %s: %w", token, err)
	}

	in.Method = checkout.Method(method)
	in.Status = checkout.IntentStatus(status)
	in.BatchID = batchID.String
	in.ProviderRef = providerRef.String
	in.FailureReason = failure.String
	in.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	in.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &in, nil
}

// CompleteIntent inserts the credit batch and marks the intent completed
// in a single transaction. A crash between charge and completion leaves
// the intent pending; the batch only exists if the intent says so.
func (s *Store) CompleteIntent(ctx context.Context, token string, batch credit.Batch, providerRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.insertBatchTx(ctx, sqlTx, batch); err != nil {
		return err
	}

	update := `
		UPDATE purchase_intents
		SET status = 'completed', batch_id = ?, provider_ref = ?, updated_at = ?
		WHERE token = ? AND status = 'pending'
	`

	res, err := sqlTx.ExecContext(ctx, update,
		batch.ID, providerRef, time.Now().UTC().Format(time.RFC3339), token)
	if err != nil {
		return fmt.Errorf("failed to complete intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("complete intent %s: not pending", token)
	}

	return sqlTx.Commit()
}

// FailIntent marks a pending intent as failed with the given reason.
func (s *Store) FailIntent(ctx context.Context, token string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := `
		UPDATE purchase_intents
		SET status = 'failed', failure_reason = ?, updated_at = ?
		WHERE token = ? AND status = 'pending'
	`

	res, err := s.db.ExecContext(ctx, update,
		reason, time.Now().UTC().Format(time.RFC3339), token)
	if err != nil {
		return fmt.Errorf("failed to fail intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("fail intent %s: not pending", token)
	}

	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"credit_batches", "purchase_intents"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
