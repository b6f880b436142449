package store

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Sessions() Sessions
	Ledger() Ledger

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Sessions interface {
	// GetSession returns the stored session for an account, or ErrNotFound
	// when no session has ever been persisted.
	GetSession(ctx context.Context, account string) (domain.Session, error)

	// PutSession inserts or atomically replaces the session for an account.
	// At most one session per account exists at any time.
	PutSession(ctx context.Context, account string, s domain.Session) error

	// DeleteSession drops the stored session (e.g. when the storefront
	// revoked it and a fresh login is required).
	DeleteSession(ctx context.Context, account string) error
}

type Ledger interface {
	// AddEntry records that an item was claimed. Inserting an id that is
	// already present is a no-op: the ledger is append-only and
	// set-valued by item id.
	AddEntry(ctx context.Context, account string, e domain.LedgerEntry) error

	// HasEntry reports whether the item id has already been claimed.
	HasEntry(ctx context.Context, account, itemID string) (bool, error)

	// ListEntries returns all ledger entries for an account, oldest first.
	ListEntries(ctx context.Context, account string) ([]domain.LedgerEntry, error)

	// CountEntries returns the number of claimed items for an account.
	CountEntries(ctx context.Context, account string) (int, error)
}
