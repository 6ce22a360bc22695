/*
store.go - Persistence interfaces for accounts, ledger lines, payouts and charges

PURPOSE:
  Defines the interface between the payout engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  AccountStore:   Account reads, row locks and balance updates
  LedgerStore:    Append-only DEBIT/CREDIT lines
  PayoutStore:    Payout lifecycle persistence
  ChargeStore:    Pending charge lifecycle persistence
  Store:          All of the above, as seen inside or outside a unit of work
  TxStore:        Store plus WithTx for atomic multi-table writes
  DirectoryStore: Member/product/account upserts used by seeding and tests

APPEND-ONLY LEDGER:
  LedgerStore has no Update or Delete. Transactions are created in matched
  DEBIT/CREDIT pairs (or single debits for charges) and never touched again.

UNIQUENESS:
  CreatePayout must reject a second live payout for the same
  (account, payout type, period start, period end) with ErrDuplicatePayout.
  Every implementation enforces this at write time, so concurrent generators
  cannot create duplicates even if both pass FindPayoutForWindow.

LOCKING:
  Inside WithTx, LockAccount and GetPayout/GetCharge hold the row until the
  unit of work ends, where the backend supports row locks. Backends without
  row locks serialize the whole unit of work instead.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:     Embedded SQLite
  - store/postgres/postgres.go: PostgreSQL via lib/pq
  - payout/store/memory.go:     In-memory for testing

SEE ALSO:
  - ledger.go:    Uses AccountStore + LedgerStore inside a unit of work
  - processor.go: Owns the unit of work for settling a payout
*/
package payout

import (
	"context"
	"time"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountStore interface {
	// GetAccount returns ErrAccountNotFound (wrapped) when missing.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// LockAccount is GetAccount that, inside a unit of work, holds the row
	// for the rest of it.
	LockAccount(ctx context.Context, id string) (*Account, error)

	// UpdateAccountBalances writes the three balance fields of acct, provided
	// the stored version still equals acct.Version. The stored version is
	// incremented. A mismatch returns ErrConcurrentModification.
	UpdateAccountBalances(ctx context.Context, acct Account) error

	// ListEligibleAccounts returns active accounts of the given kind tied to
	// an active product of the same kind, ordered by account id.
	ListEligibleAccounts(ctx context.Context, tenantID string, kind AccountKind) ([]EligibleAccount, error)
}

// =============================================================================
// LEDGER - Append-only
// =============================================================================

type LedgerStore interface {
	// AppendTransactions persists all lines or none.
	AppendTransactions(ctx context.Context, txs []Transaction) error

	TransactionsByReference(ctx context.Context, reference string) ([]Transaction, error)

	// TransactionsByAccount returns lines oldest first.
	TransactionsByAccount(ctx context.Context, accountID string) ([]Transaction, error)
}

// =============================================================================
// PAYOUTS
// =============================================================================

type PayoutStore interface {
	// CreatePayout returns ErrDuplicatePayout when a live payout already
	// covers the same account, type and window.
	CreatePayout(ctx context.Context, p Payout) error

	// GetPayout returns soft-deleted rows too; callers check Deleted.
	GetPayout(ctx context.Context, id string) (*Payout, error)

	// FindPayoutForWindow returns the live payout for the key, or nil, nil.
	FindPayoutForWindow(ctx context.Context, accountID string, payoutType PayoutType, window AccrualWindow) (*Payout, error)

	// ListPayouts returns matches ordered by creation time, then insertion order.
	ListPayouts(ctx context.Context, filter PayoutFilter) ([]Payout, error)

	// UpdatePayout rewrites status, reference, remarks, deleted flag and
	// processing fields. Returns ErrPayoutNotFound when missing.
	UpdatePayout(ctx context.Context, p Payout) error

	// PayoutStatistics groups live payouts with from <= payout_date < to by
	// type and status.
	PayoutStatistics(ctx context.Context, tenantID string, from, to time.Time) ([]PayoutStat, error)
}

// =============================================================================
// PENDING CHARGES
// =============================================================================

type ChargeStore interface {
	CreateCharge(ctx context.Context, c PendingCharge) error
	GetCharge(ctx context.Context, id string) (*PendingCharge, error)

	// ListCharges returns matches oldest first.
	ListCharges(ctx context.Context, filter ChargeFilter) ([]PendingCharge, error)

	UpdateCharge(ctx context.Context, c PendingCharge) error
}

// =============================================================================
// COMPOSED STORES
// =============================================================================

// Store is everything the engine reads and writes.
type Store interface {
	AccountStore
	LedgerStore
	PayoutStore
	ChargeStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// DirectoryStore maintains the reference data the engine consumes. Member,
// product and account maintenance belongs to the wider back office; these
// upserts exist for seeding and tests.
type DirectoryStore interface {
	SaveMember(ctx context.Context, m Member) error
	SaveProduct(ctx context.Context, p Product) error
	SaveAccount(ctx context.Context, a Account) error
}

// Backend is a complete storage backend as wired by cmd/server.
type Backend interface {
	TxStore
	DirectoryStore

	// Reset deletes all data. Used by demo scenario loading.
	Reset(ctx context.Context) error
	Close() error
}
