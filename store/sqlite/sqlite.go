/*
Package sqlite provides a SQLite-backed implementation of the payout storage interfaces.

PURPOSE:
  Implements payout.TxStore and payout.DirectoryStore on an embedded SQLite
  database. Used for local runs, demos and API tests (":memory:").

INTERFACES IMPLEMENTED:
  payout.Store:          Accounts, ledger lines, payouts, pending charges
  payout.TxStore:        WithTx unit of work
  payout.DirectoryStore: Member/product/account upserts

APPEND-ONLY LEDGER:
  No UPDATE or DELETE statement touches the transactions table.

KEY TABLES:
  members, products, accounts: Reference data the engine reads
  transactions:                Immutable DEBIT/CREDIT lines
  payouts:                     Interest obligations and their lifecycle
  pending_charges:             Fees owed by members

INDEXES:
  - idx_payouts_live_window: UNIQUE (account_id, payout_type, period_start, period_end)
    over non-deleted rows. Closes the generate-twice race; a violation
    surfaces as payout.ErrDuplicatePayout.
  - idx_payouts_tenant_status: Pending scans, listing
  - idx_transactions_reference / idx_transactions_account: Ledger lookups

STORAGE FORMATS:
  Money is TEXT holding the exact decimal. Timestamps are fixed-width UTC
  TEXT so they compare and sort correctly; window boundaries are YYYY-MM-DD.

CONCURRENCY:
  SQLite has no row locks. A store-wide sync.RWMutex is held for every call
  and for the whole of a WithTx unit of work, and the pool is limited to one
  connection so ":memory:" databases are shared by every call.

USAGE:
  store, err := sqlite.New("./data/sacco.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - payout/store.go:           Interface definitions
  - store/postgres/postgres.go: Row-locking production store
  - payout/store/memory.go:    In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/sacco-engine/payout"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
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
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		member_number TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE'
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		interest_rate TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		member_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		available_balance TEXT NOT NULL DEFAULT '0',
		debit_balance TEXT NOT NULL DEFAULT '0',
		credit_balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_tenant_kind
		ON accounts(tenant_id, kind, status);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		reference_number TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		entry_type TEXT NOT NULL CHECK (entry_type IN ('DEBIT', 'CREDIT')),
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_number);
	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, created_at);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		payout_type TEXT NOT NULL,
		payout_category TEXT NOT NULL,
		account_id TEXT NOT NULL,
		member_id TEXT NOT NULL DEFAULT '',
		principal_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		calculation_period TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		payout_date TEXT NOT NULL,
		status TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		transaction_reference TEXT NOT NULL DEFAULT '',
		remarks TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		processed_by TEXT NOT NULL DEFAULT '',
		processed_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- At most one live payout per account, type and accrual window
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_live_window
		ON payouts(account_id, payout_type, period_start, period_end)
		WHERE deleted = 0;
	CREATE INDEX IF NOT EXISTS idx_payouts_tenant_status
		ON payouts(tenant_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_payouts_payout_date
		ON payouts(tenant_id, payout_date);

	CREATE TABLE IF NOT EXISTS pending_charges (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		member_id TEXT NOT NULL DEFAULT '',
		charge_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_reference TEXT NOT NULL DEFAULT '',
		remarks TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		processed_by TEXT NOT NULL DEFAULT '',
		processed_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_charges_member
		ON pending_charges(member_id, status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORE METHODS - Lock, then delegate to the shared queries
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id string) (*payout.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetAccount(ctx, id)
}

func (s *Store) LockAccount(ctx context.Context, id string) (*payout.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s *Store) UpdateAccountBalances(ctx context.Context, acct payout.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateAccountBalances(ctx, acct)
}

func (s *Store) ListEligibleAccounts(ctx context.Context, tenantID string, kind payout.AccountKind) ([]payout.EligibleAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListEligibleAccounts(ctx, tenantID, kind)
}

func (s *Store) AppendTransactions(ctx context.Context, txs []payout.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{db: sqlTx}).AppendTransactions(ctx, txs); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) TransactionsByReference(ctx context.Context, reference string) ([]payout.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.TransactionsByReference(ctx, reference)
}

func (s *Store) TransactionsByAccount(ctx context.Context, accountID string) ([]payout.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.TransactionsByAccount(ctx, accountID)
}

func (s *Store) CreatePayout(ctx context.Context, p payout.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreatePayout(ctx, p)
}

func (s *Store) GetPayout(ctx context.Context, id string) (*payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetPayout(ctx, id)
}

func (s *Store) FindPayoutForWindow(ctx context.Context, accountID string, payoutType payout.PayoutType, window payout.AccrualWindow) (*payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.FindPayoutForWindow(ctx, accountID, payoutType, window)
}

func (s *Store) ListPayouts(ctx context.Context, filter payout.PayoutFilter) ([]payout.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListPayouts(ctx, filter)
}

func (s *Store) UpdatePayout(ctx context.Context, p payout.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdatePayout(ctx, p)
}

func (s *Store) PayoutStatistics(ctx context.Context, tenantID string, from, to time.Time) ([]payout.PayoutStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.PayoutStatistics(ctx, tenantID, from, to)
}

func (s *Store) CreateCharge(ctx context.Context, c payout.PendingCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.CreateCharge(ctx, c)
}

func (s *Store) GetCharge(ctx context.Context, id string) (*payout.PendingCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetCharge(ctx, id)
}

func (s *Store) ListCharges(ctx context.Context, filter payout.ChargeFilter) ([]payout.PendingCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListCharges(ctx, filter)
}

func (s *Store) UpdateCharge(ctx context.Context, c payout.PendingCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateCharge(ctx, c)
}

// =============================================================================
// TRANSACTIONAL STORE (payout.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store lock
// is held until commit or rollback, and fn sees only the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payout.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// DIRECTORY STORE
// =============================================================================

// SaveMember creates or updates a member.
func (s *Store) SaveMember(ctx context.Context, m payout.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, tenant_id, member_number, name, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			member_number = excluded.member_number,
			name = excluded.name,
			status = excluded.status
	`, m.ID, m.TenantID, m.MemberNumber, m.Name, m.Status)
	return err
}


// SaveProduct creates or updates a product.
func (s *Store) SaveProduct(ctx context.Context, p payout.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, kind, interest_rate, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			kind = excluded.kind,
			interest_rate = excluded.interest_rate,
			status = excluded.status
	`, p.ID, p.TenantID, p.Name, p.Kind, p.InterestRate.String(), p.Status)
	return err
}


// SaveAccount creates or replaces an account, balances and version included.
func (s *Store) SaveAccount(ctx context.Context, a payout.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, tenant_id, member_id, kind, product_id, status,
			available_balance, debit_balance, credit_balance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			member_id = excluded.member_id,
			kind = excluded.kind,
			product_id = excluded.product_id,
			status = excluded.status,
			available_balance = excluded.available_balance,
			debit_balance = excluded.debit_balance,
			credit_balance = excluded.credit_balance,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, a.ID, a.TenantID, a.MemberID, a.Kind, a.ProductID, a.Status,
		a.AvailableBalance.String(), a.DebitBalance.String(), a.CreditBalance.String(),
		a.Version, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "pending_charges", "payouts", "accounts", "products", "members"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - payout.Store over a *sql.DB or a *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds no lock; Store takes it before calling in.
type queries struct {
	db querier
}

type scanner interface {
	Scan(dest ...any) error
}

// ===== ACCOUNTS =====

const accountColumns = `a.id, a.tenant_id, a.member_id, a.kind, a.product_id, a.status,
	a.available_balance, a.debit_balance, a.credit_balance, a.version, a.created_at, a.updated_at`

func (q queries) GetAccount(ctx context.Context, id string) (*payout.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.id = ?`, id)
	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// LockAccount reads the row. The store lock already serializes the unit of work.
func (q queries) LockAccount(ctx context.Context, id string) (*payout.Account, error) {
	return q.GetAccount(ctx, id)
}

func (q queries) UpdateAccountBalances(ctx context.Context, acct payout.Account) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE accounts
		SET available_balance = ?, debit_balance = ?, credit_balance = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, acct.AvailableBalance.String(), acct.DebitBalance.String(), acct.CreditBalance.String(),
		formatTime(time.Now()), acct.ID, acct.Version)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", acct.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := q.GetAccount(ctx, acct.ID); err != nil {
		return err
	}
	return fmt.Errorf("%w: account %s version %d", payout.ErrConcurrentModification, acct.ID, acct.Version)
}

func (q queries) ListEligibleAccounts(ctx context.Context, tenantID string, kind payout.AccountKind) ([]payout.EligibleAccount, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+accountColumns+`,
			p.id, p.tenant_id, p.name, p.kind, p.interest_rate, p.status,
			m.id, m.tenant_id, m.member_number, m.name, m.status
		FROM accounts a
		JOIN products p ON p.id = a.product_id
		JOIN members m ON m.id = a.member_id
		WHERE a.tenant_id = ? AND a.kind = ? AND a.status = ?
		  AND p.kind = ? AND p.status = ?
		ORDER BY a.id
	`, tenantID, kind, payout.AccountActive, kind, payout.ProductActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible accounts: %w", err)
	}
	defer rows.Close()

	var result []payout.EligibleAccount
	for rows.Next() {
		var (
			ea                                               payout.EligibleAccount
			avail, debit, credit, rate, createdAt, updatedAt string
		)
		a := &ea.Account
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.MemberID, &a.Kind, &a.ProductID, &a.Status,
			&avail, &debit, &credit, &a.Version, &createdAt, &updatedAt,
			&ea.Product.ID, &ea.Product.TenantID, &ea.Product.Name, &ea.Product.Kind, &rate, &ea.Product.Status,
			&ea.Member.ID, &ea.Member.TenantID, &ea.Member.MemberNumber, &ea.Member.Name, &ea.Member.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan eligible account: %w", err)
		}
		if err := fillAccount(a, avail, debit, credit, createdAt, updatedAt); err != nil {
			return nil, err
		}
		if ea.Product.InterestRate, err = parseDecimal(rate); err != nil {
			return nil, err
		}
		result = append(result, ea)
	}
	return result, rows.Err()
}

func scanAccount(row scanner) (payout.Account, error) {
	var (
		a                                          payout.Account
		avail, debit, credit, createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.MemberID, &a.Kind, &a.ProductID, &a.Status,
		&avail, &debit, &credit, &a.Version, &createdAt, &updatedAt); err != nil {
		return a, err
	}
	err := fillAccount(&a, avail, debit, credit, createdAt, updatedAt)
	return a, err
}

func fillAccount(a *payout.Account, avail, debit, credit, createdAt, updatedAt string) error {
	var err error
	if a.AvailableBalance, err = parseDecimal(avail); err != nil {
		return err
	}
	if a.DebitBalance, err = parseDecimal(debit); err != nil {
		return err
	}
	if a.CreditBalance, err = parseDecimal(credit); err != nil {
		return err
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return nil
}

// ===== LEDGER =====

func (q queries) AppendTransactions(ctx context.Context, txs []payout.Transaction) error {
	for _, tx := range txs {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO transactions (id, reference_number, tenant_id, account_id, entry_type,
				amount, status, remarks, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tx.ID, tx.ReferenceNumber, tx.TenantID, tx.AccountID, tx.EntryType,
			tx.Amount.String(), tx.Status, tx.Remarks, tx.CreatedBy, formatTime(tx.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
	}
	return nil
}

const transactionColumns = `id, reference_number, tenant_id, account_id, entry_type,
	amount, status, remarks, created_by, created_at`

func (q queries) TransactionsByReference(ctx context.Context, reference string) ([]payout.Transaction, error) {
	return q.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE reference_number = ? ORDER BY rowid`, reference)
}

func (q queries) TransactionsByAccount(ctx context.Context, accountID string) ([]payout.Transaction, error) {
	return q.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? ORDER BY created_at, rowid`, accountID)
}

func (q queries) queryTransactions(ctx context.Context, query string, args ...any) ([]payout.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []payout.Transaction
	for rows.Next() {
		var (
			tx                payout.Transaction
			amount, createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.ReferenceNumber, &tx.TenantID, &tx.AccountID, &tx.EntryType,
			&amount, &tx.Status, &tx.Remarks, &tx.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		tx.CreatedAt = parseTime(createdAt)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// ===== PAYOUTS =====

const payoutColumns = `id, tenant_id, payout_type, payout_category, account_id, member_id,
	principal_amount, interest_rate, calculation_period, period_start, period_end, payout_date,
	status, interest_amount, transaction_reference, remarks, deleted,
	created_by, created_at, processed_by, processed_at, updated_at`

func (q queries) CreatePayout(ctx context.Context, p payout.Payout) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payouts (`+payoutColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.TenantID, p.PayoutType, p.PayoutCategory, p.AccountID, p.MemberID,
		p.PrincipalAmount.String(), p.InterestRate.String(), p.CalculationPeriod,
		formatDate(p.PeriodStart), formatDate(p.PeriodEnd), formatTime(p.PayoutDate),
		p.Status, p.InterestAmount.String(), p.TransactionReference, p.Remarks, p.Deleted,
		p.CreatedBy, formatTime(p.CreatedAt), p.ProcessedBy, formatTimePtr(p.ProcessedAt), formatTime(p.UpdatedAt))
	if err != nil {
		if isLiveWindowViolation(err) {
			return fmt.Errorf("%w: account %s, %s %s", payout.ErrDuplicatePayout, p.AccountID, p.PayoutType, p.Window())
		}
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

func (q queries) GetPayout(ctx context.Context, id string) (*payout.Payout, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id)
	p, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrPayoutNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) FindPayoutForWindow(ctx context.Context, accountID string, payoutType payout.PayoutType, window payout.AccrualWindow) (*payout.Payout, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE account_id = ? AND payout_type = ? AND period_start = ? AND period_end = ? AND deleted = 0
	`, accountID, payoutType, formatDate(window.Start), formatDate(window.End))
	p, err := scanPayout(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) ListPayouts(ctx context.Context, filter payout.PayoutFilter) ([]payout.Payout, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != "" && filter.TenantID != payout.AllTenants {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted = 0")
	}

	query := `SELECT ` + payoutColumns + ` FROM payouts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []payout.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func (q queries) UpdatePayout(ctx context.Context, p payout.Payout) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payouts
		SET status = ?, transaction_reference = ?, remarks = ?, deleted = ?,
			processed_by = ?, processed_at = ?, updated_at = ?
		WHERE id = ?
	`, p.Status, p.TransactionReference, p.Remarks, p.Deleted,
		p.ProcessedBy, formatTimePtr(p.ProcessedAt), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payout %s: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", payout.ErrPayoutNotFound, p.ID)
	}
	return nil
}

// PayoutStatistics sums in Go: amounts are TEXT and SQLite's SUM would go
// through floating point.
func (q queries) PayoutStatistics(ctx context.Context, tenantID string, from, to time.Time) ([]payout.PayoutStat, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT payout_type, status, interest_amount, principal_amount
		FROM payouts
		WHERE tenant_id = ? AND deleted = 0 AND payout_date >= ? AND payout_date < ?
	`, tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query payout statistics: %w", err)
	}
	defer rows.Close()

	type key struct {
		payoutType payout.PayoutType
		status     payout.Status
	}
	groups := make(map[key]*payout.PayoutStat)
	for rows.Next() {
		var (
			k                   key
			interest, principal string
		)
		if err := rows.Scan(&k.payoutType, &k.status, &interest, &principal); err != nil {
			return nil, err
		}
		i, err := parseDecimal(interest)
		if err != nil {
			return nil, err
		}
		pr, err := parseDecimal(principal)
		if err != nil {
			return nil, err
		}
		g, ok := groups[k]
		if !ok {
			g = &payout.PayoutStat{PayoutType: k.payoutType, Status: k.status, TotalInterest: decimal.Zero, TotalPrincipal: decimal.Zero}
			groups[k] = g
		}
		g.Count++
		g.TotalInterest = g.TotalInterest.Add(i)
		g.TotalPrincipal = g.TotalPrincipal.Add(pr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]payout.PayoutStat, 0, len(groups))
	for _, g := range groups {
		stats = append(stats, *g)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].PayoutType != stats[j].PayoutType {
			return stats[i].PayoutType < stats[j].PayoutType
		}
		return stats[i].Status < stats[j].Status
	})
	return stats, nil
}

func scanPayout(row scanner) (payout.Payout, error) {
	var (
		p                                  payout.Payout
		principal, rate, interest          string
		periodStart, periodEnd, payoutDate string
		createdAt, updatedAt               string
		processedAt                        sql.NullString
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.PayoutType, &p.PayoutCategory, &p.AccountID, &p.MemberID,
		&principal, &rate, &p.CalculationPeriod, &periodStart, &periodEnd, &payoutDate,
		&p.Status, &interest, &p.TransactionReference, &p.Remarks, &p.Deleted,
		&p.CreatedBy, &createdAt, &p.ProcessedBy, &processedAt, &updatedAt)
	if err != nil {
		return p, err
	}
	if p.PrincipalAmount, err = parseDecimal(principal); err != nil {
		return p, err
	}
	if p.InterestRate, err = parseDecimal(rate); err != nil {
		return p, err
	}
	if p.InterestAmount, err = parseDecimal(interest); err != nil {
		return p, err
	}
	p.PeriodStart = parseDate(periodStart)
	p.PeriodEnd = parseDate(periodEnd)
	p.PayoutDate = parseTime(payoutDate)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.ProcessedAt = parseTimePtr(processedAt)
	return p, nil
}

// ===== CHARGES =====

const chargeColumns = `id, tenant_id, account_id, member_id, charge_type, description, amount,
	status, transaction_reference, remarks, created_by, created_at, processed_by, processed_at, updated_at`

func (q queries) CreateCharge(ctx context.Context, c payout.PendingCharge) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_charges (`+chargeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TenantID, c.AccountID, c.MemberID, c.ChargeType, c.Description, c.Amount.String(),
		c.Status, c.TransactionReference, c.Remarks, c.CreatedBy, formatTime(c.CreatedAt),
		c.ProcessedBy, formatTimePtr(c.ProcessedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create pending charge: %w", err)
	}
	return nil
}

func (q queries) GetCharge(ctx context.Context, id string) (*payout.PendingCharge, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM pending_charges WHERE id = ?`, id)
	c, err := scanCharge(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payout.ErrChargeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q queries) ListCharges(ctx context.Context, filter payout.ChargeFilter) ([]payout.PendingCharge, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != "" && filter.TenantID != payout.AllTenants {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + chargeColumns + ` FROM pending_charges`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending charges: %w", err)
	}
	defer rows.Close()

	var charges []payout.PendingCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func (q queries) UpdateCharge(ctx context.Context, c payout.PendingCharge) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_charges
		SET status = ?, transaction_reference = ?, remarks = ?,
			processed_by = ?, processed_at = ?, updated_at = ?
		WHERE id = ?
	`, c.Status, c.TransactionReference, c.Remarks,
		c.ProcessedBy, formatTimePtr(c.ProcessedAt), formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update pending charge %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", payout.ErrChargeNotFound, c.ID)
	}
	return nil
}

func scanCharge(row scanner) (payout.PendingCharge, error) {
	var (
		c                    payout.PendingCharge
		amount               string
		createdAt, updatedAt string
		processedAt          sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.AccountID, &c.MemberID, &c.ChargeType, &c.Description, &amount,
		&c.Status, &c.TransactionReference, &c.Remarks, &c.CreatedBy, &createdAt,
		&c.ProcessedBy, &processedAt, &updatedAt)
	if err != nil {
		return c, err
	}
	if c.Amount, err = parseDecimal(amount); err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.ProcessedAt = parseTimePtr(processedAt)
	return c, nil
}

// Helper functions

// timeLayout is fixed-width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(t time.Time) string {
	return t.UTC().Format(payout.DateLayout)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(payout.DateLayout, s)
	return t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// isLiveWindowViolation reports a unique violation of idx_payouts_live_window.
// SQLite names the indexed columns, not the index, in the message.
func isLiveWindowViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(sqliteErr.Error(), "payouts.account_id")
}
