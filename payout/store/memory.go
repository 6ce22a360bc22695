// Package store provides an in-memory payout.TxStore for tests and local runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/sacco-engine/payout"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

// state holds the data. Its methods assume the caller holds the lock.
type state struct {
	members      map[string]payout.Member
	products     map[string]payout.Product
	accounts     map[string]payout.Account
	transactions []payout.Transaction
	payouts      map[string]payout.Payout
	charges      map[string]payout.PendingCharge
	seqOf        map[string]int64 // insertion order of payouts and charges
	seq          int64
}

func newState() *state {
	return &state{
		members:  make(map[string]payout.Member),
		products: make(map[string]payout.Product),
		accounts: make(map[string]payout.Account),
		payouts:  make(map[string]payout.Payout),
		charges:  make(map[string]payout.PendingCharge),
		seqOf:    make(map[string]int64),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) Close() error { return nil }

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// ===== ACCOUNTS =====

func (m *Memory) GetAccount(_ context.Context, id string) (*payout.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getAccount(id)
}

func (m *Memory) LockAccount(ctx context.Context, id string) (*payout.Account, error) {
	return m.GetAccount(ctx, id)
}

func (m *Memory) UpdateAccountBalances(_ context.Context, acct payout.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateAccountBalances(acct)
}

func (m *Memory) ListEligibleAccounts(_ context.Context, tenantID string, kind payout.AccountKind) ([]payout.EligibleAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listEligibleAccounts(tenantID, kind), nil
}

// ===== LEDGER =====

func (m *Memory) AppendTransactions(_ context.Context, txs []payout.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.appendTransactions(txs)
	return nil
}

func (m *Memory) TransactionsByReference(_ context.Context, reference string) ([]payout.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.transactionsWhere(func(t payout.Transaction) bool { return t.ReferenceNumber == reference }), nil
}

func (m *Memory) TransactionsByAccount(_ context.Context, accountID string) ([]payout.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.transactionsWhere(func(t payout.Transaction) bool { return t.AccountID == accountID }), nil
}

// ===== PAYOUTS =====

func (m *Memory) CreatePayout(_ context.Context, p payout.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createPayout(p)
}

func (m *Memory) GetPayout(_ context.Context, id string) (*payout.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getPayout(id)
}

func (m *Memory) FindPayoutForWindow(_ context.Context, accountID string, payoutType payout.PayoutType, window payout.AccrualWindow) (*payout.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findPayoutForWindow(accountID, payoutType, window), nil
}

func (m *Memory) ListPayouts(_ context.Context, filter payout.PayoutFilter) ([]payout.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPayouts(filter), nil
}

func (m *Memory) UpdatePayout(_ context.Context, p payout.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updatePayout(p)
}

func (m *Memory) PayoutStatistics(_ context.Context, tenantID string, from, to time.Time) ([]payout.PayoutStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.payoutStatistics(tenantID, from, to), nil
}

// ===== CHARGES =====

func (m *Memory) CreateCharge(_ context.Context, c payout.PendingCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createCharge(c)
}

func (m *Memory) GetCharge(_ context.Context, id string) (*payout.PendingCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getCharge(id)
}

func (m *Memory) ListCharges(_ context.Context, filter payout.ChargeFilter) ([]payout.PendingCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listCharges(filter), nil
}

func (m *Memory) UpdateCharge(_ context.Context, c payout.PendingCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateCharge(c)
}

// ===== DIRECTORY =====

func (m *Memory) SaveMember(_ context.Context, mem payout.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.members[mem.ID] = mem
	return nil
}


func (m *Memory) SaveProduct(_ context.Context, p payout.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.products[p.ID] = p
	return nil
}


func (m *Memory) SaveAccount(_ context.Context, a payout.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.accounts[a.ID] = a
	return nil
}

// =============================================================================
// STATE OPERATIONS - Caller holds the lock
// =============================================================================

func (s *state) getAccount(id string) (*payout.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrAccountNotFound, id)
	}
	return &a, nil
}

func (s *state) updateAccountBalances(acct payout.Account) error {
	stored, ok := s.accounts[acct.ID]
	if !ok {
		return fmt.Errorf("%w: %s", payout.ErrAccountNotFound, acct.ID)
	}
	if stored.Version != acct.Version {
		return fmt.Errorf("%w: account %s at version %d, expected %d",
			payout.ErrConcurrentModification, acct.ID, stored.Version, acct.Version)
	}
	stored.AvailableBalance = acct.AvailableBalance
	stored.DebitBalance = acct.DebitBalance
	stored.CreditBalance = acct.CreditBalance
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	s.accounts[acct.ID] = stored
	return nil
}

func (s *state) listEligibleAccounts(tenantID string, kind payout.AccountKind) []payout.EligibleAccount {
	var result []payout.EligibleAccount
	for _, a := range s.accounts {
		if a.TenantID != tenantID || a.Kind != kind || a.Status != payout.AccountActive {
			continue
		}
		prod, ok := s.products[a.ProductID]
		if !ok || prod.Kind != kind || prod.Status != payout.ProductActive {
			continue
		}
		mem, ok := s.members[a.MemberID]
		if !ok {
			continue
		}
		result = append(result, payout.EligibleAccount{Account: a, Product: prod, Member: mem})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Account.ID < result[j].Account.ID })
	return result
}

func (s *state) appendTransactions(txs []payout.Transaction) {
	s.transactions = append(s.transactions, txs...)
}

func (s *state) transactionsWhere(match func(payout.Transaction) bool) []payout.Transaction {
	var result []payout.Transaction
	for _, t := range s.transactions {
		if match(t) {
			result = append(result, t)
		}
	}
	return result
}

func (s *state) nextSeq(id string) {
	s.seq++
	s.seqOf[id] = s.seq
}

func (s *state) createPayout(p payout.Payout) error {
	if _, exists := s.payouts[p.ID]; exists {
		return fmt.Errorf("payout %s already exists", p.ID)
	}
	if s.findPayoutForWindow(p.AccountID, p.PayoutType, p.Window()) != nil {
		return fmt.Errorf("%w: account %s, %s %s", payout.ErrDuplicatePayout, p.AccountID, p.PayoutType, p.Window())
	}
	s.payouts[p.ID] = p
	s.nextSeq(p.ID)
	return nil
}

func (s *state) getPayout(id string) (*payout.Payout, error) {
	p, ok := s.payouts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrPayoutNotFound, id)
	}
	return &p, nil
}

func (s *state) findPayoutForWindow(accountID string, payoutType payout.PayoutType, window payout.AccrualWindow) *payout.Payout {
	for _, p := range s.payouts {
		if p.Deleted || p.AccountID != accountID || p.PayoutType != payoutType {
			continue
		}
		if p.PeriodStart.Equal(window.Start) && p.PeriodEnd.Equal(window.End) {
			found := p
			return &found
		}
	}
	return nil
}

func (s *state) listPayouts(filter payout.PayoutFilter) []payout.Payout {
	var result []payout.Payout
	for _, p := range s.payouts {
		if !tenantMatches(filter.TenantID, p.TenantID) {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.AccountID != "" && p.AccountID != filter.AccountID {
			continue
		}
		if p.Deleted && !filter.IncludeDeleted {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return s.seqOf[result[i].ID] < s.seqOf[result[j].ID]
	})
	return result
}

func (s *state) updatePayout(p payout.Payout) error {
	if _, ok := s.payouts[p.ID]; !ok {
		return fmt.Errorf("%w: %s", payout.ErrPayoutNotFound, p.ID)
	}
	s.payouts[p.ID] = p
	return nil
}

type statKey struct {
	payoutType payout.PayoutType
	status     payout.Status
}

func (s *state) payoutStatistics(tenantID string, from, to time.Time) []payout.PayoutStat {
	groups := make(map[statKey]*payout.PayoutStat)
	for _, p := range s.payouts {
		if p.Deleted || p.TenantID != tenantID {
			continue
		}
		if p.PayoutDate.Before(from) || !p.PayoutDate.Before(to) {
			continue
		}
		k := statKey{p.PayoutType, p.Status}
		g, ok := groups[k]
		if !ok {
			g = &payout.PayoutStat{PayoutType: p.PayoutType, Status: p.Status, TotalInterest: decimal.Zero, TotalPrincipal: decimal.Zero}
			groups[k] = g
		}
		g.Count++
		g.TotalInterest = g.TotalInterest.Add(p.InterestAmount)
		g.TotalPrincipal = g.TotalPrincipal.Add(p.PrincipalAmount)
	}

	result := make([]payout.PayoutStat, 0, len(groups))
	for _, g := range groups {
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PayoutType != result[j].PayoutType {
			return result[i].PayoutType < result[j].PayoutType
		}
		return result[i].Status < result[j].Status
	})
	return result
}

func (s *state) createCharge(c payout.PendingCharge) error {
	if _, exists := s.charges[c.ID]; exists {
		return fmt.Errorf("pending charge %s already exists", c.ID)
	}
	s.charges[c.ID] = c
	s.nextSeq(c.ID)
	return nil
}

func (s *state) getCharge(id string) (*payout.PendingCharge, error) {
	c, ok := s.charges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrChargeNotFound, id)
	}
	return &c, nil
}

func (s *state) listCharges(filter payout.ChargeFilter) []payout.PendingCharge {
	var result []payout.PendingCharge
	for _, c := range s.charges {
		if !tenantMatches(filter.TenantID, c.TenantID) {
			continue
		}
		if filter.MemberID != "" && c.MemberID != filter.MemberID {
			continue
		}
		if filter.AccountID != "" && c.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return s.seqOf[result[i].ID] < s.seqOf[result[j].ID]
	})
	return result
}

func (s *state) updateCharge(c payout.PendingCharge) error {
	if _, ok := s.charges[c.ID]; !ok {
		return fmt.Errorf("%w: %s", payout.ErrChargeNotFound, c.ID)
	}
	s.charges[c.ID] = c
	return nil
}

func tenantMatches(filter, tenantID string) bool {
	return filter == "" || filter == payout.AllTenants || filter == tenantID
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	for k, v := range s.charges {
		c.charges[k] = v
	}
	for k, v := range s.seqOf {
		c.seqOf[k] = v
	}
	c.transactions = append([]payout.Transaction(nil), s.transactions...)
	c.seq = s.seq
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Units of work are serialized by the store lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(payout.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()
	if err := fn(&txMemoryView{st: tm.st}); err != nil {
		tm.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

// txMemoryView is the payout.Store handed to WithTx callbacks. The parent
// lock is already held.
type txMemoryView struct {
	st *state
}

func (v *txMemoryView) GetAccount(_ context.Context, id string) (*payout.Account, error) {
	return v.st.getAccount(id)
}

func (v *txMemoryView) LockAccount(_ context.Context, id string) (*payout.Account, error) {
	return v.st.getAccount(id)
}

func (v *txMemoryView) UpdateAccountBalances(_ context.Context, acct payout.Account) error {
	return v.st.updateAccountBalances(acct)
}

func (v *txMemoryView) ListEligibleAccounts(_ context.Context, tenantID string, kind payout.AccountKind) ([]payout.EligibleAccount, error) {
	return v.st.listEligibleAccounts(tenantID, kind), nil
}

func (v *txMemoryView) AppendTransactions(_ context.Context, txs []payout.Transaction) error {
	v.st.appendTransactions(txs)
	return nil
}

func (v *txMemoryView) TransactionsByReference(_ context.Context, reference string) ([]payout.Transaction, error) {
	return v.st.transactionsWhere(func(t payout.Transaction) bool { return t.ReferenceNumber == reference }), nil
}

func (v *txMemoryView) TransactionsByAccount(_ context.Context, accountID string) ([]payout.Transaction, error) {
	return v.st.transactionsWhere(func(t payout.Transaction) bool { return t.AccountID == accountID }), nil
}

func (v *txMemoryView) CreatePayout(_ context.Context, p payout.Payout) error {
	return v.st.createPayout(p)
}

func (v *txMemoryView) GetPayout(_ context.Context, id string) (*payout.Payout, error) {
	return v.st.getPayout(id)
}

func (v *txMemoryView) FindPayoutForWindow(_ context.Context, accountID string, payoutType payout.PayoutType, window payout.AccrualWindow) (*payout.Payout, error) {
	return v.st.findPayoutForWindow(accountID, payoutType, window), nil
}

func (v *txMemoryView) ListPayouts(_ context.Context, filter payout.PayoutFilter) ([]payout.Payout, error) {
	return v.st.listPayouts(filter), nil
}

func (v *txMemoryView) UpdatePayout(_ context.Context, p payout.Payout) error {
	return v.st.updatePayout(p)
}

func (v *txMemoryView) PayoutStatistics(_ context.Context, tenantID string, from, to time.Time) ([]payout.PayoutStat, error) {
	return v.st.payoutStatistics(tenantID, from, to), nil
}

func (v *txMemoryView) CreateCharge(_ context.Context, c payout.PendingCharge) error {
	return v.st.createCharge(c)
}

func (v *txMemoryView) GetCharge(_ context.Context, id string) (*payout.PendingCharge, error) {
	return v.st.getCharge(id)
}

func (v *txMemoryView) ListCharges(_ context.Context, filter payout.ChargeFilter) ([]payout.PendingCharge, error) {
	return v.st.listCharges(filter), nil
}

func (v *txMemoryView) UpdateCharge(_ context.Context, c payout.PendingCharge) error {
	return v.st.updateCharge(c)
}
