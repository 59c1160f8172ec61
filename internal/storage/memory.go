package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/domain"
)

// Memory is an in-process store with the same contract as Postgres.
// Debit serializes the check-and-decrement under one lock, which is
// sufficient only because a memory-backed deployment is single-process
// by definition.
type Memory struct {
	mu       sync.Mutex
	keys     map[string]*memoryKey // API key string -> key record
	wallets  map[uuid.UUID]*memoryWallet
	usage    map[uuid.UUID][]domain.UsageRecord
	lastUsed map[uuid.UUID]time.Time
}

type memoryKey struct {
	id        uuid.UUID
	accountID uuid.UUID
	active    bool
}

type memoryWallet struct {
	balance        decimal.Decimal
	totalPurchased decimal.Decimal
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		keys:     make(map[string]*memoryKey),
		wallets:  make(map[uuid.UUID]*memoryWallet),
		usage:    make(map[uuid.UUID][]domain.UsageRecord),
		lastUsed: make(map[uuid.UUID]time.Time),
	}
}

// AddAccount seeds an account with one API key and an opening balance,
// returning the account and key IDs.
func (m *Memory) AddAccount(key string, active bool, openingBalance decimal.Decimal) (accountID, keyID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accountID = uuid.New()
	keyID = uuid.New()
	m.keys[key] = &memoryKey{id: keyID, accountID: accountID, active: active}
	m.wallets[accountID] = &memoryWallet{
		balance:        openingBalance,
		totalPurchased: openingBalance,
	}
	return accountID, keyID
}

// SetKeyActive flips a key's active flag, mimicking out-of-band
// revocation.
func (m *Memory) SetKeyActive(key string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k, ok := m.keys[key]; ok {
		k.active = active
	}
}

// ResolveByKey resolves an API key to its account and balance snapshot.
func (m *Memory) ResolveByKey(_ context.Context, key string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	wallet, ok := m.wallets[k.accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrWalletNotFound, k.accountID)
	}

	return &domain.Account{
		ID:        k.accountID,
		KeyID:     k.id,
		KeyActive: k.active,
		Balance:   wallet.balance,
	}, nil
}

// TouchKey records the key's last-used timestamp.
func (m *Memory) TouchKey(_ context.Context, keyID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUsed[keyID] = at
	return nil
}

// LastUsed returns the recorded last-used timestamp for a key.
func (m *Memory) LastUsed(keyID uuid.UUID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.lastUsed[keyID]
	return at, ok
}

// Debit atomically charges the wallet and appends the usage record.
func (m *Memory) Debit(_ context.Context, rec *domain.UsageRecord) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallet, ok := m.wallets[rec.AccountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s", ErrWalletNotFound, rec.AccountID)
	}

	if wallet.balance.LessThan(rec.CostUSD) {
		return decimal.Zero, &domain.InsufficientFundsError{
			Balance:       wallet.balance,
			EstimatedCost: rec.CostUSD,
		}
	}

	wallet.balance = wallet.balance.Sub(rec.CostUSD)
	m.usage[rec.AccountID] = append(m.usage[rec.AccountID], *rec)

	return wallet.balance, nil
}

// Credit tops up the wallet and advances the lifetime purchase total.
func (m *Memory) Credit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallet, ok := m.wallets[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s", ErrWalletNotFound, accountID)
	}

	wallet.balance = wallet.balance.Add(amount)
	wallet.totalPurchased = wallet.totalPurchased.Add(amount)
	return wallet.balance, nil
}

// RecentUsage returns the account's most recent usage records, newest
// first.
func (m *Memory) RecentUsage(_ context.Context, accountID uuid.UUID, limit int) ([]domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.usage[accountID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	out := make([]domain.UsageRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// UsageCount returns the number of usage records for the account.
func (m *Memory) UsageCount(accountID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.usage[accountID])
}

// Balance returns the current wallet balance for the account.
func (m *Memory) Balance(accountID uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wallet, ok := m.wallets[accountID]; ok {
		return wallet.balance
	}
	return decimal.Zero
}
