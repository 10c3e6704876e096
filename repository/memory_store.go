package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go-transfer-core/model"
)

// MemoryStore keeps accounts and the transfer log in process. It backs the
// engine's tests and local experiments with the same contracts as the
// Postgres store: conditional balance updates and an atomic
// balances-plus-ledger commit.
//
// Each account carries its own mutex; a two-account update locks the pair
// in account-number order, so opposite-direction transfers on the same
// pair cannot deadlock and unrelated transfers never serialize.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount

	logMu    sync.Mutex
	records  []model.Transaction
	nextID   int64
	nextTxID int64
}

type memAccount struct {
	mu   sync.Mutex
	data model.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memAccount)}
}

// GetAccount returns a snapshot copy so callers cannot reach internal
// state.
func (s *MemoryStore) GetAccount(ctx context.Context, number string) (*model.Account, error) {
	entry, err := s.entry(number)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	cp := entry.data
	return &cp, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.AccountNumber]; ok {
		return ErrExists
	}
	account.ID = int(atomic.AddInt64(&s.nextID, 1))
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	s.accounts[account.AccountNumber] = &memAccount{data: *account}
	return nil
}

// UpdateBalances applies both writes under the pair of account locks, or
// neither if either expected balance is stale.
func (s *MemoryStore) UpdateBalances(ctx context.Context, upd BalanceUpdate) error {
	from, to, unlock, err := s.lockPair(upd.FromAccount, upd.ToAccount)
	if err != nil {
		return err
	}
	defer unlock()

	if !from.data.Balance.Equal(upd.FromExpected) || !to.data.Balance.Equal(upd.ToExpected) {
		return ErrConflict
	}
	from.data.Balance = upd.FromNew
	to.data.Balance = upd.ToNew
	return nil
}

// ApplyTransfer mutates both balances and appends the record before the
// account locks are released, so no observer can see one without the
// other.
func (s *MemoryStore) ApplyTransfer(ctx context.Context, upd BalanceUpdate, record *model.Transaction) error {
	from, to, unlock, err := s.lockPair(upd.FromAccount, upd.ToAccount)
	if err != nil {
		return err
	}
	defer unlock()

	if !from.data.Balance.Equal(upd.FromExpected) || !to.data.Balance.Equal(upd.ToExpected) {
		return ErrConflict
	}
	from.data.Balance = upd.FromNew
	to.data.Balance = upd.ToNew

	s.append(record)
	return nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, record *model.Transaction) error {
	s.append(record)
	return nil
}

func (s *MemoryStore) GetTransactionsByAccount(ctx context.Context, number string) ([]*model.Transaction, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	var out []*model.Transaction
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].FromAccount == number || s.records[i].ToAccount == number {
			cp := s.records[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) append(record *model.Transaction) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.nextTxID++
	record.ID = s.nextTxID
	s.records = append(s.records, *record)
}

func (s *MemoryStore) entry(number string) (*memAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.accounts[number]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// lockPair locks both account entries in account-number order and returns
// the entries in request order plus the paired unlock.
func (s *MemoryStore) lockPair(fromNumber, toNumber string) (from, to *memAccount, unlock func(), err error) {
	from, err = s.entry(fromNumber)
	if err != nil {
		return nil, nil, nil, err
	}
	to, err = s.entry(toNumber)
	if err != nil {
		return nil, nil, nil, err
	}

	// Same entry twice would self-deadlock; callers reject self-transfers
	// but the store stays safe regardless.
	if from == to {
		from.mu.Lock()
		return from, to, from.mu.Unlock, nil
	}

	first, second := from, to
	if toNumber < fromNumber {
		first, second = to, from
	}
	first.mu.Lock()
	second.mu.Lock()
	return from, to, func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}, nil
}
