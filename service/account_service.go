package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-transfer-core/model"
	"go-transfer-core/repository"

	"github.com/shopspring/decimal"
)

// AccountService serves the read side: account lookup with a cache-aside
// Redis cache and per-account transfer history. The transfer engine
// invalidates the cached entries it touches, so reads here never outlive
// a commit by more than the TTL.
type AccountService struct {
	accounts repository.AccountStore
	ledger   repository.TransactionLog
	cache    ICacheClient
	cacheTTL time.Duration
}

// NewAccountService wires the read-side service. cache may be nil, in
// which case every lookup goes to the store.
func NewAccountService(accounts repository.AccountStore, ledger repository.TransactionLog, cache ICacheClient, cacheTTL time.Duration) *AccountService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &AccountService{
		accounts: accounts,
		ledger:   ledger,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func accountCacheKey(number string) string {
	return fmt.Sprintf("account:%s", number)
}

// CreateAccount opens a new account with an opening balance.
func (s *AccountService) CreateAccount(ctx context.Context, number, owner string, opening decimal.Decimal) (*model.Account, error) {
	if number == "" {
		return nil, fmt.Errorf("account number must not be empty")
	}
	if opening.IsNegative() {
		return nil, fmt.Errorf("opening balance must not be negative")
	}

	account := &model.Account{
		AccountNumber: number,
		Owner:         owner,
		Balance:       opening,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Del(ctx, accountCacheKey(number))
	}
	return account, nil
}

// GetAccountByNumber looks an account up, utilizing a cache-aside
// strategy.
func (s *AccountService) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	key := accountCacheKey(number)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			var account model.Account
			if err := json.Unmarshal([]byte(cached), &account); err == nil {
				return &account, nil
			}
		}
	}

	account, err := s.accounts.GetAccount(ctx, number)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(account); err == nil {
			s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}

	return account, nil
}

// ListTransfersForAccount retrieves the transfer history for an account,
// newest first. The account must exist.
func (s *AccountService) ListTransfersForAccount(ctx context.Context, number string) ([]*model.Transaction, error) {
	if _, err := s.accounts.GetAccount(ctx, number); err != nil {
		return nil, err
	}
	return s.ledger.GetTransactionsByAccount(ctx, number)
}
