package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go-transfer-core/common"
	"go-transfer-core/logger"
	"go-transfer-core/model"
	"go-transfer-core/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 8
	defaultBackoff     = 25 * time.Millisecond
)

// TransferRequest defines the input for a money transfer between two
// accounts addressed by number.
type TransferRequest struct {
	FromAccount string          `json:"from_account" validate:"required"`
	ToAccount   string          `json:"to_account" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
}

// TransferEngine moves money between two accounts as one atomic unit:
// both balances change and a ledger record is appended, or nothing is.
//
// It runs an optimistic discipline: read both balances, validate, then
// commit through a conditional update keyed on the balances as read. A
// concurrent writer surfaces as repository.ErrConflict and the whole
// attempt is retried with backoff until the caller's context or the
// attempt budget runs out.
type TransferEngine struct {
	accounts repository.AccountStore
	ledger   repository.TransactionLog
	cache    ICacheClient

	maxAttempts int
	backoff     time.Duration

	clockMu    sync.Mutex
	lastCommit time.Time
}

// NewTransferEngine wires the engine to its collaborators. cache may be
// nil; maxAttempts and backoff fall back to defaults when zero.
func NewTransferEngine(accounts repository.AccountStore, ledger repository.TransactionLog, cache ICacheClient, maxAttempts int, backoff time.Duration) *TransferEngine {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &TransferEngine{
		accounts:    accounts,
		ledger:      ledger,
		cache:       cache,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Transfer moves req.Amount from the source to the destination account
// and returns the committed transaction record. Failures carry a
// common.ErrorKind; only Contention and Timeout are safe to retry, and
// neither leaves any partial mutation behind.
func (s *TransferEngine) Transfer(ctx context.Context, req TransferRequest) (*model.Transaction, error) {
	log := logger.Log.WithFields(logrus.Fields{
		"from_account": req.FromAccount,
		"to_account":   req.ToAccount,
		"amount":       req.Amount.String(),
	})

	if err := common.ValidateStruct(req); err != nil {
		return nil, common.NewTransferError(common.KindInvalidRequest, "invalid transfer request", err)
	}
	if req.FromAccount == req.ToAccount {
		return nil, common.NewTransferError(common.KindInvalidRequest, "cannot transfer money to the same account", nil)
	}
	if !req.Amount.IsPositive() {
		return nil, common.NewTransferError(common.KindInvalidRequest, "transfer amount must be greater than zero", nil)
	}

	log.Info("Starting money transfer")

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, common.NewTransferError(common.KindTimeout, "transfer aborted before completion", err)
		}

		record, err := s.attempt(ctx, req)
		if err == nil {
			s.invalidate(ctx, req.FromAccount, req.ToAccount)
			log.WithField("transaction_id", record.ID).Info("Transfer committed")
			return record, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}

		log.WithField("attempt", attempt).Info("Concurrent balance change, retrying transfer")
		if err := s.wait(ctx, attempt); err != nil {
			return nil, common.NewTransferError(common.KindTimeout, "transfer aborted while waiting to retry", err)
		}
	}

	log.Warn("Transfer gave up after repeated conflicts")
	return nil, common.NewTransferError(common.KindContention, "transfer could not be applied under concurrent load", repository.ErrConflict)
}

// attempt performs one full read-validate-commit pass. It returns
// repository.ErrConflict untouched so the retry loop can recognize it.
func (s *TransferEngine) attempt(ctx context.Context, req TransferRequest) (*model.Transaction, error) {
	from, err := s.accounts.GetAccount(ctx, req.FromAccount)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, common.NewAccountNotFound("source")
		}
		return nil, common.NewTransferError(common.KindStoreFailure, "could not resolve source account", err)
	}

	to, err := s.accounts.GetAccount(ctx, req.ToAccount)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, common.NewAccountNotFound("destination")
		}
		return nil, common.NewTransferError(common.KindStoreFailure, "could not resolve destination account", err)
	}

	if from.Balance.LessThan(req.Amount) {
		return nil, common.NewTransferError(common.KindInsufficientBalance, "insufficient balance", nil)
	}

	upd := repository.BalanceUpdate{
		FromAccount:  from.AccountNumber,
		FromExpected: from.Balance,
		FromNew:      from.Balance.Sub(req.Amount),
		ToAccount:    to.AccountNumber,
		ToExpected:   to.Balance,
		ToNew:        to.Balance.Add(req.Amount),
	}
	record := &model.Transaction{
		FromAccount: from.AccountNumber,
		ToAccount:   to.AccountNumber,
		Amount:      req.Amount,
		Type:        model.TypeTransfer,
		CreatedAt:   s.commitTime(),
	}

	if err := s.commit(ctx, upd, record); err != nil {
		return nil, err
	}
	return record, nil
}

// commit applies the balance update and the ledger append. When the store
// can do both as one transactional unit, that path is taken; otherwise
// the two writes run separately and a failed append triggers a
// compensating reverse update so balances and ledger never diverge.
func (s *TransferEngine) commit(ctx context.Context, upd repository.BalanceUpdate, record *model.Transaction) error {
	if committer, ok := s.accounts.(repository.TransferCommitter); ok {
		err := committer.ApplyTransfer(ctx, upd, record)
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return common.NewTransferError(common.KindStoreFailure, "could not commit transfer", err)
	}

	if err := s.accounts.UpdateBalances(ctx, upd); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return common.NewTransferError(common.KindStoreFailure, "could not update balances", err)
	}

	if err := s.ledger.AppendTransaction(ctx, record); err != nil {
		s.rollback(ctx, upd)
		return common.NewTransferError(common.KindStoreFailure, "could not append transaction record", err)
	}
	return nil
}

// rollback reverses a balance update whose ledger append failed. It is
// keyed on the balances just written, so it only applies while nothing
// else has touched the pair since.
func (s *TransferEngine) rollback(ctx context.Context, upd repository.BalanceUpdate) {
	reverse := repository.BalanceUpdate{
		FromAccount:  upd.FromAccount,
		FromExpected: upd.FromNew,
		FromNew:      upd.FromExpected,
		ToAccount:    upd.ToAccount,
		ToExpected:   upd.ToNew,
		ToNew:        upd.ToExpected,
	}
	if err := s.accounts.UpdateBalances(ctx, reverse); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"from_account": upd.FromAccount,
			"to_account":   upd.ToAccount,
		}).Error("Failed to roll back balances after ledger append failure")
	}
}

// commitTime stamps records with a monotone non-decreasing clock per
// engine instance.
func (s *TransferEngine) commitTime() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := time.Now()
	if now.Before(s.lastCommit) {
		now = s.lastCommit
	}
	s.lastCommit = now
	return now
}

// wait sleeps a jittered, attempt-scaled backoff or returns early when
// the context ends.
func (s *TransferEngine) wait(ctx context.Context, attempt int) error {
	d := s.backoff*time.Duration(attempt) + time.Duration(rand.Int63n(int64(s.backoff)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *TransferEngine) invalidate(ctx context.Context, numbers ...string) {
	if s.cache == nil {
		return
	}
	keys := make([]string, len(numbers))
	for i, n := range numbers {
		keys[i] = accountCacheKey(n)
	}
	s.cache.Del(ctx, keys...)
}
