package repository

import (
	"context"
	"database/sql"
	"errors"
	"go-transfer-core/logger"
	"go-transfer-core/model"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when no account exists for the given number.
	ErrNotFound = errors.New("account not found")
	// ErrExists is returned when an account number is already in use.
	ErrExists = errors.New("account number already in use")
	// ErrConflict signals that a conditional balance update lost against a
	// concurrent writer. The caller retries the whole transfer.
	ErrConflict = errors.New("balance changed concurrently")
)

// BalanceUpdate describes a conditional two-account balance write. The
// expected balances are the values read before computing the new ones; a
// store must refuse the whole update if either has changed since.
type BalanceUpdate struct {
	FromAccount  string
	FromExpected decimal.Decimal
	FromNew      decimal.Decimal
	ToAccount    string
	ToExpected   decimal.Decimal
	ToNew        decimal.Decimal
}

// AccountStore is the durable keyed storage of accounts the engine runs
// against. UpdateBalances must apply both writes atomically or not at all.
type AccountStore interface {
	GetAccount(ctx context.Context, number string) (*model.Account, error)
	CreateAccount(ctx context.Context, account *model.Account) error
	UpdateBalances(ctx context.Context, upd BalanceUpdate) error
}

// TransferCommitter applies a balance update together with its ledger
// record as a single transactional unit. Stores that can should implement
// it; the engine falls back to UpdateBalances plus AppendTransaction with
// a compensating rollback otherwise.
type TransferCommitter interface {
	ApplyTransfer(ctx context.Context, upd BalanceUpdate, record *model.Transaction) error
}

// PostgresAccountStore implements AccountStore and TransferCommitter on
// top of Postgres, using conditional updates keyed on the previously read
// balance instead of held row locks.
type PostgresAccountStore struct {
	DB *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) *PostgresAccountStore {
	return &PostgresAccountStore{DB: db}
}

func (r *PostgresAccountStore) GetAccount(ctx context.Context, number string) (*model.Account, error) {
	account := &model.Account{}
	query := `SELECT id, account_number, owner, balance, created_at FROM accounts WHERE account_number = $1`
	err := r.DB.QueryRowContext(ctx, query, number).
		Scan(&account.ID, &account.AccountNumber, &account.Owner, &account.Balance, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Log.WithError(err).WithField("account_number", number).Error("Failed to execute get account query")
		return nil, err
	}
	return account, nil
}

// CreateAccount adds a new account. A unique violation on the account
// number maps to ErrExists.
func (r *PostgresAccountStore) CreateAccount(ctx context.Context, account *model.Account) error {
	log := logger.Log.WithFields(logrus.Fields{
		"account_number": account.AccountNumber,
		"owner":          account.Owner,
	})
	log.Info("Executing query to create a new account")

	query := `INSERT INTO accounts (account_number, owner, balance) VALUES ($1, $2, $3) RETURNING id, created_at`
	err := r.DB.QueryRowContext(ctx, query, account.AccountNumber, account.Owner, account.Balance).
		Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrExists
		}
		log.WithError(err).Error("Failed to execute create account query")
		return err
	}
	return nil
}

// UpdateBalances applies both conditional writes inside one database
// transaction. Zero rows affected on either side means the as-read balance
// is stale (or the row vanished); both cases surface as ErrConflict and
// the retrying caller re-resolves the accounts.
func (r *PostgresAccountStore) UpdateBalances(ctx context.Context, upd BalanceUpdate) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := casBalance(ctx, tx, upd.FromAccount, upd.FromExpected, upd.FromNew); err != nil {
		return err
	}
	if err := casBalance(ctx, tx, upd.ToAccount, upd.ToExpected, upd.ToNew); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyTransfer commits the balance update and the ledger append as one
// unit, so balances and the ledger can never diverge.
func (r *PostgresAccountStore) ApplyTransfer(ctx context.Context, upd BalanceUpdate, record *model.Transaction) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := casBalance(ctx, tx, upd.FromAccount, upd.FromExpected, upd.FromNew); err != nil {
		return err
	}
	if err := casBalance(ctx, tx, upd.ToAccount, upd.ToExpected, upd.ToNew); err != nil {
		return err
	}

	query := `INSERT INTO transactions (from_account, to_account, amount, type, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err = tx.QueryRowContext(ctx, query, record.FromAccount, record.ToAccount, record.Amount, record.Type, record.CreatedAt).
		Scan(&record.ID)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to execute create transaction query")
		return err
	}

	return tx.Commit()
}

func casBalance(ctx context.Context, tx *sql.Tx, number string, expected, next decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1 WHERE account_number = $2 AND balance = $3`
	res, err := tx.ExecContext(ctx, query, next, number, expected)
	if err != nil {
		logger.Log.WithError(err).WithField("account_number", number).Error("Failed to execute balance update query")
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
