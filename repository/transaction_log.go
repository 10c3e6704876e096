package repository

import (
	"context"
	"database/sql"
	"go-transfer-core/logger"
	"go-transfer-core/model"

	"github.com/sirupsen/logrus"
)

// TransactionLog is the durable append-only record of committed transfers.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, record *model.Transaction) error
	GetTransactionsByAccount(ctx context.Context, number string) ([]*model.Transaction, error)
}

// PostgresTransactionLog implements TransactionLog.
type PostgresTransactionLog struct {
	DB *sql.DB
}

func NewPostgresTransactionLog(db *sql.DB) *PostgresTransactionLog {
	return &PostgresTransactionLog{DB: db}
}

func (r *PostgresTransactionLog) AppendTransaction(ctx context.Context, record *model.Transaction) error {
	log := logger.Log.WithFields(logrus.Fields{
		"from_account": record.FromAccount,
		"to_account":   record.ToAccount,
		"amount":       record.Amount.String(),
	})
	log.Info("Executing query to append a transaction record")

	query := `INSERT INTO transactions (from_account, to_account, amount, type, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := r.DB.QueryRowContext(ctx, query, record.FromAccount, record.ToAccount, record.Amount, record.Type, record.CreatedAt).
		Scan(&record.ID)
	if err != nil {
		log.WithError(err).Error("Failed to execute append transaction query")
		return err
	}
	return nil
}

// GetTransactionsByAccount retrieves the transfer history for an account,
// newest first.
func (r *PostgresTransactionLog) GetTransactionsByAccount(ctx context.Context, number string) ([]*model.Transaction, error) {
	log := logger.Log.WithField("account_number", number)
	log.Info("Executing query to get transactions by account")

	query := `
		SELECT id, from_account, to_account, amount, type, created_at
		FROM transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY id DESC`

	rows, err := r.DB.QueryContext(ctx, query, number)
	if err != nil {
		log.WithError(err).Error("Failed to execute query for transactions by account")
		return nil, err
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.Type, &t.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan transaction row")
			return nil, err
		}
		transactions = append(transactions, &t)
	}

	return transactions, rows.Err()
}
