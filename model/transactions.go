package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TypeTransfer is the only transaction type the engine records today.
const TypeTransfer = "transfer"

// Transaction is an immutable ledger entry for one committed transfer.
// IDs are assigned monotonically by the store; CreatedAt is the commit
// timestamp stamped by the engine.
type Transaction struct {
	ID          int64           `json:"id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	CreatedAt   time.Time       `json:"created_at"`
}
