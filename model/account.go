package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a balance addressed by its account number. The number is
// unique and immutable; the balance is only mutated through the transfer
// engine's atomic update path and never drops below zero.
type Account struct {
	ID            int             `json:"id"`
	AccountNumber string          `json:"account_number"`
	Owner         string          `json:"owner"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}
