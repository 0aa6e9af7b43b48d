package models

import (
	"time"
)

// Ledger entry types. Credits increase the balance, debits decrease it.
const (
	EntryDeposit      = "deposit"
	EntryWithdrawal   = "withdrawal"
	EntryOrderPayment = "order_payment"
	EntryOrderRefund  = "order_refund"
	EntryCommission   = "commission"
	EntryBonus        = "bonus"
)

// Ledger entry statuses. Only completed entries count toward the balance.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IsCreditType reports whether entries of this type add to the balance.
func IsCreditType(entryType string) bool {
	switch entryType {
	case EntryDeposit, EntryCommission, EntryBonus, EntryOrderRefund:
		return true
	}
	return false
}

// IsTerminalStatus reports whether an entry in this status is immutable.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

type Balance struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"` // in minor units
	Currency  string    `json:"currency" db:"currency"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	EntryType   string    `json:"entry_type" db:"entry_type"`
	Amount      int64     `json:"amount" db:"amount"` // positive magnitude, in minor units
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description" db:"description"`
	OrderID     string    `json:"order_id,omitempty" db:"order_id"`
	ExternalRef string    `json:"external_ref,omitempty" db:"external_ref"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// SignedAmount returns the amount with the sign implied by the entry type.
func (e *LedgerEntry) SignedAmount() int64 {
	if IsCreditType(e.EntryType) {
		return e.Amount
	}
	return -e.Amount
}
