package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Terminal validation errors. These are reported to the caller verbatim and
// must never be retried.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderNotOwned  = errors.New("order belongs to another partner")
	ErrAlreadyPaid    = errors.New("order already paid")
	ErrAlreadyPaidOut = errors.New("order already paid out")
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrEntryNotFound  = errors.New("ledger entry not found")
)

// isUniqueViolation reports whether err is the postgres duplicate-key error.
// The partial unique indexes on completed order_payment/commission entries
// and the external_ref dedup index all surface through it.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// InsufficientFundsError carries the exact shortfall so the UI can prompt
// the partner to top up the difference.
type InsufficientFundsError struct {
	Balance   int64
	Required  int64
	Shortfall int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %d, required %d, short %d", e.Balance, e.Required, e.Shortfall)
}

func newInsufficientFunds(balance, required int64) *InsufficientFundsError {
	return &InsufficientFundsError{
		Balance:   balance,
		Required:  required,
		Shortfall: required - balance,
	}
}

// InvalidTransitionError is returned when a ledger entry is moved out of a
// terminal status or into an unknown one. Entries are immutable once
// completed, failed or cancelled.
type InvalidTransitionError struct {
	EntryID string
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for entry %s: %s -> %s", e.EntryID, e.From, e.To)
}
