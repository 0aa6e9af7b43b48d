package models

import "time"

// WithdrawalSettlement is the payload exported to the banking rail when an
// approved withdrawal is settled to the partner's bank account.
type WithdrawalSettlement struct {
	EntryID     string    `json:"entry_id" validate:"required"`
	AccountID   string    `json:"account_id" validate:"required"`
	BankAccount string    `json:"bank_account" validate:"required,max=20"`
	BankCode    string    `json:"bank_code" validate:"required,max=6"`
	AccountName string    `json:"account_name" validate:"required,max=140"`
	Amount      float64   `json:"amount" validate:"required,gt=0"` // major units for the wire format
	Currency    string    `json:"currency" validate:"required,len=3"`
	Reference   string    `json:"reference"`
	RequestedAt time.Time `json:"requested_at"`
}
