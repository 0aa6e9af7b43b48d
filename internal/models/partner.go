package models

import "time"

// Partner is the wallet-relevant slice of a store owner's profile.
// CommissionRate is the fraction of an order total paid out as commission;
// it is read at payout time and snapshotted into the ledger entry.
type Partner struct {
	ID             string     `json:"id" db:"id"`
	StoreName      string     `json:"store_name" db:"store_name"`
	Email          string     `json:"email" db:"email"`
	CommissionRate float64    `json:"commission_rate" db:"commission_rate"`
	BankAccount    string     `json:"bank_account" db:"bank_account"`
	BankCode       string     `json:"bank_code" db:"bank_code"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastLogin      *time.Time `json:"last_login,omitempty" db:"last_login"`
}
