package models

import "time"

// Order lifecycle statuses.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// Payment / payout status values shared by the two partner-facing fields.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PayoutPending   = "pending"
	PayoutCompleted = "completed"
)

// Order is the slice of the marketplace order the wallet core consumes.
// The order lifecycle is owned elsewhere; the wallet only updates the
// partner payment/payout status fields.
type Order struct {
	ID                   string    `json:"id" db:"id"`
	PartnerID            string    `json:"partner_id" db:"partner_id"`
	Total                int64     `json:"total" db:"total"` // in minor units
	CommissionRate       float64   `json:"commission_rate" db:"commission_rate"`
	Currency             string    `json:"currency" db:"currency"`
	Status               string    `json:"status" db:"status"`
	PaymentStatus        string    `json:"payment_status" db:"payment_status"`
	PartnerPaymentStatus string    `json:"partner_payment_status" db:"partner_payment_status"`
	PartnerPayoutStatus  string    `json:"partner_payout_status" db:"partner_payout_status"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}
