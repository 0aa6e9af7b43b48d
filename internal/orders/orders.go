package orders

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/models"
)

// Service is the order collaborator consumed by the wallet core. The order
// lifecycle is authoritative here; the wallet only flips the partner
// payment/payout status fields.
type Service interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// UpdateOrderStatus updates the given fields; empty strings leave a
	// field unchanged.
	UpdateOrderStatus(ctx context.Context, id, status, paymentStatus, payoutStatus string) error
	GetPartnerRate(ctx context.Context, partnerID string) (float64, error)
	ListPaidOrders(ctx context.Context, partnerID string) ([]models.Order, error)
}

type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewStore(db *sql.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, partner_id, total, commission_rate, currency, status,
		       payment_status, partner_payment_status, partner_payout_status,
		       created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.PartnerID, &order.Total, &order.CommissionRate,
		&order.Currency, &order.Status, &order.PaymentStatus,
		&order.PartnerPaymentStatus, &order.PartnerPayoutStatus,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id, status, paymentStatus, payoutStatus string) error {
	var sets []string
	var args []interface{}
	argIndex := 1

	if status != "" {
		sets = append(sets, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}
	if paymentStatus != "" {
		sets = append(sets, fmt.Sprintf("partner_payment_status = $%d", argIndex))
		args = append(args, paymentStatus)
		argIndex++
	}
	if payoutStatus != "" {
		sets = append(sets, fmt.Sprintf("partner_payout_status = $%d", argIndex))
		args = append(args, payoutStatus)
		argIndex++
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(sets, ", "), argIndex)
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetPartnerRate(ctx context.Context, partnerID string) (float64, error) {
	var rate float64
	err := s.db.QueryRowContext(ctx, `
		SELECT commission_rate FROM partners WHERE id = $1
	`, partnerID).Scan(&rate)
	if err != nil {
		return 0, err
	}
	return rate, nil
}

// ListPaidOrders returns the partner's paid orders, newest first. Used by
// the earnings aggregator and the reconciliation fallback heuristic.
func (s *Store) ListPaidOrders(ctx context.Context, partnerID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, partner_id, total, commission_rate, currency, status,
		       payment_status, partner_payment_status, partner_payout_status,
		       created_at, updated_at
		FROM orders
		WHERE partner_id = $1 AND payment_status = 'paid'
		ORDER BY created_at DESC
	`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Order{}
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID, &order.PartnerID, &order.Total, &order.CommissionRate,
			&order.Currency, &order.Status, &order.PaymentStatus,
			&order.PartnerPaymentStatus, &order.PartnerPayoutStatus,
			&order.CreatedAt, &order.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	return result, rows.Err()
}
