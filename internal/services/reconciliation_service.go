package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/models"
	"github.com/storelink/backend/internal/orders"
)

// ReconciliationService recomputes a balance by replaying the ledger. It is
// an audit/repair tool and never sits in the payment/payout hot path.
type ReconciliationService struct {
	wallet *WalletService
	orders orders.Service
	log    *logrus.Logger
}

func NewReconciliationService(wallet *WalletService, orderSvc orders.Service, log *logrus.Logger) *ReconciliationService {
	return &ReconciliationService{
		wallet: wallet,
		orders: orderSvc,
		log:    log,
	}
}

// Recompute sums the signed amounts of all completed entries for the
// account and overwrites the stored balance with the result. The balance
// row is locked for the duration, so a concurrent payment or payout waits
// rather than racing a still-converging replay.
//
// Accounts whose history predates the ledger have zero entries; for those
// the balance is estimated as sum(paid order totals) x commission rate.
// This is an explicit migration heuristic, not a substitute for the ledger.
func (s *ReconciliationService) Recompute(ctx context.Context, accountID string) (*models.Balance, error) {
	tx, err := s.wallet.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recompute: %w", err)
	}
	defer tx.Rollback()

	current, err := s.wallet.lockBalanceTx(tx, accountID)
	if err != nil {
		return nil, err
	}

	var entryCount int64
	var ledgerSum int64
	err = tx.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN entry_type IN ('deposit', 'commission', 'bonus', 'order_refund')
		                         THEN amount ELSE -amount END), 0)
		FROM wallet_entries
		WHERE account_id = $1 AND status = 'completed'
	`, accountID).Scan(&entryCount, &ledgerSum)
	if err != nil {
		return nil, fmt.Errorf("replay ledger: %w", err)
	}

	newBalance := ledgerSum
	source := "ledger"
	if entryCount == 0 {
		newBalance, err = s.estimateFromOrders(ctx, accountID)
		if err != nil {
			return nil, err
		}
		source = "order_history"
	}

	_, err = tx.Exec(`
		UPDATE wallet_balances SET balance = $1, updated_at = NOW() WHERE account_id = $2
	`, newBalance, accountID)
	if err != nil {
		return nil, fmt.Errorf("write recomputed balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recompute: %w", err)
	}

	if current.Balance != newBalance {
		s.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"stored":     current.Balance,
			"recomputed": newBalance,
			"source":     source,
		}).Warn("balance drift repaired")
	} else {
		s.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"balance":    newBalance,
			"source":     source,
		}).Info("balance reconciled, no drift")
	}

	return s.wallet.GetBalance(ctx, accountID)
}

func (s *ReconciliationService) estimateFromOrders(ctx context.Context, accountID string) (int64, error) {
	paidOrders, err := s.orders.ListPaidOrders(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load paid orders: %w", err)
	}

	var estimate float64
	for _, order := range paidOrders {
		estimate += float64(order.Total) * order.CommissionRate
	}
	return int64(math.Round(estimate)), nil
}

// HandleReconcile recomputes the authenticated partner's balance
// @Summary Reconcile wallet balance
// @Description Recompute the balance from the transaction ledger
// @Tags wallet
// @Produce json
// @Success 200 {object} models.Balance
// @Failure 500 {object} ErrorResponse
// @Router /wallet/reconcile [post]
func (s *ReconciliationService) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.Recompute(r.Context(), accountID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Error("reconciliation failed")
		SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}
