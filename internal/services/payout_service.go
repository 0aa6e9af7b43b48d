package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/audit"
	"github.com/storelink/backend/internal/models"
	"github.com/storelink/backend/internal/orders"
)

// PayoutService credits commission to a partner once an order is eligible.
// The rate comes from the partner profile at call time and the computed
// amount is stored on the entry, so later rate changes never alter past
// payouts.
type PayoutService struct {
	wallet   *WalletService
	orders   orders.Service
	audit    *audit.Logger
	log      *logrus.Logger
	notifier ChangeNotifier
}

func NewPayoutService(wallet *WalletService, orderSvc orders.Service, auditLog *audit.Logger, log *logrus.Logger, notifier ChangeNotifier) *PayoutService {
	return &PayoutService{
		wallet:   wallet,
		orders:   orderSvc,
		audit:    auditLog,
		log:      log,
		notifier: notifier,
	}
}

// PayoutOrder credits the commission for one order. The wallet credit
// commits first and the order payout flag is flipped after, retried once on
// failure: at-least-once in favor of the partner getting paid. A partial
// unique index on completed commission entries per order turns any replay
// into ErrAlreadyPaidOut instead of a double credit.
func (s *PayoutService) PayoutOrder(ctx context.Context, accountID, orderID string) (*models.LedgerEntry, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.PartnerID != accountID {
		return nil, ErrOrderNotOwned
	}
	if order.PartnerPayoutStatus == models.PayoutCompleted {
		return nil, ErrAlreadyPaidOut
	}

	rate, err := s.orders.GetPartnerRate(ctx, order.PartnerID)
	if err != nil {
		return nil, fmt.Errorf("load partner rate: %w", err)
	}

	payout := int64(math.Round(float64(order.Total) * rate))
	if payout <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.wallet.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payout: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.wallet.lockBalanceTx(tx, order.PartnerID)
	if err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		AccountID:   order.PartnerID,
		EntryType:   models.EntryCommission,
		Amount:      payout,
		Status:      models.StatusPending,
		Description: fmt.Sprintf("Commission for order %s at rate %.4f", orderID, rate),
		OrderID:     orderID,
	}
	if err := s.wallet.appendTx(tx, entry); err != nil {
		return nil, mapDuplicatePayout(err)
	}
	if err := s.wallet.creditTx(tx, order.PartnerID, payout); err != nil {
		return nil, err
	}
	if err := s.wallet.transitionTx(tx, entry.ID, models.StatusCompleted); err != nil {
		return nil, mapDuplicatePayout(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payout: %w", mapDuplicatePayout(err))
	}

	entry.Status = models.StatusCompleted
	newBalance := balance.Balance + payout

	s.audit.LogMovement(entry.ID, orderID, order.PartnerID, entry.EntryType, payout, entry.Status)
	s.log.WithFields(logrus.Fields{
		"account_id": order.PartnerID,
		"order_id":   orderID,
		"rate":       rate,
		"amount":     payout,
		"balance":    newBalance,
	}).Info("commission payout completed")

	// Ledger and balance are already advanced; the order flag follows.
	if err := s.orders.UpdateOrderStatus(ctx, orderID, "", "", models.PayoutCompleted); err != nil {
		s.log.WithFields(logrus.Fields{"order_id": orderID, "error": err}).Warn("payout flag update failed, retrying")
		if err := s.orders.UpdateOrderStatus(ctx, orderID, "", "", models.PayoutCompleted); err != nil {
			s.audit.LogDivergence(entry.ID, orderID, order.PartnerID, payout, err, false)
		}
	}

	if s.notifier != nil {
		s.notifier.BalanceChanged(ctx, order.PartnerID, newBalance)
	}
	return entry, nil
}

// mapDuplicatePayout converts the unique-index violation on completed
// commission entries into the domain error callers already handle.
func mapDuplicatePayout(err error) error {
	if isUniqueViolation(err) {
		return ErrAlreadyPaidOut
	}
	return err
}

// HandlePayoutOrder triggers the commission payout for an order
// @Summary Pay out commission for an order
// @Description Credit the partner wallet with the order's commission
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /orders/{orderId}/payout [post]
func (s *PayoutService) HandlePayoutOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	orderID := chi.URLParam(r, "orderId")

	entry, err := s.PayoutOrder(r.Context(), accountID, orderID)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}
