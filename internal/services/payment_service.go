package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/audit"
	"github.com/storelink/backend/internal/models"
	"github.com/storelink/backend/internal/orders"
)

// PaymentService debits a partner's wallet when they accept and pay for an
// order. Balance and ledger move in one database transaction; the order
// collaborator is updated mid-sequence with best-effort compensation if the
// wallet side fails to commit afterwards.
type PaymentService struct {
	wallet   *WalletService
	orders   orders.Service
	audit    *audit.Logger
	log      *logrus.Logger
	notifier ChangeNotifier
}

func NewPaymentService(wallet *WalletService, orderSvc orders.Service, auditLog *audit.Logger, log *logrus.Logger, notifier ChangeNotifier) *PaymentService {
	return &PaymentService{
		wallet:   wallet,
		orders:   orderSvc,
		audit:    auditLog,
		log:      log,
		notifier: notifier,
	}
}

// PayOrder runs the accept/pay sequence for one order:
// validate -> lock balance -> pending entry -> order paid -> debit -> commit.
// Exactly one completed order_payment entry may exist per order; retries
// after a success surface ErrAlreadyPaid and leave the balance untouched.
func (s *PaymentService) PayOrder(ctx context.Context, accountID, orderID string) (*models.LedgerEntry, error) {
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
	if order.PartnerPaymentStatus == models.PaymentPaid {
		return nil, ErrAlreadyPaid
	}

	tx, err := s.wallet.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.wallet.lockBalanceTx(tx, accountID)
	if err != nil {
		return nil, err
	}
	if balance.Balance < order.Total {
		return nil, newInsufficientFunds(balance.Balance, order.Total)
	}

	entry := &models.LedgerEntry{
		AccountID:   accountID,
		EntryType:   models.EntryOrderPayment,
		Amount:      order.Total,
		Status:      models.StatusPending,
		Description: fmt.Sprintf("Payment for order %s", orderID),
		OrderID:     orderID,
	}
	if err := s.wallet.appendTx(tx, entry); err != nil {
		return nil, mapDuplicatePayment(err)
	}

	// The collaborator is authoritative for order state; flip it before the
	// wallet commit so a paid order without a debit is the only possible
	// divergence shape, never a debit without a paid order.
	if err := s.orders.UpdateOrderStatus(ctx, orderID, models.OrderProcessing, models.PaymentPaid, ""); err != nil {
		if ferr := s.failEntryTx(tx, entry, "order update failed"); ferr != nil {
			s.log.WithFields(logrus.Fields{"entry_id": entry.ID, "error": ferr}).Error("could not persist failed payment entry")
		}
		s.audit.LogError(entry.ID, accountID, err)
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.wallet.debitTx(tx, accountID, order.Total); err != nil {
		s.compensateOrder(ctx, orderID, entry.ID, accountID, order.Total, err)
		return nil, err
	}
	// When the completed-entry unique index fires here, a committed debit
	// for this order already exists: the order being paid is correct, so
	// the order must NOT be reverted.
	if err := s.wallet.transitionTx(tx, entry.ID, models.StatusCompleted); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyPaid
		}
		s.compensateOrder(ctx, orderID, entry.ID, accountID, order.Total, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyPaid
		}
		s.compensateOrder(ctx, orderID, entry.ID, accountID, order.Total, err)
		return nil, fmt.Errorf("commit payment: %w", err)
	}

	entry.Status = models.StatusCompleted
	newBalance := balance.Balance - order.Total

	s.audit.LogMovement(entry.ID, orderID, accountID, entry.EntryType, entry.Amount, entry.Status)
	s.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"order_id":   orderID,
		"amount":     order.Total,
		"balance":    newBalance,
	}).Info("order payment completed")

	if s.notifier != nil {
		s.notifier.BalanceChanged(ctx, accountID, newBalance)
	}
	return entry, nil
}

// failEntryTx marks the pending entry failed and commits just that, keeping
// an auditable record of the aborted attempt. Balance rows are untouched
// because the debit never ran.
func (s *PaymentService) failEntryTx(tx *sql.Tx, entry *models.LedgerEntry, reason string) error {
	if err := s.wallet.transitionTx(tx, entry.ID, models.StatusFailed); err != nil {
		return err
	}
	entry.Status = models.StatusFailed
	entry.Description += " (" + reason + ")"
	return tx.Commit()
}

// mapDuplicatePayment converts the unique-index violation on completed
// order_payment entries into the domain error callers already handle.
func mapDuplicatePayment(err error) error {
	if isUniqueViolation(err) {
		return ErrAlreadyPaid
	}
	return err
}

// compensateOrder reverts the order to pending/unpaid after the wallet side
// failed. Compensation is best-effort; success or not, the divergence is
// audited so the reconciliation sweep can find it.
func (s *PaymentService) compensateOrder(ctx context.Context, orderID, entryID, accountID string, amount int64, cause error) {
	err := s.orders.UpdateOrderStatus(ctx, orderID, models.OrderPending, models.PaymentPending, "")
	compensated := err == nil
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"error":    err,
		}).Error("order compensation failed, manual reconciliation required")
	}
	s.audit.LogDivergence(entryID, orderID, accountID, amount, cause, compensated)
}

// HandlePayOrder pays for an order from the authenticated partner's wallet
// @Summary Pay for an order
// @Description Debit the partner wallet to accept and pay for an order
// @Tags orders
// @Produce json
// @Param orderId path string true "Order ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 402 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /orders/{orderId}/pay [post]
func (s *PaymentService) HandlePayOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	orderID := chi.URLParam(r, "orderId")

	entry, err := s.PayOrder(r.Context(), accountID, orderID)
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

func writePaymentError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "insufficient funds",
			"balance":   insufficient.Balance,
			"required":  insufficient.Required,
			"shortfall": insufficient.Shortfall,
		})
	case errors.Is(err, ErrOrderNotFound):
		SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrOrderNotOwned):
		SendErrorResponse(w, "Order belongs to another partner", http.StatusForbidden, nil)
	case errors.Is(err, ErrAlreadyPaid):
		SendErrorResponse(w, "Order already paid", http.StatusConflict, nil)
	case errors.Is(err, ErrAlreadyPaidOut):
		SendErrorResponse(w, "Order already paid out", http.StatusConflict, nil)
	case errors.Is(err, ErrInvalidAmount):
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
	default:
		// Unknown (transport/timeout) errors get a generic retry prompt; the
		// caller must re-check order state before retrying.
		SendErrorResponse(w, "Payment could not be completed, please retry", http.StatusInternalServerError, nil)
	}
}
