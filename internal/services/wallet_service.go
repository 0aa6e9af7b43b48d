package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/audit"
	"github.com/storelink/backend/internal/models"
)

// ChangeNotifier pushes "balance changed" hints to interested UIs. Hints are
// best-effort cache invalidation; wallet correctness never depends on them.
type ChangeNotifier interface {
	BalanceChanged(ctx context.Context, accountID string, balance int64)
}

// WalletService is the balance store and transaction ledger. One balance row
// per account, created lazily with zero balance; an append-only entry table
// records every balance-affecting event. The invariant: balance equals the
// sum of signed completed entries for the account.
type WalletService struct {
	db       *sql.DB
	log      *logrus.Logger
	audit    *audit.Logger
	notifier ChangeNotifier
	currency string
}

func NewWalletService(db *sql.DB, log *logrus.Logger, auditLog *audit.Logger, notifier ChangeNotifier, currency string) *WalletService {
	if currency == "" {
		currency = "USD"
	}
	return &WalletService{
		db:       db,
		log:      log,
		audit:    auditLog,
		notifier: notifier,
		currency: currency,
	}
}

// GetBalance returns the account's balance row, creating it with zero
// balance on first access. A missing account is not a domain error.
func (s *WalletService) GetBalance(ctx context.Context, accountID string) (*models.Balance, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_balances (account_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, s.currency)
	if err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	balance := &models.Balance{}
	err = s.db.QueryRowContext(ctx, `
		SELECT account_id, balance, currency, updated_at
		FROM wallet_balances
		WHERE account_id = $1
	`, accountID).Scan(&balance.AccountID, &balance.Balance, &balance.Currency, &balance.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites the stored balance. No arithmetic is performed here;
// the reconciliation engine is the only caller and computes the value under
// the same row lock the processors take.
func (s *WalletService) SetBalance(ctx context.Context, accountID string, newBalance int64) (*models.Balance, error) {
	if _, err := s.GetBalance(ctx, accountID); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE wallet_balances SET balance = $1, updated_at = NOW() WHERE account_id = $2
	`, newBalance, accountID)
	if err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	return s.GetBalance(ctx, accountID)
}

// Append inserts a new ledger entry. Amount is a positive magnitude; the
// sign at balance-application time is implied by the entry type.
func (s *WalletService) Append(ctx context.Context, accountID, entryType string, amount int64, status, description, orderID, externalRef string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		EntryType:   entryType,
		Amount:      amount,
		Status:      status,
		Description: description,
		OrderID:     orderID,
		ExternalRef: externalRef,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_entries
		(id, account_id, entry_type, amount, status, description, order_id, external_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`, entry.ID, entry.AccountID, entry.EntryType, entry.Amount, entry.Status,
		entry.Description, entry.OrderID, entry.ExternalRef, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("append entry: %w", err)
	}

	s.audit.LogMovement(entry.ID, entry.OrderID, accountID, entryType, amount, status)
	return entry, nil
}

// ListForAccount returns the account's entries newest first. Storage errors
// degrade to an empty list with a loud log line: transaction history views
// stay up even when the ledger table is briefly unreachable. The audit trail
// makes sure the degradation is never mistaken for "no transactions".
func (s *WalletService) ListForAccount(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, entry_type, amount, status, description,
		       COALESCE(order_id, ''), COALESCE(external_ref, ''), created_at, updated_at
		FROM wallet_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"error":      err,
		}).Error("ledger listing failed, degrading to empty result")
		return []models.LedgerEntry{}, nil
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		err := rows.Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.Status,
			&e.Description, &e.OrderID, &e.ExternalRef, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"account_id": accountID,
				"error":      err,
			}).Error("ledger row scan failed, degrading to empty result")
			return []models.LedgerEntry{}, nil
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Transition moves a pending entry to completed, failed or cancelled. A
// transition to completed applies the signed amount to the balance in the
// same database transaction, so entry status and balance can never disagree.
// Terminal entries are immutable.
func (s *WalletService) Transition(ctx context.Context, entryID, newStatus, reason string) (*models.LedgerEntry, error) {
	switch newStatus {
	case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
	default:
		return nil, &InvalidTransitionError{EntryID: entryID, To: newStatus}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.getEntryForUpdateTx(tx, entryID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("load entry: %w", err)
	}

	if models.IsTerminalStatus(entry.Status) {
		return nil, &InvalidTransitionError{EntryID: entryID, From: entry.Status, To: newStatus}
	}

	var newBalance int64
	applied := false
	if newStatus == models.StatusCompleted {
		balance, err := s.lockBalanceTx(tx, entry.AccountID)
		if err != nil {
			return nil, err
		}
		if models.IsCreditType(entry.EntryType) {
			if err := s.creditTx(tx, entry.AccountID, entry.Amount); err != nil {
				return nil, err
			}
			newBalance = balance.Balance + entry.Amount
		} else {
			if balance.Balance < entry.Amount {
				return nil, newInsufficientFunds(balance.Balance, entry.Amount)
			}
			if err := s.debitTx(tx, entry.AccountID, entry.Amount); err != nil {
				return nil, err
			}
			newBalance = balance.Balance - entry.Amount
		}
		applied = true
	}

	if reason != "" {
		_, err = tx.Exec(`
			UPDATE wallet_entries SET status = $1, description = description || $2, updated_at = NOW() WHERE id = $3
		`, newStatus, " ("+reason+")", entryID)
	} else {
		_, err = tx.Exec(`
			UPDATE wallet_entries SET status = $1, updated_at = NOW() WHERE id = $2
		`, newStatus, entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("update entry status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	entry.Status = newStatus
	entry.UpdatedAt = time.Now()
	s.audit.LogMovement(entry.ID, entry.OrderID, entry.AccountID, entry.EntryType, entry.Amount, newStatus)
	if applied && s.notifier != nil {
		s.notifier.BalanceChanged(ctx, entry.AccountID, newBalance)
	}
	return entry, nil
}

// Transaction-scoped helpers shared with the payment/payout processors.
// Every mutation path locks the account's balance row first, which
// serializes all wallet activity per account.

func (s *WalletService) lockBalanceTx(tx *sql.Tx, accountID string) (*models.Balance, error) {
	_, err := tx.Exec(`
		INSERT INTO wallet_balances (account_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, s.currency)
	if err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	balance := &models.Balance{}
	err = tx.QueryRow(`
		SELECT account_id, balance, currency, updated_at
		FROM wallet_balances
		WHERE account_id = $1
		FOR UPDATE
	`, accountID).Scan(&balance.AccountID, &balance.Balance, &balance.Currency, &balance.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	return balance, nil
}

func (s *WalletService) getEntryForUpdateTx(tx *sql.Tx, entryID string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := tx.QueryRow(`
		SELECT id, account_id, entry_type, amount, status, description,
		       COALESCE(order_id, ''), COALESCE(external_ref, ''), created_at, updated_at
		FROM wallet_entries
		WHERE id = $1
		FOR UPDATE
	`, entryID).Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.Status,
		&e.Description, &e.OrderID, &e.ExternalRef, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *WalletService) appendTx(tx *sql.Tx, entry *models.LedgerEntry) error {
	if entry.Amount <= 0 {
		return ErrInvalidAmount
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt

	_, err := tx.Exec(`
		INSERT INTO wallet_entries
		(id, account_id, entry_type, amount, status, description, order_id, external_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`, entry.ID, entry.AccountID, entry.EntryType, entry.Amount, entry.Status,
		entry.Description, entry.OrderID, entry.ExternalRef, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (s *WalletService) transitionTx(tx *sql.Tx, entryID, newStatus string) error {
	result, err := tx.Exec(`
		UPDATE wallet_entries SET status = $1, updated_at = NOW() WHERE id = $2 AND status = 'pending'
	`, newStatus, entryID)
	if err != nil {
		return fmt.Errorf("transition entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return &InvalidTransitionError{EntryID: entryID, To: newStatus}
	}
	return nil
}

// debitTx applies a conditional debit. The WHERE clause is the last line of
// defense against a negative balance even if a caller skipped the row lock.
func (s *WalletService) debitTx(tx *sql.Tx, accountID string, amount int64) error {
	result, err := tx.Exec(`
		UPDATE wallet_balances
		SET balance = balance - $1, updated_at = NOW()
		WHERE account_id = $2 AND balance >= $1
	`, amount, accountID)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return newInsufficientFunds(0, amount)
	}
	return nil
}

func (s *WalletService) creditTx(tx *sql.Tx, accountID string, amount int64) error {
	_, err := tx.Exec(`
		UPDATE wallet_balances
		SET balance = balance + $1, updated_at = NOW()
		WHERE account_id = $2
	`, amount, accountID)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// HandleGetBalance returns the authenticated partner's wallet balance
// @Summary Get wallet balance
// @Description Retrieve the current spendable balance, creating the wallet on first access
// @Tags wallet
// @Produce json
// @Success 200 {object} models.Balance
// @Failure 500 {object} ErrorResponse
// @Router /wallet/balance [get]
func (s *WalletService) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.GetBalance(r.Context(), accountID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Error("balance lookup failed")
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// HandleListTransactions returns the authenticated partner's ledger entries
// @Summary List wallet transactions
// @Description Get ledger entries newest first with limit/offset paging
// @Tags wallet
// @Produce json
// @Param limit query int false "Page size (default 50, max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Router /wallet/transactions [get]
func (s *WalletService) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil {
			offset = o
		}
	}

	entries, err := s.ListForAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": entries,
		"count":        len(entries),
	})
}
