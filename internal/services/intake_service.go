package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/models"
)

const settlementQueueKey = "withdrawal_settlement_queue"

// IntakeService receives deposit and withdrawal requests and applies the
// human approval decisions. Requests become pending ledger entries; an
// approval transitions them to completed (which applies the balance change)
// and a rejection transitions them to failed with the reviewer's reason.
type IntakeService struct {
	wallet    *WalletService
	redis     *redis.Client
	validator *ValidationHelper
	log       *logrus.Logger
}

func NewIntakeService(wallet *WalletService, redisClient *redis.Client, log *logrus.Logger) *IntakeService {
	return &IntakeService{
		wallet:    wallet,
		redis:     redisClient,
		validator: NewValidationHelper(),
		log:       log,
	}
}

type intakeRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"omitempty,max=64"`
	Description string `json:"description" validate:"omitempty,max=200"`
}

// RequestDeposit records a pending deposit awaiting manual approval. A
// caller-supplied reference deduplicates retries: the existing entry is
// returned instead of a second one being created.
func (s *IntakeService) RequestDeposit(ctx context.Context, accountID string, req intakeRequest) (*models.LedgerEntry, error) {
	return s.request(ctx, accountID, models.EntryDeposit, req)
}

// RequestWithdrawal records a pending withdrawal. The balance is not
// reserved: the debit is applied conditionally at approval time and the
// approval fails on a shortfall.
func (s *IntakeService) RequestWithdrawal(ctx context.Context, accountID string, req intakeRequest) (*models.LedgerEntry, error) {
	return s.request(ctx, accountID, models.EntryWithdrawal, req)
}

func (s *IntakeService) request(ctx context.Context, accountID, entryType string, req intakeRequest) (*models.LedgerEntry, error) {
	if req.Reference != "" {
		existing, err := s.findByReference(ctx, accountID, req.Reference)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if existing != nil {
			s.log.WithFields(logrus.Fields{
				"account_id": accountID,
				"reference":  req.Reference,
				"entry_id":   existing.ID,
			}).Info("duplicate intake request, returning existing entry")
			return existing, nil
		}
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("%s request", entryType)
	}
	entry, err := s.wallet.Append(ctx, accountID, entryType, req.Amount, models.StatusPending, description, "", req.Reference)
	if err != nil && req.Reference != "" && isUniqueViolation(err) {
		// A concurrent retry won the insert between our reference lookup
		// and the append; the unique index on (account_id, external_ref)
		// guarantees exactly one entry exists, so return it.
		existing, lookupErr := s.findByReference(ctx, accountID, req.Reference)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			s.log.WithFields(logrus.Fields{
				"account_id": accountID,
				"reference":  req.Reference,
				"entry_id":   existing.ID,
			}).Info("duplicate intake request, returning existing entry")
			return existing, nil
		}
		return nil, err
	}
	return entry, err
}

func (s *IntakeService) findByReference(ctx context.Context, accountID, reference string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := s.wallet.db.QueryRowContext(ctx, `
		SELECT id, account_id, entry_type, amount, status, description,
		       COALESCE(order_id, ''), COALESCE(external_ref, ''), created_at, updated_at
		FROM wallet_entries
		WHERE account_id = $1 AND external_ref = $2
	`, accountID, reference).Scan(&e.ID, &e.AccountID, &e.EntryType, &e.Amount, &e.Status,
		&e.Description, &e.OrderID, &e.ExternalRef, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Approve completes a pending entry, applying its balance effect. Approved
// withdrawals are additionally queued for bank settlement.
func (s *IntakeService) Approve(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	entry, err := s.wallet.Transition(ctx, entryID, models.StatusCompleted, "")
	if err != nil {
		return nil, err
	}

	if entry.EntryType == models.EntryWithdrawal {
		if err := s.queueForSettlement(ctx, entry); err != nil {
			// Settlement is retried by the exporter's own sweep; the ledger
			// is already correct.
			s.log.WithFields(logrus.Fields{"entry_id": entry.ID, "error": err}).Warn("failed to queue withdrawal for settlement")
		}
	}
	return entry, nil
}

// Reject fails a pending entry with the reviewer's reason. No balance change.
func (s *IntakeService) Reject(ctx context.Context, entryID, reason string) (*models.LedgerEntry, error) {
	return s.wallet.Transition(ctx, entryID, models.StatusFailed, reason)
}

func (s *IntakeService) queueForSettlement(ctx context.Context, entry *models.LedgerEntry) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.redis.RPush(ctx, settlementQueueKey, data).Err()
}

// HandleRequestDeposit records a pending deposit for the authenticated partner
// @Summary Request a deposit
// @Description Create a pending deposit ledger entry awaiting approval
// @Tags wallet
// @Accept json
// @Produce json
// @Param deposit body intakeRequest true "Deposit request"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Router /wallet/deposits [post]
func (s *IntakeService) HandleRequestDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleRequest(w, r, models.EntryDeposit)
}

// HandleRequestWithdrawal records a pending withdrawal for the authenticated partner
// @Summary Request a withdrawal
// @Description Create a pending withdrawal ledger entry awaiting approval
// @Tags wallet
// @Accept json
// @Produce json
// @Param withdrawal body intakeRequest true "Withdrawal request"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Router /wallet/withdrawals [post]
func (s *IntakeService) HandleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.handleRequest(w, r, models.EntryWithdrawal)
}

func (s *IntakeService) handleRequest(w http.ResponseWriter, r *http.Request, entryType string) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req intakeRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := s.request(r.Context(), accountID, entryType, req)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
			return
		}
		s.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Error("intake request failed")
		SendErrorResponse(w, "Failed to record request", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// HandleApprove completes a pending deposit or withdrawal
// @Summary Approve a pending entry
// @Description Transition a pending ledger entry to completed and apply it
// @Tags wallet
// @Produce json
// @Param entryId path string true "Ledger entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /wallet/entries/{entryId}/approve [post]
func (s *IntakeService) HandleApprove(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryId")

	entry, err := s.Approve(r.Context(), entryID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// HandleReject fails a pending deposit or withdrawal
// @Summary Reject a pending entry
// @Description Transition a pending ledger entry to failed with a reason
// @Tags wallet
// @Accept json
// @Produce json
// @Param entryId path string true "Ledger entry ID"
// @Param rejection body object{reason=string} true "Rejection reason"
// @Success 200 {object} models.LedgerEntry
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /wallet/entries/{entryId}/reject [post]
func (s *IntakeService) HandleReject(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryId")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	entry, err := s.Reject(r.Context(), entryID, req.Reason)
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func writeTransitionError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientFundsError
	var invalid *InvalidTransitionError
	switch {
	case errors.Is(err, ErrEntryNotFound):
		SendErrorResponse(w, "Ledger entry not found", http.StatusNotFound, nil)
	case errors.As(err, &invalid):
		SendErrorResponse(w, invalid.Error(), http.StatusConflict, nil)
	case errors.As(err, &insufficient):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "insufficient funds",
			"balance":   insufficient.Balance,
			"required":  insufficient.Required,
			"shortfall": insufficient.Shortfall,
		})
	default:
		SendErrorResponse(w, "Operation could not be completed, please retry", http.StatusInternalServerError, nil)
	}
}
