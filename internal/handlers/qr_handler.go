package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/storelink/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateDepositQR issues a deposit reference QR for the partner
// @Summary Generate deposit QR
// @Description Generate a short-lived deposit reference QR for agent top-ups
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Deposit QR request"
// @Success 200 {object} object{reference=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/deposits/qr [post]
func (h *QRHandler) GenerateDepositQR(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	reference, qrImage, err := h.service.GenerateDepositQR(r.Context(), accountID, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":   true,
		"reference": reference,
		"qrImage":   qrImage,
	})
}

// ResolveDepositQR resolves and consumes a scanned deposit reference
// @Summary Resolve deposit QR
// @Description Validate a scanned deposit reference and return its payload
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{reference=string} true "Scanned reference"
// @Success 200 {object} object{accountId=string,amount=int64}
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/deposits/qr/resolve [post]
func (h *QRHandler) ResolveDepositQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ResolveDepositQR(r.Context(), req.Reference)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}
