package services

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/orders"
)

// Reporting windows for earnings aggregation.
const (
	WindowToday     = "today"
	WindowThisMonth = "this_month"
	WindowLastMonth = "last_month"
	WindowThisYear  = "this_year"
	WindowAllTime   = "all_time"
)

var defaultWindows = []string{WindowToday, WindowThisMonth, WindowLastMonth, WindowThisYear, WindowAllTime}

// EarningsService is the read-only reporting layer. It aggregates over paid
// orders (not the ledger) for historical compatibility: orders predating the
// ledger still count. The output is display data, never the source of truth
// for the spendable balance.
type EarningsService struct {
	orders orders.Service
	log    *logrus.Logger
	now    func() time.Time
}

func NewEarningsService(orderSvc orders.Service, log *logrus.Logger) *EarningsService {
	return &EarningsService{
		orders: orderSvc,
		log:    log,
		now:    time.Now,
	}
}

// Aggregate sums total x commission rate over the account's paid orders,
// bucketed by created_at into each requested window. Idempotent and safe to
// call repeatedly; mutates nothing.
func (s *EarningsService) Aggregate(ctx context.Context, accountID string, windows []string) (map[string]int64, error) {
	if len(windows) == 0 {
		windows = defaultWindows
	}

	paidOrders, err := s.orders.ListPaidOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(windows))
	for _, window := range windows {
		result[window] = 0
	}

	for _, order := range paidOrders {
		commission := int64(math.Round(float64(order.Total) * order.CommissionRate))
		for _, window := range windows {
			if s.inWindow(order.CreatedAt, window) {
				result[window] += commission
			}
		}
	}
	return result, nil
}

func (s *EarningsService) inWindow(createdAt time.Time, window string) bool {
	now := s.now()
	switch window {
	case WindowToday:
		y, m, d := now.Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		return !createdAt.Before(start)
	case WindowThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return !createdAt.Before(start)
	case WindowLastMonth:
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		lastMonth := thisMonth.AddDate(0, -1, 0)
		return !createdAt.Before(lastMonth) && createdAt.Before(thisMonth)
	case WindowThisYear:
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return !createdAt.Before(start)
	case WindowAllTime:
		return true
	}
	return false
}

// HandleEarnings returns windowed earnings for the authenticated partner
// @Summary Get earnings summary
// @Description Aggregate commission earnings over standard reporting windows
// @Tags wallet
// @Produce json
// @Success 200 {object} map[string]int64
// @Failure 500 {object} ErrorResponse
// @Router /wallet/earnings [get]
func (s *EarningsService) HandleEarnings(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("userID").(string)
	if !ok || accountID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	earnings, err := s.Aggregate(r.Context(), accountID, nil)
	if err != nil {
		s.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Error("earnings aggregation failed")
		SendErrorResponse(w, "Failed to aggregate earnings", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"account_id": accountID,
		"earnings":   earnings,
	})
}
