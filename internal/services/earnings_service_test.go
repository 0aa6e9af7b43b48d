package services

import (
	"context"
	"testing"
	"time"

	"github.com/storelink/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestEarningsService_Aggregate(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

	paidOrder := func(id string, total int64, rate float64, createdAt time.Time) models.Order {
		return models.Order{
			ID:             id,
			PartnerID:      "partner1",
			Total:          total,
			CommissionRate: rate,
			Currency:       "USD",
			Status:         models.OrderCompleted,
			PaymentStatus:  models.PaymentPaid,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
	}

	newService := func(orderSvc *MockOrders) *EarningsService {
		service := NewEarningsService(orderSvc, testLogger())
		service.now = func() time.Time { return now }
		return service
	}

	t.Run("buckets commissions into reporting windows", func(t *testing.T) {
		orderSvc := new(MockOrders)
		orderSvc.On("ListPaidOrders", mock.Anything, "partner1").Return([]models.Order{
			paidOrder("o1", 10000, 0.10, now.Add(-2*time.Hour)),                          // today: 1000
			paidOrder("o2", 20000, 0.10, time.Date(2024, time.June, 2, 9, 0, 0, 0, time.UTC)), // this month: 2000
			paidOrder("o3", 30000, 0.10, time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)), // last month: 3000
			paidOrder("o4", 40000, 0.10, time.Date(2023, time.December, 1, 9, 0, 0, 0, time.UTC)), // last year: 4000
		}, nil)

		earnings, err := newService(orderSvc).Aggregate(context.Background(), "partner1", nil)
		assert.NoError(t, err)
		assert.Equal(t, int64(1000), earnings[WindowToday])
		assert.Equal(t, int64(3000), earnings[WindowThisMonth])
		assert.Equal(t, int64(3000), earnings[WindowLastMonth])
		assert.Equal(t, int64(6000), earnings[WindowThisYear])
		assert.Equal(t, int64(10000), earnings[WindowAllTime])
	})

	t.Run("uses each order's snapshot rate", func(t *testing.T) {
		orderSvc := new(MockOrders)
		orderSvc.On("ListPaidOrders", mock.Anything, "partner1").Return([]models.Order{
			paidOrder("o1", 10000, 0.10, now.Add(-time.Hour)),
			paidOrder("o2", 10000, 0.15, now.Add(-time.Hour)),
		}, nil)

		earnings, err := newService(orderSvc).Aggregate(context.Background(), "partner1", []string{WindowAllTime})
		assert.NoError(t, err)
		assert.Equal(t, int64(2500), earnings[WindowAllTime])
	})

	t.Run("rounds each order independently", func(t *testing.T) {
		orderSvc := new(MockOrders)
		// 3333 * 0.10 = 333.3 -> 333, twice.
		orderSvc.On("ListPaidOrders", mock.Anything, "partner1").Return([]models.Order{
			paidOrder("o1", 3333, 0.10, now.Add(-time.Hour)),
			paidOrder("o2", 3333, 0.10, now.Add(-time.Hour)),
		}, nil)

		earnings, err := newService(orderSvc).Aggregate(context.Background(), "partner1", []string{WindowAllTime})
		assert.NoError(t, err)
		assert.Equal(t, int64(666), earnings[WindowAllTime])
	})

	t.Run("no paid orders yields zeroed windows", func(t *testing.T) {
		orderSvc := new(MockOrders)
		orderSvc.On("ListPaidOrders", mock.Anything, "partner1").Return([]models.Order{}, nil)

		earnings, err := newService(orderSvc).Aggregate(context.Background(), "partner1", nil)
		assert.NoError(t, err)
		assert.Len(t, earnings, len(defaultWindows))
		for window, total := range earnings {
			assert.Zero(t, total, window)
		}
	})

	t.Run("order collaborator failure propagates", func(t *testing.T) {
		orderSvc := new(MockOrders)
		orderSvc.On("ListPaidOrders", mock.Anything, "partner1").Return(nil, assert.AnError)

		_, err := newService(orderSvc).Aggregate(context.Background(), "partner1", nil)
		assert.Error(t, err)
	})
}
