package services

import (
	"context"
	"database/sql"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/audit"
	"github.com/storelink/backend/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrders) UpdateOrderStatus(ctx context.Context, id, status, paymentStatus, payoutStatus string) error {
	args := m.Called(ctx, id, status, paymentStatus, payoutStatus)
	return args.Error(0)
}

func (m *MockOrders) GetPartnerRate(ctx context.Context, partnerID string) (float64, error) {
	args := m.Called(ctx, partnerID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockOrders) ListPaidOrders(ctx context.Context, partnerID string) ([]models.Order, error) {
	args := m.Called(ctx, partnerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestWallet(db *sql.DB) *WalletService {
	log := testLogger()
	return NewWalletService(db, log, audit.NewLogger(log), nil, "USD")
}
