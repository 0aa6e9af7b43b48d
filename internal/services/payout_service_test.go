package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/storelink/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestPayoutService_PayoutOrder(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	log := testLogger()

	t.Run("credits the commission at the partner rate", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		orderSvc.On("GetOrder", mock.Anything, "o1").Return(testOrder("o1", "partner1", 20000), nil)
		orderSvc.On("GetPartnerRate", mock.Anything, "partner1").Return(0.10, nil)
		orderSvc.On("UpdateOrderStatus", mock.Anything, "o1", "", "", models.PayoutCompleted).Return(nil)

		dbMock.ExpectBegin()
		expectBalanceLock(dbMock, "partner1", 0)
		dbMock.ExpectExec("INSERT INTO wallet_entries").
			WithArgs(sqlmock.AnyArg(), "partner1", models.EntryCommission, int64(2000), models.StatusPending,
				sqlmock.AnyArg(), "o1", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec("UPDATE wallet_balances").
			WithArgs(int64(2000), "partner1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE wallet_entries SET status").
			WithArgs(models.StatusCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		entry, err := service.PayoutOrder(context.Background(), "partner1", "o1")
		assert.NoError(t, err)
		assert.Equal(t, int64(2000), entry.Amount)
		assert.Equal(t, models.EntryCommission, entry.EntryType)
		assert.Equal(t, models.StatusCompleted, entry.Status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		orderSvc.AssertExpectations(t)
	})

	t.Run("rounds the commission to the nearest cent", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		// 3333 * 0.15 = 499.95 -> 500
		orderSvc.On("GetOrder", mock.Anything, "o2").Return(testOrder("o2", "partner1", 3333), nil)
		orderSvc.On("GetPartnerRate", mock.Anything, "partner1").Return(0.15, nil)
		orderSvc.On("UpdateOrderStatus", mock.Anything, "o2", "", "", models.PayoutCompleted).Return(nil)

		dbMock.ExpectBegin()
		expectBalanceLock(dbMock, "partner1", 0)
		dbMock.ExpectExec("INSERT INTO wallet_entries").
			WithArgs(sqlmock.AnyArg(), "partner1", models.EntryCommission, int64(500), models.StatusPending,
				sqlmock.AnyArg(), "o2", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec("UPDATE wallet_balances").
			WithArgs(int64(500), "partner1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE wallet_entries SET status").
			WithArgs(models.StatusCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		entry, err := service.PayoutOrder(context.Background(), "partner1", "o2")
		assert.NoError(t, err)
		assert.Equal(t, int64(500), entry.Amount)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("repeat payout is rejected", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		done := testOrder("o3", "partner1", 20000)
		done.PartnerPayoutStatus = models.PayoutCompleted
		orderSvc.On("GetOrder", mock.Anything, "o3").Return(done, nil)

		_, err := service.PayoutOrder(context.Background(), "partner1", "o3")
		assert.ErrorIs(t, err, ErrAlreadyPaidOut)
	})

	t.Run("replayed payout hits the unique index", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		orderSvc.On("GetOrder", mock.Anything, "o4").Return(testOrder("o4", "partner1", 20000), nil)
		orderSvc.On("GetPartnerRate", mock.Anything, "partner1").Return(0.10, nil)

		dbMock.ExpectBegin()
		expectBalanceLock(dbMock, "partner1", 2000)
		dbMock.ExpectExec("INSERT INTO wallet_entries").
			WithArgs(sqlmock.AnyArg(), "partner1", models.EntryCommission, int64(2000), models.StatusPending,
				sqlmock.AnyArg(), "o4", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})
		dbMock.ExpectRollback()

		_, err := service.PayoutOrder(context.Background(), "partner1", "o4")
		assert.ErrorIs(t, err, ErrAlreadyPaidOut)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("payout flag failure still pays the partner", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		orderSvc.On("GetOrder", mock.Anything, "o5").Return(testOrder("o5", "partner1", 20000), nil)
		orderSvc.On("GetPartnerRate", mock.Anything, "partner1").Return(0.10, nil)
		orderSvc.On("UpdateOrderStatus", mock.Anything, "o5", "", "", models.PayoutCompleted).
			Return(assert.AnError).Twice()

		dbMock.ExpectBegin()
		expectBalanceLock(dbMock, "partner1", 0)
		dbMock.ExpectExec("INSERT INTO wallet_entries").
			WithArgs(sqlmock.AnyArg(), "partner1", models.EntryCommission, int64(2000), models.StatusPending,
				sqlmock.AnyArg(), "o5", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbMock.ExpectExec("UPDATE wallet_balances").
			WithArgs(int64(2000), "partner1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec("UPDATE wallet_entries SET status").
			WithArgs(models.StatusCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		entry, err := service.PayoutOrder(context.Background(), "partner1", "o5")
		assert.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, entry.Status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		orderSvc.AssertExpectations(t)
	})

	t.Run("another partner's order is refused", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		orderSvc.On("GetOrder", mock.Anything, "o7").Return(testOrder("o7", "partner2", 20000), nil)

		_, err := service.PayoutOrder(context.Background(), "partner1", "o7")
		assert.ErrorIs(t, err, ErrOrderNotOwned)
		orderSvc.AssertNotCalled(t, "GetPartnerRate", mock.Anything, "partner2")
	})

	t.Run("zero commission is rejected", func(t *testing.T) {
		orderSvc := new(MockOrders)
		wallet := newTestWallet(db)
		service := NewPayoutService(wallet, orderSvc, wallet.audit, log, nil)

		orderSvc.On("GetOrder", mock.Anything, "o6").Return(testOrder("o6", "partner1", 20000), nil)
		orderSvc.On("GetPartnerRate", mock.Anything, "partner1").Return(0.0, nil)

		_, err := service.PayoutOrder(context.Background(), "partner1", "o6")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}
