package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/storelink/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func testSettlement() *models.WithdrawalSettlement {
	return &models.WithdrawalSettlement{
		EntryID:     "e1",
		AccountID:   "partner1",
		BankAccount: "0123456789",
		BankCode:    "058",
		AccountName: "Acme Store",
		Amount:      30.00,
		Currency:    "USD",
		Reference:   "wd-42",
		RequestedAt: time.Now(),
	}
}

func TestSettlementService_CreatePacs008(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, nil, testLogger())

	t.Run("builds a credit transfer for the withdrawal", func(t *testing.T) {
		doc, err := service.CreatePacs008(testSettlement())
		assert.NoError(t, err)
		assert.NotEmpty(t, doc.GrpHdr.MsgId)
		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Len(t, doc.CdtTrfTxInf, 1)

		tx := doc.CdtTrfTxInf[0]
		assert.Equal(t, "wd-42", string(tx.PmtId.EndToEndId))
		assert.Equal(t, "e1", string(*tx.PmtId.TxId))
		assert.Equal(t, 30.00, tx.IntrBkSttlmAmt.Value)
		assert.Equal(t, "USD", string(tx.IntrBkSttlmAmt.Ccy))
		assert.Equal(t, "058", string(tx.CdtrAgt.FinInstnId.ClrSysMmbId.MmbId))
		assert.Equal(t, "Acme Store", string(*tx.Cdtr.Nm))
	})

	t.Run("falls back to the entry id when no reference exists", func(t *testing.T) {
		ws := testSettlement()
		ws.Reference = ""

		doc, err := service.CreatePacs008(ws)
		assert.NoError(t, err)
		assert.Equal(t, "e1", string(doc.CdtTrfTxInf[0].PmtId.EndToEndId))
	})

	t.Run("document marshals to valid XML", func(t *testing.T) {
		doc, err := service.CreatePacs008(testSettlement())
		assert.NoError(t, err)

		xmlStr, err := service.ConvertToXML(doc)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(xmlStr, "<?xml"))
		assert.Contains(t, xmlStr, "Acme Store")
	})
}

func TestSettlementService_CreatePacs002(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettlementService(db, nil, testLogger())

	doc, err := service.CreatePacs002(testSettlement(), "ACSC")
	assert.NoError(t, err)
	assert.NotEmpty(t, doc.GrpHdr.MsgId)
	assert.Len(t, doc.TxInfAndSts, 1)
	assert.Equal(t, "ACSC", string(*doc.TxInfAndSts[0].TxSts))
	assert.Equal(t, "e1", string(*doc.TxInfAndSts[0].OrgnlTxId))
}

func TestSettlementService_ExportQueued(t *testing.T) {
	now := time.Now()

	queuedEntry := func(id string, amount int64) []byte {
		data, _ := json.Marshal(models.LedgerEntry{
			ID:          id,
			AccountID:   "partner1",
			EntryType:   models.EntryWithdrawal,
			Amount:      amount,
			Status:      models.StatusCompleted,
			ExternalRef: "wd-42",
			CreatedAt:   now,
		})
		return data
	}

	t.Run("exports each queued withdrawal", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewSettlementService(db, redisClient, testLogger())

		redisMock.ExpectLPop(settlementQueueKey).SetVal(string(queuedEntry("e1", 3000)))
		dbMock.ExpectQuery("SELECT p.id, p.store_name, p.bank_account, p.bank_code, b.currency").
			WithArgs("partner1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "store_name", "bank_account", "bank_code", "currency"}).
				AddRow("partner1", "Acme Store", "0123456789", "058", "USD"))
		redisMock.ExpectLPop(settlementQueueKey).RedisNil()

		exported, err := service.ExportQueued(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, exported)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("re-queues the entry when bank details are missing", func(t *testing.T) {
		db, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewSettlementService(db, redisClient, testLogger())

		payload := queuedEntry("e2", 3000)
		redisMock.ExpectLPop(settlementQueueKey).SetVal(string(payload))
		dbMock.ExpectQuery("SELECT p.id, p.store_name, p.bank_account, p.bank_code, b.currency").
			WithArgs("partner1").
			WillReturnError(assert.AnError)
		redisMock.ExpectRPush(settlementQueueKey, payload).SetVal(1)

		exported, err := service.ExportQueued(context.Background())
		assert.Error(t, err)
		assert.Zero(t, exported)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("malformed queue items are dropped", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		service := NewSettlementService(db, redisClient, testLogger())

		redisMock.ExpectLPop(settlementQueueKey).SetVal("not json")
		redisMock.ExpectLPop(settlementQueueKey).RedisNil()

		exported, err := service.ExportQueued(context.Background())
		assert.NoError(t, err)
		assert.Zero(t, exported)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("nil redis is a no-op", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewSettlementService(db, nil, testLogger())
		exported, err := service.ExportQueued(context.Background())
		assert.NoError(t, err)
		assert.Zero(t, exported)
	})
}
