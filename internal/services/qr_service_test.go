package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GenerateDepositQR(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("issues a reference with a QR image", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		redisMock.Regexp().ExpectSet(`deposit_qr:.+`, `.+`, depositQRTTL).SetVal("OK")

		reference, qrImage, err := service.GenerateDepositQR(context.Background(), "partner1", 5000)
		assert.NoError(t, err)
		assert.NotEmpty(t, reference)

		_, err = base64.StdEncoding.DecodeString(qrImage)
		assert.NoError(t, err)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		redisClient, _ := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		_, _, err := service.GenerateDepositQR(context.Background(), "partner1", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestQRService_ResolveDepositQR(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("resolves and consumes the reference", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		payload, _ := json.Marshal(map[string]any{
			"reference": "ref1",
			"accountId": "partner1",
			"amount":    5000,
		})
		redisMock.ExpectGet("deposit_qr:ref1").SetVal(string(payload))
		redisMock.ExpectDel("deposit_qr:ref1").SetVal(1)

		result, err := service.ResolveDepositQR(context.Background(), "ref1")
		assert.NoError(t, err)
		assert.Equal(t, "partner1", result["accountId"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired reference", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		redisMock.ExpectGet("deposit_qr:gone").RedisNil()

		_, err := service.ResolveDepositQR(context.Background(), "gone")
		assert.Error(t, err)
	})
}
