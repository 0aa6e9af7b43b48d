package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const depositQRTTL = 15 * time.Minute

// QRService issues short-lived deposit references encoded as QR codes. A
// partner shows the code to a cash-in agent; the agent's scan carries the
// reference back through the deposit intake, which deduplicates on it.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
	}
}

// GenerateDepositQR returns the deposit reference and a base64 PNG QR image.
func (s *QRService) GenerateDepositQR(ctx context.Context, accountID string, amount int64) (string, string, error) {
	if amount <= 0 {
		return "", "", ErrInvalidAmount
	}

	reference := uuid.New().String()
	payload := map[string]any{
		"reference": reference,
		"accountId": accountID,
		"amount":    amount,
		"issuedAt":  time.Now().Unix(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	key := fmt.Sprintf("deposit_qr:%s", reference)
	if err := s.redis.Set(ctx, key, jsonData, depositQRTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(reference, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return reference, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ResolveDepositQR validates a scanned reference and consumes it. The
// returned payload tells the agent which account and amount to credit.
func (s *QRService) ResolveDepositQR(ctx context.Context, reference string) (map[string]any, error) {
	key := fmt.Sprintf("deposit_qr:%s", reference)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired deposit reference")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}
