package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const qrCodeTTL = 5 * time.Minute

// QRService issues one-time receive-money codes. A generated code carries the
// receiving account number and an optional requested amount; the payer's app
// scans it and submits the resulting transfer through the ledger engine. The
// code lives in Redis with a short TTL and is consumed on first use.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// ReceiveRequest is the payload encoded into a receive-money QR code.
type ReceiveRequest struct {
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     int64           `json:"timestamp"`
	Nonce         string          `json:"nonce"`
}

// GenerateQRCode creates a one-time code for receiving money into the given
// account and returns the opaque code plus a base64 PNG rendering of it.
func (s *QRService) GenerateQRCode(ctx context.Context, accountNumber string, amount decimal.Decimal) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrQRUnavailable
	}

	payload := ReceiveRequest{
		AccountNumber: accountNumber,
		Amount:        amount,
		Timestamp:     time.Now().Unix(),
		Nonce:         s.generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, qrCodeTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ProcessQRCode resolves a scanned code to its receive request and consumes
// it. A second scan of the same code fails.
func (s *QRService) ProcessQRCode(ctx context.Context, code string) (*ReceiveRequest, error) {
	if s.redis == nil {
		return nil, ErrQRUnavailable
	}

	key := fmt.Sprintf("qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var req ReceiveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &req, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
