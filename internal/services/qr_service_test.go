package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GenerateQRCode(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewQRService(nil, redisClient)
	ctx := context.Background()

	t.Run("generates a decodable one-time code", func(t *testing.T) {
		redisMock.Regexp().ExpectSet(`qr:.+`, `.+`, qrCodeTTL).SetVal("OK")

		code, image, err := service.GenerateQRCode(ctx, "0123456789", decimal.RequireFromString("25.50"))
		assert.NoError(t, err)
		assert.NotEmpty(t, code)
		assert.NotEmpty(t, image)

		raw, err := base64.URLEncoding.DecodeString(code)
		assert.NoError(t, err)

		var payload ReceiveRequest
		assert.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, "0123456789", payload.AccountNumber)
		assert.True(t, payload.Amount.Equal(decimal.RequireFromString("25.50")))
		assert.NotEmpty(t, payload.Nonce)

		// The image is a base64 PNG.
		imgBytes, err := base64.StdEncoding.DecodeString(image)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, imgBytes[:4])

		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("distinct codes for identical requests", func(t *testing.T) {
		redisMock.Regexp().ExpectSet(`qr:.+`, `.+`, qrCodeTTL).SetVal("OK")
		redisMock.Regexp().ExpectSet(`qr:.+`, `.+`, qrCodeTTL).SetVal("OK")

		first, _, err := service.GenerateQRCode(ctx, "0123456789", decimal.NewFromInt(10))
		assert.NoError(t, err)
		second, _, err := service.GenerateQRCode(ctx, "0123456789", decimal.NewFromInt(10))
		assert.NoError(t, err)

		assert.NotEqual(t, first, second)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestQRService_WithoutRedis(t *testing.T) {
	// InitRedis hands out a nil client when Redis is unreachable; the
	// service must refuse cleanly instead of dereferencing it.
	service := NewQRService(nil, nil)
	ctx := context.Background()

	t.Run("generate is rejected", func(t *testing.T) {
		assert.NotPanics(t, func() {
			_, _, err := service.GenerateQRCode(ctx, "0123456789", decimal.NewFromInt(10))
			assert.ErrorIs(t, err, ErrQRUnavailable)
		})
	})

	t.Run("process is rejected", func(t *testing.T) {
		assert.NotPanics(t, func() {
			_, err := service.ProcessQRCode(ctx, "any-code")
			assert.ErrorIs(t, err, ErrQRUnavailable)
		})
	})
}

func TestQRService_ProcessQRCode(t *testing.T) {
	redisClient, redisMock := redismock.NewClientMock()
	service := NewQRService(nil, redisClient)
	ctx := context.Background()

	t.Run("resolves and consumes a live code", func(t *testing.T) {
		payload := ReceiveRequest{
			AccountNumber: "0123456789",
			Amount:        decimal.RequireFromString("42"),
			Timestamp:     time.Now().Unix(),
			Nonce:         "bm9uY2U",
		}
		data, err := json.Marshal(payload)
		assert.NoError(t, err)
		code := base64.URLEncoding.EncodeToString(data)

		redisMock.ExpectGet("qr:" + code).SetVal(string(data))
		redisMock.ExpectDel("qr:" + code).SetVal(1)

		req, err := service.ProcessQRCode(ctx, code)
		assert.NoError(t, err)
		assert.Equal(t, "0123456789", req.AccountNumber)
		assert.True(t, req.Amount.Equal(decimal.NewFromInt(42)))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired or unknown code is rejected", func(t *testing.T) {
		redisMock.ExpectGet("qr:unknown").RedisNil()

		_, err := service.ProcessQRCode(ctx, "unknown")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired QR code")
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
