package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ledgerpay/backend/internal/models"
)

const transactionColumns = `id, account_id, type, amount, balance_before, balance_after, description, reference_number, related_account_id, status, created_at`

// Pagination bounds for transaction listing. Out-of-range values are
// rejected, never clamped.
const (
	MaxListLimit     = 100
	DefaultListLimit = 20
)

// TransactionLog is the append-only store of immutable transaction records.
// Appends happen inside the ledger engine's database transaction; reads are
// plain queries. Summaries of past calendar months never change once the
// month is over, so they are cached in Redis when a client is configured.
type TransactionLog struct {
	db    *sql.DB
	redis *redis.Client
}

func NewTransactionLog(db *sql.DB, redis *redis.Client) *TransactionLog {
	return &TransactionLog{db: db, redis: redis}
}

// Append inserts one transaction record as part of the caller's atomic unit.
// A duplicate reference number surfaces as ErrDuplicateReference.
func (l *TransactionLog) Append(tx *sql.Tx, record *models.Transaction) (*models.Transaction, error) {
	row := tx.QueryRow(`
		INSERT INTO transactions (id, account_id, type, amount, balance_before, balance_after, description, reference_number, related_account_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+transactionColumns+`
	`, record.ID, record.AccountID, record.Type, record.Amount, record.BalanceBefore,
		record.BalanceAfter, record.Description, record.ReferenceNumber, record.RelatedAccountID, record.Status)

	appended, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// ListByAccount returns the account's transactions newest first. Limit must
// be 1-100 and offset non-negative.
func (l *TransactionLog) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	if limit < 1 || limit > MaxListLimit || offset < 0 {
		return nil, ErrInvalidPagination
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// GetByReference fetches one transaction record by its reference number.
func (l *TransactionLog) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE reference_number = $1
	`, reference)
	return scanTransaction(row)
}

// SummarizeByMonth aggregates completed transactions of the account for one
// calendar month, grouped by type. Months strictly in the past are served
// from Redis when possible since their aggregates are immutable.
func (l *TransactionLog) SummarizeByMonth(ctx context.Context, accountID string, year, month int) (models.MonthlySummary, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month out of range", ErrInvalidPagination)
	}

	cacheable := l.redis != nil && monthEnded(year, month, time.Now().UTC())
	cacheKey := fmt.Sprintf("summary:%s:%04d-%02d", accountID, year, month)

	if cacheable {
		if cached, err := l.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var summary models.MonthlySummary
			if err := json.Unmarshal(cached, &summary); err == nil {
				return summary, nil
			}
		}
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := l.db.QueryContext(ctx, `
		SELECT type, COUNT(*), SUM(amount), AVG(amount)
		FROM transactions
		WHERE account_id = $1 AND status = 'completed' AND created_at >= $2 AND created_at < $3
		GROUP BY type
	`, accountID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := models.MonthlySummary{}
	for rows.Next() {
		var txType models.TransactionType
		var agg models.TypeSummary
		if err := rows.Scan(&txType, &agg.Count, &agg.Total, &agg.Average); err != nil {
			return nil, err
		}
		summary[txType] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if cacheable {
		if data, err := json.Marshal(summary); err == nil {
			if err := l.redis.Set(ctx, cacheKey, data, 0).Err(); err != nil {
				log.Printf("[SUMMARY] Failed to cache %s: %v", cacheKey, err)
			}
		}
	}

	return summary, nil
}

// monthEnded reports whether the given calendar month is fully in the past
// relative to now.
func monthEnded(year, month int, now time.Time) bool {
	end := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return !now.Before(end)
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Description, &t.ReferenceNumber, &t.RelatedAccountID, &t.Status, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, mapStorageError(err)
	}
	return &t, nil
}
