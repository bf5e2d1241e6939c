package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerpay/backend/internal/models"
)

const accountColumns = `id, user_id, account_number, account_name, type, balance, currency, status, created_at, updated_at`

// AccountStore reads and writes account rows. Balance writes must go through
// SetBalance while holding the row lock from GetForUpdate in the same
// database transaction; plain reads outside a transaction see whatever the
// last committed operation left behind.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Get fetches an account snapshot without locking.
func (s *AccountStore) Get(ctx context.Context, accountID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = $1
	`, accountID)
	return scanAccount(row)
}

// GetByNumber fetches an account snapshot by its externally visible account
// number.
func (s *AccountStore) GetByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE account_number = $1
	`, accountNumber)
	return scanAccount(row)
}

// GetForUpdate acquires an exclusive row lock on the account, held until tx
// commits or rolls back. Concurrent callers locking the same account block
// here, bounded by the transaction's lock_timeout.
func (s *AccountStore) GetForUpdate(tx *sql.Tx, accountID string) (*models.Account, error) {
	row := tx.QueryRow(`
		SELECT `+accountColumns+`
		FROM accounts WHERE id = $1
		FOR UPDATE
	`, accountID)
	return scanAccount(row)
}

// SetBalance writes a new balance inside tx. The caller must hold the row
// lock from GetForUpdate on the same transaction.
func (s *AccountStore) SetBalance(tx *sql.Tx, accountID string, balance decimal.Decimal) error {
	result, err := tx.Exec(`
		UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2
	`, balance, accountID)
	if err != nil {
		return mapStorageError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Create inserts a new account row and returns it with the database-assigned
// timestamps.
func (s *AccountStore) Create(ctx context.Context, acc *models.Account) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, user_id, account_number, account_name, type, balance, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+accountColumns+`
	`, acc.ID, acc.UserID, acc.AccountNumber, acc.AccountName, acc.Type, acc.Balance, acc.Currency, acc.Status)

	created, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// AccountNumberExists reports whether an account number is already taken.
// Account opening retries generation on collision before relying on the
// unique index as the final backstop.
func (s *AccountStore) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)
	`, accountNumber).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.AccountNumber, &acc.AccountName, &acc.Type,
		&acc.Balance, &acc.Currency, &acc.Status, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, mapStorageError(err)
	}
	return &acc, nil
}
