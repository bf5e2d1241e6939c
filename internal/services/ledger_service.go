package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ledgerpay/backend/internal/models"
)

// LedgerService is the ledger engine. Every balance-affecting operation runs
// as one atomic unit: a database transaction that locks the touched account
// rows, validates, writes the new balances, and appends the matching
// immutable transaction records. Either every write in the unit commits or
// none of them become visible.
//
// Only this service mutates balances or appends transaction rows.
type LedgerService struct {
	db           *sql.DB
	accounts     *AccountStore
	txlog        *TransactionLog
	refs         *ReferenceGenerator
	lockTimeout  time.Duration
	feeAccountID string
}

// SystemFeeAccountID is the fee-collection account seeded by the initial
// migration. ledger.fee_account may point elsewhere, but must reference an
// existing account row.
const SystemFeeAccountID = "00000000-0000-0000-0000-000000000fee"

func NewLedgerService(db *sql.DB, redisClient *redis.Client) *LedgerService {
	viper.SetDefault("ledger.lock_timeout", "3s")
	viper.SetDefault("ledger.fee_account", SystemFeeAccountID)

	lockTimeout := viper.GetDuration("ledger.lock_timeout")
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}

	return &LedgerService{
		db:           db,
		accounts:     NewAccountStore(db),
		txlog:        NewTransactionLog(db, redisClient),
		refs:         NewReferenceGenerator(),
		lockTimeout:  lockTimeout,
		feeAccountID: viper.GetString("ledger.fee_account"),
	}
}

// Accounts exposes the engine's account store for read-only callers.
func (s *LedgerService) Accounts() *AccountStore {
	return s.accounts
}

// Transactions exposes the engine's transaction log for read-only callers.
func (s *LedgerService) Transactions() *TransactionLog {
	return s.txlog
}

// Deposit credits amount to the account and records a deposit transaction,
// all in one atomic unit.
func (s *LedgerService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin atomic unit: %w", err)
	}
	defer tx.Rollback()

	acc, err := s.lockActiveAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := acc.Balance.Add(amount)
	if err := s.accounts.SetBalance(tx, acc.ID, newBalance); err != nil {
		return nil, err
	}

	record, err := s.txlog.Append(tx, &models.Transaction{
		ID:              uuid.New().String(),
		AccountID:       acc.ID,
		Type:            models.TransactionTypeDeposit,
		Amount:          amount,
		BalanceBefore:   acc.Balance,
		BalanceAfter:    newBalance,
		Description:     description,
		ReferenceNumber: s.refs.Generate(),
		Status:          models.TransactionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapStorageError(err)
	}
	return record, nil
}

// Withdraw debits amount from the account and records a withdrawal
// transaction. Fails with ErrInsufficientFunds before any mutation if the
// balance cannot cover the amount.
func (s *LedgerService) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin atomic unit: %w", err)
	}
	defer tx.Rollback()

	acc, err := s.lockActiveAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	if acc.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	newBalance := acc.Balance.Sub(amount)
	if err := s.accounts.SetBalance(tx, acc.ID, newBalance); err != nil {
		return nil, err
	}

	record, err := s.txlog.Append(tx, &models.Transaction{
		ID:              uuid.New().String(),
		AccountID:       acc.ID,
		Type:            models.TransactionTypeWithdrawal,
		Amount:          amount,
		BalanceBefore:   acc.Balance,
		BalanceAfter:    newBalance,
		Description:     description,
		ReferenceNumber: s.refs.Generate(),
		Status:          models.TransactionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapStorageError(err)
	}
	return record, nil
}

// Transfer moves amount between two accounts as one atomic unit, appending a
// transfer_out record on the source and a transfer_in record on the
// destination with correlated reference numbers. The source-side record is
// returned.
func (s *LedgerService) Transfer(ctx context.Context, fromAccountID, toAccountID string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if fromAccountID == toAccountID {
		return nil, ErrSameAccount
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin atomic unit: %w", err)
	}
	defer tx.Rollback()

	outLeg, err := s.moveFunds(tx, fromAccountID, toAccountID, amount, description, models.TransactionTypeTransferOut)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapStorageError(err)
	}
	return outLeg, nil
}

// ChargeFee debits a fee from the account and credits it to the system fee
// account in the same atomic unit. The debit leg carries the fee type; the
// credit leg is a transfer_in on the fee account sharing the same base
// reference.
func (s *LedgerService) ChargeFee(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	if accountID == s.feeAccountID {
		return nil, ErrSameAccount
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin atomic unit: %w", err)
	}
	defer tx.Rollback()

	feeLeg, err := s.moveFunds(tx, accountID, s.feeAccountID, amount, description, models.TransactionTypeFee)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapStorageError(err)
	}
	return feeLeg, nil
}

// GetBalance returns a read-only account snapshot. Two calls with no
// intervening operation return identical results.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (*models.Account, error) {
	return s.accounts.Get(ctx, accountID)
}

// moveFunds debits the source and credits the destination inside the
// caller's transaction, appending both legs of the movement. debitType is
// transfer_out for transfers and fee for fee charges; the credit leg is
// always a transfer_in. The debit-side record is returned.
func (s *LedgerService) moveFunds(tx *sql.Tx, fromID, toID string, amount decimal.Decimal, description string, debitType models.TransactionType) (*models.Transaction, error) {
	locked, err := s.lockAccounts(tx, fromID, toID)
	if err != nil {
		return nil, err
	}
	from, to := locked[fromID], locked[toID]

	if from.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	newFrom := from.Balance.Sub(amount)
	newTo := to.Balance.Add(amount)

	if err := s.accounts.SetBalance(tx, from.ID, newFrom); err != nil {
		return nil, err
	}
	if err := s.accounts.SetBalance(tx, to.ID, newTo); err != nil {
		return nil, err
	}

	outRef, inRef := TransferLegs(s.refs.Generate())

	debitLeg, err := s.txlog.Append(tx, &models.Transaction{
		ID:               uuid.New().String(),
		AccountID:        from.ID,
		Type:             debitType,
		Amount:           amount,
		BalanceBefore:    from.Balance,
		BalanceAfter:     newFrom,
		Description:      description,
		ReferenceNumber:  outRef,
		RelatedAccountID: &to.ID,
		Status:           models.TransactionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.txlog.Append(tx, &models.Transaction{
		ID:               uuid.New().String(),
		AccountID:        to.ID,
		Type:             models.TransactionTypeTransferIn,
		Amount:           amount,
		BalanceBefore:    to.Balance,
		BalanceAfter:     newTo,
		Description:      description,
		ReferenceNumber:  inRef,
		RelatedAccountID: &from.ID,
		Status:           models.TransactionStatusCompleted,
	}); err != nil {
		return nil, err
	}

	return debitLeg, nil
}

// begin starts the atomic unit and bounds how long any row lock acquired
// inside it may wait. SET LOCAL scopes the timeout to this transaction only.
func (s *LedgerService) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx, nil
}

// lockAccounts locks the requested accounts in ascending id order regardless
// of the order the caller passed them. Two transfers moving money in
// opposite directions between the same pair therefore always contend on the
// same first lock instead of deadlocking.
func (s *LedgerService) lockAccounts(tx *sql.Tx, accountIDs ...string) (map[string]*models.Account, error) {
	ordered := make([]string, len(accountIDs))
	copy(ordered, accountIDs)
	sort.Strings(ordered)

	locked := make(map[string]*models.Account, len(ordered))
	for _, id := range ordered {
		acc, err := s.lockActiveAccount(tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = acc
	}
	return locked, nil
}

func (s *LedgerService) lockActiveAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	acc, err := s.accounts.GetForUpdate(tx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Status != models.AccountStatusActive {
		log.Printf("[LEDGER] Account %s is %s, rejecting operation", acc.ID, acc.Status)
		return nil, ErrAccountNotActive
	}
	return acc, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
