package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "deposit"
	TransactionTypeWithdrawal  TransactionType = "withdrawal"
	TransactionTypeTransferIn  TransactionType = "transfer_in"
	TransactionTypeTransferOut TransactionType = "transfer_out"
	TransactionTypeFee         TransactionType = "fee"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is one immutable ledger record. Rows are never updated or
// deleted once written. BalanceBefore and BalanceAfter are the owning
// account's balance around this movement, so BalanceAfter = BalanceBefore
// plus or minus Amount depending on Type.
//
// A transfer writes exactly two rows, a transfer_out on the source account
// and a transfer_in on the destination, whose reference numbers share one
// generated base so auditors can correlate both legs.
type Transaction struct {
	ID               string            `json:"id" db:"id"`
	AccountID        string            `json:"account_id" db:"account_id"`
	Type             TransactionType   `json:"type" db:"type"`
	Amount           decimal.Decimal   `json:"amount" db:"amount"`
	BalanceBefore    decimal.Decimal   `json:"balance_before" db:"balance_before"`
	BalanceAfter     decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Description      string            `json:"description" db:"description"`
	ReferenceNumber  string            `json:"reference_number" db:"reference_number"`
	RelatedAccountID *string           `json:"related_account_id,omitempty" db:"related_account_id"`
	Status           TransactionStatus `json:"status" db:"status"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}

// TypeSummary aggregates completed transactions of one type over a month.
type TypeSummary struct {
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Average decimal.Decimal `json:"average"`
}

// MonthlySummary maps transaction type to its aggregate for one calendar
// month of one account.
type MonthlySummary map[TransactionType]TypeSummary
