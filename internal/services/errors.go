package services

import (
	"errors"

	"github.com/lib/pq"
)

// Ledger engine error kinds. Handlers map these onto HTTP statuses; callers
// inspect them with errors.Is.
var (
	// ErrInvalidAmount rejects amounts that are zero, negative, or not a
	// valid decimal. Raised before any lock is taken.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrAccountNotFound means the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotActive means the account exists but is suspended or
	// closed and may not transact.
	ErrAccountNotActive = errors.New("account not active")

	// ErrInsufficientFunds means the debit would drive the balance
	// negative. No mutation has been made when it is returned.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount rejects a transfer whose source and destination are
	// the same account.
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrDuplicateReference means a transaction row with the same
	// reference number already exists. With a correctly used reference
	// generator this should not occur; it is surfaced, never retried.
	ErrDuplicateReference = errors.New("duplicate reference number")

	// ErrLockTimeout means a row lock could not be acquired within the
	// configured bound. The atomic unit was rolled back; the caller may
	// retry with backoff.
	ErrLockTimeout = errors.New("account busy, lock wait timed out")

	// ErrInvalidPagination rejects out-of-range limit/offset parameters.
	ErrInvalidPagination = errors.New("limit must be 1-100 and offset must be >= 0")

	// ErrTransactionNotFound means no transaction record matches the
	// requested reference number.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrQRUnavailable means Redis is not connected, so one-time codes can
	// neither be issued nor redeemed.
	ErrQRUnavailable = errors.New("QR codes unavailable")
)

const (
	pqCodeUniqueViolation     = "23505"
	pqCodeLockNotAvailable    = "55P03"
	pqCodeQueryCanceled       = "57014"
	uniqueReferenceConstraint = "transactions_reference_number_key"
)

// mapStorageError converts driver-level failures into the engine's typed
// errors. Anything unrecognized is returned as-is and treated as a storage
// failure by the caller.
func mapStorageError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqCodeLockNotAvailable, pqCodeQueryCanceled:
			return ErrLockTimeout
		case pqCodeUniqueViolation:
			if pqErr.Constraint == uniqueReferenceConstraint {
				return ErrDuplicateReference
			}
		}
	}

	return err
}
