package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// TransactionService is the HTTP surface over the ledger engine. It parses
// and validates requests, invokes the engine, and renders its results; it
// performs no ledger logic of its own.
type TransactionService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client) *TransactionService {
	return &TransactionService{
		db:        db,
		ledger:    NewLedgerService(db, redisClient),
		validator: NewValidationHelper(),
	}
}

// Ledger exposes the engine for other services sharing this instance.
func (ts *TransactionService) Ledger() *LedgerService {
	return ts.ledger
}

type movementRequest struct {
	AccountID   string          `json:"accountId" validate:"required,uuid4"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=200"`
}

type transferRequest struct {
	FromAccountID string          `json:"fromAccountId" validate:"required,uuid4"`
	ToAccountID   string          `json:"toAccountId" validate:"required,uuid4"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=200"`
}

// Deposit credits an account
// @Summary Deposit funds
// @Description Credit an amount to an account and record the deposit
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body movementRequest true "Deposit details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/deposit [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !ts.decodeAndValidate(w, r, &req) {
		return
	}

	record, err := ts.ledger.Deposit(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeLedgerError(w, "deposit", req.AccountID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": record,
	})
}

// Withdraw debits an account
// @Summary Withdraw funds
// @Description Debit an amount from an account and record the withdrawal
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body movementRequest true "Withdrawal details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/withdraw [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !ts.decodeAndValidate(w, r, &req) {
		return
	}

	record, err := ts.ledger.Withdraw(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeLedgerError(w, "withdrawal", req.AccountID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": record,
	})
}

// Transfer moves funds between two accounts
// @Summary Transfer funds
// @Description Move an amount between two accounts atomically, producing both transfer legs
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body transferRequest true "Transfer details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/transfer [post]
func (ts *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !ts.decodeAndValidate(w, r, &req) {
		return
	}

	record, err := ts.ledger.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Description)
	if err != nil {
		writeLedgerError(w, "transfer", req.FromAccountID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": record,
	})
}

// ChargeFee debits a fee from an account
// @Summary Charge a fee
// @Description Debit a fee from an account, crediting the system fee account
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body movementRequest true "Fee details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transactions/fee [post]
func (ts *TransactionService) ChargeFee(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !ts.decodeAndValidate(w, r, &req) {
		return
	}

	record, err := ts.ledger.ChargeFee(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeLedgerError(w, "fee charge", req.AccountID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": record,
	})
}

// GetHistory lists an account's transactions
// @Summary List transactions
// @Description List an account's transactions newest first, paginated
// @Tags transactions
// @Produce json
// @Param accountID path string true "Account ID"
// @Param limit query int false "Page size (1-100, default 20)"
// @Param offset query int false "Offset (>= 0)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /accounts/{accountID}/transactions [get]
func (ts *TransactionService) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit, offset, err := parsePagination(r)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	transactions, err := ts.ledger.Transactions().ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		if errors.Is(err, ErrInvalidPagination) {
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		log.Printf("[TRANSACTION] Failed to list transactions for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// MonthlySummary aggregates one calendar month of an account's transactions
// @Summary Monthly summary
// @Description Aggregate completed transactions by type for one calendar month
// @Tags transactions
// @Produce json
// @Param accountID path string true "Account ID"
// @Param year query int true "Year"
// @Param month query int true "Month (1-12)"
// @Success 200 {object} models.MonthlySummary
// @Failure 400 {object} ErrorResponse
// @Router /accounts/{accountID}/summary [get]
func (ts *TransactionService) MonthlySummary(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	year, errY := strconv.Atoi(r.URL.Query().Get("year"))
	month, errM := strconv.Atoi(r.URL.Query().Get("month"))
	if errY != nil || errM != nil || year < 1970 || year > time.Now().Year()+1 || month < 1 || month > 12 {
		SendErrorResponse(w, "year and month query parameters are required and must be in range", http.StatusBadRequest, nil)
		return
	}

	summary, err := ts.ledger.Transactions().SummarizeByMonth(r.Context(), accountID, year, month)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to summarize %s %04d-%02d: %v", accountID, year, month, err)
		SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountId": accountID,
		"year":      year,
		"month":     month,
		"summary":   summary,
	})
}

// GetTransaction fetches one transaction by reference number
// @Summary Get transaction
// @Description Retrieve a transaction by its reference number
// @Tags transactions
// @Produce json
// @Param reference path string true "Reference number"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{reference} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	record, err := ts.ledger.Transactions().GetByReference(r.Context(), reference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			http.Error(w, "Transaction not found", http.StatusNotFound)
		} else {
			log.Printf("[TRANSACTION] Failed to fetch %s: %v", reference, err)
			http.Error(w, "Failed to fetch transaction", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

func (ts *TransactionService) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := ts.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ErrInvalidPagination
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ErrInvalidPagination
		}
	}
	if limit < 1 || limit > MaxListLimit || offset < 0 {
		return 0, 0, ErrInvalidPagination
	}
	return limit, offset, nil
}

// writeLedgerError maps engine errors onto HTTP statuses. Unrecognized
// errors are storage failures; the atomic unit has already been rolled back.
func writeLedgerError(w http.ResponseWriter, op, accountID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSameAccount), errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrAccountNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrAccountNotActive):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrDuplicateReference):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		SendErrorResponse(w, err.Error(), http.StatusTooManyRequests, nil)
	default:
		log.Printf("[TRANSACTION] %s failed for account %s: %v", op, accountID, err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
	}
}
