package services

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ledgerpay/backend/internal/models"
)

const accountNumberAttempts = 5

var accountNumberRegex = regexp.MustCompile(`^[0-9]{10}$`)

// AccountService opens accounts and serves read-only account enquiries. All
// balance mutation goes through the ledger engine; this service never writes
// a balance.
type AccountService struct {
	db        *sql.DB
	store     *AccountStore
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		store:     NewAccountStore(db),
		validator: NewValidationHelper(),
	}
}

type createAccountRequest struct {
	UserID      string `json:"userId" validate:"required,max=64"`
	AccountName string `json:"accountName" validate:"required,min=2,max=140"`
	Type        string `json:"type" validate:"required,oneof=checking savings business"`
	Currency    string `json:"currency" validate:"required,oneof=USD EUR GBP"`
}

// CreateAccount opens a new account
// @Summary Open a new account
// @Description Create an account with a generated, globally unique account number
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body createAccountRequest true "Account details"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [post]
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := as.openAccount(r, req)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to open account for user %s: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Opened account %s (%s) for user %s", account.ID, account.AccountNumber, req.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

func (as *AccountService) openAccount(r *http.Request, req createAccountRequest) (*models.Account, error) {
	for attempt := 0; attempt < accountNumberAttempts; attempt++ {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, err
		}

		taken, err := as.store.AccountNumberExists(r.Context(), number)
		if err != nil {
			return nil, err
		}
		if taken {
			log.Printf("[ACCOUNT] Account number collision on attempt %d, regenerating", attempt+1)
			continue
		}

		account, err := as.store.Create(r.Context(), &models.Account{
			ID:            uuid.New().String(),
			UserID:        req.UserID,
			AccountNumber: number,
			AccountName:   req.AccountName,
			Type:          models.AccountType(req.Type),
			Balance:       decimal.Zero,
			Currency:      models.Currency(req.Currency),
			Status:        models.AccountStatusActive,
		})
		if err != nil {
			// A concurrent opening can still win the number between the
			// existence check and the insert; the unique index reports it.
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == pqCodeUniqueViolation {
				continue
			}
			return nil, err
		}
		return account, nil
	}
	return nil, fmt.Errorf("could not allocate a unique account number after %d attempts", accountNumberAttempts)
}

// AccountBalanceEnquiry returns the balance snapshot for an account number
// @Summary Get account balance
// @Description Retrieve the balance for a given account number
// @Tags accounts
// @Produce json
// @Param accountNumber query string true "Account number"
// @Success 200 {object} object{responseCode=string,accountNumber=string,availableBalance=string,currency=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/balance-enquiry [get]
func (as *AccountService) AccountBalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	accountNumber := strings.TrimSpace(r.URL.Query().Get("accountNumber"))
	log.Printf("[ACCOUNT_ENQUIRY] Balance enquiry for %s from IP: %s", accountNumber, r.RemoteAddr)

	account, ok := as.lookupAccount(w, r, accountNumber)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"responseCode":     "00",
		"accountNumber":    account.AccountNumber,
		"availableBalance": account.Balance,
		"currency":         account.Currency,
		"status":           "SUCCESS",
	})
}

// AccountNameEnquiry returns the account name for an account number
// @Summary Get account name
// @Description Retrieve the account name for a given account number
// @Tags accounts
// @Produce json
// @Param accountNumber query string true "Account number"
// @Success 200 {object} object{responseCode=string,accountNumber=string,accountName=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/name-enquiry [get]
func (as *AccountService) AccountNameEnquiry(w http.ResponseWriter, r *http.Request) {
	accountNumber := strings.TrimSpace(r.URL.Query().Get("accountNumber"))
	log.Printf("[ACCOUNT_ENQUIRY] Name enquiry for %s from IP: %s", accountNumber, r.RemoteAddr)

	account, ok := as.lookupAccount(w, r, accountNumber)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"responseCode":  "00",
		"accountNumber": account.AccountNumber,
		"accountName":   account.AccountName,
		"status":        "SUCCESS",
	})
}

func (as *AccountService) lookupAccount(w http.ResponseWriter, r *http.Request, accountNumber string) (*models.Account, bool) {
	if accountNumber == "" {
		http.Error(w, "accountNumber is required", http.StatusBadRequest)
		return nil, false
	}
	if !accountNumberRegex.MatchString(accountNumber) {
		http.Error(w, "invalid accountNumber format", http.StatusBadRequest)
		return nil, false
	}

	account, err := as.store.GetByNumber(r.Context(), accountNumber)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
		} else {
			log.Printf("[ACCOUNT_ENQUIRY] Lookup failed for %s: %v", accountNumber, err)
			http.Error(w, "Failed to fetch account", http.StatusInternalServerError)
		}
		return nil, false
	}

	if account.Status != models.AccountStatusActive {
		log.Printf("[ACCOUNT_ENQUIRY] Account %s is %s", accountNumber, account.Status)
		http.Error(w, "Account not active", http.StatusForbidden)
		return nil, false
	}
	return account, true
}

// generateAccountNumber draws a random 10-digit account number. The first
// digit is never zero so numbers keep a fixed visible width.
func generateAccountNumber() (string, error) {
	max := big.NewInt(9_000_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+1_000_000_000), nil
}
