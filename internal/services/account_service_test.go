package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/ledgerpay/backend/internal/models"
)

func TestAccountService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	existsSQL := `SELECT EXISTS\(SELECT 1 FROM accounts WHERE account_number = \$1\)`
	insertSQL := `INSERT INTO accounts`

	t.Run("successful account opening", func(t *testing.T) {
		mock.ExpectQuery(existsSQL).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(insertSQL).
			WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), "Alex Rivera",
				"checking", sqlmock.AnyArg(), "USD", "active").
			WillReturnRows(accountRow("acc-new", "0", models.AccountStatusActive))

		body := `{"userId":"user-1","accountName":"Alex Rivera","type":"checking","currency":"USD"}`
		req := httptest.NewRequest("POST", "/accounts", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var account models.Account
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
		assert.Equal(t, "acc-new", account.ID)
		assert.True(t, account.Balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries on account number collision", func(t *testing.T) {
		// First draw is taken, second insert races and loses on the unique
		// index, third succeeds.
		mock.ExpectQuery(existsSQL).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery(existsSQL).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(insertSQL).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_account_number_key"})
		mock.ExpectQuery(existsSQL).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(insertSQL).
			WillReturnRows(accountRow("acc-retry", "0", models.AccountStatusActive))

		body := `{"userId":"user-1","accountName":"Alex Rivera","type":"savings","currency":"EUR"}`
		req := httptest.NewRequest("POST", "/accounts", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsupported account type fails validation", func(t *testing.T) {
		body := `{"userId":"user-1","accountName":"Alex Rivera","type":"offshore","currency":"USD"}`
		req := httptest.NewRequest("POST", "/accounts", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported currency fails validation", func(t *testing.T) {
		body := `{"userId":"user-1","accountName":"Alex Rivera","type":"checking","currency":"JPY"}`
		req := httptest.NewRequest("POST", "/accounts", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/accounts", bytes.NewBufferString(`{"userId":`))
		w := httptest.NewRecorder()
		service.CreateAccount(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountService_AccountBalanceEnquiry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	selectByNumberSQL := `SELECT .+ FROM accounts WHERE account_number = \$1`

	t.Run("successful enquiry", func(t *testing.T) {
		mock.ExpectQuery(selectByNumberSQL).
			WithArgs("0123456789").
			WillReturnRows(accountRow("acc-1", "750.25", models.AccountStatusActive))

		req := httptest.NewRequest("GET", "/accounts/balance-enquiry?accountNumber=0123456789", nil)
		w := httptest.NewRecorder()
		service.AccountBalanceEnquiry(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "00", resp["responseCode"])
		assert.Equal(t, "750.25", resp["availableBalance"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account number", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/accounts/balance-enquiry", nil)
		w := httptest.NewRecorder()
		service.AccountBalanceEnquiry(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed account number", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/accounts/balance-enquiry?accountNumber=12ab", nil)
		w := httptest.NewRecorder()
		service.AccountBalanceEnquiry(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery(selectByNumberSQL).
			WithArgs("9999999999").
			WillReturnRows(sqlmock.NewRows(accountCols))

		req := httptest.NewRequest("GET", "/accounts/balance-enquiry?accountNumber=9999999999", nil)
		w := httptest.NewRecorder()
		service.AccountBalanceEnquiry(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed account", func(t *testing.T) {
		mock.ExpectQuery(selectByNumberSQL).
			WithArgs("0123456789").
			WillReturnRows(accountRow("acc-1", "0", models.AccountStatusClosed))

		req := httptest.NewRequest("GET", "/accounts/balance-enquiry?accountNumber=0123456789", nil)
		w := httptest.NewRecorder()
		service.AccountBalanceEnquiry(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_AccountNameEnquiry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("successful enquiry", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE account_number = \$1`).
			WithArgs("0123456789").
			WillReturnRows(accountRow("acc-1", "100", models.AccountStatusActive))

		req := httptest.NewRequest("GET", "/accounts/name-enquiry?accountNumber=0123456789", nil)
		w := httptest.NewRecorder()
		service.AccountNameEnquiry(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Test Account", resp["accountName"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGenerateAccountNumber(t *testing.T) {
	for i := 0; i < 100; i++ {
		number, err := generateAccountNumber()
		assert.NoError(t, err)
		assert.Len(t, number, 10)
		assert.NotEqual(t, byte('0'), number[0])

		_, err = strconv.ParseInt(number, 10, 64)
		assert.NoError(t, err)
	}
}
