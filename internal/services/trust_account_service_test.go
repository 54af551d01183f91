package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexledger/backend/internal/models"
)

func accountTestRouter(service *TrustAccountService) *chi.Mux {
	router := chi.NewRouter()
	router.Post("/trust-accounts", service.CreateAccount)
	router.Get("/trust-accounts", service.ListAccounts)
	router.Get("/trust-accounts/{accountId}", service.GetAccount)
	router.Put("/trust-accounts/{accountId}", service.UpdateAccount)
	router.Delete("/trust-accounts/{accountId}", service.DeleteAccount)
	router.Put("/trust-accounts/{accountId}/default", service.SetDefaultAccount)
	router.Get("/trust-accounts/{accountId}/summary", service.GetSummary)
	return router
}

func TestTrustAccountService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTrustAccountService(db, nil)
	router := accountTestRouter(service)

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("firm-1", "1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO trust_accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		req := jsonRequest(t, http.MethodPost, "/trust-accounts", CreateAccountRequest{
			Name:          "Client Trust IOLTA",
			AccountNumber: "1234567890",
			BankName:      "First National",
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusCreated, rr.Code)
		var resp struct {
			Data models.TrustAccount `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "Client Trust IOLTA", resp.Data.Name)
		assert.Equal(t, "USD", resp.Data.Currency)
		assert.True(t, resp.Data.Balance.IsZero())
		assert.True(t, resp.Data.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("default flag clears previous default in the same transaction", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("firm-1", "9988776655").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE trust_accounts SET is_default = false").
			WithArgs("firm-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO trust_accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		req := jsonRequest(t, http.MethodPost, "/trust-accounts", CreateAccountRequest{
			Name:          "Settlement Trust",
			AccountNumber: "9988776655",
			BankName:      "First National",
			IsDefault:     true,
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate account number rejected", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("firm-1", "1234567890").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		req := jsonRequest(t, http.MethodPost, "/trust-accounts", CreateAccountRequest{
			Name:          "Duplicate",
			AccountNumber: "1234567890",
			BankName:      "First National",
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "already exists")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing bank name fails validation", func(t *testing.T) {
		req := jsonRequest(t, http.MethodPost, "/trust-accounts", CreateAccountRequest{
			Name:          "No Bank",
			AccountNumber: "1234567890",
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestTrustAccountService_DeleteAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTrustAccountService(db, nil)
	router := accountTestRouter(service)

	t.Run("empty unused account deleted", func(t *testing.T) {
		mock.ExpectQuery("SELECT a.balance").
			WithArgs("acct-1", "firm-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "count"}).AddRow("0", 0))

		mock.ExpectExec("DELETE FROM trust_accounts").
			WithArgs("acct-1", "firm-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := authenticatedRequest(httptest.NewRequest(http.MethodDelete, "/trust-accounts/acct-1", nil), "firm-1", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account with balance refused", func(t *testing.T) {
		mock.ExpectQuery("SELECT a.balance").
			WithArgs("acct-1", "firm-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "count"}).AddRow("250.75", 0))

		req := authenticatedRequest(httptest.NewRequest(http.MethodDelete, "/trust-accounts/acct-1", nil), "firm-1", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account with history refused", func(t *testing.T) {
		mock.ExpectQuery("SELECT a.balance").
			WithArgs("acct-1", "firm-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "count"}).AddRow("0", 12))

		req := authenticatedRequest(httptest.NewRequest(http.MethodDelete, "/trust-accounts/acct-1", nil), "firm-1", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTrustAccountService_SetDefaultAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTrustAccountService(db, nil)
	router := accountTestRouter(service)

	t.Run("clears then sets inside one transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE trust_accounts SET is_default = false").
			WithArgs("firm-1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("UPDATE trust_accounts SET is_default = true").
			WithArgs(sqlmock.AnyArg(), "acct-2", "firm-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := authenticatedRequest(httptest.NewRequest(http.MethodPut, "/trust-accounts/acct-2/default", nil), "firm-1", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE trust_accounts SET is_default = false").
			WithArgs("firm-1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("UPDATE trust_accounts SET is_default = true").
			WithArgs(sqlmock.AnyArg(), "acct-missing", "firm-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		req := authenticatedRequest(httptest.NewRequest(http.MethodPut, "/trust-accounts/acct-missing/default", nil), "firm-1", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTrustAccountService_GetSummaryFromCache(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewTrustAccountService(db, redisClient)
	router := accountTestRouter(service)

	cached := `{"success": true, "data": {"client_count": 3}}`
	redisMock.ExpectGet(summaryCacheKey("firm-1", "acct-1")).SetVal(cached)

	req := authenticatedRequest(httptest.NewRequest(http.MethodGet, "/trust-accounts/acct-1/summary", nil), "firm-1", "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// Served from Redis; no database expectations were registered at all.
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, cached, rr.Body.String())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestTrustAccountService_GetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewTrustAccountService(db, nil)
	router := accountTestRouter(service)

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, firm_id, name").
			WithArgs("acct-missing", "firm-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		req := authenticatedRequest(httptest.NewRequest(http.MethodGet, "/trust-accounts/acct-missing", nil), "firm-1", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
