package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lexledger/backend/internal/database"
	"github.com/lexledger/backend/internal/middleware"
	"github.com/lexledger/backend/internal/models"
)

type TrustAccountService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *ValidationHelper
}

// CreateAccountRequest is the trust account creation payload.
type CreateAccountRequest struct {
	Name          string `json:"name" validate:"required,min=2,max=120"`
	AccountNumber string `json:"accountNumber" validate:"required,min=4,max=34"`
	BankName      string `json:"bankName" validate:"required,min=2,max=120"`
	BankBranch    string `json:"bankBranch" validate:"max=120"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	IsDefault     bool   `json:"isDefault"`
}

// UpdateAccountRequest carries the mutable trust account fields.
type UpdateAccountRequest struct {
	Name       string `json:"name" validate:"omitempty,min=2,max=120"`
	BankName   string `json:"bankName" validate:"omitempty,min=2,max=120"`
	BankBranch string `json:"bankBranch" validate:"omitempty,max=120"`
	IsActive   *bool  `json:"isActive"`
}

// AccountSummary is the dashboard payload for one trust account.
type AccountSummary struct {
	Account            *models.TrustAccount      `json:"account"`
	ClientCount        int                       `json:"client_count"`
	FundedClientCount  int                       `json:"funded_client_count"`
	LastReconciliation *ReconciliationStamp      `json:"last_reconciliation,omitempty"`
	MonthlyDeposits    decimal.Decimal           `json:"monthly_deposits"`
	MonthlyWithdrawals decimal.Decimal           `json:"monthly_withdrawals"`
	RecentTransactions []models.TrustTransaction `json:"recent_transactions"`
}

// ReconciliationStamp is the (date, status) of the latest reconciliation.
type ReconciliationStamp struct {
	StatementDate time.Time `json:"statement_date"`
	Status        string    `json:"status"`
}

func NewTrustAccountService(db *sql.DB, redisClient *redis.Client) *TrustAccountService {
	return &TrustAccountService{
		db:        db,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// CreateAccount creates a trust account
// @Summary Create a trust account
// @Description Create a new client-funds trust account for the firm
// @Tags trust-accounts
// @Accept json
// @Produce json
// @Param request body CreateAccountRequest true "Account details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /trust-accounts [post]
func (s *TrustAccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())

	var req CreateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Currency == "" {
		req.Currency = "USD"
	}

	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM trust_accounts
			WHERE firm_id = $1 AND account_number = $2
		)`, firmID, req.AccountNumber).Scan(&exists)
	if err != nil {
		log.Printf("[TRUST_ACCOUNT] Duplicate check failed: %v", err)
		SendErrorResponse(w, "Failed to create trust account", http.StatusInternalServerError, nil)
		return
	}
	if exists {
		SendErrorResponse(w, "An account with this account number already exists", http.StatusBadRequest, nil)
		return
	}

	account := &models.TrustAccount{
		ID:            uuid.NewString(),
		FirmID:        firmID,
		Name:          req.Name,
		BankName:      req.BankName,
		BankBranch:    req.BankBranch,
		AccountNumber: req.AccountNumber,
		Currency:      req.Currency,
		Balance:       decimal.Zero,
		IsDefault:     req.IsDefault,
		IsActive:      true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[TRUST_ACCOUNT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create trust account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// A firm has at most one default account: clearing and setting run in
	// the same transaction so no window with zero or two defaults exists.
	if req.IsDefault {
		if _, err := tx.Exec(`UPDATE trust_accounts SET is_default = false WHERE firm_id = $1`, firmID); err != nil {
			log.Printf("[TRUST_ACCOUNT] Failed to clear default flags: %v", err)
			SendErrorResponse(w, "Failed to create trust account", http.StatusInternalServerError, nil)
			return
		}
	}

	_, err = tx.Exec(`
		INSERT INTO trust_accounts
		(id, firm_id, name, bank_name, bank_branch, account_number, currency, balance, is_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, true, $9, $9)`,
		account.ID, account.FirmID, account.Name, account.BankName, account.BankBranch,
		account.AccountNumber, account.Currency, account.IsDefault, account.CreatedAt)
	if err != nil {
		log.Printf("[TRUST_ACCOUNT] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create trust account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRUST_ACCOUNT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to create trust account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRUST_ACCOUNT] Created account %s (%s) for firm %s", account.ID, account.Name, firmID)
	SendSuccessResponse(w, http.StatusCreated, account)
}

// ListAccounts lists the firm's trust accounts
// @Summary List trust accounts
// @Tags trust-accounts
// @Produce json
// @Param active query bool false "Only active accounts"
// @Success 200 {object} map[string]interface{}
// @Router /trust-accounts [get]
func (s *TrustAccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())

	query := `
		SELECT id, firm_id, name, bank_name, bank_branch, account_number, currency, balance, is_default, is_active, created_at, updated_at
		FROM trust_accounts
		WHERE firm_id = $1`
	args := []interface{}{firmID}
	if r.URL.Query().Get("active") == "true" {
		query += " AND is_active = true"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[TRUST_ACCOUNT] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch trust accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.TrustAccount{}
	for rows.Next() {
		var a models.TrustAccount
		if err := rows.Scan(&a.ID, &a.FirmID, &a.Name, &a.BankName, &a.BankBranch, &a.AccountNumber,
			&a.Currency, &a.Balance, &a.IsDefault, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch trust accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	SendSuccessResponse(w, http.StatusOK, accounts)
}

// GetAccount returns one trust account
// @Summary Get a trust account
// @Tags trust-accounts
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId} [get]
func (s *TrustAccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	account, err := s.fetchAccount(firmID, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch trust account", http.StatusInternalServerError, nil)
		}
		return
	}

	SendSuccessResponse(w, http.StatusOK, account)
}

// UpdateAccount updates the mutable trust account fields
// @Summary Update a trust account
// @Tags trust-accounts
// @Accept json
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param request body UpdateAccountRequest true "Fields to update"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId} [put]
func (s *TrustAccountService) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req UpdateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := s.fetchAccount(firmID, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch trust account", http.StatusInternalServerError, nil)
		}
		return
	}

	if req.Name != "" {
		account.Name = req.Name
	}
	if req.BankName != "" {
		account.BankName = req.BankName
	}
	if req.BankBranch != "" {
		account.BankBranch = req.BankBranch
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	account.UpdatedAt = time.Now()

	_, err = s.db.Exec(`
		UPDATE trust_accounts
		SET name = $1, bank_name = $2, bank_branch = $3, is_active = $4, updated_at = $5
		WHERE id = $6 AND firm_id = $7`,
		account.Name, account.BankName, account.BankBranch, account.IsActive, account.UpdatedAt,
		accountID, firmID)
	if err != nil {
		log.Printf("[TRUST_ACCOUNT] Update failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to update trust account", http.StatusInternalServerError, nil)
		return
	}

	s.invalidateSummary(r, firmID, accountID)
	SendSuccessResponse(w, http.StatusOK, account)
}

// DeleteAccount removes an empty, never-used trust account
// @Summary Delete a trust account
// @Description Delete a trust account with zero balance and no transactions
// @Tags trust-accounts
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId} [delete]
func (s *TrustAccountService) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var balance decimal.Decimal
	var txCount int
	err := s.db.QueryRow(`
		SELECT a.balance, (SELECT COUNT(*) FROM trust_transactions t WHERE t.trust_account_id = a.id)
		FROM trust_accounts a
		WHERE a.id = $1 AND a.firm_id = $2`, accountID, firmID).Scan(&balance, &txCount)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch trust account", http.StatusInternalServerError, nil)
		}
		return
	}

	if !balance.IsZero() || txCount > 0 {
		SendErrorResponse(w, "Trust account with a balance or transaction history cannot be deleted", http.StatusBadRequest, nil)
		return
	}

	if _, err := s.db.Exec(`DELETE FROM trust_accounts WHERE id = $1 AND firm_id = $2`, accountID, firmID); err != nil {
		log.Printf("[TRUST_ACCOUNT] Delete failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to delete trust account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRUST_ACCOUNT] Deleted account %s for firm %s", accountID, firmID)
	SendSuccessResponse(w, http.StatusOK, map[string]string{"id": accountID})
}

// SetDefaultAccount marks an account as the firm's default
// @Summary Set the default trust account
// @Tags trust-accounts
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/default [put]
func (s *TrustAccountService) SetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE trust_accounts SET is_default = false WHERE firm_id = $1`, firmID); err != nil {
		log.Printf("[TRUST_ACCOUNT] Failed to clear default flags: %v", err)
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}

	result, err := tx.Exec(`
		UPDATE trust_accounts SET is_default = true, updated_at = $1
		WHERE id = $2 AND firm_id = $3`, time.Now(), accountID, firmID)
	if err != nil {
		log.Printf("[TRUST_ACCOUNT] Failed to set default flag: %v", err)
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to set default account", http.StatusInternalServerError, nil)
		return
	}

	SendSuccessResponse(w, http.StatusOK, map[string]string{"id": accountID})
}

// GetSummary returns the dashboard summary for one account
// @Summary Trust account summary
// @Description Balances, client counts, last reconciliation, monthly activity, recent transactions
// @Tags trust-accounts
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/summary [get]
func (s *TrustAccountService) GetSummary(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	cacheKey := summaryCacheKey(firmID, accountID)
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), cacheKey).Result(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	summary, err := s.buildSummary(firmID, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRUST_ACCOUNT] Summary failed for %s: %v", accountID, err)
			SendErrorResponse(w, "Failed to build account summary", http.StatusInternalServerError, nil)
		}
		return
	}

	payload, err := json.Marshal(map[string]any{"success": true, "data": summary})
	if err != nil {
		SendErrorResponse(w, "Failed to build account summary", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		if err := s.redis.Set(r.Context(), cacheKey, payload, database.SummaryCacheTTL()).Err(); err != nil {
			log.Printf("[TRUST_ACCOUNT] Summary cache write failed: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (s *TrustAccountService) buildSummary(firmID, accountID string) (*AccountSummary, error) {
	account, err := s.fetchAccount(firmID, accountID)
	if err != nil {
		return nil, err
	}

	summary := &AccountSummary{
		Account:            account,
		MonthlyDeposits:    decimal.Zero,
		MonthlyWithdrawals: decimal.Zero,
		RecentTransactions: []models.TrustTransaction{},
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE balance > 0)
		FROM client_trust_balances
		WHERE trust_account_id = $1`, accountID).
		Scan(&summary.ClientCount, &summary.FundedClientCount)
	if err != nil {
		return nil, err
	}

	var stamp ReconciliationStamp
	err = s.db.QueryRow(`
		SELECT statement_date, status
		FROM trust_reconciliations
		WHERE trust_account_id = $1
		ORDER BY statement_date DESC
		LIMIT 1`, accountID).Scan(&stamp.StatementDate, &stamp.Status)
	if err == nil {
		summary.LastReconciliation = &stamp
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(amount) FILTER (WHERE type = 'deposit'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE type IN ('withdrawal', 'disbursement')), 0)
		FROM trust_transactions
		WHERE trust_account_id = $1 AND status = 'completed'
		  AND created_at >= date_trunc('month', NOW())`, accountID).
		Scan(&summary.MonthlyDeposits, &summary.MonthlyWithdrawals)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, transaction_number, client_id, type, amount, status, description, created_at
		FROM trust_transactions
		WHERE trust_account_id = $1
		ORDER BY created_at DESC
		LIMIT 5`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		t := models.TrustTransaction{TrustAccountID: accountID, FirmID: firmID}
		if err := rows.Scan(&t.ID, &t.TransactionNumber, &t.ClientID, &t.Type, &t.Amount,
			&t.Status, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		summary.RecentTransactions = append(summary.RecentTransactions, t)
	}

	return summary, nil
}

func (s *TrustAccountService) fetchAccount(firmID, accountID string) (*models.TrustAccount, error) {
	a := &models.TrustAccount{}
	err := s.db.QueryRow(`
		SELECT id, firm_id, name, bank_name, bank_branch, account_number, currency, balance, is_default, is_active, created_at, updated_at
		FROM trust_accounts
		WHERE id = $1 AND firm_id = $2`, accountID, firmID).
		Scan(&a.ID, &a.FirmID, &a.Name, &a.BankName, &a.BankBranch, &a.AccountNumber,
			&a.Currency, &a.Balance, &a.IsDefault, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *TrustAccountService) invalidateSummary(r *http.Request, firmID, accountID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(r.Context(), summaryCacheKey(firmID, accountID)).Err(); err != nil {
		log.Printf("[TRUST_ACCOUNT] Summary cache invalidation failed: %v", err)
	}
}

func summaryCacheKey(firmID, accountID string) string {
	return fmt.Sprintf("trust_summary:%s:%s", firmID, accountID)
}
