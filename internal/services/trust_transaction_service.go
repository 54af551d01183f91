package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/lexledger/backend/internal/middleware"
	"github.com/lexledger/backend/internal/models"
)

type TrustTransactionService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *TrustLedgerService
	validator *ValidationHelper
}

// CreateTransactionRequest records one deposit, withdrawal, or disbursement.
type CreateTransactionRequest struct {
	Type          string          `json:"type" validate:"required,oneof=deposit withdrawal disbursement"`
	ClientID      string          `json:"clientId" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	Description   string          `json:"description" validate:"max=500"`
	Reference     string          `json:"reference" validate:"max=120"`
	PaymentMethod string          `json:"paymentMethod" validate:"omitempty,oneof=check wire ach cash card"`
	CheckNumber   string          `json:"checkNumber" validate:"max=40"`
}

// TransferRequest moves funds between two clients in the same account.
type TransferRequest struct {
	FromClientID string          `json:"fromClientId" validate:"required"`
	ToClientID   string          `json:"toClientId" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	Description  string          `json:"description" validate:"max=500"`
}

// VoidRequest carries the reviewer's reason for reversing a transaction.
type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func NewTrustTransactionService(db *sql.DB, redisClient *redis.Client, ledger *TrustLedgerService) *TrustTransactionService {
	return &TrustTransactionService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// ledgerErrorStatus maps ledger sentinel errors onto HTTP statuses and
// actionable messages; anything unknown stays a generic 500.
func ledgerErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound, "Trust account not found"
	case errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound, "Transaction not found"
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient client balance"
	case errors.Is(err, ErrAlreadyVoided):
		return http.StatusBadRequest, "Transaction already voided"
	case errors.Is(err, ErrSameClientTransfer):
		return http.StatusBadRequest, "Cannot transfer between the same client"
	case errors.Is(err, ErrInvalidTxType):
		return http.StatusBadRequest, "Invalid transaction type"
	case errors.Is(err, ErrAccountInactive):
		return http.StatusBadRequest, "Trust account is not active"
	}
	return http.StatusInternalServerError, "Failed to process transaction"
}

// CreateTransaction records a new trust transaction
// @Summary Record a trust transaction
// @Description Apply a deposit, withdrawal, or disbursement to a client's trust balance
// @Tags trust-transactions
// @Accept json
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param request body CreateTransactionRequest true "Transaction details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/transactions [post]
func (s *TrustTransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req CreateTransactionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
		return
	}

	rec, err := s.ledger.ProcessTransaction(&TransactionInput{
		FirmID:         firmID,
		TrustAccountID: accountID,
		ClientID:       req.ClientID,
		Type:           req.Type,
		Amount:         req.Amount,
		Description:    req.Description,
		Reference:      req.Reference,
		PaymentMethod:  req.PaymentMethod,
		CheckNumber:    req.CheckNumber,
		CreatedBy:      middleware.UserID(r.Context()),
	})
	if err != nil {
		status, message := ledgerErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("[TRUST_TX] Transaction failed for account %s: %v", accountID, err)
		}
		SendErrorResponse(w, message, status, nil)
		return
	}

	s.invalidateSummaryCache(r, firmID, accountID)
	log.Printf("[TRUST_TX] Recorded %s %s for client %s on account %s", rec.TransactionNumber, req.Type, req.ClientID, accountID)
	SendSuccessResponse(w, http.StatusCreated, rec)
}

// Transfer moves funds between two clients within one trust account
// @Summary Transfer between clients
// @Description Create paired transfer_out/transfer_in legs atomically
// @Tags trust-transactions
// @Accept json
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param request body TransferRequest true "Transfer details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/transfer [post]
func (s *TrustTransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req TransferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		SendErrorResponse(w, "Amount must be greater than zero", http.StatusBadRequest, nil)
		return
	}

	outLeg, inLeg, err := s.ledger.Transfer(&TransferInput{
		FirmID:         firmID,
		TrustAccountID: accountID,
		FromClientID:   req.FromClientID,
		ToClientID:     req.ToClientID,
		Amount:         req.Amount,
		Description:    req.Description,
		CreatedBy:      middleware.UserID(r.Context()),
	})
	if err != nil {
		status, message := ledgerErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("[TRUST_TX] Transfer failed for account %s: %v", accountID, err)
		}
		SendErrorResponse(w, message, status, nil)
		return
	}

	s.invalidateSummaryCache(r, firmID, accountID)
	log.Printf("[TRUST_TX] Transferred %s from client %s to %s on account %s (%s/%s)",
		req.Amount, req.FromClientID, req.ToClientID, accountID, outLeg.TransactionNumber, inLeg.TransactionNumber)
	SendSuccessResponse(w, http.StatusCreated, map[string]any{
		"transfer_out": outLeg,
		"transfer_in":  inLeg,
	})
}

// VoidTransaction reverses a completed transaction
// @Summary Void a trust transaction
// @Description Reverse the balance effects of a transaction and mark it voided
// @Tags trust-transactions
// @Accept json
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param transactionId path string true "Transaction ID"
// @Param request body VoidRequest true "Void reason"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/transactions/{transactionId}/void [post]
func (s *TrustTransactionService) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")
	transactionID := chi.URLParam(r, "transactionId")

	var req VoidRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	rec, err := s.ledger.VoidTransaction(firmID, transactionID, middleware.UserID(r.Context()), req.Reason)
	if err != nil {
		status, message := ledgerErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("[TRUST_TX] Void failed for transaction %s: %v", transactionID, err)
		}
		SendErrorResponse(w, message, status, nil)
		return
	}

	s.invalidateSummaryCache(r, firmID, accountID)
	log.Printf("[TRUST_TX] Voided %s on account %s: %s", rec.TransactionNumber, accountID, req.Reason)
	SendSuccessResponse(w, http.StatusOK, rec)
}

// ListTransactions returns the account's transactions with filters
// @Summary List trust transactions
// @Tags trust-transactions
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param clientId query string false "Filter by client"
// @Param type query string false "Filter by transaction type"
// @Param startDate query string false "Inclusive lower bound (RFC 3339)"
// @Param endDate query string false "Inclusive upper bound (RFC 3339)"
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 50, max 100)"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/transactions [get]
func (s *TrustTransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	if !s.accountExists(firmID, accountID) {
		SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		return
	}

	conditions := []string{"trust_account_id = $1", "firm_id = $2"}
	args := []interface{}{accountID, firmID}
	argIndex := 3

	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argIndex))
		args = append(args, clientID)
		argIndex++
	}
	if txType := r.URL.Query().Get("type"); txType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, txType)
		argIndex++
	}
	if startDate, ok := parseDateParam(r, "startDate"); ok {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, startDate)
		argIndex++
	}
	if endDate, ok := parseDateParam(r, "endDate"); ok {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, endDate)
		argIndex++
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	query := `
		SELECT id, transaction_number, client_id, type, amount, status,
		       account_balance_before, account_balance_after, client_balance_before, client_balance_after,
		       description, reference, payment_method, check_number, created_by,
		       voided_at, voided_by, void_reason, created_at
		FROM trust_transactions
		WHERE ` + strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[TRUST_TX] List failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.TrustTransaction{}
	for rows.Next() {
		t := models.TrustTransaction{TrustAccountID: accountID, FirmID: firmID}
		var voidedAt sql.NullTime
		var voidedBy, voidReason sql.NullString
		if err := rows.Scan(&t.ID, &t.TransactionNumber, &t.ClientID, &t.Type, &t.Amount, &t.Status,
			&t.AccountBalanceBefore, &t.AccountBalanceAfter, &t.ClientBalanceBefore, &t.ClientBalanceAfter,
			&t.Description, &t.Reference, &t.PaymentMethod, &t.CheckNumber, &t.CreatedBy,
			&voidedAt, &voidedBy, &voidReason, &t.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		if voidedAt.Valid {
			t.VoidedAt = &voidedAt.Time
		}
		t.VoidedBy = voidedBy.String
		t.VoidReason = voidReason.String
		transactions = append(transactions, t)
	}

	SendSuccessResponse(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
		"page":         page,
		"limit":        limit,
	})
}

// GetBalances returns all client balances on a trust account
// @Summary List client trust balances
// @Tags trust-transactions
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/balances [get]
func (s *TrustTransactionService) GetBalances(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	if !s.accountExists(firmID, accountID) {
		SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, client_id, balance, last_transaction_date
		FROM client_trust_balances
		WHERE trust_account_id = $1
		ORDER BY client_id`, accountID)
	if err != nil {
		log.Printf("[TRUST_TX] Balance list failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch balances", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	balances := []models.ClientTrustBalance{}
	for rows.Next() {
		b := models.ClientTrustBalance{TrustAccountID: accountID}
		var lastTx sql.NullTime
		if err := rows.Scan(&b.ID, &b.ClientID, &b.Balance, &lastTx); err != nil {
			SendErrorResponse(w, "Failed to fetch balances", http.StatusInternalServerError, nil)
			return
		}
		if lastTx.Valid {
			b.LastTransactionDate = &lastTx.Time
		}
		balances = append(balances, b)
	}

	SendSuccessResponse(w, http.StatusOK, balances)
}

// GetClientBalance returns one client's trust balance
// @Summary Get a client's trust balance
// @Description Returns a zero balance when the client has no record yet
// @Tags trust-transactions
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param clientId path string true "Client ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/balances/{clientId} [get]
func (s *TrustTransactionService) GetClientBalance(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")
	clientID := chi.URLParam(r, "clientId")

	if !s.accountExists(firmID, accountID) {
		SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		return
	}

	b := models.ClientTrustBalance{TrustAccountID: accountID, ClientID: clientID}
	var lastTx sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, balance, last_transaction_date
		FROM client_trust_balances
		WHERE trust_account_id = $1 AND client_id = $2`, accountID, clientID).
		Scan(&b.ID, &b.Balance, &lastTx)
	if err == sql.ErrNoRows {
		// No transactions yet: report a zero balance rather than 404.
		b.Balance = decimal.Zero
	} else if err != nil {
		log.Printf("[TRUST_TX] Balance fetch failed for client %s: %v", clientID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}
	if lastTx.Valid {
		b.LastTransactionDate = &lastTx.Time
	}

	SendSuccessResponse(w, http.StatusOK, b)
}

func (s *TrustTransactionService) accountExists(firmID, accountID string) bool {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM trust_accounts WHERE id = $1 AND firm_id = $2
		)`, accountID, firmID).Scan(&exists)
	return err == nil && exists
}

func (s *TrustTransactionService) invalidateSummaryCache(r *http.Request, firmID, accountID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(r.Context(), summaryCacheKey(firmID, accountID)).Err(); err != nil {
		log.Printf("[TRUST_TX] Summary cache invalidation failed: %v", err)
	}
}

func parseDateParam(r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
