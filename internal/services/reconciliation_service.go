package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lexledger/backend/internal/audit"
	"github.com/lexledger/backend/internal/middleware"
	"github.com/lexledger/backend/internal/models"
)

// Differences smaller than one cent are treated as balanced.
var reconciliationTolerance = decimal.NewFromFloat(0.01)

type ReconciliationService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

// ReconciliationRequest compares the book balance against a bank statement.
// The statement balance is always caller-supplied; there is no bank
// integration behind this endpoint.
type ReconciliationRequest struct {
	BankStatementBalance *decimal.Decimal                  `json:"bankStatementBalance" validate:"required"`
	StatementDate        string                            `json:"statementDate" validate:"required"`
	Adjustments          []models.ReconciliationAdjustment `json:"adjustments"`
	Notes                string                            `json:"notes" validate:"max=1000"`
}

// ThreeWayRequest triggers a bank vs. book vs. client-ledger comparison.
type ThreeWayRequest struct {
	BankStatementBalance *decimal.Decimal `json:"bankStatementBalance" validate:"required"`
	StatementDate        string           `json:"statementDate" validate:"required"`
	Notes                string           `json:"notes" validate:"max=1000"`
}

func NewReconciliationService(db *sql.DB) *ReconciliationService {
	return &ReconciliationService{
		db:        db,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// computeBankDifference is the bank reconciliation formula:
// bank statement minus the adjusted book balance.
func computeBankDifference(bankStatement, book decimal.Decimal, adjustments []models.ReconciliationAdjustment) decimal.Decimal {
	adjusted := book
	for _, adj := range adjustments {
		adjusted = adjusted.Add(adj.Amount)
	}
	return bankStatement.Sub(adjusted)
}

func withinTolerance(difference decimal.Decimal) bool {
	return difference.Abs().LessThan(reconciliationTolerance)
}

// CreateReconciliation records a bank reconciliation
// @Summary Reconcile against a bank statement
// @Description Compare the book balance with a caller-supplied bank statement balance
// @Tags reconciliations
// @Accept json
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param request body ReconciliationRequest true "Statement details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/reconciliations [post]
func (s *ReconciliationService) CreateReconciliation(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req ReconciliationRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	statementDate, err := parseStatementDate(req.StatementDate)
	if err != nil {
		SendErrorResponse(w, "Invalid statement date", http.StatusBadRequest, nil)
		return
	}

	var bookBalance decimal.Decimal
	err = s.db.QueryRow(`
		SELECT balance FROM trust_accounts
		WHERE id = $1 AND firm_id = $2`, accountID, firmID).Scan(&bookBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to create reconciliation", http.StatusInternalServerError, nil)
		}
		return
	}

	if req.Adjustments == nil {
		req.Adjustments = []models.ReconciliationAdjustment{}
	}

	recon := &models.TrustReconciliation{
		ID:                   uuid.NewString(),
		TrustAccountID:       accountID,
		FirmID:               firmID,
		StatementDate:        statementDate,
		BankStatementBalance: *req.BankStatementBalance,
		BookBalance:          bookBalance,
		Adjustments:          req.Adjustments,
		Difference:           computeBankDifference(*req.BankStatementBalance, bookBalance, req.Adjustments),
		Notes:                req.Notes,
		CreatedAt:            time.Now(),
	}
	recon.Status = models.ReconStatusPending
	if withinTolerance(recon.Difference) {
		recon.Status = models.ReconStatusBalanced
	}

	adjustmentsJSON, err := json.Marshal(recon.Adjustments)
	if err != nil {
		SendErrorResponse(w, "Failed to create reconciliation", http.StatusInternalServerError, nil)
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO trust_reconciliations
		(id, trust_account_id, firm_id, statement_date, bank_statement_balance, book_balance, adjustments, difference, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		recon.ID, recon.TrustAccountID, recon.FirmID, recon.StatementDate,
		recon.BankStatementBalance, recon.BookBalance, adjustmentsJSON,
		recon.Difference, recon.Status, recon.Notes, recon.CreatedAt)
	if err != nil {
		log.Printf("[RECONCILIATION] Insert failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to create reconciliation", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogReconciliation(recon.ID, accountID, recon.Status, recon.Difference)
	log.Printf("[RECONCILIATION] Account %s reconciled: status=%s difference=%s", accountID, recon.Status, recon.Difference)
	SendSuccessResponse(w, http.StatusCreated, recon)
}

// ListReconciliations returns past reconciliations for an account
// @Summary List reconciliations
// @Tags reconciliations
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/reconciliations [get]
func (s *ReconciliationService) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	rows, err := s.db.Query(`
		SELECT id, statement_date, bank_statement_balance, book_balance, adjustments, difference, status, notes, created_at
		FROM trust_reconciliations
		WHERE trust_account_id = $1 AND firm_id = $2
		ORDER BY statement_date DESC`, accountID, firmID)
	if err != nil {
		log.Printf("[RECONCILIATION] List failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch reconciliations", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	reconciliations := []models.TrustReconciliation{}
	for rows.Next() {
		rec := models.TrustReconciliation{TrustAccountID: accountID, FirmID: firmID}
		var adjustmentsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.StatementDate, &rec.BankStatementBalance, &rec.BookBalance,
			&adjustmentsJSON, &rec.Difference, &rec.Status, &rec.Notes, &rec.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch reconciliations", http.StatusInternalServerError, nil)
			return
		}
		if len(adjustmentsJSON) > 0 {
			if err := json.Unmarshal(adjustmentsJSON, &rec.Adjustments); err != nil {
				rec.Adjustments = []models.ReconciliationAdjustment{}
			}
		}
		reconciliations = append(reconciliations, rec)
	}

	SendSuccessResponse(w, http.StatusOK, reconciliations)
}

// CreateThreeWayReconciliation runs a three-way reconciliation
// @Summary Three-way reconciliation
// @Description Compare bank statement, book balance, and the client sub-ledger total
// @Tags reconciliations
// @Accept json
// @Produce json
// @Param accountId path string true "Trust account ID"
// @Param request body ThreeWayRequest true "Statement details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trust-accounts/{accountId}/three-way-reconciliation [post]
func (s *ReconciliationService) CreateThreeWayReconciliation(w http.ResponseWriter, r *http.Request) {
	firmID := middleware.FirmID(r.Context())
	accountID := chi.URLParam(r, "accountId")

	var req ThreeWayRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	statementDate, err := parseStatementDate(req.StatementDate)
	if err != nil {
		SendErrorResponse(w, "Invalid statement date", http.StatusBadRequest, nil)
		return
	}

	var bookBalance decimal.Decimal
	err = s.db.QueryRow(`
		SELECT balance FROM trust_accounts
		WHERE id = $1 AND firm_id = $2`, accountID, firmID).Scan(&bookBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Trust account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to run reconciliation", http.StatusInternalServerError, nil)
		}
		return
	}

	// The client sub-ledger is derived independently of the account balance;
	// comparing the two is what catches misallocation between clients.
	snapshots, clientTotal, err := s.snapshotClientBalances(accountID)
	if err != nil {
		log.Printf("[RECONCILIATION] Client snapshot failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to run reconciliation", http.StatusInternalServerError, nil)
		return
	}

	bank := *req.BankStatementBalance
	recon := &models.ThreeWayReconciliation{
		ID:                   uuid.NewString(),
		TrustAccountID:       accountID,
		FirmID:               firmID,
		StatementDate:        statementDate,
		BankStatementBalance: bank,
		BookBalance:          bookBalance,
		ClientLedgerTotal:    clientTotal,
		BankBookDifference:   bank.Sub(bookBalance),
		BookClientDifference: bookBalance.Sub(clientTotal),
		BankClientDifference: bank.Sub(clientTotal),
		ClientBalances:       snapshots,
		Notes:                req.Notes,
		CreatedAt:            time.Now(),
	}
	recon.Status = models.ReconStatusDiscrepancy
	if withinTolerance(recon.BankBookDifference) &&
		withinTolerance(recon.BookClientDifference) &&
		withinTolerance(recon.BankClientDifference) {
		recon.Status = models.ReconStatusBalanced
	}

	snapshotJSON, err := json.Marshal(recon.ClientBalances)
	if err != nil {
		SendErrorResponse(w, "Failed to run reconciliation", http.StatusInternalServerError, nil)
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO three_way_reconciliations
		(id, trust_account_id, firm_id, statement_date, bank_statement_balance, book_balance, client_ledger_total,
		 bank_book_difference, book_client_difference, bank_client_difference, status, client_balances, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		recon.ID, recon.TrustAccountID, recon.FirmID, recon.StatementDate,
		recon.BankStatementBalance, recon.BookBalance, recon.ClientLedgerTotal,
		recon.BankBookDifference, recon.BookClientDifference, recon.BankClientDifference,
		recon.Status, snapshotJSON, recon.Notes, recon.CreatedAt)
	if err != nil {
		log.Printf("[RECONCILIATION] Three-way insert failed for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to run reconciliation", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogReconciliation(recon.ID, accountID, recon.Status, recon.BankClientDifference)
	log.Printf("[RECONCILIATION] Three-way on account %s: status=%s bank/book=%s book/client=%s",
		accountID, recon.Status, recon.BankBookDifference, recon.BookClientDifference)
	SendSuccessResponse(w, http.StatusCreated, recon)
}

func (s *ReconciliationService) snapshotClientBalances(accountID string) ([]models.ClientBalanceSnapshot, decimal.Decimal, error) {
	rows, err := s.db.Query(`
		SELECT client_id, balance
		FROM client_trust_balances
		WHERE trust_account_id = $1
		ORDER BY client_id`, accountID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer rows.Close()

	snapshots := []models.ClientBalanceSnapshot{}
	total := decimal.Zero
	for rows.Next() {
		var snap models.ClientBalanceSnapshot
		if err := rows.Scan(&snap.ClientID, &snap.Balance); err != nil {
			return nil, decimal.Zero, err
		}
		snapshots = append(snapshots, snap)
		total = total.Add(snap.Balance)
	}

	return snapshots, total, rows.Err()
}

func parseStatementDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
