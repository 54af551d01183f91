package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trust transaction types
const (
	TxTypeDeposit      = "deposit"
	TxTypeWithdrawal   = "withdrawal"
	TxTypeDisbursement = "disbursement"
	TxTypeTransferIn   = "transfer_in"
	TxTypeTransferOut  = "transfer_out"
)

// Trust transaction statuses
const (
	TxStatusCompleted = "completed"
	TxStatusVoided    = "voided"
)

// Reconciliation statuses
const (
	ReconStatusBalanced    = "balanced"
	ReconStatusPending     = "pending"
	ReconStatusDiscrepancy = "discrepancy"
)

// IsDebitType reports whether a transaction type decreases balances.
func IsDebitType(txType string) bool {
	switch txType {
	case TxTypeWithdrawal, TxTypeDisbursement, TxTypeTransferOut:
		return true
	}
	return false
}

// IsValidTxType reports whether txType is one of the externally creatable
// transaction types. Transfer legs are created only by the transfer flow.
func IsValidTxType(txType string) bool {
	switch txType {
	case TxTypeDeposit, TxTypeWithdrawal, TxTypeDisbursement:
		return true
	}
	return false
}

// TrustAccount is one pooled client-funds bank account owned by a firm.
// Balance is the book balance: the sum of all non-voided transaction deltas.
type TrustAccount struct {
	ID            string          `json:"id" db:"id"`
	FirmID        string          `json:"firm_id" db:"firm_id"`
	Name          string          `json:"name" db:"name"`
	BankName      string          `json:"bank_name" db:"bank_name"`
	BankBranch    string          `json:"bank_branch,omitempty" db:"bank_branch"`
	AccountNumber string          `json:"account_number" db:"account_number"`
	Currency      string          `json:"currency" db:"currency"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	IsDefault     bool            `json:"is_default" db:"is_default"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ClientTrustBalance is the per-(account, client) sub-ledger total. Created
// lazily on a client's first transaction, never deleted.
type ClientTrustBalance struct {
	ID                  string          `json:"id" db:"id"`
	TrustAccountID      string          `json:"trust_account_id" db:"trust_account_id"`
	ClientID            string          `json:"client_id" db:"client_id"`
	Balance             decimal.Decimal `json:"balance" db:"balance"`
	LastTransactionDate *time.Time      `json:"last_transaction_date,omitempty" db:"last_transaction_date"`
}

// TrustTransaction is one money movement, immutable once completed. Voiding
// flips status and reverses balances but never alters the original fields.
type TrustTransaction struct {
	ID                   string          `json:"id" db:"id"`
	TransactionNumber    string          `json:"transaction_number" db:"transaction_number"`
	FirmID               string          `json:"firm_id" db:"firm_id"`
	TrustAccountID       string          `json:"trust_account_id" db:"trust_account_id"`
	ClientID             string          `json:"client_id" db:"client_id"`
	Type                 string          `json:"type" db:"type"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Status               string          `json:"status" db:"status"`
	AccountBalanceBefore decimal.Decimal `json:"account_balance_before" db:"account_balance_before"`
	AccountBalanceAfter  decimal.Decimal `json:"account_balance_after" db:"account_balance_after"`
	ClientBalanceBefore  decimal.Decimal `json:"client_balance_before" db:"client_balance_before"`
	ClientBalanceAfter   decimal.Decimal `json:"client_balance_after" db:"client_balance_after"`
	Description          string          `json:"description,omitempty" db:"description"`
	Reference            string          `json:"reference,omitempty" db:"reference"`
	PaymentMethod        string          `json:"payment_method,omitempty" db:"payment_method"`
	CheckNumber          string          `json:"check_number,omitempty" db:"check_number"`
	CreatedBy            string          `json:"created_by" db:"created_by"`
	VoidedAt             *time.Time      `json:"voided_at,omitempty" db:"voided_at"`
	VoidedBy             string          `json:"voided_by,omitempty" db:"voided_by"`
	VoidReason           string          `json:"void_reason,omitempty" db:"void_reason"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// ReconciliationAdjustment is one manual correction line on a bank
// reconciliation (outstanding checks, deposits in transit).
type ReconciliationAdjustment struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// TrustReconciliation compares the book balance against a caller-supplied
// bank statement balance at a point in time.
type TrustReconciliation struct {
	ID                   string                     `json:"id" db:"id"`
	TrustAccountID       string                     `json:"trust_account_id" db:"trust_account_id"`
	FirmID               string                     `json:"firm_id" db:"firm_id"`
	StatementDate        time.Time                  `json:"statement_date" db:"statement_date"`
	BankStatementBalance decimal.Decimal            `json:"bank_statement_balance" db:"bank_statement_balance"`
	BookBalance          decimal.Decimal            `json:"book_balance" db:"book_balance"`
	Adjustments          []ReconciliationAdjustment `json:"adjustments" db:"adjustments"`
	Difference           decimal.Decimal            `json:"difference" db:"difference"`
	Status               string                     `json:"status" db:"status"`
	Notes                string                     `json:"notes,omitempty" db:"notes"`
	CreatedAt            time.Time                  `json:"created_at" db:"created_at"`
}

// ClientBalanceSnapshot captures one client's balance at reconciliation time.
type ClientBalanceSnapshot struct {
	ClientID string          `json:"client_id"`
	Balance  decimal.Decimal `json:"balance"`
}

// ThreeWayReconciliation compares bank statement, book balance, and the sum
// of all client sub-ledger balances. Any pairwise difference outside
// tolerance signals misallocation between clients even when the account
// total looks right.
type ThreeWayReconciliation struct {
	ID                   string                  `json:"id" db:"id"`
	TrustAccountID       string                  `json:"trust_account_id" db:"trust_account_id"`
	FirmID               string                  `json:"firm_id" db:"firm_id"`
	StatementDate        time.Time               `json:"statement_date" db:"statement_date"`
	BankStatementBalance decimal.Decimal         `json:"bank_statement_balance" db:"bank_statement_balance"`
	BookBalance          decimal.Decimal         `json:"book_balance" db:"book_balance"`
	ClientLedgerTotal    decimal.Decimal         `json:"client_ledger_total" db:"client_ledger_total"`
	BankBookDifference   decimal.Decimal         `json:"bank_book_difference" db:"bank_book_difference"`
	BookClientDifference decimal.Decimal         `json:"book_client_difference" db:"book_client_difference"`
	BankClientDifference decimal.Decimal         `json:"bank_client_difference" db:"bank_client_difference"`
	Status               string                  `json:"status" db:"status"`
	ClientBalances       []ClientBalanceSnapshot `json:"client_balances" db:"client_balances"`
	Notes                string                  `json:"notes,omitempty" db:"notes"`
	CreatedAt            time.Time               `json:"created_at" db:"created_at"`
}
