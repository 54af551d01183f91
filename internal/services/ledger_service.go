package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lexledger/backend/internal/audit"
	"github.com/lexledger/backend/internal/models"
)

// Domain errors surfaced by the ledger. Handlers map these onto HTTP
// statuses and user-facing messages.
var (
	ErrAccountNotFound     = errors.New("trust account not found")
	ErrAccountInactive     = errors.New("trust account is not active")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient client balance")
	ErrAlreadyVoided       = errors.New("transaction already voided")
	ErrSameClientTransfer  = errors.New("cannot transfer between the same client")
	ErrInvalidTxType       = errors.New("invalid transaction type")
)

// TrustLedgerService applies money movements to the trust ledger. Every
// mutation runs inside one sql.Tx: the transaction row, the account balance,
// and the client balance either all change or none do. Rows are locked
// FOR UPDATE so concurrent calls against the same balances serialize.
type TrustLedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewTrustLedgerService(db *sql.DB) *TrustLedgerService {
	return &TrustLedgerService{
		db:    db,
		audit: audit.NewLogger(),
	}
}

// TransactionInput describes one deposit, withdrawal, or disbursement.
type TransactionInput struct {
	FirmID         string
	TrustAccountID string
	ClientID       string
	Type           string
	Amount         decimal.Decimal
	Description    string
	Reference      string
	PaymentMethod  string
	CheckNumber    string
	CreatedBy      string
}

// TransferInput moves funds between two clients within one trust account.
type TransferInput struct {
	FirmID         string
	TrustAccountID string
	FromClientID   string
	ToClientID     string
	Amount         decimal.Decimal
	Description    string
	CreatedBy      string
}

// ProcessTransaction applies a single transaction in its own database
// transaction.
func (s *TrustLedgerService) ProcessTransaction(in *TransactionInput) (*models.TrustTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, err := s.ProcessTransactionTx(tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ProcessTransactionTx applies a single transaction inside the caller's
// sql.Tx. Debits are limited by the client's own balance, not the pooled
// account balance: funds are segregated per client even though physically
// pooled.
func (s *TrustLedgerService) ProcessTransactionTx(tx *sql.Tx, in *TransactionInput) (*models.TrustTransaction, error) {
	if !models.IsValidTxType(in.Type) {
		return nil, ErrInvalidTxType
	}

	account, err := s.lockAccount(tx, in.FirmID, in.TrustAccountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}

	clientBal, err := s.lockOrCreateClientBalance(tx, in.TrustAccountID, in.ClientID)
	if err != nil {
		return nil, err
	}

	delta := in.Amount
	if models.IsDebitType(in.Type) {
		if clientBal.Balance.LessThan(in.Amount) {
			return nil, ErrInsufficientFunds
		}
		delta = in.Amount.Neg()
	}

	now := time.Now()
	number, err := s.nextTransactionNumber(tx, in.FirmID, now)
	if err != nil {
		return nil, err
	}

	// Snapshots come from the locked reads above, so they reflect exactly
	// the state this transaction transitioned from.
	rec := &models.TrustTransaction{
		ID:                   uuid.NewString(),
		TransactionNumber:    number,
		FirmID:               in.FirmID,
		TrustAccountID:       in.TrustAccountID,
		ClientID:             in.ClientID,
		Type:                 in.Type,
		Amount:               in.Amount,
		Status:               models.TxStatusCompleted,
		AccountBalanceBefore: account.Balance,
		AccountBalanceAfter:  account.Balance.Add(delta),
		ClientBalanceBefore:  clientBal.Balance,
		ClientBalanceAfter:   clientBal.Balance.Add(delta),
		Description:          in.Description,
		Reference:            in.Reference,
		PaymentMethod:        in.PaymentMethod,
		CheckNumber:          in.CheckNumber,
		CreatedBy:            in.CreatedBy,
		CreatedAt:            now,
	}

	if err := s.insertTransaction(tx, rec); err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, rec.AccountBalanceAfter); err != nil {
		return nil, err
	}

	if err := s.updateClientBalance(tx, clientBal.ID, rec.ClientBalanceAfter, now); err != nil {
		return nil, err
	}

	s.audit.LogTransaction(number, in.TrustAccountID, in.ClientID, in.Type, in.Amount)
	return rec, nil
}

// Transfer moves funds between two clients in its own database transaction.
func (s *TrustLedgerService) Transfer(in *TransferInput) (*models.TrustTransaction, *models.TrustTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	outLeg, inLeg, err := s.TransferTx(tx, in)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return outLeg, inLeg, nil
}

// TransferTx records both legs of a client-to-client transfer inside the
// caller's sql.Tx. The legs reference each other's transaction numbers; the
// pooled account balance is unchanged net.
func (s *TrustLedgerService) TransferTx(tx *sql.Tx, in *TransferInput) (*models.TrustTransaction, *models.TrustTransaction, error) {
	if in.FromClientID == in.ToClientID {
		return nil, nil, ErrSameClientTransfer
	}

	account, err := s.lockAccount(tx, in.FirmID, in.TrustAccountID)
	if err != nil {
		return nil, nil, err
	}
	if !account.IsActive {
		return nil, nil, ErrAccountInactive
	}

	// Lock client balances in a consistent order to prevent deadlocks.
	firstID, secondID := in.FromClientID, in.ToClientID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	firstBal, err := s.lockOrCreateClientBalance(tx, in.TrustAccountID, firstID)
	if err != nil {
		return nil, nil, err
	}
	secondBal, err := s.lockOrCreateClientBalance(tx, in.TrustAccountID, secondID)
	if err != nil {
		return nil, nil, err
	}

	fromBal, toBal := firstBal, secondBal
	if firstID != in.FromClientID {
		fromBal, toBal = toBal, fromBal
	}

	if fromBal.Balance.LessThan(in.Amount) {
		return nil, nil, ErrInsufficientFunds
	}

	now := time.Now()
	outNumber, err := s.nextTransactionNumber(tx, in.FirmID, now)
	if err != nil {
		return nil, nil, err
	}
	inNumber, err := s.nextTransactionNumber(tx, in.FirmID, now)
	if err != nil {
		return nil, nil, err
	}

	outLeg := &models.TrustTransaction{
		ID:                   uuid.NewString(),
		TransactionNumber:    outNumber,
		FirmID:               in.FirmID,
		TrustAccountID:       in.TrustAccountID,
		ClientID:             in.FromClientID,
		Type:                 models.TxTypeTransferOut,
		Amount:               in.Amount,
		Status:               models.TxStatusCompleted,
		AccountBalanceBefore: account.Balance,
		AccountBalanceAfter:  account.Balance.Sub(in.Amount),
		ClientBalanceBefore:  fromBal.Balance,
		ClientBalanceAfter:   fromBal.Balance.Sub(in.Amount),
		Description:          in.Description,
		Reference:            inNumber,
		CreatedBy:            in.CreatedBy,
		CreatedAt:            now,
	}

	inLeg := &models.TrustTransaction{
		ID:                   uuid.NewString(),
		TransactionNumber:    inNumber,
		FirmID:               in.FirmID,
		TrustAccountID:       in.TrustAccountID,
		ClientID:             in.ToClientID,
		Type:                 models.TxTypeTransferIn,
		Amount:               in.Amount,
		Status:               models.TxStatusCompleted,
		AccountBalanceBefore: account.Balance.Sub(in.Amount),
		AccountBalanceAfter:  account.Balance,
		ClientBalanceBefore:  toBal.Balance,
		ClientBalanceAfter:   toBal.Balance.Add(in.Amount),
		Description:          in.Description,
		Reference:            outNumber,
		CreatedBy:            in.CreatedBy,
		CreatedAt:            now,
	}

	if err := s.insertTransaction(tx, outLeg); err != nil {
		return nil, nil, err
	}
	if err := s.insertTransaction(tx, inLeg); err != nil {
		return nil, nil, err
	}

	if err := s.updateClientBalance(tx, fromBal.ID, outLeg.ClientBalanceAfter, now); err != nil {
		return nil, nil, err
	}
	if err := s.updateClientBalance(tx, toBal.ID, inLeg.ClientBalanceAfter, now); err != nil {
		return nil, nil, err
	}

	s.audit.LogTransfer(outNumber, inNumber, in.TrustAccountID, in.FromClientID, in.ToClientID, in.Amount)
	return outLeg, inLeg, nil
}

// VoidTransaction reverses a completed transaction in its own database
// transaction.
func (s *TrustLedgerService) VoidTransaction(firmID, transactionID, voidedBy, reason string) (*models.TrustTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, err := s.VoidTransactionTx(tx, firmID, transactionID, voidedBy, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// VoidTransactionTx reverses the balance effects of a transaction and marks
// it voided. The original amount, type, and snapshots are left untouched so
// the ledger remains a complete audit trail. Re-voiding fails with
// ErrAlreadyVoided.
func (s *TrustLedgerService) VoidTransactionTx(tx *sql.Tx, firmID, transactionID, voidedBy, reason string) (*models.TrustTransaction, error) {
	rec := &models.TrustTransaction{ID: transactionID, FirmID: firmID}
	err := tx.QueryRow(`
		SELECT transaction_number, trust_account_id, client_id, type, amount, status
		FROM trust_transactions
		WHERE id = $1 AND firm_id = $2
		FOR UPDATE`, transactionID, firmID).
		Scan(&rec.TransactionNumber, &rec.TrustAccountID, &rec.ClientID, &rec.Type, &rec.Amount, &rec.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	if rec.Status == models.TxStatusVoided {
		return nil, ErrAlreadyVoided
	}

	account, err := s.lockAccount(tx, firmID, rec.TrustAccountID)
	if err != nil {
		return nil, err
	}

	clientBal, err := s.lockOrCreateClientBalance(tx, rec.TrustAccountID, rec.ClientID)
	if err != nil {
		return nil, err
	}

	// Sign-flip of the original delta.
	reverse := rec.Amount.Neg()
	if models.IsDebitType(rec.Type) {
		reverse = rec.Amount
	}

	now := time.Now()
	if err := s.updateAccountBalance(tx, account.ID, account.Balance.Add(reverse)); err != nil {
		return nil, err
	}
	if err := s.updateClientBalance(tx, clientBal.ID, clientBal.Balance.Add(reverse), now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE trust_transactions
		SET status = $1, voided_at = $2, voided_by = $3, void_reason = $4
		WHERE id = $5`,
		models.TxStatusVoided, now, voidedBy, reason, transactionID)
	if err != nil {
		return nil, err
	}

	rec.Status = models.TxStatusVoided
	rec.VoidedAt = &now
	rec.VoidedBy = voidedBy
	rec.VoidReason = reason

	s.audit.LogVoid(rec.TransactionNumber, rec.TrustAccountID, rec.ClientID, voidedBy, reason)
	return rec, nil
}

func (s *TrustLedgerService) lockAccount(tx *sql.Tx, firmID, accountID string) (*models.TrustAccount, error) {
	account := &models.TrustAccount{}
	err := tx.QueryRow(`
		SELECT id, balance, currency, is_active
		FROM trust_accounts
		WHERE id = $1 AND firm_id = $2
		FOR UPDATE`, accountID, firmID).
		Scan(&account.ID, &account.Balance, &account.Currency, &account.IsActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// lockOrCreateClientBalance locks the (account, client) balance row, creating
// a zero-balance record on the client's first transaction.
func (s *TrustLedgerService) lockOrCreateClientBalance(tx *sql.Tx, accountID, clientID string) (*models.ClientTrustBalance, error) {
	bal := &models.ClientTrustBalance{TrustAccountID: accountID, ClientID: clientID}
	err := tx.QueryRow(`
		SELECT id, balance
		FROM client_trust_balances
		WHERE trust_account_id = $1 AND client_id = $2
		FOR UPDATE`, accountID, clientID).
		Scan(&bal.ID, &bal.Balance)

	if err == sql.ErrNoRows {
		bal.ID = uuid.NewString()
		bal.Balance = decimal.Zero
		_, err = tx.Exec(`
			INSERT INTO client_trust_balances (id, trust_account_id, client_id, balance)
			VALUES ($1, $2, $3, 0)`,
			bal.ID, accountID, clientID)
		if err != nil {
			return nil, err
		}
		return bal, nil
	}

	if err != nil {
		return nil, err
	}
	return bal, nil
}

// nextTransactionNumber reserves the next sequential TT number for the firm
// via an atomic counter upsert. Counting rows and formatting would hand out
// duplicates under parallel requests.
func (s *TrustLedgerService) nextTransactionNumber(tx *sql.Tx, firmID string, now time.Time) (string, error) {
	year := now.Year()
	var seq int64
	err := tx.QueryRow(`
		INSERT INTO trust_transaction_counters (firm_id, year, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (firm_id, year)
		DO UPDATE SET seq = trust_transaction_counters.seq + 1
		RETURNING seq`, firmID, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TT-%d-%06d", year, seq), nil
}

func (s *TrustLedgerService) insertTransaction(tx *sql.Tx, rec *models.TrustTransaction) error {
	_, err := tx.Exec(`
		INSERT INTO trust_transactions
		(id, transaction_number, firm_id, trust_account_id, client_id, type, amount, status,
		 account_balance_before, account_balance_after, client_balance_before, client_balance_after,
		 description, reference, payment_method, check_number, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.TransactionNumber, rec.FirmID, rec.TrustAccountID, rec.ClientID,
		rec.Type, rec.Amount, rec.Status,
		rec.AccountBalanceBefore, rec.AccountBalanceAfter,
		rec.ClientBalanceBefore, rec.ClientBalanceAfter,
		rec.Description, rec.Reference, rec.PaymentMethod, rec.CheckNumber,
		rec.CreatedBy, rec.CreatedAt)
	return err
}

func (s *TrustLedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance decimal.Decimal) error {
	result, err := tx.Exec(`
		UPDATE trust_accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3`,
		newBalance, time.Now(), accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update affected no rows for account %s", accountID)
	}
	return nil
}

func (s *TrustLedgerService) updateClientBalance(tx *sql.Tx, balanceID string, newBalance decimal.Decimal, lastTx time.Time) error {
	_, err := tx.Exec(`
		UPDATE client_trust_balances
		SET balance = $1, last_transaction_date = $2
		WHERE id = $3`,
		newBalance, lastTx, balanceID)
	return err
}
