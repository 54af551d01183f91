package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	EventType         string    `json:"event_type"`
	TransactionNumber string    `json:"transaction_number"`
	TrustAccountID    string    `json:"trust_account_id"`
	ClientID          string    `json:"client_id"`
	Amount            string    `json:"amount"`
	Status            string    `json:"status"`
	Details           any       `json:"details,omitempty"`
}

// Logger emits one structured JSON line per ledger mutation so the trust
// transaction history can be cross-checked against the application log.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransaction(txNumber, accountID, clientID, txType string, amount decimal.Decimal) {
	a.log(Event{
		Timestamp:         time.Now(),
		EventType:         "TRUST_TRANSACTION",
		TransactionNumber: txNumber,
		TrustAccountID:    accountID,
		ClientID:          clientID,
		Amount:            amount.String(),
		Status:            "SUCCESS",
		Details:           map[string]string{"type": txType},
	})
}

func (a *Logger) LogTransfer(outNumber, inNumber, accountID, fromClientID, toClientID string, amount decimal.Decimal) {
	a.log(Event{
		Timestamp:         time.Now(),
		EventType:         "TRUST_TRANSFER",
		TransactionNumber: outNumber,
		TrustAccountID:    accountID,
		ClientID:          fromClientID,
		Amount:            amount.String(),
		Status:            "SUCCESS",
		Details: map[string]string{
			"to_client_id": toClientID,
			"in_leg":       inNumber,
		},
	})
}

func (a *Logger) LogVoid(txNumber, accountID, clientID, voidedBy, reason string) {
	a.log(Event{
		Timestamp:         time.Now(),
		EventType:         "TRUST_VOID",
		TransactionNumber: txNumber,
		TrustAccountID:    accountID,
		ClientID:          clientID,
		Status:            "SUCCESS",
		Details: map[string]string{
			"voided_by": voidedBy,
			"reason":    reason,
		},
	})
}

func (a *Logger) LogReconciliation(reconID, accountID, status string, difference decimal.Decimal) {
	a.log(Event{
		Timestamp:      time.Now(),
		EventType:      "TRUST_RECONCILIATION",
		TrustAccountID: accountID,
		Amount:         difference.String(),
		Status:         status,
		Details:        map[string]string{"reconciliation_id": reconID},
	})
}

func (a *Logger) LogError(txNumber, accountID string, err error) {
	a.log(Event{
		Timestamp:         time.Now(),
		EventType:         "ERROR",
		TransactionNumber: txNumber,
		TrustAccountID:    accountID,
		Status:            "FAILED",
		Details:           map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
