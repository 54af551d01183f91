package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDebitType(t *testing.T) {
	assert.False(t, IsDebitType(TxTypeDeposit))
	assert.False(t, IsDebitType(TxTypeTransferIn))
	assert.True(t, IsDebitType(TxTypeWithdrawal))
	assert.True(t, IsDebitType(TxTypeDisbursement))
	assert.True(t, IsDebitType(TxTypeTransferOut))
}

func TestIsValidTxType(t *testing.T) {
	assert.True(t, IsValidTxType(TxTypeDeposit))
	assert.True(t, IsValidTxType(TxTypeWithdrawal))
	assert.True(t, IsValidTxType(TxTypeDisbursement))
	// Transfer legs are only created through the transfer path.
	assert.False(t, IsValidTxType(TxTypeTransferIn))
	assert.False(t, IsValidTxType(TxTypeTransferOut))
	assert.False(t, IsValidTxType("refund"))
	assert.False(t, IsValidTxType(""))
}
