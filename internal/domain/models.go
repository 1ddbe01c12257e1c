package domain

import (
	"fmt"
	"strings"
)

// TransactionType is the direction of a ledger operation.
type TransactionType string

const (
	TypeCredit TransactionType = "CREDIT"
	TypeDebit  TransactionType = "DEBIT"
)

// ParseTransactionType normalizes a caller-supplied type string.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREDIT":
		return TypeCredit, nil
	case "DEBIT":
		return TypeDebit, nil
	default:
		return "", fmt.Errorf("invalid transaction type %q", s)
	}
}

// TransactionStatus tracks the lifecycle of a ledger entry. The commit path
// is single-phase and only ever writes StatusSucceeded; the remaining states
// are reserved for external transfer legs (initCrDr) that settle out-of-band.
type TransactionStatus string

const (
	StatusInitiated  TransactionStatus = "INITIATED"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusFailed     TransactionStatus = "FAILED"
	StatusSucceeded  TransactionStatus = "SUCCEEDED"
)

// Account is a user's balance record. Balances are integer minor units
// (paise for INR). The balance is mutated only by the transaction engine's
// atomic commit and must never go negative.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// Transaction is an immutable, append-only ledger entry. Exactly one record
// exists per id, addressed by (userId, id).
type Transaction struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	Amount         int64             `json:"amount"`
	IdempotencyKey string            `json:"idempotencyKey"`
	ExternalTxnID  string            `json:"externalTxnId,omitempty"`
	AccountNumber  string            `json:"accountNumber,omitempty"`
	IFSC           string            `json:"ifsc,omitempty"`
}

// IdempotencyRecord maps a caller-supplied deduplication token to the
// transaction it produced. Its existence is the single source of truth for
// "this logical request has already been applied". Created atomically with
// the Transaction and the balance update, never mutated or deleted.
type IdempotencyRecord struct {
	Key           string            `json:"idempotencyKey"`
	TransactionID string            `json:"transactionId"`
	UserID        string            `json:"userId"`
	Type          TransactionType   `json:"type"`
	Amount        int64             `json:"amount"`
	Status        TransactionStatus `json:"status"`
}
