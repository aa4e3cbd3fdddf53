package domain

import (
	"fmt"
	"strings"
	"time"
)

// CreditBalance is a user's spendable figure credits.
type CreditBalance struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int       `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payment records one confirmed top-up. ExternalTxnID is unique.
type Payment struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	ExternalTxnID string    `db:"external_txn_id" json:"external_txn_id"`
	CreditsAdded  int       `db:"credits_added" json:"credits_added"`
	AmountCents   int64     `db:"amount_cents" json:"amount_cents"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

const PaymentStatusCompleted = "completed"

// TopUp is a verified payment event ready to be applied to the ledger.
type TopUp struct {
	UserID        string
	ExternalTxnID string
	Credits       int
	AmountCents   int64
}

// Validate rejects top-ups no ledger may apply.
func (t TopUp) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if strings.TrimSpace(t.ExternalTxnID) == "" {
		return &ValidationError{Field: "external_txn_id", Message: "is required"}
	}
	if t.Credits <= 0 {
		return &ValidationError{Field: "credits", Message: fmt.Sprintf("must be positive, got %d", t.Credits)}
	}
	return nil
}
