package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"figureworks/internal/domain"
	"figureworks/internal/sqlinline"
)

// PaymentRepository reads payment history through sqlx struct scanning.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// ListPayments returns the user's most recent payments.
func (r *PaymentRepository) ListPayments(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	payments := []domain.Payment{}
	if err := r.db.SelectContext(ctx, &payments, sqlinline.QListPayments, userID, limit); err != nil {
		return nil, fmt.Errorf("%w: list payments for %s: %w", domain.ErrLedgerUnavailable, userID, err)
	}
	return payments, nil
}

var _ domain.PaymentHistory = (*PaymentRepository)(nil)
