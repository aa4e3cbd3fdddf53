package domain

import (
	"context"
	"time"
)

// FigureRepository persists figures. MarkDone and MarkError only transition a
// queued figure and return ErrAlreadyTerminal otherwise.
type FigureRepository interface {
	Create(ctx context.Context, fig NewFigure) (*Figure, error)
	Get(ctx context.Context, id string) (*Figure, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Figure, error)
	MergeMeta(ctx context.Context, id string, meta FigureMeta) error
	MarkDone(ctx context.Context, id, resultRef string, completedAt time.Time) error
	MarkError(ctx context.Context, id, detail string, failedAt time.Time) error
}

// CreditLedger tracks spendable credits per user.
type CreditLedger interface {
	// Ensure returns the balance, creating the row with defaultBalance on first touch.
	Ensure(ctx context.Context, userID string, defaultBalance int) (int, error)
	// DebitOne decrements by one or returns ErrInsufficientCredits.
	DebitOne(ctx context.Context, userID string) (int, error)
	// Credit applies a top-up at most once per ExternalTxnID.
	Credit(ctx context.Context, topUp TopUp) (balance int, applied bool, err error)
	Balance(ctx context.Context, userID string) (int, error)
}

// PaymentHistory lists recorded top-ups.
type PaymentHistory interface {
	ListPayments(ctx context.Context, userID string, limit int) ([]Payment, error)
}
