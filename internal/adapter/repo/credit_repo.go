package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"figureworks/internal/domain"
	"figureworks/internal/infra"
	"figureworks/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger with single-statement
// conditional writes so concurrent callers never lose an update.
type CreditLedgerPG struct {
	sql infra.SQLExecutor
}

// NewCreditLedger creates a ledger backed by PostgreSQL.
func NewCreditLedger(sql infra.SQLExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql}
}

func (l *CreditLedgerPG) Ensure(ctx context.Context, userID string, defaultBalance int) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, errors.New("ledger: user id is required")
	}
	if defaultBalance < 0 {
		defaultBalance = 0
	}
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QEnsureCredits, userID, defaultBalance).Scan(&balance); err != nil {
		return 0, fmt.Errorf("%w: ensure credits: %w", domain.ErrLedgerUnavailable, err)
	}
	return balance, nil
}

func (l *CreditLedgerPG) DebitOne(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QDebitCredit, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrInsufficientCredits
		}
		return 0, fmt.Errorf("%w: debit credits: %w", domain.ErrLedgerUnavailable, err)
	}
	return balance, nil
}

func (l *CreditLedgerPG) Credit(ctx context.Context, topUp domain.TopUp) (int, bool, error) {
	if err := topUp.Validate(); err != nil {
		return 0, false, err
	}
	var (
		balance int
		applied bool
	)
	row := l.sql.QueryRow(ctx, sqlinline.QApplyTopUp, topUp.UserID, topUp.ExternalTxnID, topUp.Credits, topUp.AmountCents)
	if err := row.Scan(&balance, &applied); err != nil {
		return 0, false, fmt.Errorf("%w: apply top-up: %w", domain.ErrLedgerUnavailable, err)
	}
	return balance, applied, nil
}

func (l *CreditLedgerPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectCreditBalance, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: load balance: %w", domain.ErrLedgerUnavailable, err)
	}
	return balance, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
