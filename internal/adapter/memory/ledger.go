package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"figureworks/internal/domain"
)

// Ledger keeps balances and payments under one mutex, which gives the same
// atomicity the SQL statements provide.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int
	payments map[string]domain.Payment
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]int),
		payments: make(map[string]domain.Payment),
	}
}

func (l *Ledger) Ensure(_ context.Context, userID string, defaultBalance int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[userID]; ok {
		return b, nil
	}
	if defaultBalance < 0 {
		defaultBalance = 0
	}
	l.balances[userID] = defaultBalance
	return defaultBalance, nil
}

func (l *Ledger) DebitOne(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[userID]
	if !ok || b < 1 {
		return 0, domain.ErrInsufficientCredits
	}
	l.balances[userID] = b - 1
	return b - 1, nil
}

func (l *Ledger) Credit(_ context.Context, topUp domain.TopUp) (int, bool, error) {
	if err := topUp.Validate(); err != nil {
		return 0, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.payments[topUp.ExternalTxnID]; dup {
		return l.balances[topUp.UserID], false, nil
	}
	l.payments[topUp.ExternalTxnID] = domain.Payment{
		ID:            uuid.NewString(),
		UserID:        topUp.UserID,
		ExternalTxnID: topUp.ExternalTxnID,
		CreditsAdded:  topUp.Credits,
		AmountCents:   topUp.AmountCents,
		Status:        domain.PaymentStatusCompleted,
		CreatedAt:     time.Now().UTC(),
	}
	l.balances[topUp.UserID] += topUp.Credits
	return l.balances[topUp.UserID], true, nil
}

func (l *Ledger) Balance(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

// SetBalance overwrites a balance. Used by tests and the dev seed.
func (l *Ledger) SetBalance(userID string, balance int) {
	l.mu.Lock()
	l.balances[userID] = balance
	l.mu.Unlock()
}

func (l *Ledger) ListPayments(_ context.Context, userID string, limit int) ([]domain.Payment, error) {
	l.mu.Lock()
	var out []domain.Payment
	for _, p := range l.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ domain.CreditLedger   = (*Ledger)(nil)
	_ domain.PaymentHistory = (*Ledger)(nil)
)
