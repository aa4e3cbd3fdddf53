package handlers

import (
	"errors"
	"io"
	"net/http"

	"figureworks/internal/billing"
	"figureworks/internal/domain"
)

const paymentHistoryLimit = 20

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Ledger.Ensure(r.Context(), userID, a.DefaultCredits)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	payments := []domain.Payment{}
	if a.Payments != nil {
		list, err := a.Payments.ListPayments(r.Context(), userID, paymentHistoryLimit)
		if err != nil {
			a.Logger.Warn().Err(err).Str("user_id", userID).Msg("load payment history")
		} else if list != nil {
			payments = list
		}
	}
	a.json(w, http.StatusOK, map[string]any{"balance": balance, "payments": payments})
}

// PaymentsWebhook applies Stripe checkout completions to the ledger.
func (a *App) PaymentsWebhook(w http.ResponseWriter, r *http.Request) {
	if a.Billing == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "payments are not configured")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	out, err := a.Billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]any{"received": true, "type": out.EventType, "applied": out.Applied})
	case errors.Is(err, billing.ErrInvalidSignature):
		a.error(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
	case errors.Is(err, billing.ErrMissingReference):
		// Retrying will not add the reference; acknowledge and log.
		a.Logger.Warn().Str("type", out.EventType).Msg("checkout session without client reference")
		a.json(w, http.StatusOK, map[string]any{"received": true, "type": out.EventType, "applied": false})
	default:
		a.writeError(w, r, err)
	}
}
