// Package billing turns verified Stripe checkout events into ledger top-ups.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"figureworks/internal/domain"
)

const (
	singleCredits = 1
	groupCredits  = 4
	// groupThresholdCents separates the single plan from the group plan when
	// the session carries no explicit credit count.
	groupThresholdCents = 500
)

var (
	ErrInvalidSignature = errors.New("invalid stripe signature")
	ErrMissingReference = errors.New("checkout session has no client reference")
)

// Outcome reports what a webhook delivery did.
type Outcome struct {
	EventType string
	Applied   bool
	Balance   int
	TopUp     *domain.TopUp
}

type Processor struct {
	secret string
	prices map[string]int
	ledger domain.CreditLedger
	log    zerolog.Logger
}

// NewProcessor verifies deliveries with secret. prices maps Stripe price ids
// to the credits they buy; it may be nil.
func NewProcessor(secret string, prices map[string]int, ledger domain.CreditLedger, log zerolog.Logger) (*Processor, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("billing: stripe webhook secret is required")
	}
	if ledger == nil {
		return nil, errors.New("billing: ledger is required")
	}
	return &Processor{
		secret: secret,
		prices: prices,
		ledger: ledger,
		log:    log.With().Str("component", "billing").Logger(),
	}, nil
}

// ParseTopUp verifies the Stripe-Signature header and extracts the top-up
// from a checkout.session.completed event. Other event types return nil.
func (p *Processor) ParseTopUp(payload []byte, signature string) (string, *domain.TopUp, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	eventType := string(event.Type)
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return eventType, nil, nil
	}
	var session stripe.CheckoutSession
	if event.Data == nil {
		return eventType, nil, fmt.Errorf("billing: event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return eventType, nil, fmt.Errorf("billing: decode session: %w", err)
	}
	if strings.TrimSpace(session.ClientReferenceID) == "" {
		return eventType, nil, ErrMissingReference
	}
	return eventType, &domain.TopUp{
		UserID:        session.ClientReferenceID,
		ExternalTxnID: session.ID,
		Credits:       CreditsFor(session.Metadata, sessionPriceID(&session), p.prices, session.AmountTotal),
		AmountCents:   session.AmountTotal,
	}, nil
}

// HandleWebhook verifies the delivery and applies any top-up once.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	eventType, topUp, err := p.ParseTopUp(payload, signature)
	if err != nil {
		return Outcome{EventType: eventType}, err
	}
	out := Outcome{EventType: eventType, TopUp: topUp}
	if topUp == nil {
		p.log.Debug().Str("event_type", eventType).Msg("ignoring stripe event")
		return out, nil
	}
	balance, applied, err := p.ledger.Credit(ctx, *topUp)
	if err != nil {
		return out, err
	}
	out.Applied, out.Balance = applied, balance
	p.log.Info().
		Str("user_id", topUp.UserID).
		Str("txn_id", topUp.ExternalTxnID).
		Int("credits", topUp.Credits).
		Bool("applied", applied).
		Msg("stripe top-up")
	return out, nil
}

// PlanPrices builds the price table for the single and group plans. Empty ids
// are left out.
func PlanPrices(singlePriceID, groupPriceID string) map[string]int {
	prices := make(map[string]int, 2)
	if id := strings.TrimSpace(singlePriceID); id != "" {
		prices[id] = singleCredits
	}
	if id := strings.TrimSpace(groupPriceID); id != "" {
		prices[id] = groupCredits
	}
	return prices
}

// sessionPriceID returns the price of the first line item when the event
// carries them, else the priceId the checkout was created with.
func sessionPriceID(session *stripe.CheckoutSession) string {
	if session.LineItems != nil {
		for _, item := range session.LineItems.Data {
			if item != nil && item.Price != nil && item.Price.ID != "" {
				return item.Price.ID
			}
		}
	}
	return strings.TrimSpace(session.Metadata["priceId"])
}

// CreditsFor picks the credit count: explicit metadata first, then the plan
// bought by priceID, then the plan implied by the amount paid.
func CreditsFor(metadata map[string]string, priceID string, prices map[string]int, amountCents int64) int {
	if raw, ok := metadata["credits"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			return n
		}
	}
	if n, ok := prices[priceID]; ok && priceID != "" && n > 0 {
		return n
	}
	if amountCents >= groupThresholdCents {
		return groupCredits
	}
	return singleCredits
}
