package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"figureworks/internal/webhook"
)

const (
	HeaderUpstashMessageID = "Upstash-Message-Id"
	HeaderUpstashRetried   = "Upstash-Retried"
)

var errPermanent = errors.New("permanent delivery failure")

type bodySigner interface {
	Sign(targetURL string, body []byte) (string, error)
}

type RelayConfig struct {
	// Retries is the number of redeliveries after the first attempt.
	Retries int
	Backoff     time.Duration
	HTTPClient  *http.Client
}

// Relay drains the Kafka job topic and POSTs each envelope, signed, to its
// target. A record is committed after a 2xx, a permanent rejection, or once
// retries run out.
type Relay struct {
	consumer    Consumer
	signer      bodySigner
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRelay(consumer Consumer, signer bodySigner, cfg RelayConfig, log zerolog.Logger) (*Relay, error) {
	if consumer == nil {
		return nil, fmt.Errorf("%w: relay requires a consumer", ErrInvalidConfig)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: relay requires a signer", ErrInvalidConfig)
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 150 * time.Second}
	}
	return &Relay{
		consumer:    consumer,
		signer:      signer,
		client:      client,
		maxAttempts: retries + 1,
		backoff:     cfg.Backoff,
		log:         log.With().Str("component", "relay").Logger(),
		sleep:       sleepCtx,
	}, nil
}

// Run processes messages until ctx is cancelled or the consumer closes.
func (r *Relay) Run(ctx context.Context) error {
	msgs := r.consumer.Messages()
	errs := r.consumer.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.log.Warn().Err(err).Msg("consumer error")
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.Handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Error().Err(err).Msg("handle message")
			}
		}
	}
}

// Handle delivers one record and commits it unless ctx was cancelled mid-way.
func (r *Relay) Handle(ctx context.Context, msg Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || env.TargetURL == "" {
		r.log.Error().Err(err).Bytes("key", msg.Key).Msg("dropping malformed envelope")
		return msg.Ack(ctx)
	}
	logger := r.log.With().Str("message_id", env.MessageID).Str("figure_id", env.Payload.FigureID).Logger()

	body, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.backoff*time.Duration(attempt-1)); err != nil {
				return err
			}
		}
		lastErr = r.post(ctx, env, body, attempt-1)
		if lastErr == nil {
			logger.Info().Int("attempt", attempt).Msg("delivered")
			return msg.Ack(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(lastErr, errPermanent) {
			logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("delivery rejected")
			return msg.Ack(ctx)
		}
		logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("delivery failed")
	}
	logger.Error().Err(lastErr).Int("attempts", r.maxAttempts).Msg("abandoning message")
	return msg.Ack(ctx)
}

func (r *Relay) post(ctx context.Context, env Envelope, body []byte, retried int) error {
	sig, err := r.signer.Sign(env.TargetURL, body)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", errPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.TargetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, sig)
	req.Header.Set(HeaderUpstashMessageID, env.MessageID)
	req.Header.Set(HeaderUpstashRetried, strconv.Itoa(retried))

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("http %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: http %d", errPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("http %d", resp.StatusCode)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
