// Package webhook signs and verifies queue deliveries. A signature is an
// HS256 JWT whose "body" claim is the base64url SHA-256 of the raw request
// body, so a token cannot be replayed against a different payload.
package webhook

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the delivery signature.
const SignatureHeader = "Upstash-Signature"

const DefaultIssuer = "Upstash"

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrInvalidConfig    = errors.New("webhook: invalid config")
)

// Claims are the registered claims plus the body digest.
type Claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Config configures a Verifier. Strict rejects unsigned requests; relaxed
// mode lets them through with a warning and is meant for local development.
type Config struct {
	CurrentKey string
	NextKey    string
	Strict     bool
	Issuer     string
	Leeway     time.Duration
}

type Verifier struct {
	keys   [][]byte
	strict bool
	issuer string
	leeway time.Duration
	logger zerolog.Logger
}

func NewVerifier(cfg Config, logger zerolog.Logger) (*Verifier, error) {
	var keys [][]byte
	for _, k := range []string{cfg.CurrentKey, cfg.NextKey} {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if cfg.Strict && len(keys) == 0 {
		return nil, fmt.Errorf("%w: strict mode requires a signing key", ErrInvalidConfig)
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 5 * time.Second
	}
	return &Verifier{keys: keys, strict: cfg.Strict, issuer: issuer, leeway: leeway, logger: logger}, nil
}

// Strict reports whether unsigned deliveries are rejected.
func (v *Verifier) Strict() bool { return v.strict }

// Verify authenticates body against signature. expectedURL, when set, must
// match the token subject. A token valid under either key is accepted.
func (v *Verifier) Verify(signature string, body []byte, expectedURL string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		if v.strict {
			return ErrMissingSignature
		}
		v.logger.Warn().Msg("webhook: accepting unsigned delivery in relaxed mode")
		return nil
	}
	if len(v.keys) == 0 {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}
	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWithKey(key, signature, body, expectedURL); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWithKey(key []byte, signature string, body []byte, expectedURL string) error {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if expectedURL != "" {
		opts = append(opts, jwt.WithSubject(expectedURL))
	}
	token, err := jwt.ParseWithClaims(signature, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token not valid")
	}
	want := BodyDigest(body)
	got := strings.TrimRight(claims.Body, "=")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return errors.New("body digest mismatch")
	}
	return nil
}

// BodyDigest is the unpadded base64url SHA-256 of body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
