package webhook

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer mints delivery signatures the Verifier accepts.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(key string, ttl time.Duration) (*Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("webhook: signing key is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{key: []byte(key), issuer: DefaultIssuer, ttl: ttl, now: time.Now}, nil
}

// Sign returns a token bound to targetURL and body.
func (s *Signer) Sign(targetURL string, body []byte) (string, error) {
	now := s.now()
	claims := Claims{
		Body: BodyDigest(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   targetURL,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}
