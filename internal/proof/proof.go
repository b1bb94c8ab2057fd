// Package proof issues and verifies the short-lived tokens that raise an
// emergency view from public to protected disclosure.
package proof

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lifetag/internal/policy"
	id "lifetag/pkg/domain"
	dErrors "lifetag/pkg/domain-errors"
)

const (
	DefaultTTL = 15 * time.Minute
	scope      = "protected"
)

type claims struct {
	ProfileID string `json:"profile_id"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// Service mints and checks proof tokens. A token is bound to one profile.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(signingKey, issuer, audience string, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue returns a signed token scoped to profileID and its expiry.
func (s *Service) Issue(profileID id.ProfileID) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ProfileID: profileID.String(),
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience, scope and expiry at now.
// Every failure is CodeUnauthorized; callers on the emergency path treat it
// as "no proof".
func (s *Service) Verify(tokenString string, now time.Time) (*policy.Proof, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "proof has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid proof")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Scope != scope {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid proof scope")
	}
	profileID, err := id.ParseProfileID(c.ProfileID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid proof subject")
	}
	return &policy.Proof{
		ProfileID: profileID,
		ExpiresAt: c.ExpiresAt.Time,
		TokenID:   c.ID,
	}, nil
}
