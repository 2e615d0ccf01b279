// Package identity adapts the identity provider's access tokens into the
// actor principal the governance layer works with.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
)

// Claims are the access token claims the provider issues.
type Claims struct {
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Bootstrap bool   `json:"bootstrap,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 access tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

type Option func(*Validator)

// WithClock overrides the clock used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func NewValidator(signingKey, issuer, audience string, opts ...Option) *Validator {
	v := &Validator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issue signs a token for actor. The provider normally does this; it is
// exposed for operator tooling and tests.
func (v *Validator) Issue(actor id.Actor, sessionID string, expiresIn time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID:   actor.ID.String(),
		Name:      actor.Name,
		Bootstrap: actor.Bootstrap,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Audience:  []string{v.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Validate parses and verifies a token.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Actor validates tokenString and returns the principal it names.
func (v *Validator) Actor(tokenString string) (id.Actor, error) {
	claims, err := v.Validate(tokenString)
	if err != nil {
		return id.Anonymous(), err
	}
	actorID, err := id.ParseActorID(claims.ActorID)
	if err != nil {
		return id.Anonymous(), dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return id.Actor{ID: actorID, Bootstrap: claims.Bootstrap, Name: claims.Name}, nil
}
