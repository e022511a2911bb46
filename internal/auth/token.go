package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Generatorcc/emr-ehr-core/internal/ids"
)

// Claims is the JWT payload carried by access tokens.
type Claims struct {
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes,omitempty"`
	PatientID string   `json:"pat,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints signed access tokens. The signing secret is injected,
// never read from process globals.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer builds an issuer. ttl bounds the token lifetime.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for the identity. Returns the compact token and its
// expiry instant.
func (i *TokenIssuer) Issue(identity Identity) (string, time.Time, error) {
	if !identity.Active() {
		return "", time.Time{}, ErrInactive
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role:      string(identity.Role),
		Scopes:    ScopesForRole(identity.Role, identity.Scopes).List(),
		PatientID: identity.PatientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity.ID,
			ID:        ids.NewRequestID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// parseToken verifies the signature and registered claims of raw and
// returns the claims. Errors are normalized to the denial sentinels.
func parseToken(raw string, secret []byte, issuer string, now func() time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now() }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedCredential
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidSignature
		}
	}
	if claims.Subject == "" {
		return nil, ErrMalformedCredential
	}
	return claims, nil
}
