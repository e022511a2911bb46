package auth

import (
	"context"
	"errors"
	"time"
)

// Mode selects how much the resolver trusts token claims.
type Mode string

const (
	// ModeRevalidate re-reads role, scopes and active flag from the
	// identity store on every request. Deactivation takes effect
	// immediately at the cost of one store round trip.
	ModeRevalidate Mode = "revalidate"
	// ModeStateless trusts the signed claims for the token lifetime.
	ModeStateless Mode = "stateless"
)

// IdentityStore looks up identities for revalidation and login.
type IdentityStore interface {
	FindIdentity(ctx context.Context, id string) (Identity, error)
}

// Resolver turns a bearer credential into a Principal or a denial.
type Resolver struct {
	secret      []byte
	issuer      string
	mode        Mode
	identities  IdentityStore
	revocations RevocationList
	now         func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMode overrides the default revalidate mode.
func WithMode(m Mode) ResolverOption {
	return func(r *Resolver) { r.mode = m }
}

// WithRevocations enables token revocation checks.
func WithRevocations(list RevocationList) ResolverOption {
	return func(r *Resolver) { r.revocations = list }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds a resolver. identities may be nil only in stateless
// mode.
func NewResolver(secret []byte, issuer string, identities IdentityStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		secret:     secret,
		issuer:     issuer,
		mode:       ModeRevalidate,
		identities: identities,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve verifies raw and returns the acting principal. Any failure,
// including infrastructure failure, yields a denial error.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrMalformedCredential
	}
	claims, err := parseToken(raw, r.secret, r.issuer, r.now)
	if err != nil {
		return Principal{}, err
	}

	if r.revocations != nil && claims.ID != "" {
		revoked, err := r.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Principal{}, ErrStoreUnavailable
		}
		if revoked {
			return Principal{}, ErrRevoked
		}
	}

	p := Principal{
		ID:        claims.Subject,
		Role:      Role(claims.Role),
		Scopes:    NewScopeSet(claims.Scopes),
		PatientID: claims.PatientID,
		TokenID:   claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}

	if r.mode == ModeRevalidate {
		identity, err := r.identities.FindIdentity(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				return Principal{}, ErrIdentityNotFound
			}
			return Principal{}, ErrStoreUnavailable
		}
		if !identity.Active() {
			return Principal{}, ErrInactive
		}
		// The store is authoritative for role and scopes so grants
		// changed after token issue apply immediately.
		p.Role = identity.Role
		p.Scopes = ScopesForRole(identity.Role, identity.Scopes)
		p.PatientID = identity.PatientID
	}

	if !p.Role.Valid() {
		return Principal{}, ErrMalformedCredential
	}
	return p, nil
}
