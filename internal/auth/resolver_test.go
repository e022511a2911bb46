package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeIdentities struct {
	identities map[string]Identity
	err        error
}

func (f *fakeIdentities) FindIdentity(_ context.Context, id string) (Identity, error) {
	if f.err != nil {
		return Identity{}, f.err
	}
	ident, ok := f.identities[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return ident, nil
}

const testSecret = "test-secret-0123456789"

func issueFor(t *testing.T, ident Identity, ttl time.Duration) string {
	t.Helper()
	issuer := NewTokenIssuer([]byte(testSecret), "emr-test", ttl)
	token, _, err := issuer.Issue(ident)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestResolveStateless(t *testing.T) {
	ident := Identity{ID: "u1", Role: RoleClinician}
	token := issueFor(t, ident, time.Hour)

	r := NewResolver([]byte(testSecret), "emr-test", nil, WithMode(ModeStateless))
	p, err := r.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.ID != "u1" || p.Role != RoleClinician {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.HasScope(ScopeRecordsWrite) {
		t.Fatalf("expected clinician write scope, got %v", p.Scopes.List())
	}
	if p.TokenID == "" {
		t.Fatal("expected token ID on principal")
	}
}

func TestResolveEmptyToken(t *testing.T) {
	r := NewResolver([]byte(testSecret), "emr-test", nil, WithMode(ModeStateless))
	if _, err := r.Resolve(context.Background(), ""); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("want ErrMalformedCredential, got %v", err)
	}
}

func TestResolveGarbageToken(t *testing.T) {
	r := NewResolver([]byte(testSecret), "emr-test", nil, WithMode(ModeStateless))
	if _, err := r.Resolve(context.Background(), "not.a.token"); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("want ErrMalformedCredential, got %v", err)
	}
}

func TestResolveTamperedSignature(t *testing.T) {
	other := NewTokenIssuer([]byte("a-different-secret-key"), "emr-test", time.Hour)
	token, _, err := other.Issue(Identity{ID: "u1", Role: RoleClinician})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := NewResolver([]byte(testSecret), "emr-test", nil, WithMode(ModeStateless))
	if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}

func TestResolveExpired(t *testing.T) {
	token := issueFor(t, Identity{ID: "u1", Role: RoleClinician}, -time.Minute)

	r := NewResolver([]byte(testSecret), "emr-test", nil, WithMode(ModeStateless))
	if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestResolveWrongIssuer(t *testing.T) {
	other := NewTokenIssuer([]byte(testSecret), "someone-else", time.Hour)
	token, _, err := other.Issue(Identity{ID: "u1", Role: RoleClinician})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := NewResolver([]byte(testSecret), "emr-test", nil, WithMode(ModeStateless))
	if _, err := r.Resolve(context.Background(), token); err == nil {
		t.Fatal("expected denial for wrong issuer")
	}
}

func TestResolveRevalidate(t *testing.T) {
	ident := Identity{ID: "u1", Role: RoleNurse}
	token := issueFor(t, ident, time.Hour)

	t.Run("active identity", func(t *testing.T) {
		store := &fakeIdentities{identities: map[string]Identity{"u1": ident}}
		r := NewResolver([]byte(testSecret), "emr-test", store)
		p, err := r.Resolve(context.Background(), token)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p.Role != RoleNurse {
			t.Fatalf("want nurse, got %s", p.Role)
		}
	})

	t.Run("scopes refreshed from store", func(t *testing.T) {
		changed := ident
		changed.Scopes = []string{ScopeAuditRead}
		store := &fakeIdentities{identities: map[string]Identity{"u1": changed}}
		r := NewResolver([]byte(testSecret), "emr-test", store)
		p, err := r.Resolve(context.Background(), token)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if !p.HasScope(ScopeAuditRead) {
			t.Fatal("expected store-granted scope to apply without reissue")
		}
	})

	t.Run("identity removed", func(t *testing.T) {
		store := &fakeIdentities{identities: map[string]Identity{}}
		r := NewResolver([]byte(testSecret), "emr-test", store)
		if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrIdentityNotFound) {
			t.Fatalf("want ErrIdentityNotFound, got %v", err)
		}
	})

	t.Run("identity deactivated", func(t *testing.T) {
		deactivated := ident
		now := time.Now()
		deactivated.DeactivatedAt = &now
		store := &fakeIdentities{identities: map[string]Identity{"u1": deactivated}}
		r := NewResolver([]byte(testSecret), "emr-test", store)
		if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrInactive) {
			t.Fatalf("want ErrInactive, got %v", err)
		}
	})

	t.Run("store down fails closed", func(t *testing.T) {
		store := &fakeIdentities{err: errors.New("connection refused")}
		r := NewResolver([]byte(testSecret), "emr-test", store)
		if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("want ErrStoreUnavailable, got %v", err)
		}
	})
}

func TestResolveRevoked(t *testing.T) {
	token := issueFor(t, Identity{ID: "u1", Role: RoleClinician}, time.Hour)

	list := NewMemoryRevocationList()
	r := NewResolver([]byte(testSecret), "emr-test", nil,
		WithMode(ModeStateless), WithRevocations(list))

	p, err := r.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve before revocation: %v", err)
	}
	if err := list.Revoke(context.Background(), p.TokenID, time.Hour); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("want ErrRevoked, got %v", err)
	}
}

type failingRevocations struct{}

func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingRevocations) Revoke(context.Context, string, time.Duration) error {
	return errors.New("redis down")
}

func TestResolveRevocationCheckFailsClosed(t *testing.T) {
	token := issueFor(t, Identity{ID: "u1", Role: RoleClinician}, time.Hour)

	r := NewResolver([]byte(testSecret), "emr-test", nil,
		WithMode(ModeStateless), WithRevocations(failingRevocations{}))
	if _, err := r.Resolve(context.Background(), token); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}
