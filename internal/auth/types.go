// Package auth implements identity resolution and authorization for
// protected-health-information access: bearer token verification, role and
// scope checks, and patient-relationship checks. Every code path in this
// package fails closed: when a decision cannot be made with certainty the
// request is denied.
package auth

import (
	"sort"
	"time"
)

// Role classifies a principal. Unknown roles never authorize anything.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleClinician Role = "clinician"
	RoleNurse     Role = "nurse"
	RolePatient   Role = "patient"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClinician, RoleNurse, RolePatient, RoleSystem:
		return true
	}
	return false
}

// Scope names. Scopes gate operations, roles gate patient reach.
const (
	ScopeRecordsRead    = "records:read"
	ScopeRecordsWrite   = "records:write"
	ScopeRecordsDelete  = "records:delete"
	ScopeDocumentsRead  = "documents:read"
	ScopeDocumentsWrite = "documents:write"
	ScopeAuditRead      = "audit:read"
	ScopeUsersManage    = "users:manage"
)

// ScopeSet is the set of operation scopes granted to a principal.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from a slice, dropping empty entries.
func NewScopeSet(scopes []string) ScopeSet {
	s := make(ScopeSet, len(scopes))
	for _, sc := range scopes {
		if sc == "" {
			continue
		}
		s[sc] = struct{}{}
	}
	return s
}

// Has reports whether the set contains scope.
func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// List returns the scopes in sorted order, for token claims and responses.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// defaultScopes are granted by role membership alone, before any explicit
// per-user grants are merged in.
var defaultScopes = map[Role][]string{
	RoleAdmin: {
		ScopeRecordsRead, ScopeRecordsWrite, ScopeRecordsDelete,
		ScopeDocumentsRead, ScopeDocumentsWrite,
		ScopeAuditRead, ScopeUsersManage,
	},
	RoleClinician: {
		ScopeRecordsRead, ScopeRecordsWrite, ScopeRecordsDelete,
		ScopeDocumentsRead, ScopeDocumentsWrite,
	},
	RoleNurse: {
		ScopeRecordsRead, ScopeDocumentsRead,
	},
	RolePatient: {
		ScopeRecordsRead, ScopeDocumentsRead,
	},
	RoleSystem: {
		ScopeAuditRead,
	},
}

// ScopesForRole merges the role's default scopes with explicit extra grants.
func ScopesForRole(role Role, extra []string) ScopeSet {
	s := NewScopeSet(defaultScopes[role])
	for _, sc := range extra {
		if sc != "" {
			s[sc] = struct{}{}
		}
	}
	return s
}

// Principal is a fully resolved, active identity. Resolvers never return a
// Principal for an inactive or unknown identity.
type Principal struct {
	ID        string
	Role      Role
	Scopes    ScopeSet
	PatientID string // set for patient-role principals: their own chart
	TokenID   string
	ExpiresAt time.Time
}

// HasScope reports whether the principal carries scope.
func (p Principal) HasScope(scope string) bool {
	return p.Scopes.Has(scope)
}

// Identity is a user row as the identity store sees it.
type Identity struct {
	ID            string
	Email         string
	Role          Role
	Scopes        []string
	PatientID     string
	PasswordHash  string
	DeactivatedAt *time.Time
}

// Active reports whether the identity may be issued or honored.
func (i Identity) Active() bool {
	return i.DeactivatedAt == nil
}
