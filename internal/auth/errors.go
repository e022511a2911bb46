package auth

import "errors"

// Denial causes. Handlers map identity failures to 401 and authorization
// failures to 403, never exposing which case occurred beyond that split.
var (
	ErrMalformedCredential   = errors.New("auth: malformed credential")
	ErrInvalidSignature      = errors.New("auth: invalid signature")
	ErrExpired               = errors.New("auth: credential expired")
	ErrRevoked               = errors.New("auth: credential revoked")
	ErrIdentityNotFound      = errors.New("auth: identity not found")
	ErrInactive              = errors.New("auth: identity inactive")
	ErrInsufficientScope     = errors.New("auth: insufficient scope")
	ErrNoPatientRelationship = errors.New("auth: no patient relationship")
	ErrStoreUnavailable      = errors.New("auth: store unavailable")
)

// DenialReason is the audit-facing label for a denied request.
type DenialReason string

const (
	ReasonMalformedCredential   DenialReason = "malformed_credential"
	ReasonInvalidSignature      DenialReason = "invalid_signature"
	ReasonExpired               DenialReason = "expired"
	ReasonRevoked               DenialReason = "revoked"
	ReasonIdentityNotFound      DenialReason = "identity_not_found"
	ReasonInactive              DenialReason = "inactive"
	ReasonInsufficientScope     DenialReason = "insufficient_scope"
	ReasonNoPatientRelationship DenialReason = "no_patient_relationship"
	ReasonStoreUnavailable      DenialReason = "store_unavailable"
)

// ReasonForError maps a denial error to its audit label.
func ReasonForError(err error) DenialReason {
	switch {
	case errors.Is(err, ErrMalformedCredential):
		return ReasonMalformedCredential
	case errors.Is(err, ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrRevoked):
		return ReasonRevoked
	case errors.Is(err, ErrIdentityNotFound):
		return ReasonIdentityNotFound
	case errors.Is(err, ErrInactive):
		return ReasonInactive
	case errors.Is(err, ErrInsufficientScope):
		return ReasonInsufficientScope
	case errors.Is(err, ErrNoPatientRelationship):
		return ReasonNoPatientRelationship
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStoreUnavailable
	default:
		return ReasonInvalidSignature
	}
}

// IsIdentityFailure reports whether err means the caller's identity could not
// be established. Identity failures answer 401, everything else 403.
func IsIdentityFailure(err error) bool {
	switch ReasonForError(err) {
	case ReasonMalformedCredential, ReasonInvalidSignature, ReasonExpired,
		ReasonRevoked, ReasonIdentityNotFound, ReasonInactive:
		return true
	}
	return false
}
