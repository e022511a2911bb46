package auth

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool
	Reason  DenialReason
	// MissingScope names the first scope the principal lacked, for the
	// audit trail only. Never returned to callers.
	MissingScope string
}

// Allow is the affirmative decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a denial with the given reason.
func Deny(reason DenialReason) Decision { return Decision{Reason: reason} }

// AuthorizeScopes checks that p carries every scope in required. An empty
// required list allows any authenticated principal.
func AuthorizeScopes(p Principal, required []string) Decision {
	for _, scope := range required {
		if !p.HasScope(scope) {
			d := Deny(ReasonInsufficientScope)
			d.MissingScope = scope
			return d
		}
	}
	return Allow()
}
