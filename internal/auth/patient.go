package auth

import "context"

// RelationshipStore answers whether a care relationship currently exists.
type RelationshipStore interface {
	HasActiveLink(ctx context.Context, principalID, patientID string) (bool, error)
}

// PatientDecision extends Decision with the break-glass marker set when an
// administrator reaches a patient chart without a care relationship.
type PatientDecision struct {
	Decision
	BreakGlass bool
}

// PatientAuthorizer decides whether a principal may touch a specific
// patient's data.
type PatientAuthorizer struct {
	links RelationshipStore
}

// NewPatientAuthorizer builds the authorizer over the relationship store.
func NewPatientAuthorizer(links RelationshipStore) *PatientAuthorizer {
	return &PatientAuthorizer{links: links}
}

// Authorize checks the principal against patientID. Admin access always
// succeeds but is flagged as break-glass so it can be audited and alerted.
// A store failure denies: absence of proof is absence of access.
func (a *PatientAuthorizer) Authorize(ctx context.Context, p Principal, patientID string) PatientDecision {
	if patientID == "" {
		return PatientDecision{Decision: Deny(ReasonNoPatientRelationship)}
	}
	switch p.Role {
	case RoleAdmin:
		return PatientDecision{Decision: Allow(), BreakGlass: true}
	case RoleClinician, RoleNurse:
		ok, err := a.links.HasActiveLink(ctx, p.ID, patientID)
		if err != nil {
			return PatientDecision{Decision: Deny(ReasonStoreUnavailable)}
		}
		if !ok {
			return PatientDecision{Decision: Deny(ReasonNoPatientRelationship)}
		}
		return PatientDecision{Decision: Allow()}
	case RolePatient:
		if p.PatientID != "" && p.PatientID == patientID {
			return PatientDecision{Decision: Allow()}
		}
		return PatientDecision{Decision: Deny(ReasonNoPatientRelationship)}
	default:
		return PatientDecision{Decision: Deny(ReasonNoPatientRelationship)}
	}
}
