package types

import "github.com/google/uuid"

// Scope identifies the tenant namespace a document or chunk belongs to:
// either a concrete organization or the shared system-default namespace that
// every organization can read. Keeping this a closed type (instead of a
// sentinel organization id) means the "org OR system" union in search is the
// only place the two cases meet.
type Scope struct {
	orgID  uuid.UUID
	system bool
}

func OrgScope(orgID uuid.UUID) Scope {
	return Scope{orgID: orgID}
}

func SystemScope() Scope {
	return Scope{system: true}
}

func (s Scope) IsSystem() bool { return s.system }

// OrganizationID returns the nullable column value for this scope.
// The system namespace is stored as NULL.
func (s Scope) OrganizationID() *uuid.UUID {
	if s.system {
		return nil
	}
	id := s.orgID
	return &id
}

// ScopeOf reconstructs a Scope from a stored organization_id column.
func ScopeOf(orgID *uuid.UUID) Scope {
	if orgID == nil {
		return SystemScope()
	}
	return OrgScope(*orgID)
}

func (s Scope) String() string {
	if s.system {
		return "system"
	}
	return s.orgID.String()
}

// Contains reports whether a row with the given organization_id is visible
// to this scope's owner: its own rows plus the system namespace.
func (s Scope) Contains(orgID *uuid.UUID) bool {
	if orgID == nil {
		return true
	}
	if s.system {
		return false
	}
	return *orgID == s.orgID
}
