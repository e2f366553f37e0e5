package emr

import "github.com/google/uuid"

// Role names in a veterinary practice, ordered by hierarchy level.
const (
	RoleReceptionist    = "receptionist"
	RoleAssistant       = "assistant"
	RoleTechnician      = "technician"
	RoleVeterinarian    = "veterinarian"
	RolePracticeManager = "practice_manager"
)

// RoleLevels maps each role to its ordinal in the practice hierarchy.
// A higher level implies every capability of the levels below it.
var RoleLevels = map[string]int{
	RoleReceptionist:    10,
	RoleAssistant:       20,
	RoleTechnician:      30,
	RoleVeterinarian:    40,
	RolePracticeManager: 50,
}

// Actor is the authenticated identity every write operation runs as.
// It is resolved once by the auth middleware and passed explicitly;
// services never reach into globals for it.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	OrgID uuid.UUID `json:"org_id"`
	Role  string    `json:"role"`
	Level int       `json:"hierarchy_level"`
}

// AtLeast reports whether the actor's hierarchy level meets the level of
// the named role. Unknown roles never pass.
func (a Actor) AtLeast(role string) bool {
	need, ok := RoleLevels[role]
	if !ok {
		return false
	}
	return a.Level >= need
}
