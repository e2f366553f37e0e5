package rbac

import (
	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/emr"
)

// Action names a mutation the gate can be asked about. Every write path
// in the domain services consults Authorize with one of these before
// touching storage.
type Action string

const (
	ActionCreateEncounter     Action = "encounter.create"
	ActionTransitionEncounter Action = "encounter.transition"
	ActionAttachInvoice       Action = "encounter.attach_invoice"
	ActionAppendEvent         Action = "event.append"
	ActionCorrectEvent        Action = "event.correct"
	ActionCreateDraft         Action = "document.create_draft"
	ActionUpdateDraft         Action = "document.update_draft"
	ActionFinalizeDocument    Action = "document.finalize"
	ActionAddAddendum         Action = "document.add_addendum"
	ActionAddProblem          Action = "problem.add"
	ActionUpdateProblemStatus Action = "problem.update_status"
)

// Context carries the resource-side facts a decision may depend on.
type Context struct {
	// OrgID is the organization owning the resource. The zero UUID means
	// the resource is being created and inherits the actor's org.
	OrgID uuid.UUID
	// TargetState is set for encounter transitions.
	TargetState string
}

// minLevels is the baseline hierarchy level required per action.
var minLevels = map[Action]int{
	ActionCreateEncounter:     emr.RoleLevels[emr.RoleReceptionist],
	ActionTransitionEncounter: emr.RoleLevels[emr.RoleReceptionist],
	ActionAttachInvoice:       emr.RoleLevels[emr.RolePracticeManager],
	ActionAppendEvent:         emr.RoleLevels[emr.RoleAssistant],
	ActionCorrectEvent:        emr.RoleLevels[emr.RoleTechnician],
	ActionCreateDraft:         emr.RoleLevels[emr.RoleAssistant],
	ActionUpdateDraft:         emr.RoleLevels[emr.RoleAssistant],
	ActionFinalizeDocument:    emr.RoleLevels[emr.RoleVeterinarian],
	ActionAddAddendum:         emr.RoleLevels[emr.RoleAssistant],
	ActionAddProblem:          emr.RoleLevels[emr.RoleAssistant],
	ActionUpdateProblemStatus: emr.RoleLevels[emr.RoleTechnician],
}

// licensedStates are pipeline states only a licensed clinician may move
// an encounter into.
var licensedStates = map[string]bool{
	"treatment": true,
}

// Authorize is the single policy gate. It is a pure function of its
// inputs and returns nil on allow or a typed *emr.PermissionError on
// deny, never a silent no-op.
func Authorize(actor emr.Actor, action Action, rctx Context) error {
	if rctx.OrgID != uuid.Nil && rctx.OrgID != actor.OrgID {
		return &emr.PermissionError{Action: string(action), Role: actor.Role}
	}

	min, ok := minLevels[action]
	if !ok {
		return &emr.PermissionError{Action: string(action), Role: actor.Role}
	}
	if action == ActionTransitionEncounter && licensedStates[rctx.TargetState] {
		min = emr.RoleLevels[emr.RoleVeterinarian]
	}

	if actor.Level < min {
		return &emr.PermissionError{Action: string(action), Role: actor.Role}
	}
	return nil
}
