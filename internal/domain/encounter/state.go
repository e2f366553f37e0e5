package encounter

import (
	"time"

	"github.com/vetpms/emr/internal/emr"
)

// Pipeline states, in forward order. An encounter only ever moves one
// step forward along this path, or into an escape state from an early
// state. It never moves backward.
const (
	StateScheduled       = "scheduled"
	StateCheckedIn       = "checked_in"
	StateRoomed          = "roomed"
	StateInExam          = "in_exam"
	StatePendingOrders   = "pending_orders"
	StateAwaitingResults = "awaiting_results"
	StateTreatment       = "treatment"
	StateCheckout        = "checkout"
	StateCompleted       = "completed"

	StateNoShow    = "no_show"
	StateCancelled = "cancelled"
)

var forwardPath = []string{
	StateScheduled,
	StateCheckedIn,
	StateRoomed,
	StateInExam,
	StatePendingOrders,
	StateAwaitingResults,
	StateTreatment,
	StateCheckout,
	StateCompleted,
}

// nextState maps each pipeline state to its single allowed successor.
var nextState = map[string]string{}

func init() {
	for i := 0; i < len(forwardPath)-1; i++ {
		nextState[forwardPath[i]] = forwardPath[i+1]
	}
}

// escapeStates may be entered only from scheduled or checked_in.
var escapeStates = map[string]bool{
	StateNoShow:    true,
	StateCancelled: true,
}

var escapeSources = map[string]bool{
	StateScheduled: true,
	StateCheckedIn: true,
}

var terminalStates = map[string]bool{
	StateCompleted: true,
	StateNoShow:    true,
	StateCancelled: true,
}

// ValidState reports whether s names a known pipeline state.
func ValidState(s string) bool {
	if escapeStates[s] {
		return true
	}
	for _, st := range forwardPath {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition checks a requested state change against the pipeline
// rules. A same-state request is valid (callers treat it as a no-op).
func CanTransition(from, to string) error {
	if !ValidState(to) {
		return &emr.ValidationError{Field: "state", Reason: "unknown state: " + to}
	}
	if from == to {
		return nil
	}
	if terminalStates[from] {
		return &emr.InvalidTransitionError{From: from, To: to}
	}
	if escapeStates[to] {
		if !escapeSources[from] {
			return &emr.InvalidTransitionError{From: from, To: to}
		}
		return nil
	}
	if nextState[from] != to {
		return &emr.InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// stamp records the arrival timestamp for the target state, plus the
// exam end time when the encounter leaves in_exam.
func stamp(enc *Encounter, from, to string, now time.Time) {
	if from == StateInExam && to != StateInExam && enc.ExamEndedAt == nil {
		enc.ExamEndedAt = &now
	}
	switch to {
	case StateScheduled:
		enc.ScheduledAt = &now
	case StateCheckedIn:
		enc.CheckedInAt = &now
	case StateRoomed:
		enc.RoomedAt = &now
	case StateInExam:
		enc.ExamStartedAt = &now
	case StatePendingOrders:
		enc.OrdersPendingAt = &now
	case StateAwaitingResults:
		enc.ResultsAwaitedAt = &now
	case StateTreatment:
		enc.TreatmentStartedAt = &now
	case StateCheckout:
		enc.CheckoutAt = &now
	case StateCompleted:
		enc.CompletedAt = &now
	case StateNoShow:
		enc.NoShowAt = &now
	case StateCancelled:
		enc.CancelledAt = &now
	}
}

// significantTarget marks the state arrivals that surface on headline
// timeline views.
var significantTarget = map[string]bool{
	StateInExam:    true,
	StateCompleted: true,
	StateCancelled: true,
}
