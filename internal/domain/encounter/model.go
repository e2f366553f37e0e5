package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Classification tags for a visit.
const (
	ClassRoutine   = "routine"
	ClassUrgent    = "urgent"
	ClassEmergency = "emergency"
	ClassFollowUp  = "follow_up"
	ClassRemote    = "remote"
)

// ClassLabels are the human-readable classification names used in ledger
// summaries.
var ClassLabels = map[string]string{
	ClassRoutine:   "Routine/Wellness",
	ClassUrgent:    "Urgent Care",
	ClassEmergency: "Emergency",
	ClassFollowUp:  "Follow-up",
	ClassRemote:    "Telehealth",
}

var validClassifications = map[string]bool{
	ClassRoutine:   true,
	ClassUrgent:    true,
	ClassEmergency: true,
	ClassFollowUp:  true,
	ClassRemote:    true,
}

// OriginWalkIn marks an encounter created without an appointment.
const OriginWalkIn = "walk_in"

// Encounter maps to the encounter table. It is the aggregate root of a
// visit: all clinical writes for the visit hang off it, and it is never
// deleted once created.
type Encounter struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	OrgID            uuid.UUID  `db:"org_id" json:"org_id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	AppointmentID    *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	State            string     `db:"state" json:"state"`
	Classification   string     `db:"classification" json:"classification"`
	ChiefComplaint   *string    `db:"chief_complaint" json:"chief_complaint,omitempty"`
	PrimaryActorID   uuid.UUID  `db:"primary_actor_id" json:"primary_actor_id"`
	SecondaryActorID *uuid.UUID `db:"secondary_actor_id" json:"secondary_actor_id,omitempty"`
	InvoiceID        *uuid.UUID `db:"invoice_id" json:"invoice_id,omitempty"`
	Version          int        `db:"version" json:"version"`

	ScheduledAt        *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CheckedInAt        *time.Time `db:"checked_in_at" json:"checked_in_at,omitempty"`
	RoomedAt           *time.Time `db:"roomed_at" json:"roomed_at,omitempty"`
	ExamStartedAt      *time.Time `db:"exam_started_at" json:"exam_started_at,omitempty"`
	ExamEndedAt        *time.Time `db:"exam_ended_at" json:"exam_ended_at,omitempty"`
	OrdersPendingAt    *time.Time `db:"orders_pending_at" json:"orders_pending_at,omitempty"`
	ResultsAwaitedAt   *time.Time `db:"results_awaited_at" json:"results_awaited_at,omitempty"`
	TreatmentStartedAt *time.Time `db:"treatment_started_at" json:"treatment_started_at,omitempty"`
	CheckoutAt         *time.Time `db:"checkout_at" json:"checkout_at,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	NoShowAt           *time.Time `db:"no_show_at" json:"no_show_at,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the encounter is still moving through the
// pipeline (shown on the whiteboard).
func (e *Encounter) Active() bool {
	return !terminalStates[e.State]
}

// PerformedAction is one line of the billing-facing summary of a
// completed encounter: a live (non-superseded) clinical event.
type PerformedAction struct {
	EventID    uuid.UUID `json:"event_id"`
	Kind       string    `json:"kind"`
	Subkind    string    `json:"subkind,omitempty"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedBy uuid.UUID `json:"recorded_by"`
}

// Summary is the read-only view Billing and Reporting may query once an
// encounter is completed.
type Summary struct {
	Encounter *Encounter        `json:"encounter"`
	Actions   []PerformedAction `json:"actions"`
}
