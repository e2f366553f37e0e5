package timeline

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds. The vocabulary is closed: appends with an unknown kind
// are rejected.
const (
	KindEncounterCreated     = "encounter_created"
	KindStateChange          = "state_change"
	KindProblemAdded         = "problem_added"
	KindProblemStatusChanged = "problem_status_changed"
	KindProblemResolved      = "problem_resolved"
	KindNoteCreated          = "note_created"
	KindNoteFinalized        = "note_finalized"
	KindNoteAddendum         = "note_addendum"
	KindNote                 = "note"
	KindVitals               = "vitals"
	KindLabOrder             = "lab_order"
	KindLabResult            = "lab_result"
	KindProcedure            = "procedure"
	KindMedication           = "medication"
	KindCorrection           = "correction"
)

// detailFamily names which detail reference an event kind carries.
type detailFamily int

const (
	familyNone detailFamily = iota
	familyProblem
	familyDocument
)

var kindFamilies = map[string]detailFamily{
	KindEncounterCreated:     familyNone,
	KindStateChange:          familyNone,
	KindProblemAdded:         familyProblem,
	KindProblemStatusChanged: familyProblem,
	KindProblemResolved:      familyProblem,
	KindNoteCreated:          familyDocument,
	KindNoteFinalized:        familyDocument,
	KindNoteAddendum:         familyDocument,
	KindNote:                 familyNone,
	KindVitals:               familyNone,
	KindLabOrder:             familyNone,
	KindLabResult:            familyNone,
	KindProcedure:            familyNone,
	KindMedication:           familyNone,
}

// Event is one immutable row of the append-only medical timeline.
// Everything above the correction fields never changes after insert;
// the correction fields are set at most once, by Correct.
type Event struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OrgID       uuid.UUID  `db:"org_id" json:"org_id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	EncounterID *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`

	// Seq is assigned by storage and is monotonically increasing, so a
	// timeline reader never sees an event appear behind a row it already
	// iterated past.
	Seq int64 `db:"seq" json:"seq"`

	Kind    string `db:"kind" json:"kind"`
	Subkind string `db:"subkind" json:"subkind,omitempty"`

	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	RecordedBy uuid.UUID `db:"recorded_by" json:"recorded_by"`

	Summary     string `db:"summary" json:"summary"`
	Significant bool   `db:"significant" json:"significant"`

	ProblemID  *uuid.UUID `db:"problem_id" json:"problem_id,omitempty"`
	DocumentID *uuid.UUID `db:"document_id" json:"document_id,omitempty"`

	EnteredInError   bool       `db:"entered_in_error" json:"entered_in_error"`
	SupersededBy     *uuid.UUID `db:"superseded_by" json:"superseded_by,omitempty"`
	CorrectedAt      *time.Time `db:"corrected_at" json:"corrected_at,omitempty"`
	CorrectedBy      *uuid.UUID `db:"corrected_by" json:"corrected_by,omitempty"`
	CorrectionReason *string    `db:"correction_reason" json:"correction_reason,omitempty"`
}

// Live reports whether the event is current data, as opposed to a row
// that was corrected away.
func (e *Event) Live() bool {
	return !e.EnteredInError && e.SupersededBy == nil
}

// Filters narrows a patient timeline query.
type Filters struct {
	EncounterID     *uuid.UUID
	Kind            string
	SignificantOnly bool
}
