package notes

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocTypeSOAP     = "soap"
	DocTypeAddendum = "addendum"
)

// Sections are the four SOAP blocks. Free text; empty blocks are fine,
// a pure diagnostic visit may only fill Objective.
type Sections struct {
	Subjective string `db:"subjective" json:"subjective"`
	Objective  string `db:"objective" json:"objective"`
	Assessment string `db:"assessment" json:"assessment"`
	Plan       string `db:"plan" json:"plan"`
}

// Document is a SOAP-style note bound to one encounter. Once finalized
// no field changes; later corrections arrive as addendum documents
// linked through AddendumOf.
type Document struct {
	ID          uuid.UUID `db:"id" json:"id"`
	OrgID       uuid.UUID `db:"org_id" json:"org_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`

	DocType string `db:"doc_type" json:"doc_type"`

	Sections

	AuthorID uuid.UUID `db:"author_id" json:"author_id"`

	IsFinalized bool       `db:"is_finalized" json:"is_finalized"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
	FinalizedBy *uuid.UUID `db:"finalized_by" json:"finalized_by,omitempty"`

	AddendumOf *uuid.UUID `db:"addendum_of" json:"addendum_of,omitempty"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
