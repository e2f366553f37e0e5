package problems

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeDiagnosis  = "diagnosis"
	TypeAllergy    = "allergy"
	TypeChronic    = "chronic"
	TypeBehavioral = "behavioral"
	TypeOther      = "other"
)

// TypeLabels maps a problem type to its display form, used when
// composing event summaries.
var TypeLabels = map[string]string{
	TypeDiagnosis:  "Diagnosis",
	TypeAllergy:    "Allergy",
	TypeChronic:    "Chronic Condition",
	TypeBehavioral: "Behavioral",
	TypeOther:      "Other",
}

const (
	SeverityLow      = "low"
	SeverityModerate = "moderate"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var validSeverities = map[string]bool{
	SeverityLow: true, SeverityModerate: true, SeverityHigh: true, SeverityCritical: true,
}

const (
	StatusActive     = "active"
	StatusControlled = "controlled"
	StatusResolved   = "resolved"
	StatusInactive   = "inactive"
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusControlled: true, StatusResolved: true, StatusInactive: true,
}

const (
	AlertInfo    = "info"
	AlertWarning = "warning"
	AlertDanger  = "danger"
)

var validAlertSeverities = map[string]bool{
	AlertInfo: true, AlertWarning: true, AlertDanger: true,
}

// Problem is a patient-level entry that persists across encounters:
// allergies, chronic conditions, behavioral alerts. Never deleted;
// resolution is a status change.
type Problem struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrgID     uuid.UUID `db:"org_id" json:"org_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`

	Type        string `db:"problem_type" json:"problem_type"`
	Severity    string `db:"severity" json:"severity"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`

	OnsetDate    *time.Time `db:"onset_date" json:"onset_date,omitempty"`
	ResolvedDate *time.Time `db:"resolved_date" json:"resolved_date,omitempty"`

	Status string `db:"status" json:"status"`

	IsAlert       bool   `db:"is_alert" json:"is_alert"`
	AlertSeverity string `db:"alert_severity" json:"alert_severity,omitempty"`
	AlertText     string `db:"alert_text" json:"alert_text,omitempty"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Resolved reports whether the problem has been closed out.
func (p *Problem) Resolved() bool {
	return p.Status == StatusResolved
}
