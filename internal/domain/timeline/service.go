package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/db"
	"github.com/vetpms/emr/internal/platform/rbac"
)

// EncounterSource resolves the owning patient and organization of an
// encounter reference. Wired in main to the encounter repository.
type EncounterSource interface {
	PatientOf(ctx context.Context, encounterID uuid.UUID) (patientID, orgID uuid.UUID, err error)
}

type Service struct {
	repo       Repository
	encounters EncounterSource
	now        func() time.Time
}

func NewService(repo Repository, encounters EncounterSource) *Service {
	return &Service{repo: repo, encounters: encounters, now: time.Now}
}

// NewEvent is an append request.
type NewEvent struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	Kind        string     `json:"kind"`
	Subkind     string     `json:"subkind,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Summary     string     `json:"summary"`
	Significant bool       `json:"significant"`
	ProblemID   *uuid.UUID `json:"problem_id,omitempty"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
}

// Append validates and appends a caller-supplied event after consulting
// the policy gate.
func (s *Service) Append(ctx context.Context, actor emr.Actor, in NewEvent) (*Event, error) {
	if err := rbac.Authorize(actor, rbac.ActionAppendEvent, rbac.Context{}); err != nil {
		return nil, err
	}
	return s.Record(ctx, actor, in)
}

// Record appends an event on behalf of another component's already
// authorized write (a state transition, a problem add, a finalize).
// Validation still applies; the policy gate was the caller's.
func (s *Service) Record(ctx context.Context, actor emr.Actor, in NewEvent) (*Event, error) {
	if in.PatientID == uuid.Nil {
		return nil, emr.NewValidationError("patient_id", "is required")
	}
	if in.Summary == "" {
		return nil, emr.NewValidationError("summary", "is required")
	}
	family, ok := kindFamilies[in.Kind]
	if !ok {
		return nil, emr.NewValidationError("kind", "unknown event kind: "+in.Kind)
	}
	if err := checkDetailRef(family, in); err != nil {
		return nil, err
	}

	if in.EncounterID != nil {
		patientID, orgID, err := s.encounters.PatientOf(ctx, *in.EncounterID)
		if err != nil {
			return nil, err
		}
		if patientID != in.PatientID {
			return nil, emr.NewValidationError("encounter_id", "encounter does not belong to patient")
		}
		if orgID != actor.OrgID {
			return nil, &emr.PermissionError{Action: "event.append", Role: actor.Role}
		}
	}

	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = s.now().UTC()
	}

	ev := &Event{
		OrgID:       actor.OrgID,
		PatientID:   in.PatientID,
		EncounterID: in.EncounterID,
		Kind:        in.Kind,
		Subkind:     in.Subkind,
		OccurredAt:  occurred,
		RecordedBy:  actor.ID,
		Summary:     in.Summary,
		Significant: in.Significant,
		ProblemID:   in.ProblemID,
		DocumentID:  in.DocumentID,
	}
	if err := s.repo.Insert(ctx, ev); err != nil {
		return nil, fmt.Errorf("append clinical event: %w", err)
	}
	return ev, nil
}

func checkDetailRef(family detailFamily, in NewEvent) error {
	switch family {
	case familyProblem:
		if in.ProblemID == nil {
			return emr.NewValidationError("problem_id", "is required for kind "+in.Kind)
		}
		if in.DocumentID != nil {
			return emr.NewValidationError("document_id", "not allowed for kind "+in.Kind)
		}
	case familyDocument:
		if in.DocumentID == nil {
			return emr.NewValidationError("document_id", "is required for kind "+in.Kind)
		}
		if in.ProblemID != nil {
			return emr.NewValidationError("problem_id", "not allowed for kind "+in.Kind)
		}
	default:
		if in.ProblemID != nil || in.DocumentID != nil {
			return emr.NewValidationError("kind", "kind "+in.Kind+" carries no detail reference")
		}
	}
	return nil
}

// Correct supersedes an event with a new correction event. The original
// row keeps every clinical field untouched; only its correction fields
// are set, exactly once.
func (s *Service) Correct(ctx context.Context, actor emr.Actor, eventID uuid.UUID, reason string) (*Event, error) {
	if reason == "" {
		return nil, emr.NewValidationError("reason", "is required")
	}

	original, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionCorrectEvent, rbac.Context{OrgID: original.OrgID}); err != nil {
		return nil, err
	}
	if original.SupersededBy != nil {
		return nil, &emr.AlreadySupersededError{EventID: eventID.String()}
	}

	now := s.now().UTC()
	correction := &Event{
		ID:          uuid.New(),
		OrgID:       original.OrgID,
		PatientID:   original.PatientID,
		EncounterID: original.EncounterID,
		Kind:        KindCorrection,
		Subkind:     original.Kind,
		OccurredAt:  now,
		RecordedBy:  actor.ID,
		Summary:     "Correction: " + reason,
		Significant: original.Significant,
		ProblemID:   original.ProblemID,
		DocumentID:  original.DocumentID,
	}

	// Claim the original first so a concurrent correction loses cleanly
	// before anything new is appended. Both writes commit together: a
	// failed correction insert must not leave the original flagged.
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Supersede(ctx, original.ID, correction.ID, actor.ID, reason, now)
		if err != nil {
			return fmt.Errorf("supersede clinical event: %w", err)
		}
		if !ok {
			return &emr.AlreadySupersededError{EventID: eventID.String()}
		}
		if err := s.repo.Insert(ctx, correction); err != nil {
			return fmt.Errorf("append correction event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return correction, nil
}

// Timeline returns one page of a patient's events, newest occurrence
// first.
func (s *Service) Timeline(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error) {
	if patientID == uuid.Nil {
		return nil, 0, emr.NewValidationError("patient_id", "is required")
	}
	return s.repo.Timeline(ctx, patientID, f, limit, offset)
}

// EncounterEvents returns every event of one visit in occurrence order.
func (s *Service) EncounterEvents(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

// LiveEncounterEvents filters an encounter's events down to rows that
// were never corrected away. This is the view billing summaries read.
func (s *Service) LiveEncounterEvents(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	events, err := s.repo.ListByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	live := make([]*Event, 0, len(events))
	for _, ev := range events {
		if ev.Live() {
			live = append(live, ev)
		}
	}
	return live, nil
}
