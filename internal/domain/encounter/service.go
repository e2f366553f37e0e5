package encounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/db"
	"github.com/vetpms/emr/internal/platform/rbac"
)

// EventRecorder appends encounter rows to the clinical event ledger.
// Wired in main to the timeline service.
type EventRecorder interface {
	RecordCreated(ctx context.Context, actor emr.Actor, enc *Encounter, at time.Time) error
	RecordStateChange(ctx context.Context, actor emr.Actor, enc *Encounter, from, to string, significant bool, at time.Time) error
}

// EventSource reads the live clinical events of an encounter for the
// billing summary. Wired in main to the timeline service.
type EventSource interface {
	PerformedActions(ctx context.Context, encounterID uuid.UUID) ([]PerformedAction, error)
}

type Service struct {
	repo    Repository
	events  EventRecorder
	actions EventSource
	now     func() time.Time
}

func NewService(repo Repository, events EventRecorder, actions EventSource) *Service {
	return &Service{repo: repo, events: events, actions: actions, now: time.Now}
}

type CreateInput struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	Classification string     `json:"classification"`
	ChiefComplaint *string    `json:"chief_complaint,omitempty"`
	PrimaryActorID uuid.UUID  `json:"primary_actor_id"`
}

type CheckInInput struct {
	AppointmentID     uuid.UUID  `json:"appointment_id"`
	AppointmentStatus string     `json:"appointment_status"`
	PatientID         uuid.UUID  `json:"patient_id"`
	Classification    string     `json:"classification"`
	ChiefComplaint    *string    `json:"chief_complaint,omitempty"`
	PrimaryActorID    uuid.UUID  `json:"primary_actor_id"`
	SecondaryActorID  *uuid.UUID `json:"secondary_actor_id,omitempty"`
}

// Create opens a new encounter in scheduled state. Walk-ins have no
// appointment reference.
func (s *Service) Create(ctx context.Context, actor emr.Actor, in CreateInput) (*Encounter, error) {
	if in.PatientID == uuid.Nil {
		return nil, emr.NewValidationError("patient_id", "is required")
	}
	if in.PrimaryActorID == uuid.Nil {
		return nil, emr.NewValidationError("primary_actor_id", "is required")
	}
	if in.Classification == "" {
		in.Classification = ClassRoutine
	}
	if !validClassifications[in.Classification] {
		return nil, emr.NewValidationError("classification", "unknown classification: "+in.Classification)
	}
	if err := rbac.Authorize(actor, rbac.ActionCreateEncounter, rbac.Context{}); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	enc := &Encounter{
		OrgID:          actor.OrgID,
		PatientID:      in.PatientID,
		AppointmentID:  in.AppointmentID,
		State:          StateScheduled,
		Classification: in.Classification,
		ChiefComplaint: in.ChiefComplaint,
		PrimaryActorID: in.PrimaryActorID,
		ScheduledAt:    &now,
	}
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, enc); err != nil {
			return fmt.Errorf("create encounter: %w", err)
		}
		if s.events != nil {
			if err := s.events.RecordCreated(ctx, actor, enc, now); err != nil {
				return fmt.Errorf("record creation event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// CheckIn creates an encounter in checked_in from an appointment, or
// returns the encounter that already exists for it. Idempotent.
func (s *Service) CheckIn(ctx context.Context, actor emr.Actor, in CheckInInput) (*Encounter, error) {
	if in.AppointmentID == uuid.Nil {
		return nil, emr.NewValidationError("appointment_id", "is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, emr.NewValidationError("patient_id", "is required")
	}
	if in.PrimaryActorID == uuid.Nil {
		return nil, emr.NewValidationError("primary_actor_id", "is required")
	}
	switch in.AppointmentStatus {
	case "cancelled", "completed":
		return nil, emr.NewValidationError("appointment_status", "cannot check in a "+in.AppointmentStatus+" appointment")
	}
	if in.Classification == "" {
		in.Classification = ClassRoutine
	}
	if !validClassifications[in.Classification] {
		return nil, emr.NewValidationError("classification", "unknown classification: "+in.Classification)
	}
	if err := rbac.Authorize(actor, rbac.ActionCreateEncounter, rbac.Context{}); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByAppointment(ctx, in.AppointmentID)
	if err == nil {
		return existing, nil
	}
	var nf *emr.NotFoundError
	if !errors.As(err, &nf) {
		return nil, fmt.Errorf("look up appointment encounter: %w", err)
	}

	now := s.now().UTC()
	enc := &Encounter{
		OrgID:            actor.OrgID,
		PatientID:        in.PatientID,
		AppointmentID:    &in.AppointmentID,
		State:            StateCheckedIn,
		Classification:   in.Classification,
		ChiefComplaint:   in.ChiefComplaint,
		PrimaryActorID:   in.PrimaryActorID,
		SecondaryActorID: in.SecondaryActorID,
		ScheduledAt:      &now,
		CheckedInAt:      &now,
	}
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, enc); err != nil {
			return fmt.Errorf("create encounter: %w", err)
		}
		if s.events != nil {
			if err := s.events.RecordCreated(ctx, actor, enc, now); err != nil {
				return fmt.Errorf("record creation event: %w", err)
			}
			if err := s.events.RecordStateChange(ctx, actor, enc, StateScheduled, StateCheckedIn, false, now); err != nil {
				return fmt.Errorf("record check-in event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// A concurrent check-in for the same appointment won the unique
		// index race; the loser returns the winner's encounter.
		if errors.Is(err, ErrDuplicateAppointment) {
			return s.repo.GetByAppointment(ctx, in.AppointmentID)
		}
		return nil, err
	}
	return enc, nil
}

// Transition moves the encounter one step along the pipeline, or into
// an escape state. A same-state request is a no-op success.
func (s *Service) Transition(ctx context.Context, actor emr.Actor, id uuid.UUID, target string) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// The policy gate runs before the same-state no-op: an actor who may
	// not transition this encounter learns nothing from its payload.
	if err := rbac.Authorize(actor, rbac.ActionTransitionEncounter, rbac.Context{
		OrgID:       enc.OrgID,
		TargetState: target,
	}); err != nil {
		return nil, err
	}
	if enc.State == target {
		return enc, nil
	}
	if err := CanTransition(enc.State, target); err != nil {
		return nil, err
	}

	from := enc.State
	now := s.now().UTC()
	expected := enc.Version
	enc.State = target
	stamp(enc, from, target, now)

	err = db.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.UpdateState(ctx, enc, expected)
		if err != nil {
			return fmt.Errorf("update encounter state: %w", err)
		}
		if !ok {
			return &emr.ConcurrentModificationError{Record: "encounter", ID: id.String()}
		}
		if s.events != nil {
			if err := s.events.RecordStateChange(ctx, actor, enc, from, target, significantTarget[target], now); err != nil {
				return fmt.Errorf("record state change event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) CurrentState(ctx context.Context, id uuid.UUID) (string, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return enc.State, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Whiteboard groups every in-flight encounter by its pipeline state.
func (s *Service) Whiteboard(ctx context.Context) (map[string][]*Encounter, error) {
	encs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	board := make(map[string][]*Encounter, len(forwardPath))
	for _, st := range forwardPath {
		if st == StateCompleted {
			continue
		}
		board[st] = []*Encounter{}
	}
	for _, e := range encs {
		board[e.State] = append(board[e.State], e)
	}
	return board, nil
}

// AttachInvoice records the externally-owned invoice id on a completed
// encounter. The reference is set exactly once.
func (s *Service) AttachInvoice(ctx context.Context, actor emr.Actor, id, invoiceID uuid.UUID) (*Encounter, error) {
	if invoiceID == uuid.Nil {
		return nil, emr.NewValidationError("invoice_id", "is required")
	}
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionAttachInvoice, rbac.Context{OrgID: enc.OrgID}); err != nil {
		return nil, err
	}
	if enc.State != StateCompleted {
		return nil, emr.NewValidationError("state", "invoice can only be attached to a completed encounter")
	}
	if enc.InvoiceID != nil {
		return nil, &emr.ImmutableRecordError{Record: "encounter invoice reference", ID: id.String()}
	}

	expected := enc.Version
	enc.InvoiceID = &invoiceID
	ok, err := s.repo.UpdateState(ctx, enc, expected)
	if err != nil {
		return nil, fmt.Errorf("attach invoice: %w", err)
	}
	if !ok {
		return nil, &emr.ConcurrentModificationError{Record: "encounter", ID: id.String()}
	}
	return enc, nil
}

// Summary is the read-only performed-actions view Billing may query
// once the encounter is completed.
func (s *Service) Summary(ctx context.Context, id uuid.UUID) (*Summary, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.State != StateCompleted {
		return nil, emr.NewValidationError("state", "summary is only available for completed encounters")
	}
	actions := []PerformedAction{}
	if s.actions != nil {
		actions, err = s.actions.PerformedActions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load performed actions: %w", err)
		}
	}
	return &Summary{Encounter: enc, Actions: actions}, nil
}
