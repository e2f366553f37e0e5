package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/db"
	"github.com/vetpms/emr/internal/platform/rbac"
)

// EncounterSource resolves the owning patient and organization of the
// encounter a note is filed under. Wired in main to the encounter
// repository.
type EncounterSource interface {
	PatientOf(ctx context.Context, encounterID uuid.UUID) (patientID, orgID uuid.UUID, err error)
}

// EventRecorder appends document rows to the clinical event ledger.
type EventRecorder interface {
	NoteCreated(ctx context.Context, actor emr.Actor, d *Document, at time.Time) error
	NoteFinalized(ctx context.Context, actor emr.Actor, d *Document, at time.Time) error
	AddendumAdded(ctx context.Context, actor emr.Actor, d *Document, at time.Time) error
}

type Service struct {
	repo       Repository
	encounters EncounterSource
	events     EventRecorder
	now        func() time.Time
}

func NewService(repo Repository, encounters EncounterSource, events EventRecorder) *Service {
	return &Service{repo: repo, encounters: encounters, events: events, now: time.Now}
}

func (s *Service) CreateDraft(ctx context.Context, actor emr.Actor, encounterID uuid.UUID, sections Sections) (*Document, error) {
	if encounterID == uuid.Nil {
		return nil, emr.NewValidationError("encounter_id", "is required")
	}
	patientID, orgID, err := s.encounters.PatientOf(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionCreateDraft, rbac.Context{OrgID: orgID}); err != nil {
		return nil, err
	}

	d := &Document{
		OrgID:       orgID,
		PatientID:   patientID,
		EncounterID: encounterID,
		DocType:     DocTypeSOAP,
		Sections:    sections,
		AuthorID:    actor.ID,
	}
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, d); err != nil {
			return fmt.Errorf("create draft: %w", err)
		}
		if err := s.events.NoteCreated(ctx, actor, d, s.now().UTC()); err != nil {
			return fmt.Errorf("record note created: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) UpdateDraft(ctx context.Context, actor emr.Actor, documentID uuid.UUID, sections Sections) (*Document, error) {
	d, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionUpdateDraft, rbac.Context{OrgID: d.OrgID}); err != nil {
		return nil, err
	}
	if d.IsFinalized {
		return nil, &emr.ImmutableRecordError{Record: "document", ID: documentID.String()}
	}

	d.Sections = sections
	ok, err := s.repo.UpdateSections(ctx, d, d.Version)
	if err != nil {
		return nil, fmt.Errorf("update draft: %w", err)
	}
	if !ok {
		return nil, &emr.ConcurrentModificationError{Record: "document", ID: documentID.String()}
	}
	return d, nil
}

// Finalize signs the note off. Finalizing a document that is already
// finalized is a no-op success, so the operation is safe to retry.
func (s *Service) Finalize(ctx context.Context, actor emr.Actor, documentID uuid.UUID) (*Document, error) {
	d, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionFinalizeDocument, rbac.Context{OrgID: d.OrgID}); err != nil {
		return nil, err
	}
	if d.IsFinalized {
		return d, nil
	}

	now := s.now().UTC()
	d.IsFinalized = true
	d.FinalizedAt = &now
	d.FinalizedBy = &actor.ID

	err = db.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.Finalize(ctx, d, d.Version)
		if err != nil {
			return fmt.Errorf("finalize document: %w", err)
		}
		if !ok {
			return &emr.ConcurrentModificationError{Record: "document", ID: documentID.String()}
		}
		if err := s.events.NoteFinalized(ctx, actor, d, now); err != nil {
			return fmt.Errorf("record note finalized: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AddAddendum files a correction to a finalized note as a new document.
// The addendum is born finalized; the original is never touched.
func (s *Service) AddAddendum(ctx context.Context, actor emr.Actor, documentID uuid.UUID, sections Sections) (*Document, error) {
	original, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionAddAddendum, rbac.Context{OrgID: original.OrgID}); err != nil {
		return nil, err
	}
	if !original.IsFinalized {
		return nil, emr.NewValidationError("document_id", "addendum target is still a draft")
	}

	now := s.now().UTC()
	addendum := &Document{
		OrgID:       original.OrgID,
		PatientID:   original.PatientID,
		EncounterID: original.EncounterID,
		DocType:     DocTypeAddendum,
		Sections:    sections,
		AuthorID:    actor.ID,
		IsFinalized: true,
		FinalizedAt: &now,
		FinalizedBy: &actor.ID,
		AddendumOf:  &original.ID,
	}
	err = db.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, addendum); err != nil {
			return fmt.Errorf("create addendum: %w", err)
		}
		if err := s.events.AddendumAdded(ctx, actor, addendum, now); err != nil {
			return fmt.Errorf("record addendum: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return addendum, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Document, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

func (s *Service) ListAddenda(ctx context.Context, documentID uuid.UUID) ([]*Document, error) {
	return s.repo.ListAddenda(ctx, documentID)
}
