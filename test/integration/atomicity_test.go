package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/domain/encounter"
	"github.com/vetpms/emr/internal/domain/notes"
	"github.com/vetpms/emr/internal/domain/timeline"
	"github.com/vetpms/emr/internal/emr"
)

var errLedgerDown = errors.New("ledger unavailable")

// brokenInsertRepo fails every correction append while leaving the rest
// of the repository intact.
type brokenInsertRepo struct {
	timeline.Repository
}

func (r *brokenInsertRepo) Insert(ctx context.Context, ev *timeline.Event) error {
	if ev.Kind == timeline.KindCorrection {
		return errLedgerDown
	}
	return r.Repository.Insert(ctx, ev)
}

// brokenRecorder fails every ledger write it is asked for.
type brokenRecorder struct{}

func (brokenRecorder) RecordCreated(ctx context.Context, actor emr.Actor, enc *encounter.Encounter, at time.Time) error {
	return errLedgerDown
}

func (brokenRecorder) RecordStateChange(ctx context.Context, actor emr.Actor, enc *encounter.Encounter, from, to string, significant bool, at time.Time) error {
	return errLedgerDown
}

func (brokenRecorder) NoteCreated(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	return errLedgerDown
}

func (brokenRecorder) NoteFinalized(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	return errLedgerDown
}

func (brokenRecorder) AddendumAdded(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	return errLedgerDown
}

// quietRecorder accepts every ledger write without recording anything.
type quietRecorder struct{}

func (quietRecorder) NoteCreated(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	return nil
}

func (quietRecorder) NoteFinalized(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	return nil
}

func (quietRecorder) AddendumAdded(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	return nil
}

// staticEncounterSource answers PatientOf from a fixed encounter row.
type staticEncounterSource struct {
	enc *encounter.Encounter
}

func (s staticEncounterSource) PatientOf(ctx context.Context, encounterID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	return s.enc.PatientID, s.enc.OrgID, nil
}

// TestWriteAtomicity covers the multi-statement service writes: when the
// second statement fails the first must roll back, and the operation must
// succeed on retry.
func TestWriteAtomicity(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("atom")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	orgID := uuid.New()
	patientID := uuid.New()
	vet := emr.Actor{ID: uuid.New(), OrgID: orgID, Role: emr.RoleVeterinarian, Level: emr.RoleLevels[emr.RoleVeterinarian]}

	t.Run("Correct_Rolls_Back_Supersede", func(t *testing.T) {
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := timeline.NewRepo(globalDB.Pool)
			original := insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: patientID,
				Kind: timeline.KindVitals, OccurredAt: time.Now(),
				RecordedBy: vet.ID, Summary: "Weight 315 kg",
			})

			broken := timeline.NewService(&brokenInsertRepo{Repository: repo}, nil)
			if _, err := broken.Correct(ctx, vet, original.ID, "decimal slip"); !errors.Is(err, errLedgerDown) {
				t.Fatalf("Correct error = %v, want ledger failure", err)
			}

			// the failed append must not leave the original flagged
			got, err := repo.GetByID(ctx, original.ID)
			if err != nil {
				return err
			}
			if !got.Live() {
				t.Fatal("original no longer live after failed correction")
			}
			if got.SupersededBy != nil {
				t.Fatalf("superseded_by = %v after rollback, want nil", *got.SupersededBy)
			}

			// retry against a healthy ledger succeeds
			svc := timeline.NewService(repo, nil)
			correction, err := svc.Correct(ctx, vet, original.ID, "decimal slip")
			if err != nil {
				t.Fatalf("retry Correct: %v", err)
			}
			got, err = repo.GetByID(ctx, original.ID)
			if err != nil {
				return err
			}
			if got.SupersededBy == nil || *got.SupersededBy != correction.ID {
				t.Error("retry did not supersede the original")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("correct rollback: %v", err)
		}
	})

	t.Run("Transition_Rolls_Back_State", func(t *testing.T) {
		enc := seedEncounter(t, ctx, tenantID, orgID, patientID)
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := encounter.NewRepo(globalDB.Pool)

			broken := encounter.NewService(repo, brokenRecorder{}, nil)
			if _, err := broken.Transition(ctx, vet, enc.ID, encounter.StateCheckedIn); !errors.Is(err, errLedgerDown) {
				t.Fatalf("Transition error = %v, want ledger failure", err)
			}

			got, err := repo.GetByID(ctx, enc.ID)
			if err != nil {
				return err
			}
			if got.State != encounter.StateScheduled {
				t.Fatalf("state = %s after rollback, want scheduled", got.State)
			}
			if got.Version != enc.Version {
				t.Fatalf("version bumped to %d by a rolled-back write", got.Version)
			}

			svc := encounter.NewService(repo, nil, nil)
			after, err := svc.Transition(ctx, vet, enc.ID, encounter.StateCheckedIn)
			if err != nil {
				t.Fatalf("retry Transition: %v", err)
			}
			if after.State != encounter.StateCheckedIn {
				t.Errorf("retry state = %s, want checked_in", after.State)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("transition rollback: %v", err)
		}
	})

	t.Run("Finalize_Rolls_Back_SignOff", func(t *testing.T) {
		enc := seedEncounter(t, ctx, tenantID, orgID, patientID)
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := notes.NewRepo(globalDB.Pool)
			source := staticEncounterSource{enc: enc}

			draft, err := notes.NewService(repo, source, quietRecorder{}).CreateDraft(ctx, vet, enc.ID, notes.Sections{
				Subjective: "lethargic since Tuesday",
			})
			if err != nil {
				t.Fatalf("create draft: %v", err)
			}

			broken := notes.NewService(repo, source, brokenRecorder{})
			if _, err := broken.Finalize(ctx, vet, draft.ID); !errors.Is(err, errLedgerDown) {
				t.Fatalf("Finalize error = %v, want ledger failure", err)
			}

			got, err := repo.GetByID(ctx, draft.ID)
			if err != nil {
				return err
			}
			if got.IsFinalized {
				t.Fatal("document finalized despite rolled-back ledger write")
			}

			svc := notes.NewService(repo, source, quietRecorder{})
			after, err := svc.Finalize(ctx, vet, draft.ID)
			if err != nil {
				t.Fatalf("retry Finalize: %v", err)
			}
			if !after.IsFinalized {
				t.Error("retry did not finalize the document")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("finalize rollback: %v", err)
		}
	})
}
