package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/domain/encounter"
)

func TestEncounterLifecycle(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("enc")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	orgID := uuid.New()
	patientID := uuid.New()

	t.Run("Create_Encounter", func(t *testing.T) {
		var created *encounter.Encounter
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := encounter.NewRepo(globalDB.Pool)
			now := time.Now()
			enc := &encounter.Encounter{
				OrgID:          orgID,
				PatientID:      patientID,
				State:          encounter.StateScheduled,
				Classification: encounter.ClassUrgent,
				ChiefComplaint: ptrStr("vomiting since yesterday"),
				PrimaryActorID: uuid.New(),
				ScheduledAt:    &now,
			}
			if err := repo.Create(ctx, enc); err != nil {
				return err
			}
			created = enc
			return nil
		})
		if err != nil {
			t.Fatalf("Create encounter: %v", err)
		}
		if created.ID == uuid.Nil {
			t.Fatal("expected non-nil ID")
		}
		if created.Version != 1 {
			t.Errorf("version = %d, want 1", created.Version)
		}
	})

	t.Run("GetByID_and_UpdateState", func(t *testing.T) {
		enc := seedEncounter(t, ctx, tenantID, orgID, patientID)

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := encounter.NewRepo(globalDB.Pool)
			fetched, err := repo.GetByID(ctx, enc.ID)
			if err != nil {
				return err
			}
			if fetched.State != encounter.StateScheduled {
				t.Errorf("state = %s, want scheduled", fetched.State)
			}

			now := time.Now()
			fetched.State = encounter.StateCheckedIn
			fetched.CheckedInAt = &now
			ok, err := repo.UpdateState(ctx, fetched, fetched.Version)
			if err != nil {
				return err
			}
			if !ok {
				t.Fatal("expected UpdateState to succeed on matching version")
			}
			if fetched.Version != 2 {
				t.Errorf("version after update = %d, want 2", fetched.Version)
			}

			refetched, err := repo.GetByID(ctx, enc.ID)
			if err != nil {
				return err
			}
			if refetched.State != encounter.StateCheckedIn {
				t.Errorf("persisted state = %s, want checked_in", refetched.State)
			}
			if refetched.CheckedInAt == nil {
				t.Error("expected checked_in_at to be stamped")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update state: %v", err)
		}
	})

	t.Run("UpdateState_Stale_Version", func(t *testing.T) {
		enc := seedEncounter(t, ctx, tenantID, orgID, patientID)

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := encounter.NewRepo(globalDB.Pool)
			enc.State = encounter.StateCheckedIn
			ok, err := repo.UpdateState(ctx, enc, enc.Version+5)
			if err != nil {
				return err
			}
			if ok {
				t.Error("expected CAS to fail on stale version")
			}

			fetched, err := repo.GetByID(ctx, enc.ID)
			if err != nil {
				return err
			}
			if fetched.State != encounter.StateScheduled {
				t.Errorf("state after failed CAS = %s, want scheduled", fetched.State)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("stale version: %v", err)
		}
	})

	t.Run("Duplicate_Appointment_Rejected", func(t *testing.T) {
		appointmentID := uuid.New()
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := encounter.NewRepo(globalDB.Pool)
			now := time.Now()
			newEnc := func() *encounter.Encounter {
				return &encounter.Encounter{
					OrgID:          orgID,
					PatientID:      patientID,
					AppointmentID:  ptrUUID(appointmentID),
					State:          encounter.StateCheckedIn,
					Classification: encounter.ClassRoutine,
					PrimaryActorID: uuid.New(),
					ScheduledAt:    &now,
					CheckedInAt:    &now,
				}
			}
			if err := repo.Create(ctx, newEnc()); err != nil {
				return err
			}
			// second insert for the same appointment hits the unique index
			if err := repo.Create(ctx, newEnc()); !errors.Is(err, encounter.ErrDuplicateAppointment) {
				t.Errorf("second create error = %v, want ErrDuplicateAppointment", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("duplicate appointment: %v", err)
		}
	})

	t.Run("ListByPatient_and_ListActive", func(t *testing.T) {
		lonePatient := uuid.New()
		first := seedEncounter(t, ctx, tenantID, orgID, lonePatient)
		seedEncounter(t, ctx, tenantID, orgID, lonePatient)

		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := encounter.NewRepo(globalDB.Pool)
			list, total, err := repo.ListByPatient(ctx, lonePatient, 10, 0)
			if err != nil {
				return err
			}
			if total != 2 || len(list) != 2 {
				t.Errorf("ListByPatient total=%d len=%d, want 2/2", total, len(list))
			}

			// cancel one and confirm the whiteboard no longer shows it
			got, err := repo.GetByID(ctx, first.ID)
			if err != nil {
				return err
			}
			now := time.Now()
			got.State = encounter.StateCancelled
			got.CancelledAt = &now
			if _, err := repo.UpdateState(ctx, got, got.Version); err != nil {
				return err
			}

			active, err := repo.ListActive(ctx)
			if err != nil {
				return err
			}
			for _, e := range active {
				if e.ID == first.ID {
					t.Error("cancelled encounter still listed as active")
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
	})
}
