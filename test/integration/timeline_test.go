package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/domain/timeline"
)

func insertEvent(t *testing.T, ctx context.Context, repo timeline.Repository, ev *timeline.Event) *timeline.Event {
	t.Helper()
	if err := repo.Insert(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return ev
}

func TestEventLedger(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("evt")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	orgID := uuid.New()
	patientID := uuid.New()
	recordedBy := uuid.New()
	enc := seedEncounter(t, ctx, tenantID, orgID, patientID)

	t.Run("Seq_Monotonic", func(t *testing.T) {
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := timeline.NewRepo(globalDB.Pool)
			at := time.Now().Add(-time.Hour)

			var prev int64
			for i := 0; i < 3; i++ {
				ev := insertEvent(t, ctx, repo, &timeline.Event{
					ID:         uuid.New(),
					OrgID:      orgID,
					PatientID:  patientID,
					Kind:       timeline.KindVitals,
					OccurredAt: at,
					RecordedBy: recordedBy,
					Summary:    "Weight 31.5 kg",
				})
				if ev.Seq <= prev {
					t.Errorf("seq %d not greater than previous %d", ev.Seq, prev)
				}
				if ev.RecordedAt.IsZero() {
					t.Error("recorded_at not filled by storage")
				}
				prev = ev.Seq
			}
			return nil
		})
		if err != nil {
			t.Fatalf("seq: %v", err)
		}
	})

	t.Run("Timeline_Order_And_TieBreak", func(t *testing.T) {
		loneP := uuid.New()
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := timeline.NewRepo(globalDB.Pool)
			shared := time.Now().Add(-30 * time.Minute).Truncate(time.Microsecond)

			first := insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: loneP,
				Kind: timeline.KindNote, OccurredAt: shared,
				RecordedBy: recordedBy, Summary: "first at shared instant",
			})
			second := insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: loneP,
				Kind: timeline.KindNote, OccurredAt: shared,
				RecordedBy: recordedBy, Summary: "second at shared instant",
			})
			insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: loneP,
				Kind: timeline.KindNote, OccurredAt: shared.Add(-time.Hour),
				RecordedBy: recordedBy, Summary: "older",
			})

			events, total, err := repo.Timeline(ctx, loneP, timeline.Filters{}, 10, 0)
			if err != nil {
				return err
			}
			if total != 3 {
				t.Errorf("total = %d, want 3", total)
			}
			// newest first; equal occurred_at breaks on seq descending
			if events[0].ID != second.ID || events[1].ID != first.ID {
				t.Errorf("tie-break order wrong: got %s then %s", events[0].Summary, events[1].Summary)
			}
			if events[2].Summary != "older" {
				t.Errorf("oldest event not last, got %q", events[2].Summary)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("order: %v", err)
		}
	})

	t.Run("Timeline_Filters", func(t *testing.T) {
		loneP := uuid.New()
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := timeline.NewRepo(globalDB.Pool)
			insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: loneP,
				EncounterID: &enc.ID, Kind: timeline.KindVitals,
				OccurredAt: time.Now(), RecordedBy: recordedBy, Summary: "Temp 39.1C",
			})
			insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: loneP,
				Kind: timeline.KindNote, OccurredAt: time.Now(),
				RecordedBy: recordedBy, Summary: "owner called", Significant: true,
			})

			byKind, total, err := repo.Timeline(ctx, loneP, timeline.Filters{Kind: timeline.KindVitals}, 10, 0)
			if err != nil {
				return err
			}
			if total != 1 || byKind[0].Kind != timeline.KindVitals {
				t.Errorf("kind filter: total=%d", total)
			}

			byEnc, total, err := repo.Timeline(ctx, loneP, timeline.Filters{EncounterID: &enc.ID}, 10, 0)
			if err != nil {
				return err
			}
			if total != 1 || byEnc[0].EncounterID == nil {
				t.Errorf("encounter filter: total=%d", total)
			}

			sig, total, err := repo.Timeline(ctx, loneP, timeline.Filters{SignificantOnly: true}, 10, 0)
			if err != nil {
				return err
			}
			if total != 1 || !sig[0].Significant {
				t.Errorf("significant filter: total=%d", total)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("filters: %v", err)
		}
	})

	t.Run("Supersede_Once", func(t *testing.T) {
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			repo := timeline.NewRepo(globalDB.Pool)
			original := insertEvent(t, ctx, repo, &timeline.Event{
				ID: uuid.New(), OrgID: orgID, PatientID: patientID,
				Kind: timeline.KindVitals, OccurredAt: time.Now(),
				RecordedBy: recordedBy, Summary: "Weight 315 kg",
			})

			correctionID := uuid.New()
			ok, err := repo.Supersede(ctx, original.ID, correctionID, recordedBy, "decimal slip", time.Now())
			if err != nil {
				return err
			}
			if !ok {
				t.Fatal("first supersede should win")
			}

			// second writer loses
			ok, err = repo.Supersede(ctx, original.ID, uuid.New(), recordedBy, "duplicate", time.Now())
			if err != nil {
				return err
			}
			if ok {
				t.Error("second supersede should report false")
			}

			got, err := repo.GetByID(ctx, original.ID)
			if err != nil {
				return err
			}
			if got.Live() {
				t.Error("superseded event still reported live")
			}
			if got.SupersededBy == nil || *got.SupersededBy != correctionID {
				t.Error("superseded_by does not point at the winning correction")
			}
			if got.CorrectionReason == nil || *got.CorrectionReason != "decimal slip" {
				t.Error("correction_reason not persisted")
			}
			if got.Summary != "Weight 315 kg" {
				t.Error("clinical content changed by supersede")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("supersede: %v", err)
		}
	})
}
