package timeline

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/emr"
)

var testOrg = uuid.MustParse("a4f6f8e2-0d4b-4b7e-9c3a-101010101010")

type mockRepo struct {
	events  map[uuid.UUID]*Event
	nextSeq int64

	// forceSupersedeLost simulates losing the correction race after the
	// in-memory already-superseded check passed.
	forceSupersedeLost bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{events: make(map[uuid.UUID]*Event)}
}

func (m *mockRepo) Insert(_ context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	m.nextSeq++
	ev.Seq = m.nextSeq
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return nil, &emr.NotFoundError{Record: "clinical event", ID: id.String()}
	}
	cp := *ev
	return &cp, nil
}

func (m *mockRepo) Supersede(_ context.Context, originalID, supersededBy, correctedBy uuid.UUID, reason string, at time.Time) (bool, error) {
	if m.forceSupersedeLost {
		return false, nil
	}
	ev, ok := m.events[originalID]
	if !ok || ev.SupersededBy != nil {
		return false, nil
	}
	ev.EnteredInError = true
	ev.SupersededBy = &supersededBy
	ev.CorrectedAt = &at
	ev.CorrectedBy = &correctedBy
	ev.CorrectionReason = &reason
	return true, nil
}

func (m *mockRepo) Timeline(_ context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error) {
	var matched []*Event
	for _, ev := range m.events {
		if ev.PatientID != patientID {
			continue
		}
		if f.EncounterID != nil && (ev.EncounterID == nil || *ev.EncounterID != *f.EncounterID) {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		if f.SignificantOnly && !ev.Significant {
			continue
		}
		cp := *ev
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].Seq > matched[j].Seq
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *mockRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*Event, error) {
	var matched []*Event
	for _, ev := range m.events {
		if ev.EncounterID != nil && *ev.EncounterID == encounterID {
			cp := *ev
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.Before(matched[j].OccurredAt)
		}
		return matched[i].Seq < matched[j].Seq
	})
	return matched, nil
}

type mockEncounters struct {
	patients map[uuid.UUID]uuid.UUID
	orgs     map[uuid.UUID]uuid.UUID
}

func (m *mockEncounters) PatientOf(_ context.Context, encounterID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	pid, ok := m.patients[encounterID]
	if !ok {
		return uuid.Nil, uuid.Nil, &emr.NotFoundError{Record: "encounter", ID: encounterID.String()}
	}
	return pid, m.orgs[encounterID], nil
}

func newTestService() (*Service, *mockRepo, *mockEncounters) {
	repo := newMockRepo()
	encs := &mockEncounters{
		patients: make(map[uuid.UUID]uuid.UUID),
		orgs:     make(map[uuid.UUID]uuid.UUID),
	}
	svc := NewService(repo, encs)
	return svc, repo, encs
}

func actorWithRole(role string) emr.Actor {
	return emr.Actor{
		ID:    uuid.New(),
		OrgID: testOrg,
		Role:  role,
		Level: emr.RoleLevels[role],
	}
}

func appendNote(t *testing.T, svc *Service, actor emr.Actor, patientID uuid.UUID) *Event {
	t.Helper()
	ev, err := svc.Append(context.Background(), actor, NewEvent{
		PatientID: patientID,
		Kind:      KindNote,
		Summary:   "Owner reports reduced appetite",
	})
	if err != nil {
		t.Fatalf("append note: %v", err)
	}
	return ev
}

func TestAppendAssignsSequence(t *testing.T) {
	svc, _, _ := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	patient := uuid.New()

	first := appendNote(t, svc, tech, patient)
	second := appendNote(t, svc, tech, patient)

	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Errorf("seq not increasing: %d then %d", first.Seq, second.Seq)
	}
	if first.OrgID != testOrg {
		t.Errorf("org = %s, want actor org", first.OrgID)
	}
	if first.RecordedBy != tech.ID {
		t.Errorf("recorded_by = %s, want actor id", first.RecordedBy)
	}
	if first.OccurredAt.IsZero() {
		t.Error("occurred_at not defaulted")
	}
}

func TestAppendValidation(t *testing.T) {
	svc, _, encs := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	patient := uuid.New()
	problemID := uuid.New()
	docID := uuid.New()

	encID := uuid.New()
	encs.patients[encID] = patient
	encs.orgs[encID] = testOrg

	otherOrgEnc := uuid.New()
	encs.patients[otherOrgEnc] = patient
	encs.orgs[otherOrgEnc] = uuid.New()

	cases := []struct {
		name string
		in   NewEvent
	}{
		{"missing patient", NewEvent{Kind: KindNote, Summary: "x"}},
		{"missing summary", NewEvent{PatientID: patient, Kind: KindNote}},
		{"unknown kind", NewEvent{PatientID: patient, Kind: "telepathy", Summary: "x"}},
		{"problem kind without problem ref", NewEvent{PatientID: patient, Kind: KindProblemAdded, Summary: "x"}},
		{"note kind with document ref", NewEvent{PatientID: patient, Kind: KindNoteFinalized, Summary: "x", ProblemID: &problemID}},
		{"detail ref on plain kind", NewEvent{PatientID: patient, Kind: KindVitals, Summary: "x", DocumentID: &docID}},
		{"raw correction kind", NewEvent{PatientID: patient, Kind: KindCorrection, Summary: "x"}},
		{"encounter of other patient", NewEvent{PatientID: uuid.New(), EncounterID: &encID, Kind: KindNote, Summary: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Append(context.Background(), tech, tc.in)
			var verr *emr.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}

	_, err := svc.Append(context.Background(), tech, NewEvent{
		PatientID: patient, EncounterID: &otherOrgEnc, Kind: KindNote, Summary: "x",
	})
	var perr *emr.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("cross-org encounter err = %v, want permission error", err)
	}
}

func TestAppendRequiresAssistant(t *testing.T) {
	svc, _, _ := newTestService()
	reception := actorWithRole(emr.RoleReceptionist)

	_, err := svc.Append(context.Background(), reception, NewEvent{
		PatientID: uuid.New(),
		Kind:      KindNote,
		Summary:   "x",
	})
	var perr *emr.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want permission error for receptionist", err)
	}
}

func TestRecordSkipsRoleGate(t *testing.T) {
	svc, _, _ := newTestService()
	reception := actorWithRole(emr.RoleReceptionist)

	ev, err := svc.Record(context.Background(), reception, NewEvent{
		PatientID: uuid.New(),
		Kind:      KindStateChange,
		Subkind:   "scheduled_to_checked_in",
		Summary:   "Status changed: scheduled → checked_in",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if ev.Kind != KindStateChange {
		t.Errorf("kind = %q", ev.Kind)
	}
}

func TestCorrect(t *testing.T) {
	svc, repo, _ := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	patient := uuid.New()

	original := appendNote(t, svc, tech, patient)

	correction, err := svc.Correct(context.Background(), tech, original.ID, "entered on wrong patient")
	if err != nil {
		t.Fatalf("correct: %v", err)
	}

	if correction.Kind != KindCorrection {
		t.Errorf("correction kind = %q", correction.Kind)
	}
	if correction.Subkind != original.Kind {
		t.Errorf("correction subkind = %q, want %q", correction.Subkind, original.Kind)
	}
	if correction.Summary != "Correction: entered on wrong patient" {
		t.Errorf("correction summary = %q", correction.Summary)
	}
	if correction.PatientID != original.PatientID {
		t.Error("correction lost patient reference")
	}

	stored, err := repo.GetByID(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if !stored.EnteredInError {
		t.Error("original not flagged entered_in_error")
	}
	if stored.SupersededBy == nil || *stored.SupersededBy != correction.ID {
		t.Error("original superseded_by not linked to correction")
	}
	if stored.Summary != original.Summary || stored.Kind != original.Kind {
		t.Error("original clinical fields changed")
	}
	if stored.Live() {
		t.Error("superseded event still reported live")
	}
}

func TestCorrectTwiceRejected(t *testing.T) {
	svc, _, _ := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	original := appendNote(t, svc, tech, uuid.New())

	if _, err := svc.Correct(context.Background(), tech, original.ID, "first"); err != nil {
		t.Fatalf("first correct: %v", err)
	}
	_, err := svc.Correct(context.Background(), tech, original.ID, "second")
	var serr *emr.AlreadySupersededError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want already superseded", err)
	}
}

func TestCorrectLosesRace(t *testing.T) {
	svc, repo, _ := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	original := appendNote(t, svc, tech, uuid.New())

	repo.forceSupersedeLost = true
	_, err := svc.Correct(context.Background(), tech, original.ID, "duplicate entry")
	var serr *emr.AlreadySupersededError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want already superseded", err)
	}

	// losing the race must not leave an orphan correction row
	if len(repo.events) != 1 {
		t.Errorf("event count = %d, want 1", len(repo.events))
	}
}

func TestCorrectRequiresTechnician(t *testing.T) {
	svc, _, _ := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	assistant := actorWithRole(emr.RoleAssistant)
	original := appendNote(t, svc, tech, uuid.New())

	_, err := svc.Correct(context.Background(), assistant, original.ID, "oops")
	var perr *emr.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want permission error for assistant", err)
	}
}

func TestCorrectMissingReason(t *testing.T) {
	svc, _, _ := newTestService()
	tech := actorWithRole(emr.RoleTechnician)
	original := appendNote(t, svc, tech, uuid.New())

	_, err := svc.Correct(context.Background(), tech, original.ID, "")
	var verr *emr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestTimelineOrderAndFilters(t *testing.T) {
	svc, _, encs := newTestService()
	vet := actorWithRole(emr.RoleVeterinarian)
	patient := uuid.New()
	encID := uuid.New()
	encs.patients[encID] = patient
	encs.orgs[encID] = testOrg

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, in := range []NewEvent{
		{PatientID: patient, Kind: KindNote, Summary: "first", OccurredAt: base},
		{PatientID: patient, EncounterID: &encID, Kind: KindVitals, Summary: "temp 38.5C", OccurredAt: base.Add(time.Hour)},
		{PatientID: patient, EncounterID: &encID, Kind: KindStateChange, Subkind: "roomed_to_in_exam",
			Summary: "Status changed: roomed → in_exam", Significant: true, OccurredAt: base.Add(2 * time.Hour)},
	} {
		if _, err := svc.Append(ctx, vet, in); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// a different patient's event must never leak in
	if _, err := svc.Append(ctx, vet, NewEvent{PatientID: uuid.New(), Kind: KindNote, Summary: "other"}); err != nil {
		t.Fatalf("append other: %v", err)
	}

	events, total, err := svc.Timeline(ctx, patient, Filters{}, 20, 0)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if total != 3 || len(events) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", total, len(events))
	}
	if events[0].Summary != "Status changed: roomed → in_exam" || events[2].Summary != "first" {
		t.Errorf("timeline not newest-first: %q ... %q", events[0].Summary, events[2].Summary)
	}

	events, total, err = svc.Timeline(ctx, patient, Filters{EncounterID: &encID}, 20, 0)
	if err != nil || total != 2 {
		t.Fatalf("encounter filter: total = %d, err = %v", total, err)
	}

	events, total, err = svc.Timeline(ctx, patient, Filters{SignificantOnly: true}, 20, 0)
	if err != nil || total != 1 || events[0].Kind != KindStateChange {
		t.Fatalf("significant filter: total = %d, err = %v", total, err)
	}

	events, total, err = svc.Timeline(ctx, patient, Filters{Kind: KindVitals}, 20, 0)
	if err != nil || total != 1 || events[0].Summary != "temp 38.5C" {
		t.Fatalf("kind filter: total = %d, err = %v", total, err)
	}
}

func TestTimelineTieBreakOnSeq(t *testing.T) {
	svc, _, _ := newTestService()
	vet := actorWithRole(emr.RoleVeterinarian)
	patient := uuid.New()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for _, summary := range []string{"one", "two", "three"} {
		if _, err := svc.Append(ctx, vet, NewEvent{
			PatientID: patient, Kind: KindNote, Summary: summary, OccurredAt: at,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, _, err := svc.Timeline(ctx, patient, Filters{}, 20, 0)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if events[0].Summary != "three" || events[2].Summary != "one" {
		t.Errorf("equal-time events not ordered by seq: %q, %q, %q",
			events[0].Summary, events[1].Summary, events[2].Summary)
	}
}

func TestTimelinePagination(t *testing.T) {
	svc, _, _ := newTestService()
	vet := actorWithRole(emr.RoleVeterinarian)
	patient := uuid.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Append(ctx, vet, NewEvent{
			PatientID:  patient,
			Kind:       KindNote,
			Summary:    "entry",
			OccurredAt: time.Date(2026, 3, 10, 9, i, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, total, err := svc.Timeline(ctx, patient, Filters{}, 2, 2)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if total != 5 || len(events) != 2 {
		t.Errorf("total = %d, page len = %d", total, len(events))
	}
}

func TestLiveEncounterEvents(t *testing.T) {
	svc, _, encs := newTestService()
	vet := actorWithRole(emr.RoleVeterinarian)
	tech := actorWithRole(emr.RoleTechnician)
	patient := uuid.New()
	encID := uuid.New()
	encs.patients[encID] = patient
	encs.orgs[encID] = testOrg
	ctx := context.Background()

	kept, err := svc.Append(ctx, vet, NewEvent{
		PatientID: patient, EncounterID: &encID, Kind: KindNote, Summary: "kept",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	wrong, err := svc.Append(ctx, vet, NewEvent{
		PatientID: patient, EncounterID: &encID, Kind: KindNote, Summary: "wrong",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.Correct(ctx, tech, wrong.ID, "wrong dosage recorded"); err != nil {
		t.Fatalf("correct: %v", err)
	}

	all, err := svc.EncounterEvents(ctx, encID)
	if err != nil {
		t.Fatalf("encounter events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all events = %d, want original, corrected original and correction", len(all))
	}

	live, err := svc.LiveEncounterEvents(ctx, encID)
	if err != nil {
		t.Fatalf("live events: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live events = %d, want 2", len(live))
	}
	for _, ev := range live {
		if ev.ID == wrong.ID {
			t.Error("superseded event still in live view")
		}
	}
	if live[0].ID != kept.ID {
		t.Errorf("live view lost kept event")
	}
}
