package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const evCols = `id, org_id, patient_id, encounter_id, seq, kind, subkind,
	occurred_at, recorded_at, recorded_by, summary, significant,
	problem_id, document_id,
	entered_in_error, superseded_by, corrected_at, corrected_by, correction_reason`

func (r *repoPG) Insert(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_event (
			id, org_id, patient_id, encounter_id, kind, subkind,
			occurred_at, recorded_by, summary, significant,
			problem_id, document_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq, recorded_at`,
		ev.ID, ev.OrgID, ev.PatientID, ev.EncounterID, ev.Kind, ev.Subkind,
		ev.OccurredAt, ev.RecordedBy, ev.Summary, ev.Significant,
		ev.ProblemID, ev.DocumentID,
	).Scan(&ev.Seq, &ev.RecordedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	ev, err := scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+evCols+` FROM clinical_event WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &emr.NotFoundError{Record: "clinical event", ID: id.String()}
	}
	return ev, err
}

func (r *repoPG) Supersede(ctx context.Context, originalID, supersededBy, correctedBy uuid.UUID, reason string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_event SET
			entered_in_error = TRUE,
			superseded_by = $2,
			corrected_at = $3,
			corrected_by = $4,
			correction_reason = $5
		WHERE id = $1 AND superseded_by IS NULL`,
		originalID, supersededBy, at, correctedBy, reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Timeline(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error) {
	where := `WHERE patient_id = $1`
	args := []interface{}{patientID}

	if f.EncounterID != nil {
		args = append(args, *f.EncounterID)
		where += fmt.Sprintf(` AND encounter_id = $%d`, len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	if f.SignificantOnly {
		where += ` AND significant = TRUE`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_event `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+evCols+` FROM clinical_event `+where+`
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+evCols+` FROM clinical_event
		WHERE encounter_id = $1
		ORDER BY occurred_at, seq`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.OrgID, &e.PatientID, &e.EncounterID, &e.Seq, &e.Kind, &e.Subkind,
		&e.OccurredAt, &e.RecordedAt, &e.RecordedBy, &e.Summary, &e.Significant,
		&e.ProblemID, &e.DocumentID,
		&e.EnteredInError, &e.SupersededBy, &e.CorrectedAt, &e.CorrectedBy, &e.CorrectionReason,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
