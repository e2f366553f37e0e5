package encounter

import (
	"context"
	"errors"

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

const encCols = `id, org_id, patient_id, appointment_id, state, classification, chief_complaint,
	primary_actor_id, secondary_actor_id, invoice_id, version,
	scheduled_at, checked_in_at, roomed_at, exam_started_at, exam_ended_at,
	orders_pending_at, results_awaited_at, treatment_started_at, checkout_at,
	completed_at, no_show_at, cancelled_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	enc.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (
			id, org_id, patient_id, appointment_id, state, classification, chief_complaint,
			primary_actor_id, secondary_actor_id, invoice_id, version,
			scheduled_at, checked_in_at, roomed_at, exam_started_at, exam_ended_at,
			orders_pending_at, results_awaited_at, treatment_started_at, checkout_at,
			completed_at, no_show_at, cancelled_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23
		)`,
		enc.ID, enc.OrgID, enc.PatientID, enc.AppointmentID, enc.State, enc.Classification, enc.ChiefComplaint,
		enc.PrimaryActorID, enc.SecondaryActorID, enc.InvoiceID, enc.Version,
		enc.ScheduledAt, enc.CheckedInAt, enc.RoomedAt, enc.ExamStartedAt, enc.ExamEndedAt,
		enc.OrdersPendingAt, enc.ResultsAwaitedAt, enc.TreatmentStartedAt, enc.CheckoutAt,
		enc.CompletedAt, enc.NoShowAt, enc.CancelledAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_encounter_appointment" {
		return ErrDuplicateAppointment
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &emr.NotFoundError{Record: "encounter", ID: id.String()}
	}
	return enc, err
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounter WHERE appointment_id = $1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &emr.NotFoundError{Record: "encounter", ID: appointmentID.String()}
	}
	return enc, err
}

func (r *repoPG) UpdateState(ctx context.Context, enc *Encounter, expectedVersion int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			state=$3, chief_complaint=$4, secondary_actor_id=$5, invoice_id=$6,
			version=version+1,
			scheduled_at=$7, checked_in_at=$8, roomed_at=$9, exam_started_at=$10, exam_ended_at=$11,
			orders_pending_at=$12, results_awaited_at=$13, treatment_started_at=$14, checkout_at=$15,
			completed_at=$16, no_show_at=$17, cancelled_at=$18, updated_at=NOW()
		WHERE id = $1 AND version = $2`,
		enc.ID, expectedVersion,
		enc.State, enc.ChiefComplaint, enc.SecondaryActorID, enc.InvoiceID,
		enc.ScheduledAt, enc.CheckedInAt, enc.RoomedAt, enc.ExamStartedAt, enc.ExamEndedAt,
		enc.OrdersPendingAt, enc.ResultsAwaitedAt, enc.TreatmentStartedAt, enc.CheckoutAt,
		enc.CompletedAt, enc.NoShowAt, enc.CancelledAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	enc.Version = expectedVersion + 1
	return true, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounter
		WHERE state NOT IN ('completed', 'no_show', 'cancelled')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	encs, _, err := collectEncs(rows, 0)
	return encs, err
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.OrgID, &e.PatientID, &e.AppointmentID, &e.State, &e.Classification, &e.ChiefComplaint,
		&e.PrimaryActorID, &e.SecondaryActorID, &e.InvoiceID, &e.Version,
		&e.ScheduledAt, &e.CheckedInAt, &e.RoomedAt, &e.ExamStartedAt, &e.ExamEndedAt,
		&e.OrdersPendingAt, &e.ResultsAwaitedAt, &e.TreatmentStartedAt, &e.CheckoutAt,
		&e.CompletedAt, &e.NoShowAt, &e.CancelledAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encs []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		encs = append(encs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}
