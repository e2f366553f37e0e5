package problems

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

const problemCols = `id, org_id, patient_id, problem_type, severity, name, description,
	onset_date, resolved_date, status, is_alert, alert_severity, alert_text,
	version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Problem) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_problem (
			id, org_id, patient_id, problem_type, severity, name, description,
			onset_date, status, is_alert, alert_severity, alert_text, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)
		RETURNING version, created_at, updated_at`,
		p.ID, p.OrgID, p.PatientID, p.Type, p.Severity, p.Name, p.Description,
		p.OnsetDate, p.Status, p.IsAlert, p.AlertSeverity, p.AlertText,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Problem, error) {
	p, err := scanProblem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+problemCols+` FROM patient_problem WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &emr.NotFoundError{Record: "problem", ID: id.String()}
	}
	return p, err
}

func (r *repoPG) UpdateStatus(ctx context.Context, p *Problem, expectedVersion int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_problem SET
			status = $3,
			resolved_date = $4,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		p.ID, expectedVersion, p.Status, p.ResolvedDate,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	p.Version = expectedVersion + 1
	return true, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Problem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_problem WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+problemCols+` FROM patient_problem
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	problems, err := collectProblems(rows)
	if err != nil {
		return nil, 0, err
	}
	return problems, total, nil
}

func (r *repoPG) ActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+problemCols+` FROM patient_problem
		WHERE patient_id = $1 AND is_alert = TRUE AND status <> 'resolved'
		ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProblems(rows)
}

func scanProblem(row pgx.Row) (*Problem, error) {
	var p Problem
	err := row.Scan(
		&p.ID, &p.OrgID, &p.PatientID, &p.Type, &p.Severity, &p.Name, &p.Description,
		&p.OnsetDate, &p.ResolvedDate, &p.Status, &p.IsAlert, &p.AlertSeverity, &p.AlertText,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProblems(rows pgx.Rows) ([]*Problem, error) {
	var problems []*Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return problems, nil
}
