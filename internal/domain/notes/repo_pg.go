package notes

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

const docCols = `id, org_id, patient_id, encounter_id, doc_type,
	subjective, objective, assessment, plan, author_id,
	is_finalized, finalized_at, finalized_by, addendum_of,
	version, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_document (
			id, org_id, patient_id, encounter_id, doc_type,
			subjective, objective, assessment, plan, author_id,
			is_finalized, finalized_at, finalized_by, addendum_of, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
		RETURNING version, created_at, updated_at`,
		d.ID, d.OrgID, d.PatientID, d.EncounterID, d.DocType,
		d.Subjective, d.Objective, d.Assessment, d.Plan, d.AuthorID,
		d.IsFinalized, d.FinalizedAt, d.FinalizedBy, d.AddendumOf,
	).Scan(&d.Version, &d.CreatedAt, &d.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(r.conn(ctx).QueryRow(ctx,
		`SELECT `+docCols+` FROM clinical_document WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &emr.NotFoundError{Record: "document", ID: id.String()}
	}
	return d, err
}

func (r *repoPG) UpdateSections(ctx context.Context, d *Document, expectedVersion int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_document SET
			subjective = $3,
			objective = $4,
			assessment = $5,
			plan = $6,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2 AND is_finalized = FALSE`,
		d.ID, expectedVersion, d.Subjective, d.Objective, d.Assessment, d.Plan,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	d.Version = expectedVersion + 1
	return true, nil
}

func (r *repoPG) Finalize(ctx context.Context, d *Document, expectedVersion int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_document SET
			is_finalized = TRUE,
			finalized_at = $3,
			finalized_by = $4,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2 AND is_finalized = FALSE`,
		d.ID, expectedVersion, d.FinalizedAt, d.FinalizedBy,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	d.Version = expectedVersion + 1
	return true, nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+docCols+` FROM clinical_document
		WHERE encounter_id = $1
		ORDER BY created_at`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *repoPG) ListAddenda(ctx context.Context, documentID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+docCols+` FROM clinical_document
		WHERE addendum_of = $1
		ORDER BY created_at`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.OrgID, &d.PatientID, &d.EncounterID, &d.DocType,
		&d.Subjective, &d.Objective, &d.Assessment, &d.Plan, &d.AuthorID,
		&d.IsFinalized, &d.FinalizedAt, &d.FinalizedBy, &d.AddendumOf,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDocuments(rows pgx.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
