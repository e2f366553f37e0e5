package notes

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)

	// UpdateSections rewrites the SOAP blocks of a draft if and only if
	// the stored version still equals expectedVersion. It reports whether
	// the write happened.
	UpdateSections(ctx context.Context, d *Document, expectedVersion int) (bool, error)

	// Finalize flips is_finalized and stamps the sign-off fields under
	// the same version check.
	Finalize(ctx context.Context, d *Document, expectedVersion int) (bool, error)

	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Document, error)
	ListAddenda(ctx context.Context, documentID uuid.UUID) ([]*Document, error)
}
