package problems

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Problem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Problem, error)

	// UpdateStatus writes the new status, resolution date and bumped
	// version if and only if the stored version still equals
	// expectedVersion. It reports whether the write happened.
	UpdateStatus(ctx context.Context, p *Problem, expectedVersion int) (bool, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Problem, int, error)

	// ActiveAlerts returns the patient's alert-flagged problems that are
	// not resolved, newest first.
	ActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error)
}
