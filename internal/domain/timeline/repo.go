package timeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert appends ev, honoring the caller-assigned ID, and fills in
	// the storage sequence number.
	Insert(ctx context.Context, ev *Event) error

	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// Supersede sets the correction fields on the original event if and
	// only if it has not already been superseded. It reports whether the
	// write happened.
	Supersede(ctx context.Context, originalID, supersededBy, correctedBy uuid.UUID, reason string, at time.Time) (bool, error)

	Timeline(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error)
}
