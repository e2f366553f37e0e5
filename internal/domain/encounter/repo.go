package encounter

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateAppointment reports that another encounter already holds
// the appointment reference. The unique index on appointment_id raises
// it when two check-ins race past the idempotency read.
var ErrDuplicateAppointment = errors.New("an encounter already exists for this appointment")

type Repository interface {
	// Create inserts a new row. It returns ErrDuplicateAppointment when
	// the appointment reference is already taken.
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Encounter, error)

	// UpdateState persists the mutable fields of enc with a version
	// check-and-set: the row is written only if its stored version still
	// equals expectedVersion. It reports whether the write happened.
	UpdateState(ctx context.Context, enc *Encounter, expectedVersion int) (bool, error)

	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
	ListActive(ctx context.Context) ([]*Encounter, error)
}
