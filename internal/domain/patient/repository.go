package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new patient. Returns ErrPatientAlreadyExists on duplicate email.
	Create(ctx context.Context, p *Patient) error

	// GetByID retrieves a patient by primary key. Returns ErrPatientNotFound if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Update applies partial updates to an existing patient record.
	Update(ctx context.Context, id uuid.UUID, cmd *UpdatePatientCommand) (*Patient, error)

	// UpdateStatus transitions the patient's lifecycle state.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Patient, error)

	// List returns a paginated list of patients, newest first.
	List(ctx context.Context, q *ListPatientsQuery) (*PagedPatients, error)

	// ExistsByEmail checks for uniqueness without fetching the full record.
	ExistsByEmail(ctx context.Context, email string, excludeID *uuid.UUID) (bool, error)
}
