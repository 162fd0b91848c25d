package directory

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads user records.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AppUser, error)
	// ExistAll reports whether every given id belongs to an active user.
	// The ids that could not be resolved are returned for error reporting.
	ExistAll(ctx context.Context, ids []uuid.UUID) (missing []uuid.UUID, err error)
}
