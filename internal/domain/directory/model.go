// Package directory holds the user records the messaging surfaces resolve
// participants against. Account lifecycle (registration, passwords, roles)
// is owned by the identity provider; this is a read-mostly mirror.
package directory

import (
	"time"

	"github.com/google/uuid"
)

// AppUser is a registered user of the platform.
type AppUser struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
