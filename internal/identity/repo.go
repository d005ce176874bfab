// Package identity defines the durable identity store interface implemented
// by concrete backends.
package identity

import (
	"context"

	"github.com/securimed/heartsync/internal/model"
)

// Repository provides access to durable identity records. Key material in a
// record is always KEK-wrapped; the store never sees plaintext keys.
type Repository interface {
	// Create inserts a new identity record.
	Create(ctx context.Context, rec *model.IdentityRecord) error
	// GetByAlias loads an identity record by its unique alias.
	GetByAlias(ctx context.Context, alias string) (*model.IdentityRecord, error)
}
