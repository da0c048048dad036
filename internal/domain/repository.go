package domain

import "context"

// InstanceRepository is the durable store for instances (output port).
// Upsert keyed by phone is the only write path. It returns ErrInstanceConflict
// when the update would move a stored phone to another owner.
type InstanceRepository interface {
	Upsert(ctx context.Context, phone string, update InstanceUpdate) (*Instance, error)
	// GetByPhone returns ErrInstanceNotFound when the phone is not stored.
	GetByPhone(ctx context.Context, phone string) (*Instance, error)
	// GetByName returns ErrInstanceNotFound when no instance carries the name.
	GetByName(ctx context.Context, name string) (*Instance, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Instance, error)
}
