package location

import "context"

// Directory is the read-only view of the backend location tree.
type Directory interface {
	Get(ctx context.Context, uuid string) (*Location, error)
	ListByTag(ctx context.Context, tagUUID string) ([]*Location, error)
}
