package provider

import "context"

type Repository interface {
	// FindByUser returns the providers linked to a user, with attributes.
	FindByUser(ctx context.Context, userUUID string) ([]*Provider, error)
	// CreateAttribute appends an attribute and returns its new uuid.
	CreateAttribute(ctx context.Context, providerUUID, attributeTypeUUID, value string) (string, error)
	// UpdateAttribute sets the value of an existing attribute instance.
	UpdateAttribute(ctx context.Context, providerUUID, attributeUUID, value string) (string, error)
}
