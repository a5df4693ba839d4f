package providerRepo

import (
	"context"
	"errors"

	"slotkeeper/models"
)

var ErrProviderNotFound = errors.New("provider not found")

// ProviderRepository is the read-only provider lookup the scheduling engine consumes.
// Provider profiles are owned by an external service.
type ProviderRepository interface {
	// GetByID retrieves a provider by its unique ID.
	GetByID(ctx context.Context, id string) (*models.Provider, error)
}
