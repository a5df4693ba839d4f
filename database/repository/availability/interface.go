// File: database/repository/availability/interface.go
package availabilityRepo

import (
	"context"
	"errors"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrSlotNotFound      = errors.New("availability slot not found")
	ErrSlotAlreadyBooked = errors.New("availability slot already booked")
	ErrSlotNotHeld       = errors.New("availability slot is not held by this booking")
	ErrDuplicateInstance = errors.New("template occurrence already stored")
)

const CollectionName = "availability_slots"

type AvailabilityRepository interface {
	Create(ctx context.Context, slot *models.AvailabilitySlot) error
	CreateMany(ctx context.Context, slots []models.AvailabilitySlot) error
	GetByID(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	// GetByProviderAndDate returns every dated row of the provider on date.
	GetByProviderAndDate(ctx context.Context, providerID, date string) ([]models.AvailabilitySlot, error)
	// GetByProviderAndDateRange returns dated rows with fromDate <= date <= toDate; empty bounds are open.
	GetByProviderAndDateRange(ctx context.Context, providerID, fromDate, toDate string) ([]models.AvailabilitySlot, error)
	// GetTemplates returns RECURRING templates, optionally restricted to one weekday.
	GetTemplates(ctx context.Context, providerID string, dayOfWeek *int) ([]models.AvailabilitySlot, error)
	// GetAtTime returns dated rows on date whose start and end equal the given instants.
	GetAtTime(ctx context.Context, providerID, date string, start, end time.Time) ([]models.AvailabilitySlot, error)
	Update(ctx context.Context, slot *models.AvailabilitySlot) error
	// MarkBooked flips isBooked to true only if it is currently false.
	MarkBooked(ctx context.Context, slotID, bookingID string) error
	// MarkAvailable releases the slot only if bookingID currently holds it.
	MarkAvailable(ctx context.Context, slotID, bookingID string) error
	DeleteByID(ctx context.Context, id string) error
	DeleteUnbookedByProviderAndDate(ctx context.Context, providerID, date string) ([]string, error)
	DeleteUnbookedByTemplate(ctx context.Context, templateID string) ([]string, error)
	// DeleteOneOffBefore removes ONE_OFF rows dated before date and returns their ids.
	DeleteOneOffBefore(ctx context.Context, date string) ([]string, error)
	EnsureIndexes(ctx context.Context) error
}

type mongoAvailabilityRepo struct {
	coll *mongo.Collection
}

// NewMongoAvailabilityRepo constructs a new MongoDB AvailabilityRepository.
func NewMongoAvailabilityRepo(db *mongo.Database) AvailabilityRepository {
	return &mongoAvailabilityRepo{
		coll: db.Collection(CollectionName),
	}
}
