package bookingRepo

import (
	"context"
	"errors"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrBookingNotFound    = errors.New("booking not found")
	ErrDuplicateSerialKey = errors.New("booking serial key already exists")
	ErrStatusChanged      = errors.New("booking status changed concurrently")
)

const CollectionName = "bookings"

type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	CreateMany(ctx context.Context, bookings []models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetBySerialKey(ctx context.Context, serialKey string) (*models.Booking, error)
	// FindActiveOverlapping returns PENDING/CONFIRMED/IN_PROGRESS bookings of the
	// provider with start < end && end > start, excluding excludeID.
	FindActiveOverlapping(ctx context.Context, providerID string, start, end time.Time, excludeID string) ([]models.Booking, error)
	ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error)
	// Update writes booking if its stored status still equals expectedStatus.
	Update(ctx context.Context, booking *models.Booking, expectedStatus models.BookingStatus) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByAvailabilityIDs(ctx context.Context, availabilityIDs []string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

// MongoBookingRepo implements BookingRepository.
type MongoBookingRepo struct {
	bookingColl *mongo.Collection
}

// NewMongoBookingRepo constructs a new MongoDB BookingRepository.
func NewMongoBookingRepo(db *mongo.Database) BookingRepository {
	return &MongoBookingRepo{
		bookingColl: db.Collection(CollectionName),
	}
}
