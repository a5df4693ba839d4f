package booking

import (
	"context"
	"time"

	"slotkeeper/database"
	bookingRepo "slotkeeper/database/repository/booking"
	providerRepo "slotkeeper/database/repository/provider"
	"slotkeeper/models"
	"slotkeeper/services/availability"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/notification"
	"slotkeeper/utils"

	"go.uber.org/zap"
)

// BookingService creates and manages bookings against availability slots.
type BookingService interface {
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResult, error)
	UpdateBooking(ctx context.Context, id string, req models.UpdateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindBookingBySerialKey(ctx context.Context, serialKey string) (*models.Booking, error)
	ListProviderBookings(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error)
}

// DefaultBookingService implements BookingService.
type DefaultBookingService struct {
	Bookings           bookingRepo.BookingRepository
	Providers          providerRepo.ProviderRepository
	Slots              *availability.Store
	Materializer       *availability.Materializer
	Transactor         database.Transactor
	Idempotency        *idempotency.Cache
	Hooks              notification.Hooks
	Clock              utils.Clock
	Location           *time.Location
	ReminderLead       time.Duration
	SeriesDefaultWeeks int
	Logger             *zap.Logger
}

const (
	defaultSeriesWeeks = 4
	maxSeriesLength    = 52
)

func (s *DefaultBookingService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *DefaultBookingService) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// mode names the consistency mode for logs.
func (s *DefaultBookingService) mode() string {
	if s.Transactor.Transactional() {
		return "transaction"
	}
	return "fallback"
}
