package booking

import (
	"context"
	"errors"
	"time"

	"slotkeeper/apperrors"
	bookingRepo "slotkeeper/database/repository/booking"
	"slotkeeper/models"
)

// GetBooking retrieves a booking by id.
func (s *DefaultBookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	if id == "" {
		return nil, apperrors.NotFound("booking id is empty")
	}
	b, err := s.Bookings.GetByID(ctx, id)
	if errors.Is(err, bookingRepo.ErrBookingNotFound) {
		return nil, apperrors.NotFound("booking %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FindBookingBySerialKey retrieves a booking by its human-readable reference.
func (s *DefaultBookingService) FindBookingBySerialKey(ctx context.Context, serialKey string) (*models.Booking, error) {
	if serialKey == "" {
		return nil, apperrors.BadRequest("serial key is required")
	}
	b, err := s.Bookings.GetBySerialKey(ctx, serialKey)
	if errors.Is(err, bookingRepo.ErrBookingNotFound) {
		return nil, apperrors.NotFound("booking %s not found", serialKey)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListProviderBookings lists a provider's bookings starting in [from, to). Zero bounds are open.
func (s *DefaultBookingService) ListProviderBookings(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error) {
	if providerID == "" {
		return nil, apperrors.BadRequest("providerId is required")
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, apperrors.BadRequest("from must be before to")
	}
	bookings, err := s.Bookings.ListByProvider(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}
