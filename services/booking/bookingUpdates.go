package booking

import (
	"context"
	"errors"
	"fmt"

	"slotkeeper/apperrors"
	bookingRepo "slotkeeper/database/repository/booking"
	"slotkeeper/models"

	"go.uber.org/zap"
)

// UpdateBooking applies the requested status transition and field changes.
// Cancelling releases the linked slot in the same unit of work.
func (s *DefaultBookingService) UpdateBooking(ctx context.Context, id string, req models.UpdateBookingRequest) (*models.Booking, error) {
	var (
		before, after models.Booking
		changed       []string
	)

	err := s.Transactor.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		before, after = *current, *current
		changed = changed[:0]

		if req.Status != nil && *req.Status != current.Status {
			if err := validateTransition(current.Status, *req.Status); err != nil {
				return err
			}
			after.Status = *req.Status
			changed = append(changed, "status")
		}
		changed = applyField(&after.GuestName, req.GuestName, "guestName", changed)
		changed = applyField(&after.GuestEmail, req.GuestEmail, "guestEmail", changed)
		changed = applyField(&after.GuestPhone, req.GuestPhone, "guestPhone", changed)
		changed = applyField(&after.Notes, req.Notes, "notes", changed)
		if len(changed) == 0 {
			return nil
		}
		if after.GuestName == "" || after.GuestEmail == "" {
			return apperrors.BadRequest("guestName and guestEmail cannot be cleared")
		}

		after.UpdatedAt = s.Clock.Now().UTC()
		if err := s.Bookings.Update(ctx, &after, before.Status); err != nil {
			if errors.Is(err, bookingRepo.ErrStatusChanged) {
				return apperrors.Conflict(fmt.Sprintf("booking %s was changed concurrently; reload and retry", before.SerialKey))
			}
			if errors.Is(err, bookingRepo.ErrBookingNotFound) {
				return apperrors.NotFound("booking %s not found", id)
			}
			return err
		}

		if after.Status == models.BookingStatusCancelled && before.Status != models.BookingStatusCancelled {
			if err := s.Slots.MarkAvailable(ctx, after.ProviderID, after.AvailabilityID, after.ID); err != nil {
				return fmt.Errorf("release slot %s: %w", after.AvailabilityID, err)
			}
		}
		return nil
	})

	if before.ProviderID != "" {
		s.Slots.Invalidate(ctx, before.ProviderID)
	}
	if err != nil {
		s.logFailure("Booking update failed", "update", err, zap.String("bookingId", id))
		return nil, err
	}
	if len(changed) == 0 {
		return &after, nil
	}

	s.logger().Info("Booking updated",
		zap.String("bookingId", after.ID),
		zap.String("serialKey", after.SerialKey),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.Strings("changed", changed))

	s.afterUpdate(ctx, before, after, changed)
	return &after, nil
}

func applyField(dst *string, val *string, name string, changed []string) []string {
	if val == nil || *val == *dst {
		return changed
	}
	*dst = *val
	return append(changed, name)
}
