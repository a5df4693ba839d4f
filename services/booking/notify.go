package booking

import (
	"context"

	"slotkeeper/models"

	"go.uber.org/zap"
)

// notifyErr logs a failed hook. Hooks never fail the committed mutation.
func (s *DefaultBookingService) notifyErr(hook string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	s.logger().Warn("Notification hook failed", append(fields, zap.String("hook", hook), zap.Error(err))...)
}

// afterCreate fires the post-commit created and booked events for new bookings.
// The provider hears about every booking; the guest gets a confirmation unless
// the booking waits for provider approval. A series produces one summary per party.
func (s *DefaultBookingService) afterCreate(ctx context.Context, provider models.Provider, bookings []models.Booking, series bool) {
	if s.Hooks == nil || len(bookings) == 0 {
		return
	}
	first := bookings[0]
	slotIDs := make([]string, len(bookings))
	for i, b := range bookings {
		slotIDs[i] = b.AvailabilityID
	}
	bookingField := zap.String("bookingId", first.ID)
	event := models.EventPayload{
		SlotIDs:   slotIDs,
		BookingID: first.ID,
		SerialKey: first.SerialKey,
		Start:     first.StartTime,
		End:       first.EndTime,
	}
	s.notifyErr("created", s.Hooks.NotifyCreated(ctx, provider.ID, event), bookingField)
	s.notifyErr("booked", s.Hooks.NotifyBooked(ctx, provider.ID, event), bookingField)

	if series {
		s.notifyErr("series_summary", s.Hooks.NotifySeriesSummary(ctx, bookings, first.GuestEmail), bookingField)
		if provider.Profile.Email != "" {
			s.notifyErr("series_summary", s.Hooks.NotifySeriesSummary(ctx, bookings, provider.Profile.Email), bookingField)
		}
	} else {
		if provider.Profile.Email != "" {
			s.notifyErr("confirmation", s.Hooks.NotifyBookingConfirmation(ctx, first, provider.Profile.Email), bookingField)
		}
		if first.Status != models.BookingStatusPending {
			s.notifyErr("confirmation", s.Hooks.NotifyBookingConfirmation(ctx, first, first.GuestEmail), bookingField)
		}
	}

	for _, b := range bookings {
		s.scheduleReminder(ctx, b)
	}
}

// scheduleReminder queues a reminder ReminderLead before a confirmed booking starts.
func (s *DefaultBookingService) scheduleReminder(ctx context.Context, b models.Booking) {
	if s.Hooks == nil || s.ReminderLead <= 0 || b.Status != models.BookingStatusConfirmed {
		return
	}
	fireAt := b.StartTime.Add(-s.ReminderLead)
	if !fireAt.After(s.Clock.Now()) {
		return
	}
	s.notifyErr("reminder", s.Hooks.ScheduleReminder(ctx, b, fireAt), zap.String("bookingId", b.ID))
}

// afterUpdate fires the post-commit events of a booking update.
func (s *DefaultBookingService) afterUpdate(ctx context.Context, before, after models.Booking, changed []string) {
	if s.Hooks == nil || len(changed) == 0 {
		return
	}
	field := zap.String("bookingId", after.ID)
	providerEmail := ""
	if p, err := s.Providers.GetByID(ctx, after.ProviderID); err == nil {
		providerEmail = p.Profile.Email
	} else {
		s.logger().Warn("Provider lookup for notification failed", field, zap.Error(err))
	}

	statusChanged := before.Status != after.Status
	if statusChanged {
		switch after.Status {
		case models.BookingStatusCancelled:
			s.notifyErr("cancellation", s.Hooks.NotifyBookingCancellation(ctx, after, after.GuestEmail), field)
			if providerEmail != "" {
				s.notifyErr("cancellation", s.Hooks.NotifyBookingCancellation(ctx, after, providerEmail), field)
			}
			s.notifyErr("unbooked", s.Hooks.NotifyUnbooked(ctx, after.ProviderID, models.EventPayload{
				SlotIDs:   []string{after.AvailabilityID},
				BookingID: after.ID,
				SerialKey: after.SerialKey,
				Start:     after.StartTime,
				End:       after.EndTime,
			}), field)
		case models.BookingStatusConfirmed:
			if before.Status == models.BookingStatusPending {
				s.notifyErr("confirmation", s.Hooks.NotifyBookingConfirmation(ctx, after, after.GuestEmail), field)
				s.scheduleReminder(ctx, after)
			}
		case models.BookingStatusCompleted:
			s.notifyErr("completion", s.Hooks.NotifyBookingCompletion(ctx, after, after.GuestEmail), field)
		default:
			s.notifyErr("updated", s.Hooks.NotifyUpdated(ctx, after.ProviderID, models.EventPayload{
				SlotIDs:   []string{after.AvailabilityID},
				BookingID: after.ID,
				SerialKey: after.SerialKey,
				Start:     after.StartTime,
				End:       after.EndTime,
				Changes:   changed,
			}), field)
		}
	}

	var other []string
	for _, f := range changed {
		if f != "status" {
			other = append(other, f)
		}
	}
	if len(other) == 0 {
		return
	}
	s.notifyErr("modified", s.Hooks.NotifyBookingModified(ctx, after, after.GuestEmail, other), field)
	if providerEmail != "" {
		s.notifyErr("modified", s.Hooks.NotifyBookingModified(ctx, after, providerEmail, other), field)
	}
}
