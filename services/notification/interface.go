package notification

import (
	"context"
	"time"

	"slotkeeper/models"
)

// Hooks is how the scheduling engine signals slot and booking changes. Callers
// treat every error as best effort: the mutation that triggered it is already
// committed.
type Hooks interface {
	NotifyCreated(ctx context.Context, providerID string, payload models.EventPayload) error
	NotifyBooked(ctx context.Context, providerID string, payload models.EventPayload) error
	NotifyUnbooked(ctx context.Context, providerID string, payload models.EventPayload) error
	NotifyUpdated(ctx context.Context, providerID string, payload models.EventPayload) error
	NotifyDeleted(ctx context.Context, providerID string, payload models.EventPayload) error

	NotifyBookingConfirmation(ctx context.Context, booking models.Booking, recipientEmail string) error
	NotifyBookingCancellation(ctx context.Context, booking models.Booking, recipientEmail string) error
	NotifyBookingCompletion(ctx context.Context, booking models.Booking, recipientEmail string) error
	NotifyBookingModified(ctx context.Context, booking models.Booking, recipientEmail string, changed []string) error
	// NotifySeriesSummary sends one message covering every booking of a recurring series.
	NotifySeriesSummary(ctx context.Context, bookings []models.Booking, recipientEmail string) error

	// ScheduleReminder arranges a reminder for booking at fireAt.
	ScheduleReminder(ctx context.Context, booking models.Booking, fireAt time.Time) error
}

// sink receives the fully built notifications.
type sink interface {
	slotEvent(ctx context.Context, payload models.EventPayload) error
	booking(ctx context.Context, n models.BookingNotification) error
	reminder(ctx context.Context, payload models.ReminderPayload) error
}

// notifier turns Hooks calls into payloads for a sink.
type notifier struct {
	sink sink
	now  func() time.Time
}

func (n *notifier) event(ctx context.Context, t models.EventType, providerID string, p models.EventPayload) error {
	p.Type = t
	p.ProviderID = providerID
	if p.OccurredAt.IsZero() {
		p.OccurredAt = n.now().UTC()
	}
	return n.sink.slotEvent(ctx, p)
}

func (n *notifier) NotifyCreated(ctx context.Context, providerID string, p models.EventPayload) error {
	return n.event(ctx, models.EventCreated, providerID, p)
}

func (n *notifier) NotifyBooked(ctx context.Context, providerID string, p models.EventPayload) error {
	return n.event(ctx, models.EventBooked, providerID, p)
}

func (n *notifier) NotifyUnbooked(ctx context.Context, providerID string, p models.EventPayload) error {
	return n.event(ctx, models.EventUnbooked, providerID, p)
}

func (n *notifier) NotifyUpdated(ctx context.Context, providerID string, p models.EventPayload) error {
	return n.event(ctx, models.EventUpdated, providerID, p)
}

func (n *notifier) NotifyDeleted(ctx context.Context, providerID string, p models.EventPayload) error {
	return n.event(ctx, models.EventDeleted, providerID, p)
}

func (n *notifier) bookingNotice(ctx context.Context, kind models.BookingNotificationKind, bookings []models.Booking, recipient string, changed []string) error {
	if len(bookings) == 0 {
		return nil
	}
	return n.sink.booking(ctx, models.BookingNotification{
		Kind:           kind,
		RecipientEmail: recipient,
		RecipientRole:  roleOf(bookings[0], recipient),
		ProviderID:     bookings[0].ProviderID,
		Bookings:       bookings,
		ChangedFields:  changed,
	})
}

func (n *notifier) NotifyBookingConfirmation(ctx context.Context, b models.Booking, recipient string) error {
	kind := models.NotifyConfirmation
	if b.Status == models.BookingStatusPending && roleOf(b, recipient) == RoleProvider {
		kind = models.NotifyNewRequest
	}
	return n.bookingNotice(ctx, kind, []models.Booking{b}, recipient, nil)
}

func (n *notifier) NotifyBookingCancellation(ctx context.Context, b models.Booking, recipient string) error {
	return n.bookingNotice(ctx, models.NotifyCancellation, []models.Booking{b}, recipient, nil)
}

func (n *notifier) NotifyBookingCompletion(ctx context.Context, b models.Booking, recipient string) error {
	return n.bookingNotice(ctx, models.NotifyCompletion, []models.Booking{b}, recipient, nil)
}

func (n *notifier) NotifyBookingModified(ctx context.Context, b models.Booking, recipient string, changed []string) error {
	return n.bookingNotice(ctx, models.NotifyModified, []models.Booking{b}, recipient, changed)
}

func (n *notifier) NotifySeriesSummary(ctx context.Context, bookings []models.Booking, recipient string) error {
	return n.bookingNotice(ctx, models.NotifySeriesSummary, bookings, recipient, nil)
}

func (n *notifier) ScheduleReminder(ctx context.Context, b models.Booking, fireAt time.Time) error {
	return n.sink.reminder(ctx, models.ReminderPayload{BookingID: b.ID, FireAt: fireAt})
}

const (
	RoleGuest    = "guest"
	RoleProvider = "provider"
)

func roleOf(b models.Booking, recipient string) string {
	if recipient != "" && recipient == b.GuestEmail {
		return RoleGuest
	}
	return RoleProvider
}
