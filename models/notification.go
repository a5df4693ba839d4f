package models

import "time"

// EventType names a slot/booking lifecycle signal sent to the notification hooks.
type EventType string

const (
	EventCreated  EventType = "created"
	EventBooked   EventType = "booked"
	EventUnbooked EventType = "unbooked"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
)

// EventPayload describes the slots and bookings touched by a mutation.
type EventPayload struct {
	Type       EventType `json:"type"`
	ProviderID string    `json:"providerId"`
	SlotIDs    []string  `json:"slotIds,omitempty"`
	BookingID  string    `json:"bookingId,omitempty"`
	SerialKey  string    `json:"serialKey,omitempty"`
	Start      time.Time `json:"start,omitempty"`
	End        time.Time `json:"end,omitempty"`
	Changes    []string  `json:"changes,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// BookingNotificationKind selects the guest/provider message template.
type BookingNotificationKind string

const (
	NotifyConfirmation  BookingNotificationKind = "booking_confirmation"
	NotifyCancellation  BookingNotificationKind = "booking_cancellation"
	NotifyCompletion    BookingNotificationKind = "booking_completion"
	NotifyModified      BookingNotificationKind = "booking_modified"
	NotifyNewRequest    BookingNotificationKind = "booking_new_request"
	NotifySeriesSummary BookingNotificationKind = "booking_series_summary"
	NotifyReminder      BookingNotificationKind = "booking_reminder"
)

// BookingNotification is the payload delivered for guest/provider notifications.
type BookingNotification struct {
	Kind           BookingNotificationKind `json:"kind"`
	RecipientEmail string                  `json:"recipientEmail"`
	RecipientRole  string                  `json:"recipientRole"` // "guest" or "provider"
	ProviderID     string                  `json:"providerId"`
	Bookings       []Booking               `json:"bookings"`
	ChangedFields  []string                `json:"changedFields,omitempty"`
}

// ReminderPayload is the asynq payload of a scheduled booking reminder.
type ReminderPayload struct {
	BookingID string    `json:"bookingId"`
	FireAt    time.Time `json:"fireAt"`
}
