package models

import "time"

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "PENDING"
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusInProgress BookingStatus = "IN_PROGRESS"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
	BookingStatusNoShow     BookingStatus = "NO_SHOW"
)

// ActiveBookingStatuses hold their slot and take part in conflict checks.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusConfirmed,
	BookingStatusPending,
	BookingStatusInProgress,
}

// IsActive reports whether a booking in this status still occupies its slot.
func (s BookingStatus) IsActive() bool {
	for _, st := range ActiveBookingStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Booking is one guest's reservation of exactly one availability slot.
type Booking struct {
	ID              string        `bson:"id" json:"id"`
	ProviderID      string        `bson:"providerId" json:"providerId"`
	AvailabilityID  string        `bson:"availabilityId" json:"availabilityId"`
	GuestID         string        `bson:"guestId" json:"guestId"`
	GuestName       string        `bson:"guestName" json:"guestName"`
	GuestEmail      string        `bson:"guestEmail" json:"guestEmail"`
	GuestPhone      string        `bson:"guestPhone,omitempty" json:"guestPhone,omitempty"`
	StartTime       time.Time     `bson:"startTime" json:"startTime"`
	EndTime         time.Time     `bson:"endTime" json:"endTime"`
	DurationMinutes int           `bson:"durationMinutes" json:"durationMinutes"`
	Status          BookingStatus `bson:"status" json:"status"`
	SerialKey       string        `bson:"serialKey" json:"serialKey"`
	Notes           string        `bson:"notes,omitempty" json:"notes,omitempty"`
	IdempotencyKey  string        `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	SeriesID        string        `bson:"seriesId,omitempty" json:"seriesId,omitempty"`
	CreatedAt       time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// Recurrence expands one booking request into a weekly series. When neither
// EndDate nor Occurrences is set the series spans the default number of weeks.
type Recurrence struct {
	EndDate       string `json:"endDate,omitempty"`
	Occurrences   int    `json:"occurrences,omitempty"`
	IntervalWeeks int    `json:"intervalWeeks,omitempty"`
}

// CreateBookingRequest is the input of the booking orchestrator.
type CreateBookingRequest struct {
	ProviderID     string      `json:"providerId" binding:"required"`
	Slot           SlotRef     `json:"slot" binding:"required"`
	GuestID        string      `json:"guestId"`
	GuestName      string      `json:"guestName" binding:"required"`
	GuestEmail     string      `json:"guestEmail" binding:"required"`
	GuestPhone     string      `json:"guestPhone,omitempty"`
	StartTime      time.Time   `json:"startTime" binding:"required"`
	EndTime        time.Time   `json:"endTime" binding:"required"`
	Notes          string      `json:"notes,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
	Recurrence     *Recurrence `json:"recurrence,omitempty"`
}

// UpdateBookingRequest carries the mutable booking fields; nil means unchanged.
type UpdateBookingRequest struct {
	Status     *BookingStatus `json:"status,omitempty"`
	GuestName  *string        `json:"guestName,omitempty"`
	GuestEmail *string        `json:"guestEmail,omitempty"`
	GuestPhone *string        `json:"guestPhone,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
}

// BookingResult is what CreateBooking returns: one booking, or every booking of a series.
type BookingResult struct {
	Bookings []Booking `json:"bookings"`
	Series   bool      `json:"series"`
}

// Primary returns the first booking of the result.
func (r BookingResult) Primary() *Booking {
	if len(r.Bookings) == 0 {
		return nil
	}
	return &r.Bookings[0]
}
