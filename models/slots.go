package models

import "time"

// SlotKind distinguishes weekday-anchored templates from dated slots.
type SlotKind string

const (
	SlotKindRecurring SlotKind = "RECURRING"
	SlotKindOneOff    SlotKind = "ONE_OFF"
)

type SlotStatus string

const (
	SlotStatusActive    SlotStatus = "ACTIVE"
	SlotStatusCancelled SlotStatus = "CANCELLED"
	SlotStatusOverride  SlotStatus = "OVERRIDE"
)

// DateLayout is the calendar-date format used for slot dates and week anchors.
const DateLayout = "2006-01-02"

// AvailabilitySlot is a bookable time window for one provider.
//
// A RECURRING row without a date is a template anchored to DayOfWeek. RECURRING rows
// with a date are pre-generated instances of a template; ONE_OFF rows are either
// standalone slots or instances materialized on demand (TemplateID set).
type AvailabilitySlot struct {
	ID                 string     `bson:"id" json:"id"`
	ProviderID         string     `bson:"providerId" json:"providerId"`
	Kind               SlotKind   `bson:"kind" json:"kind"`
	DayOfWeek          *int       `bson:"dayOfWeek,omitempty" json:"dayOfWeek,omitempty"` // 0=Sunday
	Date               string     `bson:"date,omitempty" json:"date,omitempty"`           // e.g., "2025-02-25"
	StartTime          time.Time  `bson:"startTime" json:"startTime"`
	EndTime            time.Time  `bson:"endTime" json:"endTime"`
	DurationMinutes    int        `bson:"durationMinutes" json:"durationMinutes"`
	Timezone           string     `bson:"timezone,omitempty" json:"timezone,omitempty"`
	IsBooked           bool       `bson:"isBooked" json:"isBooked"`
	BookingID          string     `bson:"bookingId,omitempty" json:"bookingId,omitempty"`
	MaxBookings        int        `bson:"maxBookings" json:"maxBookings"`
	Status             SlotStatus `bson:"status" json:"status"`
	CancellationReason string     `bson:"cancellationReason,omitempty" json:"cancellationReason,omitempty"`
	TemplateID         string     `bson:"templateId,omitempty" json:"templateId,omitempty"`
	WeekOf             string     `bson:"weekOf,omitempty" json:"weekOf,omitempty"`
	CreatedAt          time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// IsTemplate reports whether the slot is a recurring definition rather than a dated row.
func (s AvailabilitySlot) IsTemplate() bool {
	return s.Kind == SlotKindRecurring && s.Date == ""
}

// IsVirtual reports whether the slot is a template expansion that has not been persisted.
func (s AvailabilitySlot) IsVirtual() bool {
	return s.ID == "" && s.TemplateID != ""
}

// Location resolves the slot's timezone, falling back to UTC.
func (s AvailabilitySlot) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Ref returns the reference a client uses to book this slot.
func (s AvailabilitySlot) Ref() SlotRef {
	if s.IsVirtual() {
		return RecurringInstanceRef(s.TemplateID, s.Date)
	}
	return PersistedRef(s.ID)
}

// SlotSpec is a generated or requested slot before persistence.
type SlotSpec struct {
	ProviderID      string    `json:"providerId"`
	Kind            SlotKind  `json:"kind"`
	DayOfWeek       *int      `json:"dayOfWeek,omitempty"`
	Date            string    `json:"date,omitempty"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DurationMinutes int       `json:"durationMinutes"`
	MaxBookings     int       `json:"maxBookings,omitempty"`
	Timezone        string    `json:"timezone,omitempty"`
}

// SlotPatch carries the mutable fields of a slot; nil means unchanged.
type SlotPatch struct {
	StartTime          *time.Time  `json:"startTime,omitempty"`
	EndTime            *time.Time  `json:"endTime,omitempty"`
	Status             *SlotStatus `json:"status,omitempty"`
	CancellationReason *string     `json:"cancellationReason,omitempty"`
	MaxBookings        *int        `json:"maxBookings,omitempty"`
}

// BulkCreateOptions controls how CreateBulkSlots treats conflicting items.
type BulkCreateOptions struct {
	SkipConflicts    bool   `json:"skipConflicts"`
	ReplaceConflicts bool   `json:"replaceConflicts"`
	DryRun           bool   `json:"dryRun"`
	IdempotencyKey   string `json:"idempotencyKey,omitempty"`
}

// SlotConflict reports one bulk item that could not be created.
type SlotConflict struct {
	Spec      SlotSpec        `json:"spec"`
	Conflicts []ConflictEntry `json:"conflicts"`
	Suggested *SlotSpec       `json:"suggested,omitempty"`
}

// ConflictEntry is one existing slot or booking that overlaps a candidate.
type ConflictEntry struct {
	Entity    string    `json:"entity"` // "slot" or "booking"
	ID        string    `json:"id"`
	SerialKey string    `json:"serialKey,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// BulkCreateResult is returned by CreateBulkSlots.
type BulkCreateResult struct {
	Created   []AvailabilitySlot `json:"created"`
	Conflicts []SlotConflict     `json:"conflicts"`
	DryRun    bool               `json:"dryRun,omitempty"`
}
