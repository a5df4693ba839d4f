// File: services/availability/conflicts.go
package availability

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/models"
)

// SlotQuerier is the part of the availability repository conflict checks read from.
type SlotQuerier interface {
	GetByProviderAndDate(ctx context.Context, providerID, date string) ([]models.AvailabilitySlot, error)
	GetTemplates(ctx context.Context, providerID string, dayOfWeek *int) ([]models.AvailabilitySlot, error)
}

// BookingFinder looks up active bookings overlapping a time range.
type BookingFinder interface {
	FindActiveOverlapping(ctx context.Context, providerID string, start, end time.Time, excludeID string) ([]models.Booking, error)
}

// ConflictValidator detects overlaps between a candidate slot and existing
// slots and active bookings of the same provider. It never mutates state.
type ConflictValidator struct {
	slots    SlotQuerier
	bookings BookingFinder
}

func NewConflictValidator(slots SlotQuerier, bookings BookingFinder) *ConflictValidator {
	return &ConflictValidator{slots: slots, bookings: bookings}
}

// Overlaps is the half-open interval test [aStart,aEnd) ∩ [bStart,bEnd) ≠ ∅.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// FindConflicts returns the active slots overlapping candidate. Templates are
// compared with templates on the same weekday; dated rows with rows on the same date.
func (v *ConflictValidator) FindConflicts(ctx context.Context, candidate models.AvailabilitySlot, excludeID string) ([]models.AvailabilitySlot, error) {
	existing, err := v.scope(ctx, candidate)
	if err != nil {
		return nil, err
	}
	return overlappingSlots(candidate, existing, excludeID), nil
}

// FindBookingConflicts returns active bookings overlapping candidate's time range.
func (v *ConflictValidator) FindBookingConflicts(ctx context.Context, candidate models.AvailabilitySlot, excludeBookingID string) ([]models.Booking, error) {
	bookings, err := v.bookings.FindActiveOverlapping(ctx, candidate.ProviderID, candidate.StartTime, candidate.EndTime, excludeBookingID)
	if err != nil {
		return nil, fmt.Errorf("query overlapping bookings: %w", err)
	}
	return bookings, nil
}

// CheckForConflicts runs both the slot and the booking check and returns a
// Conflict error describing every clash, or nil.
func (v *ConflictValidator) CheckForConflicts(ctx context.Context, candidate models.AvailabilitySlot, excludeID string) error {
	slots, err := v.FindConflicts(ctx, candidate, excludeID)
	if err != nil {
		return err
	}
	bookings, err := v.FindBookingConflicts(ctx, candidate, candidate.BookingID)
	if err != nil {
		return err
	}

	entries := conflictEntries(slots, bookings)
	if len(entries) == 0 {
		return nil
	}
	return apperrors.Conflict(
		fmt.Sprintf("slot %s-%s overlaps %d existing entr%s",
			candidate.StartTime.Format(time.RFC3339), candidate.EndTime.Format(time.RFC3339), len(entries), pluralY(len(entries))),
		conflictDetails(entries, suggestAfter(candidate, entries))...,
	)
}

// ValidateBatch splits candidates into those that can be created and those that
// clash with stored data or with an earlier candidate of the same batch. Each
// conflict carries an advisory suggestion; nothing is applied automatically.
func (v *ConflictValidator) ValidateBatch(ctx context.Context, candidates []models.AvailabilitySlot) ([]models.AvailabilitySlot, []models.SlotConflict, error) {
	var (
		valid     []models.AvailabilitySlot
		validIdx  []int
		conflicts []models.SlotConflict
		scopes    = make(map[string][]models.AvailabilitySlot)
	)

	for i, candidate := range candidates {
		key := scopeKey(candidate)
		existing, ok := scopes[key]
		if !ok {
			var err error
			existing, err = v.scope(ctx, candidate)
			if err != nil {
				return nil, nil, err
			}
			scopes[key] = existing
		}

		slots := overlappingSlots(candidate, existing, "")
		bookings, err := v.FindBookingConflicts(ctx, candidate, "")
		if err != nil {
			return nil, nil, err
		}
		entries := conflictEntries(slots, bookings)
		for j, accepted := range valid {
			if slotsOverlap(candidate, accepted) {
				entries = append(entries, models.ConflictEntry{
					Entity: "batch",
					ID:     fmt.Sprintf("#%d", validIdx[j]),
					Start:  accepted.StartTime,
					End:    accepted.EndTime,
				})
			}
		}

		if len(entries) == 0 {
			valid = append(valid, candidate)
			validIdx = append(validIdx, i)
			continue
		}

		conflict := models.SlotConflict{Spec: SpecOf(candidate), Conflicts: entries}
		if s := suggestAfter(candidate, entries); s != nil {
			suggested := SpecOf(candidate)
			suggested.StartTime = s[0]
			suggested.EndTime = s[1]
			conflict.Suggested = &suggested
		}
		conflicts = append(conflicts, conflict)
	}
	return valid, conflicts, nil
}

func (v *ConflictValidator) scope(ctx context.Context, candidate models.AvailabilitySlot) ([]models.AvailabilitySlot, error) {
	if candidate.IsTemplate() {
		dow := templateWeekday(candidate)
		slots, err := v.slots.GetTemplates(ctx, candidate.ProviderID, &dow)
		if err != nil {
			return nil, fmt.Errorf("query templates: %w", err)
		}
		return slots, nil
	}
	slots, err := v.slots.GetByProviderAndDate(ctx, candidate.ProviderID, candidate.Date)
	if err != nil {
		return nil, fmt.Errorf("query slots on %s: %w", candidate.Date, err)
	}
	return slots, nil
}

func scopeKey(s models.AvailabilitySlot) string {
	if s.IsTemplate() {
		return fmt.Sprintf("%s|dow|%d", s.ProviderID, templateWeekday(s))
	}
	return fmt.Sprintf("%s|date|%s", s.ProviderID, s.Date)
}

func overlappingSlots(candidate models.AvailabilitySlot, existing []models.AvailabilitySlot, excludeID string) []models.AvailabilitySlot {
	var out []models.AvailabilitySlot
	for _, s := range existing {
		if excludeID != "" && s.ID == excludeID {
			continue
		}
		if s.Status != models.SlotStatusActive {
			continue
		}
		if slotsOverlap(candidate, s) {
			out = append(out, s)
		}
	}
	return out
}

// slotsOverlap applies the kind scope: templates compare by weekday and time of
// day, dated rows by date and absolute time.
func slotsOverlap(a, b models.AvailabilitySlot) bool {
	if a.ProviderID != b.ProviderID || a.IsTemplate() != b.IsTemplate() {
		return false
	}
	if a.IsTemplate() {
		if templateWeekday(a) != templateWeekday(b) {
			return false
		}
		bStart, bEnd := AnchorOnDate(b, a.StartTime.In(a.Location()))
		return Overlaps(a.StartTime, a.EndTime, bStart, bEnd)
	}
	return a.Date == b.Date && Overlaps(a.StartTime, a.EndTime, b.StartTime, b.EndTime)
}

func templateWeekday(s models.AvailabilitySlot) int {
	if s.DayOfWeek != nil {
		return *s.DayOfWeek
	}
	return int(s.StartTime.In(s.Location()).Weekday())
}

func conflictEntries(slots []models.AvailabilitySlot, bookings []models.Booking) []models.ConflictEntry {
	entries := make([]models.ConflictEntry, 0, len(slots)+len(bookings))
	for _, s := range slots {
		entries = append(entries, models.ConflictEntry{Entity: "slot", ID: s.ID, Start: s.StartTime, End: s.EndTime})
	}
	for _, b := range bookings {
		entries = append(entries, models.ConflictEntry{Entity: "booking", ID: b.ID, SerialKey: b.SerialKey, Start: b.StartTime, End: b.EndTime})
	}
	return entries
}

// suggestAfter moves candidate to start at the latest conflicting end, keeping its duration.
func suggestAfter(candidate models.AvailabilitySlot, entries []models.ConflictEntry) []time.Time {
	if len(entries) == 0 {
		return nil
	}
	latest := entries[0].End
	for _, e := range entries[1:] {
		if e.End.After(latest) {
			latest = e.End
		}
	}
	if candidate.IsTemplate() {
		// Entries of other templates may sit on another week; keep the time of day only.
		loc := candidate.Location()
		day := candidate.StartTime.In(loc)
		l := latest.In(loc)
		latest = time.Date(day.Year(), day.Month(), day.Day(), l.Hour(), l.Minute(), 0, 0, loc)
	}
	duration := candidate.EndTime.Sub(candidate.StartTime)
	return []time.Time{latest, latest.Add(duration)}
}

func conflictDetails(entries []models.ConflictEntry, suggestion []time.Time) []apperrors.ConflictDetail {
	details := make([]apperrors.ConflictDetail, len(entries))
	for i, e := range entries {
		details[i] = apperrors.ConflictDetail{
			Entity:    e.Entity,
			ID:        e.ID,
			SerialKey: e.SerialKey,
			Start:     e.Start,
			End:       e.End,
		}
		if suggestion != nil {
			start, end := suggestion[0], suggestion[1]
			details[i].SuggestedStart = &start
			details[i].SuggestedEnd = &end
		}
	}
	return details
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
