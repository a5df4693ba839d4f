package availability

import (
	"context"
	"testing"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlaps(t *testing.T) {
	at := func(h, m int) time.Time { return clockAt("2025-03-14", h, m) }
	tests := []struct {
		name       string
		a, b       [2]time.Time
		wantResult bool
	}{
		{name: "identical", a: [2]time.Time{at(9, 0), at(10, 0)}, b: [2]time.Time{at(9, 0), at(10, 0)}, wantResult: true},
		{name: "partial", a: [2]time.Time{at(9, 0), at(10, 0)}, b: [2]time.Time{at(9, 30), at(10, 30)}, wantResult: true},
		{name: "contained", a: [2]time.Time{at(9, 0), at(12, 0)}, b: [2]time.Time{at(10, 0), at(11, 0)}, wantResult: true},
		{name: "touching end", a: [2]time.Time{at(9, 0), at(10, 0)}, b: [2]time.Time{at(10, 0), at(11, 0)}, wantResult: false},
		{name: "touching start", a: [2]time.Time{at(10, 0), at(11, 0)}, b: [2]time.Time{at(9, 0), at(10, 0)}, wantResult: false},
		{name: "disjoint", a: [2]time.Time{at(9, 0), at(10, 0)}, b: [2]time.Time{at(13, 0), at(14, 0)}, wantResult: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlaps(tt.a[0], tt.a[1], tt.b[0], tt.b[1])
			assert.Equal(t, tt.wantResult, got)
			assert.Equal(t, got, Overlaps(tt.b[0], tt.b[1], tt.a[0], tt.a[1]), "overlap is symmetric")
		})
	}
}

func TestFindConflictsScopesByKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewConflictValidator(f.slots, f.bookings)

	tmpl := f.template("p1", "2025-03-13", 7, 8)
	dated := f.dated("p1", models.SlotKindOneOff, "2025-03-13", 7, 8)

	// Another Thursday template at an overlapping time of day, anchored a week later.
	dow := int(time.Thursday)
	candidate := models.AvailabilitySlot{
		ProviderID: "p1", Kind: models.SlotKindRecurring, DayOfWeek: &dow,
		StartTime: clockAt("2025-03-20", 7, 30), EndTime: clockAt("2025-03-20", 8, 30),
		Timezone: "UTC", Status: models.SlotStatusActive,
	}
	got, err := v.FindConflicts(ctx, candidate, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tmpl.ID, got[0].ID, "templates only clash with templates")

	// The same template excluded by id does not clash with itself.
	got, err = v.FindConflicts(ctx, tmpl, tmpl.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	oneOff := models.AvailabilitySlot{
		ProviderID: "p1", Kind: models.SlotKindOneOff, Date: "2025-03-13",
		StartTime: clockAt("2025-03-13", 7, 30), EndTime: clockAt("2025-03-13", 8, 30),
		Status: models.SlotStatusActive,
	}
	got, err = v.FindConflicts(ctx, oneOff, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, dated.ID, got[0].ID, "dated rows only clash with dated rows")
}

func TestFindConflictsIgnoresInactiveSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewConflictValidator(f.slots, f.bookings)

	old := f.dated("p1", models.SlotKindOneOff, "2025-03-14", 9, 10)
	old.Status = models.SlotStatusCancelled
	f.slots.Put(old)

	candidate := models.AvailabilitySlot{
		ProviderID: "p1", Kind: models.SlotKindOneOff, Date: "2025-03-14",
		StartTime: clockAt("2025-03-14", 9, 0), EndTime: clockAt("2025-03-14", 10, 0),
		Status: models.SlotStatusActive,
	}
	assert.NoError(t, v.CheckForConflicts(ctx, candidate, ""))
}

func TestCheckForConflictsIgnoresInactiveBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewConflictValidator(f.slots, f.bookings)

	for i, st := range []models.BookingStatus{models.BookingStatusCancelled, models.BookingStatusCompleted, models.BookingStatusNoShow} {
		require.NoError(t, f.bookings.Create(ctx, &models.Booking{
			ID: string(st), ProviderID: "p1", SerialKey: "BK-" + string(rune('A'+i)),
			StartTime: clockAt("2025-03-14", 9, 0), EndTime: clockAt("2025-03-14", 10, 0), Status: st,
		}))
	}
	candidate := models.AvailabilitySlot{
		ProviderID: "p1", Kind: models.SlotKindOneOff, Date: "2025-03-14",
		StartTime: clockAt("2025-03-14", 9, 0), EndTime: clockAt("2025-03-14", 10, 0),
		Status: models.SlotStatusActive,
	}
	assert.NoError(t, v.CheckForConflicts(ctx, candidate, ""))

	require.NoError(t, f.bookings.Create(ctx, &models.Booking{
		ID: "pending", ProviderID: "p1", SerialKey: "BK-P",
		StartTime: clockAt("2025-03-14", 9, 30), EndTime: clockAt("2025-03-14", 10, 30), Status: models.BookingStatusPending,
	}))
	err := v.CheckForConflicts(ctx, candidate, "")
	require.True(t, apperrors.IsConflict(err))
	assert.Equal(t, "BK-P", apperrors.ConflictsOf(err)[0].SerialKey)
}

func TestValidateBatchAcrossWeekdays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := NewConflictValidator(f.slots, f.bookings)

	mk := func(date string, fromH, toH int) models.AvailabilitySlot {
		start := clockAt(date, fromH, 0)
		dow := int(start.Weekday())
		return models.AvailabilitySlot{
			ProviderID: "p1", Kind: models.SlotKindRecurring, DayOfWeek: &dow,
			StartTime: start, EndTime: clockAt(date, toH, 0),
			Timezone: "UTC", Status: models.SlotStatusActive,
		}
	}

	valid, conflicts, err := v.ValidateBatch(ctx, []models.AvailabilitySlot{
		mk("2025-03-13", 9, 10), // Thursday
		mk("2025-03-14", 9, 10), // Friday, same time of day
		mk("2025-03-20", 9, 10), // Thursday again, a week later
	})
	require.NoError(t, err)
	assert.Len(t, valid, 2)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "batch", conflicts[0].Conflicts[0].Entity)
	assert.Equal(t, "#0", conflicts[0].Conflicts[0].ID)
}
