// File: services/availability/generator.go
package availability

import (
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/models"
)

const (
	DefaultWorkStart    = "08:00"
	DefaultWorkEnd      = "20:00"
	DefaultBreakMinutes = 15
	MinSlotMinutes      = 15
)

// GenerateOptions tunes how a working day is partitioned into slots.
type GenerateOptions struct {
	WorkStart      string         `json:"workStart,omitempty"` // "HH:MM", default 08:00
	WorkEnd        string         `json:"workEnd,omitempty"`   // "HH:MM", default 20:00
	MinutesPerSlot int            `json:"minutesPerSlot,omitempty"`
	BreakMinutes   *int           `json:"breakMinutes,omitempty"` // default 15
	IsRecurring    bool           `json:"isRecurring,omitempty"`
	DayOfWeek      *int           `json:"dayOfWeek,omitempty"`
	MaxBookings    int            `json:"maxBookings,omitempty"`
	Timezone       string         `json:"timezone,omitempty"`
	Location       *time.Location `json:"-"`
}

func (o GenerateOptions) breakMinutes() int {
	if o.BreakMinutes == nil || *o.BreakMinutes < 0 {
		return DefaultBreakMinutes
	}
	return *o.BreakMinutes
}

func (o GenerateOptions) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.UTC
}

// Generate partitions the working window of date into count slots separated by
// break gaps. When MinutesPerSlot is set the count is derived from it instead.
// Slots never drop below MinSlotMinutes; the generator does no conflict checking.
func Generate(providerID, date string, count int, opts GenerateOptions) ([]models.SlotSpec, error) {
	loc := opts.location()
	day, err := time.ParseInLocation(models.DateLayout, date, loc)
	if err != nil {
		return nil, apperrors.BadRequest("invalid date %q: expected YYYY-MM-DD", date)
	}

	dayOfWeek := int(day.Weekday())
	if opts.IsRecurring && opts.DayOfWeek != nil {
		if *opts.DayOfWeek < 0 || *opts.DayOfWeek > 6 {
			return nil, apperrors.BadRequest("dayOfWeek must be between 0 and 6, got %d", *opts.DayOfWeek)
		}
		day = AlignToWeekday(day, time.Weekday(*opts.DayOfWeek))
		dayOfWeek = *opts.DayOfWeek
	}

	windowStart, windowEnd, err := workingWindow(day, opts)
	if err != nil {
		return nil, err
	}

	windowMinutes := int(windowEnd.Sub(windowStart) / time.Minute)
	breakTime := opts.breakMinutes()

	count, timePerSlot, err := partition(windowMinutes, count, opts.MinutesPerSlot, breakTime)
	if err != nil {
		return nil, err
	}

	kind := models.SlotKindOneOff
	slotDate := day.Format(models.DateLayout)
	var dow *int
	if opts.IsRecurring {
		kind = models.SlotKindRecurring
		slotDate = ""
		d := dayOfWeek
		dow = &d
	}

	specs := make([]models.SlotSpec, 0, count)
	cursor := windowStart
	for i := 0; i < count; i++ {
		start := cursor
		end := start.Add(time.Duration(timePerSlot) * time.Minute)
		specs = append(specs, models.SlotSpec{
			ProviderID:      providerID,
			Kind:            kind,
			DayOfWeek:       dow,
			Date:            slotDate,
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: timePerSlot,
			MaxBookings:     opts.MaxBookings,
			Timezone:        loc.String(),
		})
		cursor = end.Add(time.Duration(breakTime) * time.Minute)
	}
	return specs, nil
}

// partition resolves the slot count and whole-minute slot length for a window.
func partition(windowMinutes, count, minutesPerSlot, breakTime int) (int, int, error) {
	if minutesPerSlot > 0 {
		count = (windowMinutes + breakTime) / (minutesPerSlot + breakTime)
		if count < 1 {
			count = 1
		}
	}
	if count < 1 {
		return 0, 0, apperrors.BadRequest("slot count must be at least 1")
	}

	timePerSlot := (windowMinutes - (count-1)*breakTime) / count
	if timePerSlot < MinSlotMinutes {
		count = (windowMinutes + breakTime) / (MinSlotMinutes + breakTime)
		timePerSlot = MinSlotMinutes
	}
	if count < 1 {
		return 0, 0, apperrors.BadRequest("working window of %d minutes is shorter than the %d minute minimum slot", windowMinutes, MinSlotMinutes)
	}
	return count, timePerSlot, nil
}

func workingWindow(day time.Time, opts GenerateOptions) (time.Time, time.Time, error) {
	startClock := opts.WorkStart
	if startClock == "" {
		startClock = DefaultWorkStart
	}
	endClock := opts.WorkEnd
	if endClock == "" {
		endClock = DefaultWorkEnd
	}

	start, err := atClock(day, startClock)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := atClock(day, endClock)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, apperrors.BadRequest("working hours end %s must be after start %s", endClock, startClock)
	}
	return start, end, nil
}

// atClock places an "HH:MM" wall-clock time on day, in day's location.
func atClock(day time.Time, clock string) (time.Time, error) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return time.Time{}, apperrors.BadRequest("invalid time of day %q: expected HH:MM", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

// AlignToWeekday advances day (kept at its time of day) to the first date on or after it that falls on wd.
func AlignToWeekday(day time.Time, wd time.Weekday) time.Time {
	delta := (int(wd) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, delta)
}
