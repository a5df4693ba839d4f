package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"slotkeeper/database"
	"slotkeeper/internal/testutil/memstore"
	"slotkeeper/models"
	"slotkeeper/services/idempotency"
	"slotkeeper/utils"

	"go.uber.org/zap/zaptest"
)

// Monday 2025-03-10 12:00 UTC.
var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *utils.FixedClock
	slots    *memstore.SlotRepo
	bookings *memstore.BookingRepo
	cache    *utils.MemoryCache
	store    *Store
	mat      *Materializer
	svc      *DefaultAvailabilityService
	events   *eventLog
}

type slotEvent struct {
	hook       models.EventType
	providerID string
	payload    models.EventPayload
}

// eventLog records slot events and accepts every booking notification.
type eventLog struct {
	mu     sync.Mutex
	events []slotEvent
}

func (l *eventLog) record(t models.EventType, providerID string, p models.EventPayload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, slotEvent{hook: t, providerID: providerID, payload: p})
	return nil
}

func (l *eventLog) of(t models.EventType) []slotEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []slotEvent
	for _, e := range l.events {
		if e.hook == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func (l *eventLog) NotifyCreated(_ context.Context, providerID string, p models.EventPayload) error {
	return l.record(models.EventCreated, providerID, p)
}

func (l *eventLog) NotifyBooked(_ context.Context, providerID string, p models.EventPayload) error {
	return l.record(models.EventBooked, providerID, p)
}

func (l *eventLog) NotifyUnbooked(_ context.Context, providerID string, p models.EventPayload) error {
	return l.record(models.EventUnbooked, providerID, p)
}

func (l *eventLog) NotifyUpdated(_ context.Context, providerID string, p models.EventPayload) error {
	return l.record(models.EventUpdated, providerID, p)
}

func (l *eventLog) NotifyDeleted(_ context.Context, providerID string, p models.EventPayload) error {
	return l.record(models.EventDeleted, providerID, p)
}

func (l *eventLog) NotifyBookingConfirmation(context.Context, models.Booking, string) error {
	return nil
}

func (l *eventLog) NotifyBookingCancellation(context.Context, models.Booking, string) error {
	return nil
}

func (l *eventLog) NotifyBookingCompletion(context.Context, models.Booking, string) error {
	return nil
}

func (l *eventLog) NotifyBookingModified(context.Context, models.Booking, string, []string) error {
	return nil
}

func (l *eventLog) NotifySeriesSummary(context.Context, []models.Booking, string) error {
	return nil
}

func (l *eventLog) ScheduleReminder(context.Context, models.Booking, time.Time) error {
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		clock:    utils.NewFixedClock(testNow),
		slots:    memstore.NewSlotRepo(),
		bookings: memstore.NewBookingRepo(),
		events:   &eventLog{},
	}
	f.cache = utils.NewMemoryCache(f.clock)
	f.store = NewStore(f.slots, f.cache, time.Minute, f.clock, 0, time.UTC, logger)
	f.mat = NewMaterializer(f.slots, f.clock, 0, logger)
	f.svc = &DefaultAvailabilityService{
		Store:        f.store,
		Validator:    NewConflictValidator(f.slots, f.bookings),
		Materializer: f.mat,
		Bookings:     f.bookings,
		Idempotency:  idempotency.New(f.cache, time.Minute, logger),
		Transactor:   database.NoopTransactor{},
		Hooks:        f.events,
		Clock:        f.clock,
		Location:     time.UTC,
		Logger:       logger,
	}
	return f
}

func oneOff(providerID, date string, fromH, fromM, toH, toM int) models.SlotSpec {
	return models.SlotSpec{
		ProviderID: providerID,
		Kind:       models.SlotKindOneOff,
		StartTime:  clockAt(date, fromH, fromM),
		EndTime:    clockAt(date, toH, toM),
	}
}

func recurring(providerID, date string, fromH, toH int) models.SlotSpec {
	return models.SlotSpec{
		ProviderID: providerID,
		Kind:       models.SlotKindRecurring,
		StartTime:  clockAt(date, fromH, 0),
		EndTime:    clockAt(date, toH, 0),
	}
}

// template stores a RECURRING template without generating forward rows.
func (f *fixture) template(providerID, date string, fromH, toH int) models.AvailabilitySlot {
	start := clockAt(date, fromH, 0)
	dow := int(start.Weekday())
	return f.slots.Put(models.AvailabilitySlot{
		ProviderID:      providerID,
		Kind:            models.SlotKindRecurring,
		DayOfWeek:       &dow,
		StartTime:       start,
		EndTime:         clockAt(date, toH, 0),
		DurationMinutes: (toH - fromH) * 60,
		Timezone:        "UTC",
		MaxBookings:     1,
		Status:          models.SlotStatusActive,
	})
}

func (f *fixture) dated(providerID string, kind models.SlotKind, date string, fromH, toH int) models.AvailabilitySlot {
	return f.slots.Put(models.AvailabilitySlot{
		ProviderID:      providerID,
		Kind:            kind,
		Date:            date,
		StartTime:       clockAt(date, fromH, 0),
		EndTime:         clockAt(date, toH, 0),
		DurationMinutes: (toH - fromH) * 60,
		Timezone:        "UTC",
		MaxBookings:     1,
		Status:          models.SlotStatusActive,
	})
}
