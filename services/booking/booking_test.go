package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/database"
	availabilityRepo "slotkeeper/database/repository/availability"
	"slotkeeper/internal/testutil/memstore"
	"slotkeeper/models"
	"slotkeeper/services/availability"
	"slotkeeper/services/idempotency"
	"slotkeeper/utils"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap/zaptest"
)

var errWriteConflict = mongo.CommandError{
	Code:   112,
	Name:   "WriteConflict",
	Labels: []string{"TransientTransactionError"},
}

// conflictingSlots fails inserts and reservations with a server write
// conflict, as a replica set does when two transactions race on a slot.
type conflictingSlots struct {
	availabilityRepo.AvailabilityRepository
}

func (conflictingSlots) Create(context.Context, *models.AvailabilitySlot) error {
	return fmt.Errorf("insert slot: %w", errWriteConflict)
}

func (conflictingSlots) MarkBooked(context.Context, string, string) error {
	return fmt.Errorf("reserve slot: %w", errWriteConflict)
}

type mockHooks struct {
	mock.Mock
}

func (m *mockHooks) NotifyCreated(ctx context.Context, providerID string, p models.EventPayload) error {
	return m.Called(ctx, providerID, p).Error(0)
}

func (m *mockHooks) NotifyBooked(ctx context.Context, providerID string, p models.EventPayload) error {
	return m.Called(ctx, providerID, p).Error(0)
}

func (m *mockHooks) NotifyUnbooked(ctx context.Context, providerID string, p models.EventPayload) error {
	return m.Called(ctx, providerID, p).Error(0)
}

func (m *mockHooks) NotifyUpdated(ctx context.Context, providerID string, p models.EventPayload) error {
	return m.Called(ctx, providerID, p).Error(0)
}

func (m *mockHooks) NotifyDeleted(ctx context.Context, providerID string, p models.EventPayload) error {
	return m.Called(ctx, providerID, p).Error(0)
}

func (m *mockHooks) NotifyBookingConfirmation(ctx context.Context, b models.Booking, recipient string) error {
	return m.Called(ctx, b, recipient).Error(0)
}

func (m *mockHooks) NotifyBookingCancellation(ctx context.Context, b models.Booking, recipient string) error {
	return m.Called(ctx, b, recipient).Error(0)
}

func (m *mockHooks) NotifyBookingCompletion(ctx context.Context, b models.Booking, recipient string) error {
	return m.Called(ctx, b, recipient).Error(0)
}

func (m *mockHooks) NotifyBookingModified(ctx context.Context, b models.Booking, recipient string, changed []string) error {
	return m.Called(ctx, b, recipient, changed).Error(0)
}

func (m *mockHooks) NotifySeriesSummary(ctx context.Context, bookings []models.Booking, recipient string) error {
	return m.Called(ctx, bookings, recipient).Error(0)
}

func (m *mockHooks) ScheduleReminder(ctx context.Context, b models.Booking, fireAt time.Time) error {
	return m.Called(ctx, b, fireAt).Error(0)
}

// allow accepts every hook call, answering with err.
func (m *mockHooks) allow(err error) *mockHooks {
	for _, method := range []string{"NotifyCreated", "NotifyBooked", "NotifyUnbooked", "NotifyUpdated", "NotifyDeleted"} {
		m.On(method, mock.Anything, mock.Anything, mock.Anything).Return(err).Maybe()
	}
	for _, method := range []string{"NotifyBookingConfirmation", "NotifyBookingCancellation", "NotifyBookingCompletion", "NotifySeriesSummary", "ScheduleReminder"} {
		m.On(method, mock.Anything, mock.Anything, mock.Anything).Return(err).Maybe()
	}
	m.On("NotifyBookingModified", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(err).Maybe()
	return m
}

// sent counts calls of method addressed to recipient.
func (m *mockHooks) sent(method, recipient string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == method && c.Arguments.String(2) == recipient {
			n++
		}
	}
	return n
}

func (m *mockHooks) count(method string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

const (
	autoProvider   = "p-auto"
	manualProvider = "p-manual"
	autoEmail      = "studio@example.com"
	manualEmail    = "clinic@example.com"
	guestEmail     = "guest@example.com"
)

// Monday 2025-03-10 12:00 UTC.
var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func at(date string, hour, min int) time.Time {
	d, _ := time.Parse(models.DateLayout, date)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, time.UTC)
}

type BookingServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *utils.FixedClock
	slots    *memstore.SlotRepo
	bookings *memstore.BookingRepo
	hooks    *mockHooks
	svc      *DefaultBookingService
}

func TestBookingServiceSuite(t *testing.T) {
	suite.Run(t, new(BookingServiceTestSuite))
}

func (s *BookingServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := zaptest.NewLogger(s.T())

	s.clock = utils.NewFixedClock(testNow)
	s.slots = memstore.NewSlotRepo()
	s.bookings = memstore.NewBookingRepo()
	providers := memstore.NewProviderRepo(
		models.Provider{ID: autoProvider, Profile: models.Profile{ProviderName: "Studio", Email: autoEmail}},
		models.Provider{
			ID:          manualProvider,
			Profile:     models.Profile{ProviderName: "Clinic", Email: manualEmail},
			Preferences: models.Preferences{BookingApprovalMode: models.ApprovalModeManual},
		},
	)
	s.hooks = new(mockHooks).allow(nil)

	cache := utils.NewMemoryCache(s.clock)
	s.svc = &DefaultBookingService{
		Bookings:           s.bookings,
		Providers:          providers,
		Slots:              availability.NewStore(s.slots, cache, time.Minute, s.clock, 0, time.UTC, logger),
		Materializer:       availability.NewMaterializer(s.slots, s.clock, 0, logger),
		Transactor:         database.NoopTransactor{},
		Idempotency:        idempotency.New(cache, time.Minute, logger),
		Hooks:              s.hooks,
		Clock:              s.clock,
		Location:           time.UTC,
		ReminderLead:       24 * time.Hour,
		SeriesDefaultWeeks: 4,
		Logger:             logger,
	}
}

func (s *BookingServiceTestSuite) template(providerID, date string, fromH, toH int) models.AvailabilitySlot {
	start := at(date, fromH, 0)
	dow := int(start.Weekday())
	return s.slots.Put(models.AvailabilitySlot{
		ProviderID:      providerID,
		Kind:            models.SlotKindRecurring,
		DayOfWeek:       &dow,
		StartTime:       start,
		EndTime:         at(date, toH, 0),
		DurationMinutes: (toH - fromH) * 60,
		Timezone:        "UTC",
		MaxBookings:     1,
		Status:          models.SlotStatusActive,
	})
}

func (s *BookingServiceTestSuite) oneOff(providerID, date string, fromH, toH int) models.AvailabilitySlot {
	return s.slots.Put(models.AvailabilitySlot{
		ProviderID:      providerID,
		Kind:            models.SlotKindOneOff,
		Date:            date,
		StartTime:       at(date, fromH, 0),
		EndTime:         at(date, toH, 0),
		DurationMinutes: (toH - fromH) * 60,
		Timezone:        "UTC",
		MaxBookings:     1,
		Status:          models.SlotStatusActive,
	})
}

func request(providerID string, ref models.SlotRef, start, end time.Time, guest string) models.CreateBookingRequest {
	return models.CreateBookingRequest{
		ProviderID: providerID,
		Slot:       ref,
		GuestName:  guest,
		GuestEmail: guestEmail,
		StartTime:  start,
		EndTime:    end,
	}
}

func (s *BookingServiceTestSuite) book(req models.CreateBookingRequest) models.Booking {
	res, err := s.svc.CreateBooking(s.ctx, req)
	s.Require().NoError(err)
	s.Require().Len(res.Bookings, 1)
	return res.Bookings[0]
}

// ================================================================================
// Single bookings
// ================================================================================

func (s *BookingServiceTestSuite) TestBookingAMaterializedInstanceTwiceConflicts() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)
	ref := models.RecurringInstanceRef(tmpl.ID, "2025-03-20")

	first := s.book(request(autoProvider, ref, at("2025-03-20", 7, 0), at("2025-03-20", 8, 0), "Ann"))
	s.Equal(models.BookingStatusConfirmed, first.Status)
	s.Regexp(`^BK-20250320-[0-9A-F]{8}$`, first.SerialKey)

	slot, err := s.slots.GetByID(s.ctx, first.AvailabilityID)
	s.Require().NoError(err)
	s.True(slot.IsBooked)
	s.Equal(first.ID, slot.BookingID)
	s.Equal(tmpl.ID, slot.TemplateID)
	s.Equal("2025-03-20", slot.Date)

	_, err = s.svc.CreateBooking(s.ctx, request(autoProvider, ref, at("2025-03-20", 7, 0), at("2025-03-20", 8, 0), "Bob"))
	s.Require().True(apperrors.IsConflict(err), "got %v", err)
	s.Contains(err.Error(), first.SerialKey)
	details := apperrors.ConflictsOf(err)
	s.Require().NotEmpty(details)
	s.Equal(first.SerialKey, details[0].SerialKey)

	s.Len(s.bookings.All(), 1)
}

func (s *BookingServiceTestSuite) TestWriteConflictWhileMaterializingIsAConflict() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)
	s.svc.Materializer = availability.NewMaterializer(conflictingSlots{s.slots}, s.clock, 0, zaptest.NewLogger(s.T()))

	ref := models.RecurringInstanceRef(tmpl.ID, "2025-03-20")
	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, ref, at("2025-03-20", 7, 0), at("2025-03-20", 8, 0), "Ann"))
	s.Require().Error(err)
	s.True(apperrors.IsConflict(err), "got %v", err)
	s.Empty(s.bookings.All())
	s.Len(s.slots.All(), 1)
}

func (s *BookingServiceTestSuite) TestWriteConflictWhileReservingIsAConflict() {
	slot := s.oneOff(autoProvider, "2025-03-20", 9, 10)
	s.svc.Slots = availability.NewStore(conflictingSlots{s.slots}, utils.NewMemoryCache(s.clock), time.Minute, s.clock, 0, time.UTC, zaptest.NewLogger(s.T()))

	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, models.PersistedRef(slot.ID), at("2025-03-20", 9, 0), at("2025-03-20", 10, 0), "Ann"))
	s.Require().Error(err)
	s.True(apperrors.IsConflict(err), "got %v", err)
	s.Empty(s.bookings.All(), "the inserted booking is rolled back")

	stored, err := s.slots.GetByID(s.ctx, slot.ID)
	s.Require().NoError(err)
	s.False(stored.IsBooked)
}

func (s *BookingServiceTestSuite) TestManualApprovalProviderCreatesPending() {
	tmpl := s.template(manualProvider, "2025-03-13", 7, 8)
	ref := models.RecurringInstanceRef(tmpl.ID, "2025-03-20")

	b := s.book(request(manualProvider, ref, at("2025-03-20", 7, 0), at("2025-03-20", 8, 0), "Ann"))
	s.Equal(models.BookingStatusPending, b.Status)

	s.Equal(1, s.hooks.sent("NotifyBookingConfirmation", manualEmail), "provider hears about the request")
	s.Equal(0, s.hooks.sent("NotifyBookingConfirmation", guestEmail), "guest waits for approval")
	s.Equal(0, s.hooks.count("ScheduleReminder"))
}

func (s *BookingServiceTestSuite) TestWrongWeekdayIsRejected() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)
	ref := models.RecurringInstanceRef(tmpl.ID, "2025-03-19")

	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, ref, at("2025-03-19", 7, 0), at("2025-03-19", 8, 0), "Ann"))
	s.Require().True(apperrors.IsBadRequest(err), "got %v", err)
	s.Contains(err.Error(), "2025-03-19")
	s.Contains(err.Error(), "Wednesday")
	s.Contains(err.Error(), "Thursday")
	s.Empty(s.bookings.All())
	s.Len(s.slots.All(), 1, "nothing is materialized")
}

func (s *BookingServiceTestSuite) TestBookingTemplateByIDUsesStartDate() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)

	b := s.book(request(autoProvider, models.PersistedRef(tmpl.ID), at("2025-03-27", 7, 0), at("2025-03-27", 8, 0), "Ann"))
	s.NotEqual(tmpl.ID, b.AvailabilityID)
	s.Equal(at("2025-03-27", 7, 0), b.StartTime)

	stored, err := s.slots.GetByID(s.ctx, tmpl.ID)
	s.Require().NoError(err)
	s.False(stored.IsBooked, "the template itself is never booked")
}

func (s *BookingServiceTestSuite) TestRequestMustMatchSlotTimes() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)

	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, models.PersistedRef(slot.ID), at("2025-03-14", 9, 30), at("2025-03-14", 10, 30), "Ann"))
	s.True(apperrors.IsBadRequest(err), "got %v", err)
	s.Empty(s.bookings.All())
}

func (s *BookingServiceTestSuite) TestCreateBookingValidation() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	valid := request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann")

	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingRequest)
		check  func(error) bool
	}{
		{"missing provider", func(r *models.CreateBookingRequest) { r.ProviderID = "" }, apperrors.IsBadRequest},
		{"missing slot", func(r *models.CreateBookingRequest) { r.Slot = models.SlotRef{} }, apperrors.IsBadRequest},
		{"missing guest email", func(r *models.CreateBookingRequest) { r.GuestEmail = "" }, apperrors.IsBadRequest},
		{"inverted range", func(r *models.CreateBookingRequest) { r.StartTime, r.EndTime = r.EndTime, r.StartTime }, apperrors.IsBadRequest},
		{"unknown provider", func(r *models.CreateBookingRequest) { r.ProviderID = "ghost" }, apperrors.IsNotFound},
		{"unknown slot", func(r *models.CreateBookingRequest) { r.Slot = models.PersistedRef("ghost") }, apperrors.IsNotFound},
		{"slot of another provider", func(r *models.CreateBookingRequest) { r.ProviderID = manualProvider }, apperrors.IsNotFound},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := valid
			tt.mutate(&req)
			_, err := s.svc.CreateBooking(s.ctx, req)
			s.True(tt.check(err), "got %v", err)
		})
	}
	s.Empty(s.bookings.All())
}

func (s *BookingServiceTestSuite) TestCancelledSlotCannotBeBooked() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	slot.Status = models.SlotStatusCancelled
	s.slots.Put(slot)

	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))
	s.True(apperrors.IsConflict(err), "got %v", err)
}

func (s *BookingServiceTestSuite) TestOverlappingBookingOnAnotherSlotConflicts() {
	a := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	b := s.slots.Put(models.AvailabilitySlot{
		ProviderID: autoProvider, Kind: models.SlotKindRecurring, Date: "2025-03-14",
		StartTime: at("2025-03-14", 9, 0), EndTime: at("2025-03-14", 10, 0),
		DurationMinutes: 60, Status: models.SlotStatusActive,
	})
	first := s.book(request(autoProvider, models.PersistedRef(a.ID), a.StartTime, a.EndTime, "Ann"))

	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, models.PersistedRef(b.ID), b.StartTime, b.EndTime, "Bob"))
	s.Require().True(apperrors.IsConflict(err))
	s.Contains(err.Error(), first.SerialKey)
}

func (s *BookingServiceTestSuite) TestConcurrentBookingsOfOneSlot() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	const racers = 12

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []models.Booking
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := s.svc.CreateBooking(s.ctx, request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Guest"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, res.Bookings[0])
			case apperrors.IsConflict(err):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	s.Empty(others)
	s.Require().Len(winners, 1)
	s.Equal(racers-1, conflicts)

	stored := s.bookings.All()
	s.Require().Len(stored, 1, "losing attempts leave no booking behind")
	s.Equal(winners[0].ID, stored[0].ID)

	held, err := s.slots.GetByID(s.ctx, slot.ID)
	s.Require().NoError(err)
	s.Equal(winners[0].ID, held.BookingID)
}

func (s *BookingServiceTestSuite) TestFallbackCompensatesFailedReservation() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	s.slots.MarkBookedErr = errors.New("connection reset")

	_, err := s.svc.CreateBooking(s.ctx, request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))
	s.Require().Error(err)
	s.Equal(apperrors.KindInternal, apperrors.KindOf(err))
	s.Empty(s.bookings.All(), "the inserted booking is rolled back by compensation")
	s.Equal(0, s.hooks.count("NotifyBooked"))
}

func (s *BookingServiceTestSuite) TestHookFailuresDoNotFailTheBooking() {
	s.hooks = new(mockHooks).allow(errors.New("queue down"))
	s.svc.Hooks = s.hooks
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)

	b := s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))
	s.Equal(models.BookingStatusConfirmed, b.Status)
	s.Equal(1, s.hooks.count("NotifyBooked"))
}

func (s *BookingServiceTestSuite) TestConfirmedBookingNotifiesAndSchedulesReminder() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	b := s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))

	s.Equal(1, s.hooks.count("NotifyCreated"))
	s.Equal(1, s.hooks.count("NotifyBooked"))
	s.hooks.AssertCalled(s.T(), "NotifyCreated", mock.Anything, autoProvider, mock.MatchedBy(func(p models.EventPayload) bool {
		return p.BookingID == b.ID && p.SerialKey == b.SerialKey && len(p.SlotIDs) == 1 && p.SlotIDs[0] == slot.ID
	}))
	s.Equal(1, s.hooks.sent("NotifyBookingConfirmation", guestEmail))
	s.Equal(1, s.hooks.sent("NotifyBookingConfirmation", autoEmail))
	s.hooks.AssertCalled(s.T(), "ScheduleReminder", mock.Anything, mock.MatchedBy(func(got models.Booking) bool {
		return got.ID == b.ID
	}), at("2025-03-13", 9, 0))
}

func (s *BookingServiceTestSuite) TestNoReminderInsideLeadTime() {
	slot := s.oneOff(autoProvider, "2025-03-10", 20, 21)
	s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))
	s.Equal(0, s.hooks.count("ScheduleReminder"))
}

func (s *BookingServiceTestSuite) TestIdempotentCreateReplays() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	req := request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann")
	req.IdempotencyKey = "checkout-42"

	first, err := s.svc.CreateBooking(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.svc.CreateBooking(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(first.Bookings[0].ID, second.Bookings[0].ID)
	s.Equal(first.Bookings[0].SerialKey, second.Bookings[0].SerialKey)
	s.Len(s.bookings.All(), 1)
	s.Equal(1, s.hooks.count("NotifyBooked"))

	other := req
	other.GuestName = "Someone else"
	_, err = s.svc.CreateBooking(s.ctx, other)
	s.True(apperrors.IsConflict(err))
}

// ================================================================================
// Updates
// ================================================================================

func (s *BookingServiceTestSuite) TestApprovingPendingBookingConfirmsGuestOnce() {
	slot := s.oneOff(manualProvider, "2025-03-14", 9, 10)
	b := s.book(request(manualProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))
	s.Require().Equal(models.BookingStatusPending, b.Status)

	confirmed := models.BookingStatusConfirmed
	updated, err := s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{Status: &confirmed})
	s.Require().NoError(err)
	s.Equal(models.BookingStatusConfirmed, updated.Status)

	// Repeating the same status is a no-op.
	_, err = s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{Status: &confirmed})
	s.Require().NoError(err)

	s.Equal(1, s.hooks.sent("NotifyBookingConfirmation", guestEmail))
	s.Equal(1, s.hooks.count("ScheduleReminder"))
}

func (s *BookingServiceTestSuite) TestCancellingReleasesSlot() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	b := s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))

	cancelled := models.BookingStatusCancelled
	updated, err := s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{Status: &cancelled})
	s.Require().NoError(err)
	s.Equal(models.BookingStatusCancelled, updated.Status)

	released, err := s.slots.GetByID(s.ctx, slot.ID)
	s.Require().NoError(err)
	s.False(released.IsBooked)
	s.Empty(released.BookingID)

	s.Equal(1, s.hooks.sent("NotifyBookingCancellation", guestEmail))
	s.Equal(1, s.hooks.sent("NotifyBookingCancellation", autoEmail))
	s.Equal(1, s.hooks.count("NotifyUnbooked"))

	// The slot is bookable again.
	again := s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Bob"))
	s.NotEqual(b.ID, again.ID)

	confirmed := models.BookingStatusConfirmed
	_, err = s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{Status: &confirmed})
	s.True(apperrors.IsBadRequest(err), "cancelled is terminal")
}

func (s *BookingServiceTestSuite) TestCompletingNotifiesGuest() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	b := s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))

	completed := models.BookingStatusCompleted
	_, err := s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{Status: &completed})
	s.Require().NoError(err)
	s.Equal(1, s.hooks.sent("NotifyBookingCompletion", guestEmail))

	held, err := s.slots.GetByID(s.ctx, slot.ID)
	s.Require().NoError(err)
	s.True(held.IsBooked, "completion keeps the slot booked")
}

func (s *BookingServiceTestSuite) TestFieldUpdates() {
	slot := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	b := s.book(request(autoProvider, models.PersistedRef(slot.ID), slot.StartTime, slot.EndTime, "Ann"))

	name, notes := "Ann Smith", "window seat"
	updated, err := s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{GuestName: &name, Notes: &notes})
	s.Require().NoError(err)
	s.Equal("Ann Smith", updated.GuestName)
	s.Equal("window seat", updated.Notes)
	s.hooks.AssertCalled(s.T(), "NotifyBookingModified", mock.Anything, mock.Anything, guestEmail, []string{"guestName", "notes"})
	s.hooks.AssertCalled(s.T(), "NotifyBookingModified", mock.Anything, mock.Anything, autoEmail, []string{"guestName", "notes"})

	empty := ""
	_, err = s.svc.UpdateBooking(s.ctx, b.ID, models.UpdateBookingRequest{GuestEmail: &empty})
	s.True(apperrors.IsBadRequest(err))

	_, err = s.svc.UpdateBooking(s.ctx, "ghost", models.UpdateBookingRequest{GuestName: &name})
	s.True(apperrors.IsNotFound(err))
}

// ================================================================================
// Series
// ================================================================================

func (s *BookingServiceTestSuite) seriesRequest(tmpl models.AvailabilitySlot, date string, r models.Recurrence) models.CreateBookingRequest {
	req := request(autoProvider, models.RecurringInstanceRef(tmpl.ID, date), at(date, 7, 0), at(date, 8, 0), "Ann")
	req.Recurrence = &r
	return req
}

func (s *BookingServiceTestSuite) TestSeriesBooksEveryOccurrence() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)

	res, err := s.svc.CreateBooking(s.ctx, s.seriesRequest(tmpl, "2025-03-13", models.Recurrence{Occurrences: 3}))
	s.Require().NoError(err)
	s.True(res.Series)
	s.Require().Len(res.Bookings, 3)

	serials := make(map[string]bool)
	for i, b := range res.Bookings {
		s.Equal(res.Bookings[0].SeriesID, b.SeriesID)
		s.NotEmpty(b.SeriesID)
		s.Equal(at("2025-03-13", 7, 0).AddDate(0, 0, 7*i), b.StartTime)
		serials[b.SerialKey] = true

		slot, err := s.slots.GetByID(s.ctx, b.AvailabilityID)
		s.Require().NoError(err)
		s.True(slot.IsBooked)
		s.Equal(b.ID, slot.BookingID)
	}
	s.Len(serials, 3)

	s.Equal(1, s.hooks.count("NotifyCreated"))
	s.Equal(1, s.hooks.count("NotifyBooked"))
	s.Equal(1, s.hooks.sent("NotifySeriesSummary", guestEmail))
	s.Equal(1, s.hooks.sent("NotifySeriesSummary", autoEmail))
	s.Equal(0, s.hooks.count("NotifyBookingConfirmation"))
	s.Equal(3, s.hooks.count("ScheduleReminder"))
}

func (s *BookingServiceTestSuite) TestSeriesLength() {
	tests := []struct {
		name  string
		r     models.Recurrence
		dates []string
	}{
		{"default weeks", models.Recurrence{}, []string{"2025-03-13", "2025-03-20", "2025-03-27", "2025-04-03"}},
		{"end date inclusive", models.Recurrence{EndDate: "2025-03-27"}, []string{"2025-03-13", "2025-03-20", "2025-03-27"}},
		{"every other week", models.Recurrence{Occurrences: 3, IntervalWeeks: 2}, []string{"2025-03-13", "2025-03-27", "2025-04-10"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			tmpl := s.template(autoProvider, "2025-03-13", 7, 8)

			res, err := s.svc.CreateBooking(s.ctx, s.seriesRequest(tmpl, "2025-03-13", tt.r))
			s.Require().NoError(err)
			got := make([]string, len(res.Bookings))
			for i, b := range res.Bookings {
				got[i] = b.StartTime.Format(models.DateLayout)
			}
			s.Equal(tt.dates, got)
		})
	}
}

func (s *BookingServiceTestSuite) TestSeriesFailsWholeOnAnyConflict() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)
	taken := s.book(request(autoProvider, models.RecurringInstanceRef(tmpl.ID, "2025-03-20"), at("2025-03-20", 7, 0), at("2025-03-20", 8, 0), "Bob"))

	_, err := s.svc.CreateBooking(s.ctx, s.seriesRequest(tmpl, "2025-03-13", models.Recurrence{Occurrences: 3}))
	s.Require().True(apperrors.IsConflict(err), "got %v", err)

	var serials []string
	for _, d := range apperrors.ConflictsOf(err) {
		if d.SerialKey != "" {
			serials = append(serials, d.SerialKey)
		}
	}
	s.Contains(serials, taken.SerialKey)

	s.Len(s.bookings.All(), 1, "no occurrence of the failed series is kept")
	for _, slot := range s.slots.All() {
		if slot.ID != taken.AvailabilityID {
			s.False(slot.IsBooked, "slot %s", slot.ID)
		}
	}
}

func (s *BookingServiceTestSuite) TestSeriesRejects() {
	tmpl := s.template(autoProvider, "2025-03-13", 7, 8)
	past := s.template(autoProvider, "2025-03-10", 9, 10) // Monday, 09:00 is before testNow

	_, err := s.svc.CreateBooking(s.ctx, s.seriesRequest(tmpl, "2025-03-13", models.Recurrence{Occurrences: 53}))
	s.True(apperrors.IsBadRequest(err), "too long: %v", err)

	_, err = s.svc.CreateBooking(s.ctx, s.seriesRequest(tmpl, "2025-03-13", models.Recurrence{EndDate: "2025-03-01"}))
	s.True(apperrors.IsBadRequest(err), "end before start: %v", err)

	_, err = s.svc.CreateBooking(s.ctx, s.seriesRequest(tmpl, "2025-03-12", models.Recurrence{Occurrences: 2}))
	s.True(apperrors.IsBadRequest(err), "wrong weekday: %v", err)

	req := request(autoProvider, models.RecurringInstanceRef(past.ID, "2025-03-10"), at("2025-03-10", 9, 0), at("2025-03-10", 10, 0), "Ann")
	req.Recurrence = &models.Recurrence{Occurrences: 2}
	_, err = s.svc.CreateBooking(s.ctx, req)
	s.True(apperrors.IsBadRequest(err), "past occurrence: %v", err)

	oneOff := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	req = request(autoProvider, models.PersistedRef(oneOff.ID), oneOff.StartTime, oneOff.EndTime, "Ann")
	req.Recurrence = &models.Recurrence{Occurrences: 2}
	_, err = s.svc.CreateBooking(s.ctx, req)
	s.True(apperrors.IsBadRequest(err), "standalone slot: %v", err)

	s.Empty(s.bookings.All())
}

// ================================================================================
// Reads
// ================================================================================

func (s *BookingServiceTestSuite) TestReads() {
	a := s.oneOff(autoProvider, "2025-03-14", 9, 10)
	c := s.oneOff(autoProvider, "2025-03-21", 9, 10)
	first := s.book(request(autoProvider, models.PersistedRef(a.ID), a.StartTime, a.EndTime, "Ann"))
	second := s.book(request(autoProvider, models.PersistedRef(c.ID), c.StartTime, c.EndTime, "Bob"))

	got, err := s.svc.GetBooking(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal(first.SerialKey, got.SerialKey)

	bySerial, err := s.svc.FindBookingBySerialKey(s.ctx, second.SerialKey)
	s.Require().NoError(err)
	s.Equal(second.ID, bySerial.ID)

	_, err = s.svc.GetBooking(s.ctx, "ghost")
	s.True(apperrors.IsNotFound(err))
	_, err = s.svc.FindBookingBySerialKey(s.ctx, "BK-00000000-00000000")
	s.True(apperrors.IsNotFound(err))
	_, err = s.svc.FindBookingBySerialKey(s.ctx, "")
	s.True(apperrors.IsBadRequest(err))

	all, err := s.svc.ListProviderBookings(s.ctx, autoProvider, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Len(all, 2)

	week, err := s.svc.ListProviderBookings(s.ctx, autoProvider, at("2025-03-14", 0, 0), at("2025-03-21", 0, 0))
	s.Require().NoError(err)
	s.Require().Len(week, 1)
	s.Equal(first.ID, week[0].ID)

	none, err := s.svc.ListProviderBookings(s.ctx, manualProvider, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)

	_, err = s.svc.ListProviderBookings(s.ctx, autoProvider, at("2025-03-21", 0, 0), at("2025-03-14", 0, 0))
	s.True(apperrors.IsBadRequest(err))
}
