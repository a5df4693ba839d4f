package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/database"
	bookingRepo "slotkeeper/database/repository/booking"
	providerRepo "slotkeeper/database/repository/provider"
	"slotkeeper/models"
	"slotkeeper/services/availability"
	"slotkeeper/services/idempotency"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateBooking reserves the requested slot and records a booking, or a whole
// weekly series when req.Recurrence is set. A repeated request carrying the same
// idempotency key and payload returns the first result without side effects.
func (s *DefaultBookingService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	payload := req
	payload.IdempotencyKey = ""
	result, replayed, err := idempotency.Run(ctx, s.Idempotency, "booking:"+req.ProviderID, req.IdempotencyKey, payload,
		func(ctx context.Context) (*models.BookingResult, error) {
			if req.Recurrence != nil {
				return s.createSeries(ctx, req)
			}
			b, err := s.createSingle(ctx, req)
			if err != nil {
				return nil, err
			}
			return &models.BookingResult{Bookings: []models.Booking{*b}}, nil
		})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger().Info("Replayed idempotent booking",
			zap.String("providerId", req.ProviderID),
			zap.String("idempotencyKey", req.IdempotencyKey))
	}
	return result, nil
}

func validateCreateRequest(req models.CreateBookingRequest) error {
	switch {
	case req.ProviderID == "":
		return apperrors.BadRequest("providerId is required")
	case req.Slot.IsZero():
		return apperrors.BadRequest("slot is required")
	case req.GuestName == "" || req.GuestEmail == "":
		return apperrors.BadRequest("guestName and guestEmail are required")
	case !req.StartTime.Before(req.EndTime):
		return apperrors.BadRequest("startTime must be before endTime")
	}
	return nil
}

// createSingle runs the single booking workflow: resolve the slot, verify the
// requested times, check for clashing bookings, persist the booking and flip
// the slot to booked. Notifications go out after the unit of work commits.
func (s *DefaultBookingService) createSingle(ctx context.Context, req models.CreateBookingRequest) (*models.Booking, error) {
	provider, err := s.provider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	loc := provider.Location(s.location())

	var (
		booking   models.Booking
		slot      *models.AvailabilitySlot
		stage     = "resolve"
		persisted bool
		reserved  bool
	)

	err = s.Transactor.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.resolveSlot(ctx, req.ProviderID, req.Slot, req.StartTime, loc)
		if err != nil {
			return err
		}
		if slot.IsBooked {
			return s.slotTaken(ctx, slot)
		}
		if !req.StartTime.Equal(slot.StartTime) || !req.EndTime.Equal(slot.EndTime) {
			return apperrors.BadRequest("requested time %s - %s does not match slot %s (%s - %s)",
				req.StartTime.Format(time.RFC3339), req.EndTime.Format(time.RFC3339), slot.ID,
				slot.StartTime.Format(time.RFC3339), slot.EndTime.Format(time.RFC3339))
		}

		stage = "conflict-check"
		if err := s.checkBookingOverlap(ctx, req.ProviderID, slot.StartTime, slot.EndTime); err != nil {
			return err
		}

		stage = "persist"
		booking = s.newBooking(req, *slot, *provider, loc)
		if err := s.insertBooking(ctx, &booking, loc); err != nil {
			return err
		}
		persisted = true

		stage = "reserve"
		if err := s.Slots.MarkBooked(ctx, slot, booking.ID); err != nil {
			return err
		}
		reserved = true
		return nil
	})

	s.Slots.Invalidate(ctx, req.ProviderID)
	if err != nil {
		if database.IsWriteConflict(err) {
			if slot != nil {
				err = s.slotTaken(ctx, slot)
			} else {
				err = apperrors.Conflict(fmt.Sprintf("slot %s was booked concurrently", req.Slot))
			}
		}
		if !s.Transactor.Transactional() && persisted {
			s.compensate(ctx, []models.Booking{booking}, reservedSlots(slot, reserved))
		}
		s.logFailure("Booking creation failed", stage, err,
			zap.String("providerId", req.ProviderID),
			zap.String("slot", req.Slot.String()))
		return nil, err
	}

	s.logger().Info("Booking created",
		zap.String("bookingId", booking.ID),
		zap.String("serialKey", booking.SerialKey),
		zap.String("slotId", slot.ID),
		zap.String("status", string(booking.Status)),
		zap.String("mode", s.mode()))

	s.afterCreate(ctx, *provider, []models.Booking{booking}, false)
	return &booking, nil
}

// resolveSlot turns a SlotRef into the concrete row to reserve. A persisted
// template id is booked on the calendar date of start in the provider's timezone.
func (s *DefaultBookingService) resolveSlot(ctx context.Context, providerID string, ref models.SlotRef, start time.Time, loc *time.Location) (*models.AvailabilitySlot, error) {
	if id, ok := ref.Persisted(); ok {
		slot, err := s.Slots.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if slot.ProviderID != providerID {
			return nil, apperrors.NotFound("availability slot %s not found for provider %s", id, providerID)
		}
		if slot.IsTemplate() {
			return s.materialize(ctx, *slot, start.In(loc).Format(models.DateLayout), loc)
		}
		if slot.Status != models.SlotStatusActive {
			return nil, apperrors.Conflict(fmt.Sprintf("availability slot %s is %s", slot.ID, slot.Status))
		}
		return slot, nil
	}

	templateID, date, ok := ref.RecurringInstance()
	if !ok {
		return nil, apperrors.BadRequest("slot reference is empty")
	}
	template, err := s.Slots.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if template.ProviderID != providerID {
		return nil, apperrors.NotFound("recurring slot %s not found for provider %s", templateID, providerID)
	}
	if !template.IsTemplate() {
		return nil, apperrors.BadRequest("slot %s is not a recurring template", templateID)
	}
	return s.materialize(ctx, *template, date, loc)
}

// materialize checks the requested date against the template's weekday in the
// provider's timezone, then resolves the concrete instance row.
func (s *DefaultBookingService) materialize(ctx context.Context, template models.AvailabilitySlot, date string, loc *time.Location) (*models.AvailabilitySlot, error) {
	day, err := time.ParseInLocation(models.DateLayout, date, loc)
	if err != nil {
		return nil, apperrors.BadRequest("invalid date %q: expected YYYY-MM-DD", date)
	}
	want := templateWeekday(template, loc)
	if day.Weekday() != want {
		return nil, availability.WeekdayMismatch(date, day.Weekday(), want)
	}
	return s.Materializer.MaterializeInstance(ctx, template, date)
}

func templateWeekday(template models.AvailabilitySlot, loc *time.Location) time.Weekday {
	if template.DayOfWeek != nil {
		return time.Weekday(*template.DayOfWeek)
	}
	return template.StartTime.In(loc).Weekday()
}

// checkBookingOverlap rejects a time range already held by an active booking.
func (s *DefaultBookingService) checkBookingOverlap(ctx context.Context, providerID string, start, end time.Time) error {
	clashes, err := s.Bookings.FindActiveOverlapping(ctx, providerID, start, end, "")
	if err != nil {
		return fmt.Errorf("check overlapping bookings: %w", err)
	}
	if len(clashes) == 0 {
		return nil
	}
	first := clashes[0]
	details := make([]apperrors.ConflictDetail, len(clashes))
	for i, b := range clashes {
		details[i] = apperrors.ConflictDetail{Entity: "booking", ID: b.ID, SerialKey: b.SerialKey, Start: b.StartTime, End: b.EndTime}
	}
	return apperrors.Conflict(fmt.Sprintf("time range overlaps booking %s", first.SerialKey), details...)
}

// slotTaken builds the Conflict for a slot that is already booked, naming the
// holding booking when it can be read.
func (s *DefaultBookingService) slotTaken(ctx context.Context, slot *models.AvailabilitySlot) error {
	holderID := slot.BookingID
	if holderID == "" {
		if fresh, err := s.Slots.FindByID(ctx, slot.ID); err == nil {
			holderID = fresh.BookingID
		}
	}
	detail := apperrors.ConflictDetail{Entity: "slot", ID: slot.ID, Start: slot.StartTime, End: slot.EndTime}
	if holderID != "" {
		if holder, err := s.Bookings.GetByID(ctx, holderID); err == nil {
			detail = apperrors.ConflictDetail{Entity: "booking", ID: holder.ID, SerialKey: holder.SerialKey, Start: holder.StartTime, End: holder.EndTime}
			return apperrors.Conflict(fmt.Sprintf("slot %s is already booked by %s", slot.ID, holder.SerialKey), detail)
		}
	}
	return apperrors.Conflict(fmt.Sprintf("slot %s is already booked", slot.ID), detail)
}

func (s *DefaultBookingService) newBooking(req models.CreateBookingRequest, slot models.AvailabilitySlot, provider models.Provider, loc *time.Location) models.Booking {
	status := models.BookingStatusConfirmed
	if provider.RequiresApproval() {
		status = models.BookingStatusPending
	}
	now := s.Clock.Now().UTC()
	return models.Booking{
		ID:              uuid.New().String(),
		ProviderID:      req.ProviderID,
		AvailabilityID:  slot.ID,
		GuestID:         req.GuestID,
		GuestName:       req.GuestName,
		GuestEmail:      req.GuestEmail,
		GuestPhone:      req.GuestPhone,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		DurationMinutes: slot.DurationMinutes,
		Status:          status,
		SerialKey:       NewSerialKey(slot.StartTime, loc),
		Notes:           req.Notes,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// insertBooking persists b, drawing a fresh serial key on the rare collision.
func (s *DefaultBookingService) insertBooking(ctx context.Context, b *models.Booking, loc *time.Location) error {
	var err error
	for attempt := 0; attempt < serialAttempts; attempt++ {
		if err = s.Bookings.Create(ctx, b); !errors.Is(err, bookingRepo.ErrDuplicateSerialKey) {
			return err
		}
		b.SerialKey = NewSerialKey(b.StartTime, loc)
	}
	return fmt.Errorf("could not allocate a unique serial key: %w", err)
}

func (s *DefaultBookingService) provider(ctx context.Context, id string) (*models.Provider, error) {
	p, err := s.Providers.GetByID(ctx, id)
	if errors.Is(err, providerRepo.ErrProviderNotFound) {
		return nil, apperrors.NotFound("provider %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type heldSlot struct {
	providerID string
	slotID     string
	bookingID  string
}

func reservedSlots(slot *models.AvailabilitySlot, reserved bool) []heldSlot {
	if slot == nil || !reserved {
		return nil
	}
	return []heldSlot{{providerID: slot.ProviderID, slotID: slot.ID, bookingID: slot.BookingID}}
}

// compensate undoes the writes of a failed workflow when no transaction could
// roll them back. Failures are logged; the sweep and the slot CAS keep the store
// consistent enough for a retry.
func (s *DefaultBookingService) compensate(ctx context.Context, bookings []models.Booking, held []heldSlot) {
	for _, h := range held {
		if err := s.Slots.MarkAvailable(ctx, h.providerID, h.slotID, h.bookingID); err != nil {
			s.logger().Error("Compensation failed to release slot",
				zap.String("mode", "fallback"),
				zap.String("slotId", h.slotID),
				zap.String("bookingId", h.bookingID),
				zap.Error(err))
		}
	}
	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	if err := s.Bookings.DeleteByIDs(ctx, ids); err != nil {
		s.logger().Error("Compensation failed to delete bookings",
			zap.String("mode", "fallback"),
			zap.Strings("bookingIds", ids),
			zap.Error(err))
		return
	}
	s.logger().Warn("Compensated partial booking",
		zap.String("mode", "fallback"),
		zap.Strings("bookingIds", ids),
		zap.Int("releasedSlots", len(held)))
}

// logFailure separates caller errors from infrastructure failures, and
// fallback-mode failures from transactional aborts.
func (s *DefaultBookingService) logFailure(msg, stage string, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("mode", s.mode()),
		zap.String("stage", stage),
		zap.Error(err))
	switch apperrors.KindOf(err) {
	case apperrors.KindConflict, apperrors.KindBadRequest, apperrors.KindNotFound:
		s.logger().Info(msg, fields...)
	default:
		if s.Transactor.Transactional() {
			s.logger().Error(msg+": transaction aborted", fields...)
		} else {
			s.logger().Error(msg+": partial failure without transaction", fields...)
		}
	}
}
