package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/database"
	bookingRepo "slotkeeper/database/repository/booking"
	"slotkeeper/models"
	"slotkeeper/services/availability"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// occurrence is one dated instance of a recurring series.
type occurrence struct {
	date       string
	start, end time.Time
}

// createSeries books the weekly occurrences of a recurring slot. Every occurrence
// is validated before anything is written; any conflict fails the whole series.
func (s *DefaultBookingService) createSeries(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResult, error) {
	provider, err := s.provider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	loc := provider.Location(s.location())

	template, firstDate, err := s.seriesTemplate(ctx, req, loc)
	if err != nil {
		return nil, err
	}
	occurrences, err := s.expandSeries(template, firstDate, *req.Recurrence, loc)
	if err != nil {
		return nil, err
	}
	if first := occurrences[0]; !req.StartTime.Equal(first.start) || !req.EndTime.Equal(first.end) {
		return nil, apperrors.BadRequest("requested time %s - %s does not match the recurring slot on %s (%s - %s)",
			req.StartTime.Format(time.RFC3339), req.EndTime.Format(time.RFC3339), first.date,
			first.start.Format(time.RFC3339), first.end.Format(time.RFC3339))
	}

	var (
		bookings  []models.Booking
		slots     []*models.AvailabilitySlot
		stage     = "validate"
		persisted bool
		held      []heldSlot
	)
	seriesID := uuid.New().String()

	err = s.Transactor.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.validateSeries(ctx, req.ProviderID, occurrences); err != nil {
			return err
		}

		stage = "materialize"
		slots = make([]*models.AvailabilitySlot, len(occurrences))
		for i, occ := range occurrences {
			slot, err := s.Materializer.MaterializeInstance(ctx, template, occ.date)
			if err != nil {
				return err
			}
			if slot.IsBooked {
				return s.slotTaken(ctx, slot)
			}
			slots[i] = slot
		}

		stage = "persist"
		bookings = make([]models.Booking, len(slots))
		for i, slot := range slots {
			b := s.newBooking(req, *slot, *provider, loc)
			b.SeriesID = seriesID
			bookings[i] = b
		}
		if err := s.insertSeries(ctx, bookings, loc); err != nil {
			return err
		}
		persisted = true

		stage = "reserve"
		var err error
		held, err = s.reserveAll(ctx, slots, bookings)
		return err
	})

	s.Slots.Invalidate(ctx, req.ProviderID)
	if err != nil {
		if database.IsWriteConflict(err) {
			err = apperrors.Conflict("a slot of the series was booked concurrently")
		}
		if !s.Transactor.Transactional() && persisted {
			s.compensate(ctx, bookings, held)
		}
		s.logFailure("Recurring booking failed", stage, err,
			zap.String("providerId", req.ProviderID),
			zap.String("templateId", template.ID),
			zap.Int("occurrences", len(occurrences)))
		return nil, err
	}

	s.logger().Info("Recurring booking created",
		zap.String("seriesId", seriesID),
		zap.String("templateId", template.ID),
		zap.Int("occurrences", len(bookings)),
		zap.String("mode", s.mode()))

	s.afterCreate(ctx, *provider, bookings, true)
	return &models.BookingResult{Bookings: bookings, Series: true}, nil
}

// seriesTemplate finds the template behind the requested slot and the date of
// the first occurrence.
func (s *DefaultBookingService) seriesTemplate(ctx context.Context, req models.CreateBookingRequest, loc *time.Location) (models.AvailabilitySlot, string, error) {
	var (
		templateID string
		date       string
	)
	if id, ok := req.Slot.Persisted(); ok {
		slot, err := s.Slots.FindByID(ctx, id)
		if err != nil {
			return models.AvailabilitySlot{}, "", err
		}
		switch {
		case slot.IsTemplate():
			templateID = slot.ID
			date = req.StartTime.In(loc).Format(models.DateLayout)
		case slot.TemplateID != "":
			templateID = slot.TemplateID
			date = slot.Date
		default:
			return models.AvailabilitySlot{}, "", apperrors.BadRequest("slot %s is not recurring; a series needs a recurring slot", slot.ID)
		}
	} else {
		templateID, date, _ = req.Slot.RecurringInstance()
	}

	template, err := s.Slots.FindByID(ctx, templateID)
	if err != nil {
		return models.AvailabilitySlot{}, "", err
	}
	if template.ProviderID != req.ProviderID {
		return models.AvailabilitySlot{}, "", apperrors.NotFound("recurring slot %s not found for provider %s", templateID, req.ProviderID)
	}
	if !template.IsTemplate() {
		return models.AvailabilitySlot{}, "", apperrors.BadRequest("slot %s is not a recurring template", templateID)
	}
	if template.Status != models.SlotStatusActive {
		return models.AvailabilitySlot{}, "", apperrors.Conflict(fmt.Sprintf("recurring slot %s is %s", template.ID, template.Status))
	}
	return *template, date, nil
}

// expandSeries lists the occurrences starting at firstDate, every IntervalWeeks
// weeks, bounded by Occurrences, EndDate or the default number of weeks.
func (s *DefaultBookingService) expandSeries(template models.AvailabilitySlot, firstDate string, r models.Recurrence, loc *time.Location) ([]occurrence, error) {
	day, err := time.ParseInLocation(models.DateLayout, firstDate, loc)
	if err != nil {
		return nil, apperrors.BadRequest("invalid date %q: expected YYYY-MM-DD", firstDate)
	}
	if want := templateWeekday(template, loc); day.Weekday() != want {
		return nil, availability.WeekdayMismatch(firstDate, day.Weekday(), want)
	}

	interval := r.IntervalWeeks
	if interval <= 0 {
		interval = 1
	}

	count := r.Occurrences
	var until time.Time
	switch {
	case count < 0:
		return nil, apperrors.BadRequest("occurrences must be positive")
	case count > 0:
	case r.EndDate != "":
		until, err = time.ParseInLocation(models.DateLayout, r.EndDate, loc)
		if err != nil {
			return nil, apperrors.BadRequest("invalid endDate %q: expected YYYY-MM-DD", r.EndDate)
		}
		if until.Before(day) {
			return nil, apperrors.BadRequest("endDate %s is before the first occurrence %s", r.EndDate, firstDate)
		}
		count = calendarDays(day, until)/(7*interval) + 1
	default:
		count = s.SeriesDefaultWeeks
		if count <= 0 {
			count = defaultSeriesWeeks
		}
	}
	if count > maxSeriesLength {
		return nil, apperrors.BadRequest("a series is limited to %d occurrences, got %d", maxSeriesLength, count)
	}

	now := s.Clock.Now()
	out := make([]occurrence, 0, count)
	for i := 0; i < count; i++ {
		d := day.AddDate(0, 0, 7*interval*i)
		start, end := availability.AnchorOnDate(template, d)
		if start.Before(now) {
			return nil, apperrors.BadRequest("occurrence on %s is in the past", d.Format(models.DateLayout))
		}
		out = append(out, occurrence{date: d.Format(models.DateLayout), start: start, end: end})
	}
	return out, nil
}

// validateSeries collects every clash of the series without writing anything:
// booked rows at an occurrence's time and active bookings overlapping it.
func (s *DefaultBookingService) validateSeries(ctx context.Context, providerID string, occurrences []occurrence) error {
	var details []apperrors.ConflictDetail
	for _, occ := range occurrences {
		rows, err := s.Slots.Repo.GetAtTime(ctx, providerID, occ.date, occ.start, occ.end)
		if err != nil {
			return fmt.Errorf("look up slots on %s: %w", occ.date, err)
		}
		for _, row := range rows {
			if row.IsBooked && row.Status == models.SlotStatusActive {
				details = append(details, apperrors.ConflictDetail{Entity: "slot", ID: row.ID, Start: row.StartTime, End: row.EndTime})
			}
		}

		clashes, err := s.Bookings.FindActiveOverlapping(ctx, providerID, occ.start, occ.end, "")
		if err != nil {
			return fmt.Errorf("check overlapping bookings on %s: %w", occ.date, err)
		}
		for _, b := range clashes {
			details = append(details, apperrors.ConflictDetail{Entity: "booking", ID: b.ID, SerialKey: b.SerialKey, Start: b.StartTime, End: b.EndTime})
		}
	}
	if len(details) > 0 {
		return apperrors.Conflict(fmt.Sprintf("%d occurrence conflict(s) in the recurring series", len(details)), details...)
	}
	return nil
}

func (s *DefaultBookingService) insertSeries(ctx context.Context, bookings []models.Booking, loc *time.Location) error {
	var err error
	for attempt := 0; attempt < serialAttempts; attempt++ {
		if err = s.Bookings.CreateMany(ctx, bookings); !errors.Is(err, bookingRepo.ErrDuplicateSerialKey) {
			return err
		}
		if !s.Transactor.Transactional() {
			// An ordered insert may have stored a prefix before the collision.
			ids := make([]string, len(bookings))
			for i, b := range bookings {
				ids[i] = b.ID
			}
			if derr := s.Bookings.DeleteByIDs(ctx, ids); derr != nil {
				return fmt.Errorf("clean up partial series insert: %w", derr)
			}
		} else {
			return err
		}
		for i := range bookings {
			bookings[i].SerialKey = NewSerialKey(bookings[i].StartTime, loc)
		}
	}
	return fmt.Errorf("could not allocate unique serial keys: %w", err)
}

// reserveAll flips every slot of the series to booked. Inside a transaction the
// session is not safe for concurrent use, so reservations run one at a time.
func (s *DefaultBookingService) reserveAll(ctx context.Context, slots []*models.AvailabilitySlot, bookings []models.Booking) ([]heldSlot, error) {
	limit := 4
	if s.Transactor.Transactional() {
		limit = 1
	}

	ok := make([]bool, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range slots {
		g.Go(func() error {
			if err := s.Slots.MarkBooked(gctx, slots[i], bookings[i].ID); err != nil {
				return err
			}
			ok[i] = true
			return nil
		})
	}
	err := g.Wait()

	var held []heldSlot
	for i, done := range ok {
		if done {
			held = append(held, heldSlot{providerID: slots[i].ProviderID, slotID: slots[i].ID, bookingID: bookings[i].ID})
		}
	}
	return held, err
}

// calendarDays counts whole calendar days from a to b, ignoring DST shifts.
func calendarDays(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
