// File: services/availability/materializer.go
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/database"
	availabilityRepo "slotkeeper/database/repository/availability"
	"slotkeeper/models"
	"slotkeeper/utils"

	"go.uber.org/zap"
)

const DefaultForwardWeeks = 8

// Materializer turns RECURRING templates into concrete dated rows.
type Materializer struct {
	Repo         availabilityRepo.AvailabilityRepository
	Clock        utils.Clock
	ForwardWeeks int
	Logger       *zap.Logger
}

func NewMaterializer(repo availabilityRepo.AvailabilityRepository, clock utils.Clock, forwardWeeks int, logger *zap.Logger) *Materializer {
	if forwardWeeks <= 0 {
		forwardWeeks = DefaultForwardWeeks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{Repo: repo, Clock: clock, ForwardWeeks: forwardWeeks, Logger: logger}
}

// AnchorOnDate places template's wall-clock time of day, in the template's
// timezone, on the calendar day date names. The duration is preserved.
func AnchorOnDate(template models.AvailabilitySlot, date time.Time) (time.Time, time.Time) {
	loc := template.Location()
	tod := template.StartTime.In(loc)
	start := time.Date(date.Year(), date.Month(), date.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, loc)
	return start, start.Add(template.EndTime.Sub(template.StartTime))
}

// TemplateWeekday is the weekday a template repeats on.
func TemplateWeekday(template models.AvailabilitySlot) time.Weekday {
	return time.Weekday(templateWeekday(template))
}

// ExpandTemplate returns the unsaved occurrences of template whose start falls in [from, to).
func ExpandTemplate(template models.AvailabilitySlot, from, to time.Time) []models.AvailabilitySlot {
	if !template.IsTemplate() || template.Status != models.SlotStatusActive || !to.After(from) {
		return nil
	}
	loc := template.Location()
	day := AlignToWeekday(utils.StartOfDay(from, loc), TemplateWeekday(template))

	var out []models.AvailabilitySlot
	for ; day.Before(to); day = day.AddDate(0, 0, 7) {
		start, end := AnchorOnDate(template, day)
		if start.Before(from) || !start.Before(to) {
			continue
		}
		out = append(out, instanceOf(template, day, start, end))
	}
	return out
}

func instanceOf(template models.AvailabilitySlot, day, start, end time.Time) models.AvailabilitySlot {
	dow := int(day.Weekday())
	return models.AvailabilitySlot{
		ProviderID:      template.ProviderID,
		Kind:            models.SlotKindRecurring,
		DayOfWeek:       &dow,
		Date:            day.Format(models.DateLayout),
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start) / time.Minute),
		Timezone:        template.Timezone,
		MaxBookings:     template.MaxBookings,
		Status:          models.SlotStatusActive,
		TemplateID:      template.ID,
	}
}

// GenerateInstances is the read-only expansion of a template between two
// calendar dates, both inclusive. Nothing is persisted.
func (m *Materializer) GenerateInstances(template models.AvailabilitySlot, fromDate, toDate string) ([]models.AvailabilitySlot, error) {
	if !template.IsTemplate() {
		return nil, apperrors.BadRequest("slot %s is not a recurring template", template.ID)
	}
	loc := template.Location()
	from, err := time.ParseInLocation(models.DateLayout, fromDate, loc)
	if err != nil {
		return nil, apperrors.BadRequest("invalid from date %q", fromDate)
	}
	to, err := time.ParseInLocation(models.DateLayout, toDate, loc)
	if err != nil {
		return nil, apperrors.BadRequest("invalid to date %q", toDate)
	}
	if to.Before(from) {
		return nil, apperrors.BadRequest("to date %s is before from date %s", toDate, fromDate)
	}
	return ExpandTemplate(template, from, to.AddDate(0, 0, 1)), nil
}

// MaterializeInstance resolves the concrete row backing template's occurrence on date.
// An unbooked pre-generated RECURRING row is preferred, then an unbooked ONE_OFF
// instance; a booked row at that time is returned as is so the caller's mark-booked
// fails with a conflict. Otherwise a new ONE_OFF row referencing the template is created.
// ctx may carry a transaction session.
func (m *Materializer) MaterializeInstance(ctx context.Context, template models.AvailabilitySlot, date string) (*models.AvailabilitySlot, error) {
	if !template.IsTemplate() {
		return nil, apperrors.BadRequest("slot %s is not a recurring template", template.ID)
	}
	if template.Status != models.SlotStatusActive {
		return nil, apperrors.Conflict(fmt.Sprintf("recurring template %s is %s", template.ID, template.Status))
	}

	loc := template.Location()
	day, err := time.ParseInLocation(models.DateLayout, date, loc)
	if err != nil {
		return nil, apperrors.BadRequest("invalid date %q: expected YYYY-MM-DD", date)
	}
	if want := TemplateWeekday(template); day.Weekday() != want {
		return nil, WeekdayMismatch(date, day.Weekday(), want)
	}

	start, end := AnchorOnDate(template, day)
	existing, err := m.findExisting(ctx, template, date, start, end)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := m.Clock.Now().UTC()
	instance := instanceOf(template, day, start, end)
	instance.Kind = models.SlotKindOneOff
	instance.CreatedAt = now
	instance.UpdatedAt = now
	if err := m.Repo.Create(ctx, &instance); err != nil {
		if errors.Is(err, availabilityRepo.ErrDuplicateInstance) {
			// Lost a race with another materialization of the same occurrence.
			existing, ferr := m.findExisting(ctx, template, date, start, end)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
		}
		if database.IsWriteConflict(err) {
			// Another transaction is materializing the same occurrence.
			return nil, apperrors.Conflict(fmt.Sprintf("recurring slot %s on %s is being booked concurrently", template.ID, date),
				apperrors.ConflictDetail{Entity: "slot", ID: template.ID, Start: start, End: end})
		}
		return nil, fmt.Errorf("materialize %s on %s: %w", template.ID, date, err)
	}

	m.Logger.Debug("Materialized template instance",
		zap.String("templateId", template.ID),
		zap.String("date", date),
		zap.String("slotId", instance.ID))
	return &instance, nil
}

func (m *Materializer) findExisting(ctx context.Context, template models.AvailabilitySlot, date string, start, end time.Time) (*models.AvailabilitySlot, error) {
	rows, err := m.Repo.GetAtTime(ctx, template.ProviderID, date, start, end)
	if err != nil {
		return nil, fmt.Errorf("look up instances of %s on %s: %w", template.ID, date, err)
	}

	var oneOff, booked *models.AvailabilitySlot
	for i := range rows {
		row := &rows[i]
		if row.Status != models.SlotStatusActive {
			continue
		}
		if row.IsBooked {
			if booked == nil {
				booked = row
			}
			continue
		}
		if row.Kind == models.SlotKindRecurring {
			return row, nil
		}
		if oneOff == nil {
			oneOff = row
		}
	}
	if oneOff != nil {
		return oneOff, nil
	}
	return booked, nil
}

// GenerateForwardWeeks persists the next weeks occurrences of template as
// RECURRING rows tagged with their Monday week anchor, one row per week and
// seven days apart. A week whose occurrence was already materialized keeps
// that row instead of getting a second one. Dated rows of other kinds do not
// block a week: template rows only compete with templates, and double booking
// is guarded by the booking overlap check.
func (m *Materializer) GenerateForwardWeeks(ctx context.Context, template models.AvailabilitySlot, weeks int) ([]models.AvailabilitySlot, error) {
	if !template.IsTemplate() {
		return nil, apperrors.BadRequest("slot %s is not a recurring template", template.ID)
	}
	if weeks <= 0 {
		weeks = m.ForwardWeeks
	}

	loc := template.Location()
	now := m.Clock.Now()
	from := utils.StartOfDay(now, loc)
	if anchor := utils.StartOfDay(template.StartTime, loc); anchor.After(from) {
		from = anchor
	}
	day := AlignToWeekday(from, TemplateWeekday(template))
	if start, _ := AnchorOnDate(template, day); !start.After(now) {
		day = day.AddDate(0, 0, 7)
	}

	created := now.UTC()
	rows := make([]models.AvailabilitySlot, weeks)
	var fresh []models.AvailabilitySlot
	var freshAt []int
	for i := 0; i < weeks; i, day = i+1, day.AddDate(0, 0, 7) {
		start, end := AnchorOnDate(template, day)
		date := day.Format(models.DateLayout)

		existing, err := m.Repo.GetByProviderAndDate(ctx, template.ProviderID, date)
		if err != nil {
			return nil, fmt.Errorf("look up week %d of %s: %w", i, template.ID, err)
		}
		if prior := instanceAt(existing, template.ID, start); prior != nil {
			rows[i] = *prior
			continue
		}

		row := instanceOf(template, day, start, end)
		row.WeekOf = utils.StartOfWeek(day, loc).Format(models.DateLayout)
		row.CreatedAt = created
		row.UpdatedAt = created
		fresh = append(fresh, row)
		freshAt = append(freshAt, i)
	}

	if err := m.Repo.CreateMany(ctx, fresh); err != nil {
		return nil, fmt.Errorf("persist forward weeks of %s: %w", template.ID, err)
	}
	for k, i := range freshAt {
		rows[i] = fresh[k]
	}
	m.Logger.Info("Generated forward weeks",
		zap.String("templateId", template.ID),
		zap.Int("created", len(fresh)),
		zap.Int("kept", weeks-len(fresh)))
	return rows, nil
}

// instanceAt finds the row already standing for templateID's occurrence at start.
func instanceAt(rows []models.AvailabilitySlot, templateID string, start time.Time) *models.AvailabilitySlot {
	for i := range rows {
		if rows[i].TemplateID == templateID && rows[i].StartTime.Equal(start) {
			return &rows[i]
		}
	}
	return nil
}

// WeekdayMismatch is the bad-request error for booking a template on the wrong day.
func WeekdayMismatch(date string, got, want time.Weekday) error {
	return apperrors.BadRequest("date %s is a %s but the recurring slot repeats on %s", date, got, want)
}
