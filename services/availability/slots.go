// File: services/availability/slots.go
package availability

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/models"
	"slotkeeper/services/idempotency"

	"go.uber.org/zap"
)

// SpecOf converts a slot back into the spec that would create it.
func SpecOf(slot models.AvailabilitySlot) models.SlotSpec {
	return models.SlotSpec{
		ProviderID:      slot.ProviderID,
		Kind:            slot.Kind,
		DayOfWeek:       slot.DayOfWeek,
		Date:            slot.Date,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		DurationMinutes: slot.DurationMinutes,
		MaxBookings:     slot.MaxBookings,
		Timezone:        slot.Timezone,
	}
}

// buildSlot validates spec and turns it into an unsaved slot. RECURRING specs
// become templates; ONE_OFF specs are dated in their timezone.
func (s *DefaultAvailabilityService) buildSlot(spec models.SlotSpec) (models.AvailabilitySlot, error) {
	if spec.ProviderID == "" {
		return models.AvailabilitySlot{}, apperrors.BadRequest("providerId is required")
	}
	if !spec.StartTime.Before(spec.EndTime) {
		return models.AvailabilitySlot{}, apperrors.BadRequest("startTime %s must be before endTime %s",
			spec.StartTime.Format(time.RFC3339), spec.EndTime.Format(time.RFC3339))
	}
	duration := spec.EndTime.Sub(spec.StartTime)
	if duration%time.Minute != 0 {
		return models.AvailabilitySlot{}, apperrors.BadRequest("slot length must be a whole number of minutes")
	}
	minutes := int(duration / time.Minute)
	if spec.DurationMinutes != 0 && spec.DurationMinutes != minutes {
		return models.AvailabilitySlot{}, apperrors.BadRequest("durationMinutes %d does not match the %d minutes between start and end", spec.DurationMinutes, minutes)
	}

	loc := s.location()
	tz := loc.String()
	if spec.Timezone != "" {
		l, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return models.AvailabilitySlot{}, apperrors.BadRequest("unknown timezone %q", spec.Timezone)
		}
		loc, tz = l, spec.Timezone
	}

	maxBookings := spec.MaxBookings
	if maxBookings < 1 {
		maxBookings = 1
	}

	now := s.Clock.Now().UTC()
	slot := models.AvailabilitySlot{
		ProviderID:      spec.ProviderID,
		Kind:            spec.Kind,
		StartTime:       spec.StartTime,
		EndTime:         spec.EndTime,
		DurationMinutes: minutes,
		Timezone:        tz,
		MaxBookings:     maxBookings,
		Status:          models.SlotStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	localStart := spec.StartTime.In(loc)
	switch spec.Kind {
	case models.SlotKindRecurring:
		dow := int(localStart.Weekday())
		if spec.DayOfWeek != nil && *spec.DayOfWeek != dow {
			return models.AvailabilitySlot{}, apperrors.BadRequest("dayOfWeek %s does not match startTime, which falls on %s",
				time.Weekday(*spec.DayOfWeek), localStart.Weekday())
		}
		slot.DayOfWeek = &dow
	case models.SlotKindOneOff, "":
		slot.Kind = models.SlotKindOneOff
		date := localStart.Format(models.DateLayout)
		if spec.Date != "" && spec.Date != date {
			return models.AvailabilitySlot{}, apperrors.BadRequest("date %s does not match startTime, which falls on %s", spec.Date, date)
		}
		slot.Date = date
	default:
		return models.AvailabilitySlot{}, apperrors.BadRequest("unknown slot kind %q", spec.Kind)
	}
	return slot, nil
}

// CreateSlot validates and stores one slot. A template also gets its forward weeks generated.
func (s *DefaultAvailabilityService) CreateSlot(ctx context.Context, spec models.SlotSpec) (*models.AvailabilitySlot, error) {
	slot, err := s.buildSlot(spec)
	if err != nil {
		return nil, err
	}

	err = s.inTransaction(ctx, []string{slot.ProviderID}, func(ctx context.Context) error {
		if err := s.Validator.CheckForConflicts(ctx, slot, ""); err != nil {
			return err
		}
		if err := s.Store.Create(ctx, &slot); err != nil {
			return err
		}
		if slot.IsTemplate() {
			if _, err := s.Materializer.GenerateForwardWeeks(ctx, slot, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("Slot created",
		zap.String("slotId", slot.ID),
		zap.String("providerId", slot.ProviderID),
		zap.String("kind", string(slot.Kind)))
	cs := newChangeSet()
	cs.create(slot)
	s.publish(ctx, cs)
	return &slot, nil
}

type bulkPayload struct {
	Specs            []models.SlotSpec `json:"specs"`
	SkipConflicts    bool              `json:"skipConflicts"`
	ReplaceConflicts bool              `json:"replaceConflicts"`
	DryRun           bool              `json:"dryRun"`
}

// CreateBulkSlots validates every spec and creates them in one unit of work.
// Without skipConflicts or replaceConflicts any conflict fails the whole call
// with a structured Conflict error. dryRun reports the outcome without writing.
func (s *DefaultAvailabilityService) CreateBulkSlots(ctx context.Context, specs []models.SlotSpec, opts models.BulkCreateOptions) (*models.BulkCreateResult, error) {
	if len(specs) == 0 {
		return nil, apperrors.BadRequest("at least one slot is required")
	}
	payload := bulkPayload{Specs: specs, SkipConflicts: opts.SkipConflicts, ReplaceConflicts: opts.ReplaceConflicts, DryRun: opts.DryRun}
	cs := newChangeSet()

	result, _, err := idempotency.Run(ctx, s.Idempotency, "slots-bulk", opts.IdempotencyKey, payload,
		func(ctx context.Context) (*models.BulkCreateResult, error) {
			slots := make([]models.AvailabilitySlot, len(specs))
			for i, spec := range specs {
				slot, err := s.buildSlot(spec)
				if err != nil {
					return nil, apperrors.Wrap(err, apperrors.KindOf(err), fmt.Sprintf("slot #%d", i))
				}
				slots[i] = slot
			}

			var res *models.BulkCreateResult
			err := s.inTransaction(ctx, providersOf(slots), func(ctx context.Context) error {
				var err error
				res, err = s.createBulk(ctx, slots, opts, cs)
				return err
			})
			return res, err
		})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, cs)
	return result, nil
}

// createBulk is the transaction body shared by the bulk and all-day operations.
func (s *DefaultAvailabilityService) createBulk(ctx context.Context, slots []models.AvailabilitySlot, opts models.BulkCreateOptions, cs *changeSet) (*models.BulkCreateResult, error) {
	valid, conflicts, err := s.Validator.ValidateBatch(ctx, slots)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &models.BulkCreateResult{Created: valid, Conflicts: conflicts, DryRun: true}, nil
	}

	if len(conflicts) > 0 && !opts.SkipConflicts && !opts.ReplaceConflicts {
		var details []apperrors.ConflictDetail
		for _, c := range conflicts {
			details = append(details, conflictDetailsFor(c)...)
		}
		return nil, apperrors.Conflict(fmt.Sprintf("%d of %d slots conflict with existing availability", len(conflicts), len(slots)), details...)
	}

	if opts.ReplaceConflicts && len(conflicts) > 0 {
		var replaced []models.AvailabilitySlot
		replaced, conflicts, err = s.replaceConflicting(ctx, valid, conflicts, cs)
		if err != nil {
			return nil, err
		}
		valid = append(valid, replaced...)
	}

	byProvider := make(map[string][]int)
	var order []string
	for i, slot := range valid {
		if _, ok := byProvider[slot.ProviderID]; !ok {
			order = append(order, slot.ProviderID)
		}
		byProvider[slot.ProviderID] = append(byProvider[slot.ProviderID], i)
	}
	for _, providerID := range order {
		idx := byProvider[providerID]
		group := make([]models.AvailabilitySlot, len(idx))
		for j, i := range idx {
			group[j] = valid[i]
		}
		if err := s.Store.CreateMany(ctx, providerID, group); err != nil {
			return nil, err
		}
		for j, i := range idx {
			valid[i] = group[j]
		}
	}

	for _, slot := range valid {
		if slot.IsTemplate() {
			if _, err := s.Materializer.GenerateForwardWeeks(ctx, slot, 0); err != nil {
				return nil, err
			}
		}
	}

	cs.create(valid...)
	if conflicts == nil {
		conflicts = []models.SlotConflict{}
	}
	return &models.BulkCreateResult{Created: valid, Conflicts: conflicts}, nil
}

// replaceConflicting deletes the unbooked slots standing in the way of conflicting
// candidates. Candidates blocked by a booking, a booked slot or another candidate
// stay in the conflict list.
func (s *DefaultAvailabilityService) replaceConflicting(ctx context.Context, accepted []models.AvailabilitySlot, conflicts []models.SlotConflict, cs *changeSet) ([]models.AvailabilitySlot, []models.SlotConflict, error) {
	var (
		replaced  []models.AvailabilitySlot
		remaining []models.SlotConflict
		deleted   = make(map[string]bool)
	)

	for _, c := range conflicts {
		replaceable := true
		var victims []*models.AvailabilitySlot
		for _, e := range c.Conflicts {
			if e.Entity != "slot" {
				replaceable = false
				break
			}
			if deleted[e.ID] {
				continue
			}
			slot, err := s.Store.FindByID(ctx, e.ID)
			if err != nil {
				if apperrors.IsNotFound(err) {
					continue
				}
				return nil, nil, err
			}
			if slot.IsBooked {
				replaceable = false
				break
			}
			victims = append(victims, slot)
		}

		candidate, err := s.buildSlot(c.Spec)
		if err != nil {
			return nil, nil, err
		}
		if replaceable {
			for _, other := range append(append([]models.AvailabilitySlot{}, accepted...), replaced...) {
				if slotsOverlap(candidate, other) {
					replaceable = false
					break
				}
			}
		}
		if !replaceable {
			remaining = append(remaining, c)
			continue
		}

		for _, v := range victims {
			if err := s.deleteSlot(ctx, v, cs); err != nil {
				return nil, nil, err
			}
			deleted[v.ID] = true
		}
		replaced = append(replaced, candidate)
	}
	return replaced, remaining, nil
}

func conflictDetailsFor(c models.SlotConflict) []apperrors.ConflictDetail {
	var suggestion []time.Time
	if c.Suggested != nil {
		suggestion = []time.Time{c.Suggested.StartTime, c.Suggested.EndTime}
	}
	return conflictDetails(c.Conflicts, suggestion)
}

func providersOf(slots []models.AvailabilitySlot) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range slots {
		if !seen[s.ProviderID] {
			seen[s.ProviderID] = true
			out = append(out, s.ProviderID)
		}
	}
	return out
}

// CreateAllDaySlots generates count slots across the working window of date and
// creates them. Any overlap with existing availability fails the call.
func (s *DefaultAvailabilityService) CreateAllDaySlots(ctx context.Context, providerID, date string, count int, opts GenerateOptions) ([]models.AvailabilitySlot, error) {
	slots, err := s.generate(providerID, date, count, opts)
	if err != nil {
		return nil, err
	}

	var res *models.BulkCreateResult
	cs := newChangeSet()
	err = s.inTransaction(ctx, []string{providerID}, func(ctx context.Context) error {
		var berr error
		res, berr = s.createBulk(ctx, slots, models.BulkCreateOptions{}, cs)
		return berr
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, cs)
	return res.Created, nil
}

// AdjustDaySlotQuantity replaces the unbooked slots of a day (or of a weekday's
// templates when opts.IsRecurring) with a fresh partition into count slots.
// Booked slots stay; generated slots overlapping them are skipped.
func (s *DefaultAvailabilityService) AdjustDaySlotQuantity(ctx context.Context, providerID, date string, count int, opts GenerateOptions) ([]models.AvailabilitySlot, error) {
	slots, err := s.generate(providerID, date, count, opts)
	if err != nil {
		return nil, err
	}

	var res *models.BulkCreateResult
	cs := newChangeSet()
	err = s.inTransaction(ctx, []string{providerID}, func(ctx context.Context) error {
		if err := s.clearDay(ctx, providerID, slots[0], cs); err != nil {
			return err
		}
		var berr error
		res, berr = s.createBulk(ctx, slots, models.BulkCreateOptions{SkipConflicts: true}, cs)
		return berr
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, cs)
	if len(res.Conflicts) > 0 {
		s.logger().Info("Adjusted day kept booked slots",
			zap.String("providerId", providerID),
			zap.String("date", date),
			zap.Int("skipped", len(res.Conflicts)))
	}
	return res.Created, nil
}

func (s *DefaultAvailabilityService) generate(providerID, date string, count int, opts GenerateOptions) ([]models.AvailabilitySlot, error) {
	if opts.Location == nil {
		opts.Location = s.location()
		if opts.Timezone != "" {
			loc, err := time.LoadLocation(opts.Timezone)
			if err != nil {
				return nil, apperrors.BadRequest("unknown timezone %q", opts.Timezone)
			}
			opts.Location = loc
		}
	}
	specs, err := Generate(providerID, date, count, opts)
	if err != nil {
		return nil, err
	}
	slots := make([]models.AvailabilitySlot, len(specs))
	for i, spec := range specs {
		if slots[i], err = s.buildSlot(spec); err != nil {
			return nil, err
		}
	}
	return slots, nil
}

// clearDay removes what a regenerated day replaces: the unbooked dated rows of
// that date, or the unbooked templates sharing the sample's weekday.
func (s *DefaultAvailabilityService) clearDay(ctx context.Context, providerID string, sample models.AvailabilitySlot, cs *changeSet) error {
	if !sample.IsTemplate() {
		ids, err := s.Store.DeleteUnbookedOnDate(ctx, providerID, sample.Date)
		if err != nil {
			return err
		}
		cs.remove(providerID, ids...)
		return s.cascadeBookings(ctx, ids)
	}

	dow := templateWeekday(sample)
	templates, err := s.Store.Repo.GetTemplates(ctx, providerID, &dow)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	for i := range templates {
		if err := s.deleteSlot(ctx, &templates[i], cs); err != nil {
			return err
		}
	}
	return nil
}

func (s *DefaultAvailabilityService) cascadeBookings(ctx context.Context, slotIDs []string) error {
	if len(slotIDs) == 0 {
		return nil
	}
	if _, err := s.Bookings.DeleteByAvailabilityIDs(ctx, slotIDs); err != nil {
		return fmt.Errorf("delete bookings of removed slots: %w", err)
	}
	return nil
}

// UpdateSlot applies patch. Booked slots cannot be moved or cancelled; a moved
// slot is re-validated, and a moved template regenerates its unbooked forward rows.
func (s *DefaultAvailabilityService) UpdateSlot(ctx context.Context, id string, patch models.SlotPatch) (*models.AvailabilitySlot, error) {
	var updated models.AvailabilitySlot
	cs := newChangeSet()
	err := s.Transactor.WithTransaction(ctx, func(ctx context.Context) error {
		slot, err := s.Store.FindByID(ctx, id)
		if err != nil {
			return err
		}

		moved := (patch.StartTime != nil && !patch.StartTime.Equal(slot.StartTime)) ||
			(patch.EndTime != nil && !patch.EndTime.Equal(slot.EndTime))
		reactivated := patch.Status != nil && *patch.Status == models.SlotStatusActive && slot.Status != models.SlotStatusActive

		if slot.IsBooked {
			if moved {
				return apperrors.Conflict(fmt.Sprintf("slot %s is booked and cannot be moved", slot.ID),
					apperrors.ConflictDetail{Entity: "booking", ID: slot.BookingID, Start: slot.StartTime, End: slot.EndTime})
			}
			if patch.Status != nil && *patch.Status == models.SlotStatusCancelled {
				return apperrors.Conflict(fmt.Sprintf("slot %s is booked; cancel the booking first", slot.ID),
					apperrors.ConflictDetail{Entity: "booking", ID: slot.BookingID, Start: slot.StartTime, End: slot.EndTime})
			}
		}

		updated = *slot
		if patch.StartTime != nil {
			updated.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			updated.EndTime = *patch.EndTime
		}
		if patch.Status != nil {
			switch *patch.Status {
			case models.SlotStatusActive, models.SlotStatusCancelled, models.SlotStatusOverride:
				updated.Status = *patch.Status
			default:
				return apperrors.BadRequest("unknown slot status %q", *patch.Status)
			}
		}
		if patch.CancellationReason != nil {
			updated.CancellationReason = *patch.CancellationReason
		}
		if patch.MaxBookings != nil {
			if *patch.MaxBookings < 1 {
				return apperrors.BadRequest("maxBookings must be at least 1")
			}
			updated.MaxBookings = *patch.MaxBookings
		}

		if moved {
			rebuilt, err := s.buildSlot(SpecOf(models.AvailabilitySlot{
				ProviderID:  updated.ProviderID,
				Kind:        updated.Kind,
				StartTime:   updated.StartTime,
				EndTime:     updated.EndTime,
				Timezone:    updated.Timezone,
				MaxBookings: updated.MaxBookings,
			}))
			if err != nil {
				return err
			}
			updated.DurationMinutes = rebuilt.DurationMinutes
			updated.DayOfWeek = rebuilt.DayOfWeek
			if !slot.IsTemplate() {
				updated.Date = rebuilt.Date
			}
		}

		if (moved || reactivated) && updated.Status == models.SlotStatusActive {
			if err := s.Validator.CheckForConflicts(ctx, updated, updated.ID); err != nil {
				return err
			}
		}

		updated.UpdatedAt = s.Clock.Now().UTC()
		if err := s.Store.Update(ctx, &updated); err != nil {
			return err
		}

		if updated.IsTemplate() && (moved || patch.Status != nil) {
			ids, err := s.Store.DeleteUnbookedInstances(ctx, &updated)
			if err != nil {
				return err
			}
			cs.remove(updated.ProviderID, ids...)
			if err := s.cascadeBookings(ctx, ids); err != nil {
				return err
			}
			if updated.Status == models.SlotStatusActive {
				rows, err := s.Materializer.GenerateForwardWeeks(ctx, updated, 0)
				if err != nil {
					return err
				}
				for _, row := range rows {
					if !row.IsBooked {
						cs.create(row)
					}
				}
			}
		}
		return nil
	})
	if updated.ProviderID != "" {
		s.Store.Invalidate(ctx, updated.ProviderID)
	}
	if err != nil {
		return nil, err
	}
	s.publishUpdated(ctx, updated, patchedFields(patch))
	s.publish(ctx, cs)
	return &updated, nil
}

// DeleteSlot removes a slot. Deleting a template also removes its unbooked
// instances; booked slots must have their booking cancelled first.
func (s *DefaultAvailabilityService) DeleteSlot(ctx context.Context, id string) error {
	var providerID string
	cs := newChangeSet()
	err := s.Transactor.WithTransaction(ctx, func(ctx context.Context) error {
		slot, err := s.Store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		providerID = slot.ProviderID
		return s.deleteSlot(ctx, slot, cs)
	})
	if providerID != "" {
		s.Store.Invalidate(ctx, providerID)
	}
	if err != nil {
		return err
	}
	s.logger().Info("Slot deleted", zap.String("slotId", id), zap.String("providerId", providerID))
	s.publish(ctx, cs)
	return nil
}

func (s *DefaultAvailabilityService) deleteSlot(ctx context.Context, slot *models.AvailabilitySlot, cs *changeSet) error {
	if slot.IsBooked {
		return apperrors.Conflict(fmt.Sprintf("slot %s is booked and cannot be deleted", slot.ID),
			apperrors.ConflictDetail{Entity: "booking", ID: slot.BookingID, Start: slot.StartTime, End: slot.EndTime})
	}

	removed := []string{slot.ID}
	if slot.IsTemplate() {
		ids, err := s.Store.DeleteUnbookedInstances(ctx, slot)
		if err != nil {
			return err
		}
		removed = append(removed, ids...)
	}
	if err := s.Store.Delete(ctx, slot); err != nil {
		return err
	}
	cs.remove(slot.ProviderID, removed...)
	return s.cascadeBookings(ctx, removed)
}
