// File: services/availability/store.go
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"slotkeeper/apperrors"
	availabilityRepo "slotkeeper/database/repository/availability"
	"slotkeeper/models"
	"slotkeeper/utils"

	"go.uber.org/zap"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	cachePrefix     = "availability:"
)

// Store is the cache-through access layer over the availability repository.
// Every mutation invalidates the whole cache namespace of the affected provider.
type Store struct {
	Repo         availabilityRepo.AvailabilityRepository
	Cache        utils.Cache
	TTL          time.Duration
	Clock        utils.Clock
	ForwardWeeks int
	Location     *time.Location
	Logger       *zap.Logger
}

func NewStore(repo availabilityRepo.AvailabilityRepository, cache utils.Cache, ttl time.Duration, clock utils.Clock, forwardWeeks int, loc *time.Location, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if forwardWeeks <= 0 {
		forwardWeeks = DefaultForwardWeeks
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Repo: repo, Cache: cache, TTL: ttl, Clock: clock, ForwardWeeks: forwardWeeks, Location: loc, Logger: logger}
}

// CacheNamespace is the key prefix holding every cached range of a provider.
func CacheNamespace(providerID string) string {
	return cachePrefix + providerID + ":"
}

func rangeKey(providerID string, start, end *time.Time) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return CacheNamespace(providerID) + bound(start) + ":" + bound(end)
}

// FindByProviderAndRange lists the provider's upcoming bookable slots whose start
// lies in [start, end). Nil bounds default to now and to the forward horizon for
// template occurrences. Persisted rows win over template occurrences at the same
// start and duration; booked rows win over unbooked ones.
func (s *Store) FindByProviderAndRange(ctx context.Context, providerID string, start, end *time.Time) ([]models.AvailabilitySlot, error) {
	key := rangeKey(providerID, start, end)
	now := s.Clock.Now()

	var cached []models.AvailabilitySlot
	hit, err := s.Cache.Get(ctx, key, &cached)
	if err != nil {
		s.Logger.Warn("Availability cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return dropPast(cached, now), nil
	}

	from := now
	if start != nil && start.After(now) {
		from = *start
	}
	horizon := now.AddDate(0, 0, 7*s.ForwardWeeks)
	if end != nil {
		horizon = *end
	}

	fromDate := from.In(s.Location).AddDate(0, 0, -1).Format(models.DateLayout)
	toDate := ""
	if end != nil {
		toDate = end.In(s.Location).AddDate(0, 0, 1).Format(models.DateLayout)
	}
	rows, err := s.Repo.GetByProviderAndDateRange(ctx, providerID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("load slots for %s: %w", providerID, err)
	}
	templates, err := s.Repo.GetTemplates(ctx, providerID, nil)
	if err != nil {
		return nil, fmt.Errorf("load templates for %s: %w", providerID, err)
	}

	candidates := make([]models.AvailabilitySlot, 0, len(rows))
	for _, row := range rows {
		if row.StartTime.Before(from) || (end != nil && !row.StartTime.Before(*end)) {
			continue
		}
		candidates = append(candidates, row)
	}
	for _, t := range templates {
		candidates = append(candidates, ExpandTemplate(t, from, horizon)...)
	}

	result := dedupe(candidates)
	if err := s.Cache.Set(ctx, key, result, s.TTL); err != nil {
		s.Logger.Warn("Availability cache write failed", zap.String("key", key), zap.Error(err))
	}
	return dropPast(result, now), nil
}

func dropPast(slots []models.AvailabilitySlot, now time.Time) []models.AvailabilitySlot {
	out := make([]models.AvailabilitySlot, 0, len(slots))
	for _, s := range slots {
		if s.Status == models.SlotStatusCancelled || s.StartTime.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func rank(s models.AvailabilitySlot) int {
	switch {
	case s.IsVirtual():
		return 0
	case s.IsBooked:
		return 2
	default:
		return 1
	}
}

// dedupe keeps one slot per (start, duration) and sorts by start.
func dedupe(slots []models.AvailabilitySlot) []models.AvailabilitySlot {
	type slotKey struct {
		start    int64
		duration time.Duration
	}
	best := make(map[slotKey]int, len(slots))
	out := make([]models.AvailabilitySlot, 0, len(slots))
	for _, s := range slots {
		if s.Status == models.SlotStatusCancelled {
			continue
		}
		k := slotKey{start: s.StartTime.UnixNano(), duration: s.EndTime.Sub(s.StartTime)}
		if i, ok := best[k]; ok {
			if rank(s) > rank(out[i]) {
				out[i] = s
			}
			continue
		}
		best[k] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// FindByID returns the stored slot or a NotFound error.
func (s *Store) FindByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	if id == "" {
		return nil, apperrors.NotFound("availability slot id is empty")
	}
	slot, err := s.Repo.GetByID(ctx, id)
	if errors.Is(err, availabilityRepo.ErrSlotNotFound) {
		return nil, apperrors.NotFound("availability slot %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *Store) Create(ctx context.Context, slot *models.AvailabilitySlot) error {
	if err := s.Repo.Create(ctx, slot); err != nil {
		return err
	}
	s.Invalidate(ctx, slot.ProviderID)
	return nil
}

func (s *Store) CreateMany(ctx context.Context, providerID string, slots []models.AvailabilitySlot) error {
	if len(slots) == 0 {
		return nil
	}
	if err := s.Repo.CreateMany(ctx, slots); err != nil {
		return err
	}
	s.Invalidate(ctx, providerID)
	return nil
}

func (s *Store) Update(ctx context.Context, slot *models.AvailabilitySlot) error {
	err := s.Repo.Update(ctx, slot)
	if errors.Is(err, availabilityRepo.ErrSlotNotFound) {
		return apperrors.NotFound("availability slot %s not found", slot.ID)
	}
	if err != nil {
		return err
	}
	s.Invalidate(ctx, slot.ProviderID)
	return nil
}

func (s *Store) Delete(ctx context.Context, slot *models.AvailabilitySlot) error {
	err := s.Repo.DeleteByID(ctx, slot.ID)
	if errors.Is(err, availabilityRepo.ErrSlotNotFound) {
		return apperrors.NotFound("availability slot %s not found", slot.ID)
	}
	if err != nil {
		return err
	}
	s.Invalidate(ctx, slot.ProviderID)
	return nil
}

// DeleteUnbookedOnDate removes the provider's unbooked rows on date and returns their ids.
func (s *Store) DeleteUnbookedOnDate(ctx context.Context, providerID, date string) ([]string, error) {
	ids, err := s.Repo.DeleteUnbookedByProviderAndDate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, providerID)
	return ids, nil
}

// DeleteUnbookedInstances removes unbooked rows materialized from template.
func (s *Store) DeleteUnbookedInstances(ctx context.Context, template *models.AvailabilitySlot) ([]string, error) {
	ids, err := s.Repo.DeleteUnbookedByTemplate(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, template.ProviderID)
	return ids, nil
}

// MarkBooked is the conditional flip deciding which concurrent booking wins the slot.
func (s *Store) MarkBooked(ctx context.Context, slot *models.AvailabilitySlot, bookingID string) error {
	if slot.IsTemplate() {
		return apperrors.BadRequest("recurring template %s cannot be booked directly", slot.ID)
	}
	err := s.Repo.MarkBooked(ctx, slot.ID, bookingID)
	switch {
	case errors.Is(err, availabilityRepo.ErrSlotNotFound):
		return apperrors.NotFound("availability slot %s not found", slot.ID)
	case errors.Is(err, availabilityRepo.ErrSlotAlreadyBooked):
		return apperrors.Conflict(fmt.Sprintf("availability slot %s is already booked", slot.ID),
			apperrors.ConflictDetail{Entity: "slot", ID: slot.ID, Start: slot.StartTime, End: slot.EndTime})
	case err != nil:
		return err
	}
	slot.IsBooked = true
	slot.BookingID = bookingID
	s.Invalidate(ctx, slot.ProviderID)
	return nil
}

// MarkAvailable releases slotID if bookingID holds it. A slot that is gone or
// held by someone else is left alone.
func (s *Store) MarkAvailable(ctx context.Context, providerID, slotID, bookingID string) error {
	err := s.Repo.MarkAvailable(ctx, slotID, bookingID)
	switch {
	case errors.Is(err, availabilityRepo.ErrSlotNotFound), errors.Is(err, availabilityRepo.ErrSlotNotHeld):
		s.Logger.Warn("Slot release skipped",
			zap.String("slotId", slotID),
			zap.String("bookingId", bookingID),
			zap.Error(err))
	case err != nil:
		return err
	}
	s.Invalidate(ctx, providerID)
	return nil
}

// CleanupPastOneOffSlots deletes ONE_OFF rows dated before today and returns their ids.
func (s *Store) CleanupPastOneOffSlots(ctx context.Context) ([]string, error) {
	today := utils.StartOfDay(s.Clock.Now(), s.Location).Format(models.DateLayout)
	ids, err := s.Repo.DeleteOneOffBefore(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("cleanup one-off slots before %s: %w", today, err)
	}
	if len(ids) > 0 {
		if _, err := s.Cache.DelPrefix(ctx, cachePrefix); err != nil {
			s.Logger.Warn("Availability cache flush failed", zap.Error(err))
		}
	}
	return ids, nil
}

// Invalidate drops every cached range of providerID. Failures are logged; the TTL bounds staleness.
func (s *Store) Invalidate(ctx context.Context, providerID string) {
	if _, err := s.Cache.DelPrefix(ctx, CacheNamespace(providerID)); err != nil {
		s.Logger.Warn("Availability cache invalidation failed",
			zap.String("providerId", providerID),
			zap.Error(err))
	}
}
