// Package memstore holds process-local implementations of the repositories with
// the same conditional-update semantics as the Mongo ones. Service tests run
// against it.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	availabilityRepo "slotkeeper/database/repository/availability"
	bookingRepo "slotkeeper/database/repository/booking"
	providerRepo "slotkeeper/database/repository/provider"
	"slotkeeper/models"

	"github.com/google/uuid"
)

// SlotRepo implements availabilityRepo.AvailabilityRepository.
type SlotRepo struct {
	mu    sync.Mutex
	slots map[string]models.AvailabilitySlot

	// MarkBookedErr, when set, is returned by every MarkBooked call.
	MarkBookedErr error
}

func NewSlotRepo() *SlotRepo {
	return &SlotRepo{slots: make(map[string]models.AvailabilitySlot)}
}

// Put stores slot as is, assigning an id when missing.
func (r *SlotRepo) Put(slot models.AvailabilitySlot) models.AvailabilitySlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	r.slots[slot.ID] = slot
	return slot
}

// All returns every stored slot sorted by start.
func (r *SlotRepo) All() []models.AvailabilitySlot {
	return r.filter(func(models.AvailabilitySlot) bool { return true })
}

func (r *SlotRepo) duplicateInstance(s models.AvailabilitySlot) bool {
	if s.TemplateID == "" || s.Date == "" {
		return false
	}
	for _, o := range r.slots {
		if o.TemplateID == s.TemplateID && o.Date == s.Date && o.StartTime.Equal(s.StartTime) {
			return true
		}
	}
	return false
}

func (r *SlotRepo) Create(_ context.Context, slot *models.AvailabilitySlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	if r.duplicateInstance(*slot) {
		return availabilityRepo.ErrDuplicateInstance
	}
	r.slots[slot.ID] = *slot
	return nil
}

func (r *SlotRepo) CreateMany(_ context.Context, slots []models.AvailabilitySlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range slots {
		if slots[i].ID == "" {
			slots[i].ID = uuid.New().String()
		}
		if r.duplicateInstance(slots[i]) {
			return availabilityRepo.ErrDuplicateInstance
		}
		r.slots[slots[i].ID] = slots[i]
	}
	return nil
}

func (r *SlotRepo) GetByID(_ context.Context, id string) (*models.AvailabilitySlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, availabilityRepo.ErrSlotNotFound
	}
	return &s, nil
}

func (r *SlotRepo) GetByProviderAndDate(_ context.Context, providerID, date string) ([]models.AvailabilitySlot, error) {
	return r.filter(func(s models.AvailabilitySlot) bool {
		return s.ProviderID == providerID && s.Date == date
	}), nil
}

func (r *SlotRepo) GetByProviderAndDateRange(_ context.Context, providerID, fromDate, toDate string) ([]models.AvailabilitySlot, error) {
	return r.filter(func(s models.AvailabilitySlot) bool {
		return s.ProviderID == providerID && s.Date != "" &&
			(fromDate == "" || s.Date >= fromDate) &&
			(toDate == "" || s.Date <= toDate)
	}), nil
}

func (r *SlotRepo) GetTemplates(_ context.Context, providerID string, dayOfWeek *int) ([]models.AvailabilitySlot, error) {
	return r.filter(func(s models.AvailabilitySlot) bool {
		if s.ProviderID != providerID || !s.IsTemplate() {
			return false
		}
		return dayOfWeek == nil || (s.DayOfWeek != nil && *s.DayOfWeek == *dayOfWeek)
	}), nil
}

func (r *SlotRepo) GetAtTime(_ context.Context, providerID, date string, start, end time.Time) ([]models.AvailabilitySlot, error) {
	return r.filter(func(s models.AvailabilitySlot) bool {
		return s.ProviderID == providerID && s.Date == date && s.StartTime.Equal(start) && s.EndTime.Equal(end)
	}), nil
}

func (r *SlotRepo) Update(_ context.Context, slot *models.AvailabilitySlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.slots[slot.ID]
	if !ok {
		return availabilityRepo.ErrSlotNotFound
	}
	cur.Date = slot.Date
	cur.DayOfWeek = slot.DayOfWeek
	cur.StartTime = slot.StartTime
	cur.EndTime = slot.EndTime
	cur.DurationMinutes = slot.DurationMinutes
	cur.Status = slot.Status
	cur.CancellationReason = slot.CancellationReason
	cur.MaxBookings = slot.MaxBookings
	cur.UpdatedAt = slot.UpdatedAt
	r.slots[slot.ID] = cur
	return nil
}

func (r *SlotRepo) MarkBooked(_ context.Context, slotID, bookingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MarkBookedErr != nil {
		return r.MarkBookedErr
	}
	s, ok := r.slots[slotID]
	if !ok {
		return availabilityRepo.ErrSlotNotFound
	}
	if s.IsBooked || s.Status != models.SlotStatusActive || s.Date == "" {
		return availabilityRepo.ErrSlotAlreadyBooked
	}
	s.IsBooked = true
	s.BookingID = bookingID
	r.slots[slotID] = s
	return nil
}

func (r *SlotRepo) MarkAvailable(_ context.Context, slotID, bookingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return availabilityRepo.ErrSlotNotFound
	}
	if !s.IsBooked || s.BookingID != bookingID {
		return availabilityRepo.ErrSlotNotHeld
	}
	s.IsBooked = false
	s.BookingID = ""
	r.slots[slotID] = s
	return nil
}

func (r *SlotRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; !ok {
		return availabilityRepo.ErrSlotNotFound
	}
	delete(r.slots, id)
	return nil
}

func (r *SlotRepo) DeleteUnbookedByProviderAndDate(_ context.Context, providerID, date string) ([]string, error) {
	return r.deleteWhere(func(s models.AvailabilitySlot) bool {
		return s.ProviderID == providerID && s.Date == date && !s.IsBooked
	}), nil
}

func (r *SlotRepo) DeleteUnbookedByTemplate(_ context.Context, templateID string) ([]string, error) {
	return r.deleteWhere(func(s models.AvailabilitySlot) bool {
		return s.TemplateID == templateID && !s.IsBooked
	}), nil
}

func (r *SlotRepo) DeleteOneOffBefore(_ context.Context, date string) ([]string, error) {
	return r.deleteWhere(func(s models.AvailabilitySlot) bool {
		return s.Kind == models.SlotKindOneOff && s.Date != "" && s.Date < date
	}), nil
}

func (r *SlotRepo) EnsureIndexes(context.Context) error { return nil }

func (r *SlotRepo) filter(keep func(models.AvailabilitySlot) bool) []models.AvailabilitySlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AvailabilitySlot
	for _, s := range r.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (r *SlotRepo) deleteWhere(match func(models.AvailabilitySlot) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.slots {
		if match(s) {
			ids = append(ids, id)
			delete(r.slots, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// BookingRepo implements bookingRepo.BookingRepository.
type BookingRepo struct {
	mu       sync.Mutex
	bookings map[string]models.Booking
}

func NewBookingRepo() *BookingRepo {
	return &BookingRepo{bookings: make(map[string]models.Booking)}
}

// All returns every stored booking sorted by start.
func (r *BookingRepo) All() []models.Booking {
	return r.filter(func(models.Booking) bool { return true })
}

func (r *BookingRepo) serialTaken(serial string) bool {
	for _, b := range r.bookings {
		if b.SerialKey == serial {
			return true
		}
	}
	return false
}

func (r *BookingRepo) Create(_ context.Context, b *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.serialTaken(b.SerialKey) {
		return bookingRepo.ErrDuplicateSerialKey
	}
	r.bookings[b.ID] = *b
	return nil
}

func (r *BookingRepo) CreateMany(_ context.Context, bookings []models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bookings {
		if r.serialTaken(b.SerialKey) {
			return bookingRepo.ErrDuplicateSerialKey
		}
		r.bookings[b.ID] = b
	}
	return nil
}

func (r *BookingRepo) GetByID(_ context.Context, id string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, bookingRepo.ErrBookingNotFound
	}
	return &b, nil
}

func (r *BookingRepo) GetBySerialKey(_ context.Context, serialKey string) (*models.Booking, error) {
	found := r.filter(func(b models.Booking) bool { return b.SerialKey == serialKey })
	if len(found) == 0 {
		return nil, bookingRepo.ErrBookingNotFound
	}
	return &found[0], nil
}

func (r *BookingRepo) FindActiveOverlapping(_ context.Context, providerID string, start, end time.Time, excludeID string) ([]models.Booking, error) {
	return r.filter(func(b models.Booking) bool {
		return b.ProviderID == providerID && b.Status.IsActive() && b.ID != excludeID &&
			b.StartTime.Before(end) && b.EndTime.After(start)
	}), nil
}

func (r *BookingRepo) ListByProvider(_ context.Context, providerID string, from, to time.Time) ([]models.Booking, error) {
	return r.filter(func(b models.Booking) bool {
		return b.ProviderID == providerID &&
			(from.IsZero() || !b.StartTime.Before(from)) &&
			(to.IsZero() || b.StartTime.Before(to))
	}), nil
}

func (r *BookingRepo) Update(_ context.Context, b *models.Booking, expected models.BookingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bookings[b.ID]
	if !ok {
		return bookingRepo.ErrBookingNotFound
	}
	if cur.Status != expected {
		return bookingRepo.ErrStatusChanged
	}
	cur.Status = b.Status
	cur.GuestName = b.GuestName
	cur.GuestEmail = b.GuestEmail
	cur.GuestPhone = b.GuestPhone
	cur.Notes = b.Notes
	cur.UpdatedAt = b.UpdatedAt
	r.bookings[b.ID] = cur
	return nil
}

func (r *BookingRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[id]; !ok {
		return bookingRepo.ErrBookingNotFound
	}
	delete(r.bookings, id)
	return nil
}

func (r *BookingRepo) DeleteByIDs(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.bookings, id)
	}
	return nil
}

func (r *BookingRepo) DeleteByAvailabilityIDs(_ context.Context, availabilityIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(availabilityIDs))
	for _, id := range availabilityIDs {
		want[id] = true
	}
	var n int64
	for id, b := range r.bookings {
		if want[b.AvailabilityID] {
			delete(r.bookings, id)
			n++
		}
	}
	return n, nil
}

func (r *BookingRepo) EnsureIndexes(context.Context) error { return nil }

func (r *BookingRepo) filter(keep func(models.Booking) bool) []models.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ProviderRepo implements providerRepo.ProviderRepository.
type ProviderRepo struct {
	mu        sync.Mutex
	providers map[string]models.Provider
}

func NewProviderRepo(providers ...models.Provider) *ProviderRepo {
	r := &ProviderRepo{providers: make(map[string]models.Provider)}
	for _, p := range providers {
		r.providers[p.ID] = p
	}
	return r
}

func (r *ProviderRepo) Put(p models.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
}

func (r *ProviderRepo) GetByID(_ context.Context, id string) (*models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, providerRepo.ErrProviderNotFound
	}
	return &p, nil
}

var (
	_ availabilityRepo.AvailabilityRepository = (*SlotRepo)(nil)
	_ bookingRepo.BookingRepository           = (*BookingRepo)(nil)
	_ providerRepo.ProviderRepository         = (*ProviderRepo)(nil)
)
