// File: services/availability/service.go
package availability

import (
	"context"
	"time"

	"slotkeeper/database"
	"slotkeeper/models"
	"slotkeeper/services/idempotency"
	"slotkeeper/services/notification"
	"slotkeeper/utils"

	"go.uber.org/zap"
)

// AvailabilityService is the slot management surface used by the HTTP layer and the worker.
type AvailabilityService interface {
	CreateSlot(ctx context.Context, spec models.SlotSpec) (*models.AvailabilitySlot, error)
	CreateBulkSlots(ctx context.Context, specs []models.SlotSpec, opts models.BulkCreateOptions) (*models.BulkCreateResult, error)
	CreateAllDaySlots(ctx context.Context, providerID, date string, count int, opts GenerateOptions) ([]models.AvailabilitySlot, error)
	AdjustDaySlotQuantity(ctx context.Context, providerID, date string, count int, opts GenerateOptions) ([]models.AvailabilitySlot, error)
	UpdateSlot(ctx context.Context, id string, patch models.SlotPatch) (*models.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, id string) error
	CleanupPastSlots(ctx context.Context) (int, error)
	GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	FindByProviderAndRange(ctx context.Context, providerID string, start, end *time.Time) ([]models.AvailabilitySlot, error)
	GenerateInstances(ctx context.Context, templateID, fromDate, toDate string) ([]models.AvailabilitySlot, error)
}

// BookingCascade removes bookings that reference deleted slots.
type BookingCascade interface {
	DeleteByAvailabilityIDs(ctx context.Context, availabilityIDs []string) (int64, error)
}

// DefaultAvailabilityService implements AvailabilityService.
type DefaultAvailabilityService struct {
	Store        *Store
	Validator    *ConflictValidator
	Materializer *Materializer
	Bookings     BookingCascade
	Idempotency  *idempotency.Cache
	Transactor   database.Transactor
	Hooks        notification.Hooks
	Clock        utils.Clock
	Location     *time.Location
	Logger       *zap.Logger
}

func (s *DefaultAvailabilityService) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *DefaultAvailabilityService) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// inTransaction runs fn in the configured transactor and drops the touched
// provider caches again once the outcome is durable.
func (s *DefaultAvailabilityService) inTransaction(ctx context.Context, providers []string, fn func(ctx context.Context) error) error {
	err := s.Transactor.WithTransaction(ctx, fn)
	for _, p := range providers {
		s.Store.Invalidate(ctx, p)
	}
	return err
}

func (s *DefaultAvailabilityService) GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	return s.Store.FindByID(ctx, id)
}

func (s *DefaultAvailabilityService) FindByProviderAndRange(ctx context.Context, providerID string, start, end *time.Time) ([]models.AvailabilitySlot, error) {
	return s.Store.FindByProviderAndRange(ctx, providerID, start, end)
}

// GenerateInstances lists a template's occurrences between two dates without persisting them.
func (s *DefaultAvailabilityService) GenerateInstances(ctx context.Context, templateID, fromDate, toDate string) ([]models.AvailabilitySlot, error) {
	template, err := s.Store.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.Materializer.GenerateInstances(*template, fromDate, toDate)
}

// CleanupPastSlots removes ONE_OFF slots dated before today along with the
// bookings that reference them.
func (s *DefaultAvailabilityService) CleanupPastSlots(ctx context.Context) (int, error) {
	ids, err := s.Store.CleanupPastOneOffSlots(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	removed, err := s.Bookings.DeleteByAvailabilityIDs(ctx, ids)
	if err != nil {
		return len(ids), err
	}
	s.logger().Info("Cleaned up past slots",
		zap.Int("slots", len(ids)),
		zap.Int64("bookings", removed))
	return len(ids), nil
}
