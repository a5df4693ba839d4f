// File: database/repository/availability/crud.go
package availabilityRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotkeeper/models"
)

func (r *mongoAvailabilityRepo) Create(ctx context.Context, slot *models.AvailabilitySlot) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	if _, err := r.coll.InsertOne(ctx, slot); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateInstance
		}
		return fmt.Errorf("failed to insert availability slot: %w", err)
	}
	return nil
}

func (r *mongoAvailabilityRepo) CreateMany(ctx context.Context, slots []models.AvailabilitySlot) error {
	if len(slots) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	docs := make([]interface{}, len(slots))
	for i := range slots {
		if slots[i].ID == "" {
			slots[i].ID = uuid.New().String()
		}
		docs[i] = slots[i]
	}

	if _, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateInstance
		}
		return fmt.Errorf("failed to insert availability slots: %w", err)
	}
	return nil
}

func (r *mongoAvailabilityRepo) GetByID(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var slot models.AvailabilitySlot
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&slot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find availability slot %s: %w", id, err)
	}
	return &slot, nil
}

// Update writes the mutable fields of slot. Booking state is owned by
// MarkBooked/MarkAvailable and is left untouched.
func (r *mongoAvailabilityRepo) Update(ctx context.Context, slot *models.AvailabilitySlot) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"date":               slot.Date,
			"dayOfWeek":          slot.DayOfWeek,
			"startTime":          slot.StartTime,
			"endTime":            slot.EndTime,
			"durationMinutes":    slot.DurationMinutes,
			"status":             slot.Status,
			"cancellationReason": slot.CancellationReason,
			"maxBookings":        slot.MaxBookings,
			"updatedAt":          slot.UpdatedAt,
		},
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"id": slot.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update availability slot %s: %w", slot.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *mongoAvailabilityRepo) DeleteByID(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete availability slot %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *mongoAvailabilityRepo) DeleteUnbookedByProviderAndDate(ctx context.Context, providerID, date string) ([]string, error) {
	return r.deleteMatching(ctx, bson.M{
		"providerId": providerID,
		"date":       date,
		"isBooked":   false,
	})
}

func (r *mongoAvailabilityRepo) DeleteUnbookedByTemplate(ctx context.Context, templateID string) ([]string, error) {
	return r.deleteMatching(ctx, bson.M{
		"templateId": templateID,
		"isBooked":   false,
	})
}

func (r *mongoAvailabilityRepo) DeleteOneOffBefore(ctx context.Context, date string) ([]string, error) {
	return r.deleteMatching(ctx, bson.M{
		"kind": models.SlotKindOneOff,
		"date": bson.M{"$lt": date},
	})
}

// deleteMatching collects the ids matched by filter, then deletes exactly those rows.
func (r *mongoAvailabilityRepo) deleteMatching(ctx context.Context, filter bson.M) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to select availability slots for deletion: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID string `bson:"id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("error decoding availability slot ids: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	if _, err := r.coll.DeleteMany(ctx, bson.M{"id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("failed to delete availability slots: %w", err)
	}
	return ids, nil
}
