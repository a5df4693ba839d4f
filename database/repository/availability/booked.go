// File: database/repository/availability/booked.go
package availabilityRepo

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/bson"
)

// MarkBooked is the compare-and-swap that decides the race for a slot: the
// filter only matches an active, dated, unbooked row, so of two concurrent
// writers exactly one sees MatchedCount == 1.
func (r *mongoAvailabilityRepo) MarkBooked(ctx context.Context, slotID, bookingID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"id":       slotID,
		"isBooked": false,
		"status":   models.SlotStatusActive,
		"date":     bson.M{"$exists": true, "$ne": ""},
	}
	update := bson.M{
		"$set": bson.M{
			"isBooked":  true,
			"bookingId": bookingID,
			"updatedAt": time.Now().UTC(),
		},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark slot %s booked: %w", slotID, err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, slotID); err != nil {
			return err
		}
		return ErrSlotAlreadyBooked
	}
	return nil
}

func (r *mongoAvailabilityRepo) MarkAvailable(ctx context.Context, slotID, bookingID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"id":        slotID,
		"isBooked":  true,
		"bookingId": bookingID,
	}
	update := bson.M{
		"$set":   bson.M{"isBooked": false, "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"bookingId": ""},
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to release slot %s: %w", slotID, err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, slotID); err != nil {
			return err
		}
		return ErrSlotNotHeld
	}
	return nil
}
