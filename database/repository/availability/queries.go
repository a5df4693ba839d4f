// File: database/repository/availability/queries.go
package availabilityRepo

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *mongoAvailabilityRepo) GetByProviderAndDate(ctx context.Context, providerID, date string) ([]models.AvailabilitySlot, error) {
	return r.find(ctx, bson.M{"providerId": providerID, "date": date})
}

func (r *mongoAvailabilityRepo) GetByProviderAndDateRange(ctx context.Context, providerID, fromDate, toDate string) ([]models.AvailabilitySlot, error) {
	dateFilter := bson.M{"$exists": true, "$ne": ""}
	if fromDate != "" {
		dateFilter["$gte"] = fromDate
	}
	if toDate != "" {
		dateFilter["$lte"] = toDate
	}
	return r.find(ctx, bson.M{"providerId": providerID, "date": dateFilter})
}

func (r *mongoAvailabilityRepo) GetTemplates(ctx context.Context, providerID string, dayOfWeek *int) ([]models.AvailabilitySlot, error) {
	filter := bson.M{
		"providerId": providerID,
		"kind":       models.SlotKindRecurring,
		"date":       bson.M{"$in": bson.A{nil, ""}},
	}
	if dayOfWeek != nil {
		filter["dayOfWeek"] = *dayOfWeek
	}
	return r.find(ctx, filter)
}

func (r *mongoAvailabilityRepo) GetAtTime(ctx context.Context, providerID, date string, start, end time.Time) ([]models.AvailabilitySlot, error) {
	return r.find(ctx, bson.M{
		"providerId": providerID,
		"date":       date,
		"startTime":  start,
		"endTime":    end,
	})
}

func (r *mongoAvailabilityRepo) find(ctx context.Context, filter bson.M) ([]models.AvailabilitySlot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch availability slots: %w", err)
	}
	defer cursor.Close(ctx)

	var slots []models.AvailabilitySlot
	if err := cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("error decoding availability slots: %w", err)
	}
	return slots, nil
}
