package bookingRepo

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (repo *MongoBookingRepo) FindActiveOverlapping(ctx context.Context, providerID string, start, end time.Time, excludeID string) ([]models.Booking, error) {
	filter := bson.M{
		"providerId": providerID,
		"status":     bson.M{"$in": models.ActiveBookingStatuses},
		"startTime":  bson.M{"$lt": end},
		"endTime":    bson.M{"$gt": start},
	}
	if excludeID != "" {
		filter["id"] = bson.M{"$ne": excludeID}
	}
	return repo.find(ctx, filter)
}

func (repo *MongoBookingRepo) ListByProvider(ctx context.Context, providerID string, from, to time.Time) ([]models.Booking, error) {
	filter := bson.M{"providerId": providerID}
	window := bson.M{}
	if !from.IsZero() {
		window["$gte"] = from
	}
	if !to.IsZero() {
		window["$lt"] = to
	}
	if len(window) > 0 {
		filter["startTime"] = window
	}
	return repo.find(ctx, filter)
}

func (repo *MongoBookingRepo) find(ctx context.Context, filter bson.M) ([]models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := repo.bookingColl.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("error decoding bookings: %w", err)
	}
	return bookings, nil
}

// EnsureIndexes creates the necessary indexes on the bookings collection.
func (repo *MongoBookingRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		{
			Keys:    bson.D{{Key: "serialKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_serial_key"),
		},
		{
			Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "startTime", Value: 1}},
			Options: options.Index().SetName("provider_start_idx"),
		},
		{
			Keys:    bson.D{{Key: "availabilityId", Value: 1}},
			Options: options.Index().SetName("availability_idx"),
		},
	}

	if _, err := repo.bookingColl.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create booking indexes: %w", err)
	}
	return nil
}
