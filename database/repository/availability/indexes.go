// FILE: database/repository/availability/indexes.go
package availabilityRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the necessary indexes on the availability_slots collection.
func (r *mongoAvailabilityRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		// Dated rows: range queries and per-day conflict checks.
		{
			Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetName("provider_date_idx"),
		},
		// Templates: weekday-scoped conflict checks.
		{
			Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "dayOfWeek", Value: 1}},
			Options: options.Index().SetName("provider_dayofweek_idx"),
		},
		{
			Keys:    bson.D{{Key: "templateId", Value: 1}},
			Options: options.Index().SetName("template_idx").SetSparse(true),
		},
		// One row per template occurrence, so concurrent materializations converge.
		{
			Keys: bson.D{{Key: "templateId", Value: 1}, {Key: "date", Value: 1}, {Key: "startTime", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("template_instance_unique").
				SetPartialFilterExpression(bson.M{"templateId": bson.M{"$exists": true}, "date": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetName("kind_date_idx"),
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create availability indexes: %w", err)
	}
	return nil
}
