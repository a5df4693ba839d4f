package providerRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProviderRepo implements ProviderRepository using MongoDB.
type MongoProviderRepo struct {
	coll *mongo.Collection
}

// NewMongoProviderRepo creates a new instance of ProviderRepository using MongoDB.
func NewMongoProviderRepo(db *mongo.Database) ProviderRepository {
	return &MongoProviderRepo{coll: db.Collection("providers")}
}

func (r *MongoProviderRepo) GetByID(ctx context.Context, id string) (*models.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	projection := bson.M{"id": 1, "profile": 1, "preferences": 1, "security.fcmToken": 1}
	var provider models.Provider
	err := r.coll.FindOne(ctx, bson.M{"id": id}, options.FindOne().SetProjection(projection)).Decode(&provider)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider with id %s: %w", id, err)
	}
	return &provider, nil
}
