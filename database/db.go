package database

import (
	"context"
	"log"
	"time"

	"slotkeeper/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoClient is the global MongoDB client instance.
var MongoClient *mongo.Client

// InitDB initializes the MongoDB connection.
func InitDB() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(config.AppConfig.DatabaseURL)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Fatalf("failed to ping MongoDB: %v", err)
	}
	MongoClient = client
	log.Println("Connected to MongoDB successfully!")
}

// Database returns the application database on the global client.
func Database() *mongo.Database {
	return MongoClient.Database(config.AppConfig.DatabaseName)
}

// helloResult is the subset of the hello/isMaster reply SupportsTransactions reads.
type helloResult struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

// SupportsTransactions checks the deployment once: replica set members and
// mongos routers accept multi-document transactions, standalone servers do not.
func SupportsTransactions(ctx context.Context, client *mongo.Client) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var res helloResult
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&res)
	if err != nil {
		// Servers older than 4.4.2 only know isMaster.
		if err2 := client.Database("admin").RunCommand(ctx, bson.D{{Key: "isMaster", Value: 1}}).Decode(&res); err2 != nil {
			return false, err
		}
	}
	return res.SetName != "" || res.Msg == "isdbgrid", nil
}
