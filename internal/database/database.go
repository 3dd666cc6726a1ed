// Package database connects to MongoDB and prepares the collections.
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/confesso/core/internal/config"
	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/models"
)

const connectTimeout = 10 * time.Second

// Connect opens a MongoDB client, verifies it with a ping and makes sure the
// indexes exist.
func Connect(ctx context.Context, cfg config.MongoRuntimeConfig, logger *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetAppName("confesso"))
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	logger.Info("mongodb connected", zap.String("database", cfg.Database))
	return client, db, nil
}

// EnsureIndexes creates the indexes the feed and admin queries rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for collection, idx := range indexModels() {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

func indexModels() map[string][]mongo.IndexModel {
	byCreated := mongo.IndexModel{Keys: bson.D{{Key: "createdAt", Value: -1}}}
	return map[string][]mongo.IndexModel{
		models.CollectionSecrets: {byCreated},
		models.CollectionComments: {
			{Keys: bson.D{{Key: docstore.ParentField, Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		models.CollectionReports: {byCreated},
	}
}
