package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var indexSpecs = map[string][]mongo.IndexModel{
	ProductsCollection: {
		{
			Keys:    bson.D{{Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("active_createdAt"),
		},
	},
	CustomersCollection: {
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("email_unique").SetUnique(true),
		},
	},
	OrdersCollection: {
		{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetName("userId_index"),
		},
		{
			Keys:    bson.D{{Key: "deliveryAgentId", Value: 1}},
			Options: options.Index().SetName("deliveryAgentId_index").SetSparse(true),
		},
		{
			// Serves the stale pending sweep.
			Keys:    bson.D{{Key: "orderStatus", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("status_createdAt"),
		},
	},
	PaymentEventsCollection: {
		{
			Keys:    bson.D{{Key: "eventId", Value: 1}},
			Options: options.Index().SetName("eventId_unique").SetUnique(true),
		},
	},
	CategoriesCollection: {
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetName("name_unique").SetUnique(true),
		},
	},
	RefreshTokensCollection: {
		{
			Keys:    bson.D{{Key: "tokenHash", Value: 1}},
			Options: options.Index().SetName("tokenHash_index"),
		},
	},
}

// EnsureIndexes creates every index the stores rely on. The unique
// payment_events index is what makes webhook replays detectable, so its
// failure is returned along with any other.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	log := zap.L().Named("database")
	var errs []error
	for collection, models := range indexSpecs {
		names, err := db.Collection(collection).Indexes().CreateMany(ctx, models)
		if err != nil {
			log.Warn("index creation failed", zap.String("collection", collection), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s indexes: %w", collection, err))
			continue
		}
		log.Debug("indexes ensured", zap.String("collection", collection), zap.Strings("names", names))
	}
	return errors.Join(errs...)
}
