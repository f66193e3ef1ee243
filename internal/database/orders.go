package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/apperrors"
	"storefront/internal/models"
	"storefront/internal/orders"
)

const (
	ProductsCollection      = "products"
	OrdersCollection        = "orders"
	PaymentEventsCollection = "payment_events"
	CustomersCollection     = "customers"
	CategoriesCollection    = "categories"
	RefreshTokensCollection = "refresh_tokens"
)

// OrderStore is the MongoDB implementation of orders.Store.
type OrderStore struct {
	db *mongo.Database
	tx *TxRunner
}

func NewOrderStore(db *mongo.Database, maxAttempts int) *OrderStore {
	return &OrderStore{db: db, tx: NewTxRunner(db.Client(), maxAttempts)}
}

func (s *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return s.tx.Run(ctx, func(sc mongo.SessionContext) error {
		return fn(sc, &mongoTx{db: s.db})
	})
}

func (s *OrderStore) FindOrder(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	return findOrder(ctx, s.db, id)
}

func (s *OrderStore) ListOrdersByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Order, error) {
	return s.list(ctx, bson.M{"userId": userID}, 0)
}

func (s *OrderStore) ListOrdersByAgent(ctx context.Context, agentID primitive.ObjectID) ([]models.Order, error) {
	return s.list(ctx, bson.M{"deliveryAgentId": agentID}, 0)
}

func (s *OrderStore) ListStalePending(ctx context.Context, paymentMethod string, before time.Time, limit int) ([]models.Order, error) {
	return s.list(ctx, bson.M{
		"orderStatus":   models.StatusPending,
		"paymentMethod": paymentMethod,
		"isPaid":        false,
		"createdAt":     bson.M{"$lt": before},
		"$or": bson.A{
			bson.M{"paymentIntentId": bson.M{"$exists": false}},
			bson.M{"paymentIntentId": ""},
		},
	}, int64(limit))
}

func (s *OrderStore) Customer(ctx context.Context, id primitive.ObjectID) (models.Customer, error) {
	var c models.Customer
	err := s.db.Collection(CustomersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return c, fmt.Errorf("customer %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return c, err
}

func (s *OrderStore) list(ctx context.Context, filter bson.M, limit int64) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.db.Collection(OrdersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []models.Order{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findOrder(ctx context.Context, db *mongo.Database, id primitive.ObjectID) (models.Order, error) {
	var order models.Order
	err := db.Collection(OrdersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return order, fmt.Errorf("order %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return order, err
}

// mongoTx issues every call with the session context handed to it, which
// binds the operation to the running transaction.
type mongoTx struct {
	db *mongo.Database
}

func (t *mongoTx) Product(ctx context.Context, id primitive.ObjectID) (models.Product, error) {
	var p models.Product
	err := t.db.Collection(ProductsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return p, fmt.Errorf("product %s: %w", id.Hex(), apperrors.ErrNotFound)
	}
	return p, err
}

func (t *mongoTx) ReserveStock(ctx context.Context, id primitive.ObjectID, qty int) (bool, error) {
	res, err := t.db.Collection(ProductsCollection).UpdateOne(ctx,
		bson.M{"_id": id, "stockQuantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"stockQuantity": -qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (t *mongoTx) ReleaseStock(ctx context.Context, id primitive.ObjectID, qty int) error {
	_, err := t.db.Collection(ProductsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"stockQuantity": qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	return err
}

func (t *mongoTx) InsertOrder(ctx context.Context, order *models.Order) error {
	res, err := t.db.Collection(OrdersCollection).InsertOne(ctx, order)
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		order.ID = id
	}
	return nil
}

func (t *mongoTx) Order(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	return findOrder(ctx, t.db, id)
}

func (t *mongoTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	expected := order.Version
	order.Version++
	res, err := t.db.Collection(OrdersCollection).ReplaceOne(ctx,
		bson.M{"_id": order.ID, "version": expected},
		order,
	)
	if err != nil {
		order.Version = expected
		return err
	}
	if res.MatchedCount == 0 {
		order.Version = expected
		return orders.ErrStaleWrite
	}
	return nil
}

func (t *mongoTx) PaymentEvent(ctx context.Context, eventID string) (*models.PaymentEvent, error) {
	var evt models.PaymentEvent
	err := t.db.Collection(PaymentEventsCollection).FindOne(ctx, bson.M{"eventId": eventID}).Decode(&evt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// RecordPaymentEvent maps a unique index violation to ErrStaleWrite: another
// delivery of the same event committed first, and the retried attempt will
// see it as a duplicate.
func (t *mongoTx) RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	_, err := t.db.Collection(PaymentEventsCollection).InsertOne(ctx, event)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("payment event %s: %w", event.EventID, orders.ErrStaleWrite)
	}
	return err
}
