package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"storefront/internal/database"
	"storefront/internal/models"
)

// productView adds the computed price a cart must claim for the product.
type productView struct {
	models.Product
	IsOnSale       bool   `json:"isOnSale"`
	EffectivePrice string `json:"effectivePrice"`
}

func newProductView(p models.Product) productView {
	return productView{
		Product:        p,
		IsOnSale:       p.IsOnSale(),
		EffectivePrice: p.EffectivePrice().StringFixed(2),
	}
}

var visibleProducts = bson.M{
	"isActive":  true,
	"isDeleted": bson.M{"$ne": true},
}

func GetProducts(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products"
		defer handlePanic(c, route)

		if err := ensureDBConnection(c.Request.Context(), db); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, "database unavailable")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		cursor, err := db.Collection(database.ProductsCollection).Find(ctx, visibleProducts,
			options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
		if err != nil {
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}
		defer cursor.Close(ctx)

		var products []models.Product
		if err := cursor.All(ctx, &products); err != nil {
			zap.L().Error("product decode failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "decode error")
			return
		}

		views := make([]productView, 0, len(products))
		for _, p := range products {
			views = append(views, newProductView(p))
		}

		zap.L().Debug("returning products", zap.String("route", route), zap.Int("count", len(views)))
		c.JSON(http.StatusOK, views)
	}
}

func GetProduct(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /products/:id"
		defer handlePanic(c, route)

		id, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid id")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		filter := bson.M{"_id": id}
		for k, v := range visibleProducts {
			filter[k] = v
		}

		var product models.Product
		err = db.Collection(database.ProductsCollection).FindOne(ctx, filter).Decode(&product)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			zap.L().Error("product lookup failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		c.JSON(http.StatusOK, newProductView(product))
	}
}
