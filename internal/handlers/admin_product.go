package handlers

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"storefront/internal/database"
	"storefront/internal/models"
)

var catalogTextPolicy = bluemonday.StrictPolicy()

type ProductCreateRequest struct {
	Name          string           `json:"name" binding:"required"`
	Price         decimal.Decimal  `json:"price" binding:"required"`
	SaleEnabled   bool             `json:"saleEnabled"`
	SalePrice     *decimal.Decimal `json:"salePrice"`
	CategoryID    string           `json:"categoryId"`
	Description   string           `json:"description"`
	ImagePath     string           `json:"imagePath"`
	StockQuantity *int             `json:"stockQuantity" binding:"required"`
	IsActive      *bool            `json:"isActive"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name"`
	Price         *decimal.Decimal `json:"price"`
	SaleEnabled   *bool            `json:"saleEnabled"`
	SalePrice     *decimal.Decimal `json:"salePrice"`
	CategoryID    *string          `json:"categoryId"`
	Description   *string          `json:"description"`
	ImagePath     *string          `json:"imagePath"`
	StockQuantity *int             `json:"stockQuantity"`
	IsActive      *bool            `json:"isActive"`
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(catalogTextPolicy.Sanitize(s)))
}

// resolveCategoryID checks that the referenced category exists. An empty
// value means the product is uncategorised.
func resolveCategoryID(ctx context.Context, db *mongo.Database, raw string) (*primitive.ObjectID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return nil, errors.New("invalid categoryId")
	}

	count, err := db.Collection(database.CategoriesCollection).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("category not found")
	}
	return &id, nil
}

func CreateProduct(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/products"
		defer handlePanic(c, route)

		var req ProductCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		name := cleanText(req.Name)
		if name == "" {
			respondWithError(c, http.StatusBadRequest, route, "name required")
			return
		}

		salePrice := decimal.Zero
		if req.SalePrice != nil {
			salePrice = *req.SalePrice
		}
		if err := validateSaleFields(req.Price, req.SaleEnabled, salePrice, req.SalePrice != nil); err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		if *req.StockQuantity < 0 {
			respondWithError(c, http.StatusBadRequest, route, "stockQuantity must be zero or greater")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		categoryID, err := resolveCategoryID(ctx, db, req.CategoryID)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		isActive := true
		if req.IsActive != nil {
			isActive = *req.IsActive
		}

		now := time.Now().UTC()
		product := models.Product{
			ID:            primitive.NewObjectID(),
			Name:          name,
			Price:         req.Price,
			SaleEnabled:   req.SaleEnabled,
			SalePrice:     salePrice,
			CategoryID:    categoryID,
			Description:   cleanText(req.Description),
			ImagePath:     strings.TrimSpace(req.ImagePath),
			StockQuantity: *req.StockQuantity,
			IsActive:      isActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if _, err := db.Collection(database.ProductsCollection).InsertOne(ctx, product); err != nil {
			zap.L().Error("product insert failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		zap.L().Info("product created", zap.String("productId", product.ID.Hex()), zap.String("name", product.Name))
		c.JSON(http.StatusCreated, product)
	}
}

// UpdateProduct applies a partial update. Stock written here replaces the
// counter outright; orders already committed keep their reservation.
func UpdateProduct(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /admin/api/products/:id"
		defer handlePanic(c, route)

		id, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid id")
			return
		}

		var req ProductUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		products := db.Collection(database.ProductsCollection)
		var existing models.Product
		err = products.FindOne(ctx, bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}}).Decode(&existing)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			zap.L().Error("product lookup failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		sale, err := resolveSaleUpdate(
			saleUpdateResult{Price: existing.Price, SaleEnabled: existing.SaleEnabled, SalePrice: existing.SalePrice},
			saleUpdateInput{Price: req.Price, SaleEnabled: req.SaleEnabled, SalePrice: req.SalePrice},
		)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		updateSet := bson.M{
			"price":       sale.Price,
			"saleEnabled": sale.SaleEnabled,
			"salePrice":   sale.SalePrice,
			"updatedAt":   time.Now().UTC(),
		}

		if req.Name != nil {
			name := cleanText(*req.Name)
			if name == "" {
				respondWithError(c, http.StatusBadRequest, route, "name required")
				return
			}
			updateSet["name"] = name
		}
		if req.Description != nil {
			updateSet["description"] = cleanText(*req.Description)
		}
		if req.ImagePath != nil {
			updateSet["imagePath"] = strings.TrimSpace(*req.ImagePath)
		}
		if req.StockQuantity != nil {
			if *req.StockQuantity < 0 {
				respondWithError(c, http.StatusBadRequest, route, "stockQuantity must be zero or greater")
				return
			}
			updateSet["stockQuantity"] = *req.StockQuantity
		}
		if req.IsActive != nil {
			updateSet["isActive"] = *req.IsActive
		}
		if req.CategoryID != nil {
			categoryID, err := resolveCategoryID(ctx, db, *req.CategoryID)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, route, err.Error())
				return
			}
			updateSet["categoryId"] = categoryID
		}

		var updated models.Product
		err = products.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}},
			bson.M{"$set": updateSet},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			zap.L().Error("product update failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}

		c.JSON(http.StatusOK, updated)
	}
}

// DeleteProduct hides a product from the storefront. Orders keep their
// snapshot of it.
func DeleteProduct(db *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /admin/api/products/:id"
		defer handlePanic(c, route)

		id, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid id")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		res, err := db.Collection(database.ProductsCollection).UpdateOne(ctx,
			bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}},
			bson.M{"$set": bson.M{
				"isDeleted": true,
				"isActive":  false,
				"updatedAt": time.Now().UTC(),
			}},
		)
		if err != nil {
			zap.L().Error("product delete failed", zap.Error(err))
			respondWithError(c, http.StatusInternalServerError, route, "db error")
			return
		}
		if res.MatchedCount == 0 {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
	}
}
