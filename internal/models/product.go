package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Product struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name          string              `bson:"name" json:"name"`
	Price         decimal.Decimal     `bson:"price" json:"price"`
	SaleEnabled   bool                `bson:"saleEnabled" json:"saleEnabled"`
	SalePrice     decimal.Decimal     `bson:"salePrice" json:"salePrice"`
	CategoryID    *primitive.ObjectID `bson:"categoryId,omitempty" json:"categoryId,omitempty"`
	Description   string              `bson:"description,omitempty" json:"description,omitempty"`
	ImagePath     string              `bson:"imagePath,omitempty" json:"imagePath,omitempty"`
	StockQuantity int                 `bson:"stockQuantity" json:"stockQuantity"`
	IsActive      bool                `bson:"isActive" json:"isActive"`
	IsDeleted     bool                `bson:"isDeleted" json:"isDeleted,omitempty"`
	CreatedAt     time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// IsOnSale reports whether the sale price currently replaces the list price.
func (p Product) IsOnSale() bool {
	return p.SaleEnabled && p.SalePrice.IsPositive() && p.SalePrice.LessThan(p.Price)
}

// EffectivePrice is the authoritative unit price a cart line is billed at.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.IsOnSale() {
		return p.SalePrice
	}
	return p.Price
}

// Purchasable is false for products hidden from the storefront.
func (p Product) Purchasable() bool {
	return p.IsActive && !p.IsDeleted
}
