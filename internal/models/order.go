package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "Pending"
	StatusProcessing     OrderStatus = "Processing"
	StatusOutForDelivery OrderStatus = "Out for Delivery"
	StatusDelivered      OrderStatus = "Delivered"
	StatusCancelled      OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
)

// OrderLine freezes product data at commit time so later catalog edits do not
// rewrite historical orders.
type OrderLine struct {
	ProductID primitive.ObjectID `bson:"productId" json:"productId"`
	Name      string             `bson:"name" json:"name"`
	Quantity  int                `bson:"quantity" json:"quantity"`
	Price     decimal.Decimal    `bson:"price" json:"price"`
	Image     string             `bson:"image,omitempty" json:"image,omitempty"`
}

type ShippingAddress struct {
	FullName   string `bson:"fullName" json:"fullName"`
	Address    string `bson:"address" json:"address"`
	City       string `bson:"city" json:"city"`
	PostalCode string `bson:"postalCode" json:"postalCode"`
	Country    string `bson:"country" json:"country"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
	Note       string `bson:"note,omitempty" json:"note,omitempty"`
}

// PaymentResult is the provider receipt recorded when payment is confirmed.
type PaymentResult struct {
	Provider     string `bson:"provider" json:"provider"`
	IntentID     string `bson:"intentId" json:"intentId"`
	EventID      string `bson:"eventId" json:"eventId"`
	Status       string `bson:"status" json:"status"`
	AmountMinor  int64  `bson:"amountMinor" json:"amountMinor"`
	Currency     string `bson:"currency" json:"currency"`
	ReceiptEmail string `bson:"receiptEmail,omitempty" json:"receiptEmail,omitempty"`
}

type Order struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID          primitive.ObjectID  `bson:"userId" json:"userId"`
	Lines           []OrderLine         `bson:"orderItems" json:"orderItems"`
	ShippingAddress ShippingAddress     `bson:"shippingAddress" json:"shippingAddress"`
	PaymentMethod   string              `bson:"paymentMethod" json:"paymentMethod"`
	ItemsPrice      decimal.Decimal     `bson:"itemsPrice" json:"itemsPrice"`
	TaxPrice        decimal.Decimal     `bson:"taxPrice" json:"taxPrice"`
	ShippingPrice   decimal.Decimal     `bson:"shippingPrice" json:"shippingPrice"`
	TotalPrice      decimal.Decimal     `bson:"totalPrice" json:"totalPrice"`
	IsPaid          bool                `bson:"isPaid" json:"isPaid"`
	PaidAt          *time.Time          `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	PaymentResult   *PaymentResult      `bson:"paymentResult,omitempty" json:"paymentResult,omitempty"`
	PaymentIntentID string              `bson:"paymentIntentId,omitempty" json:"-"`
	Status          OrderStatus         `bson:"orderStatus" json:"orderStatus"`
	DeliveryAgentID *primitive.ObjectID `bson:"deliveryAgentId,omitempty" json:"deliveryAgentId,omitempty"`
	DeliveredAt     *time.Time          `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	StockReserved   bool                `bson:"stockReserved" json:"-"`
	Version         int64               `bson:"version" json:"-"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// AssignedTo reports whether the order is assigned to the given delivery agent.
func (o Order) AssignedTo(agentID primitive.ObjectID) bool {
	return o.DeliveryAgentID != nil && *o.DeliveryAgentID == agentID
}
