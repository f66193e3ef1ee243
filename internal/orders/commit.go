package orders

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/models"
)

// CartLine is one client-proposed line. ClaimedUnitPrice is only compared
// against the catalog, never billed.
type CartLine struct {
	ProductID        string
	ClaimedUnitPrice decimal.Decimal
	Quantity         int
}

type CommitRequest struct {
	UserID          primitive.ObjectID
	Lines           []CartLine
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
}

var textPolicy = bluemonday.StrictPolicy()

// Commit validates the cart against the catalog, prices it, writes a Pending
// order and reserves stock, all in one transaction. On error nothing is
// written.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (models.Order, error) {
	productIDs, err := validateCommit(req)
	if err != nil {
		metrics.Commitments.WithLabelValues(resultLabel(err)).Inc()
		return models.Order{}, err
	}
	address := cleanAddress(req.ShippingAddress)

	var order models.Order
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		lines := make([]models.OrderLine, 0, len(req.Lines))
		itemsPrice := decimal.Zero

		for i, line := range req.Lines {
			product, err := tx.Product(ctx, productIDs[i])
			if errors.Is(err, apperrors.ErrNotFound) || (err == nil && !product.Purchasable()) {
				return apperrors.NotFound("product", line.ProductID)
			}
			if err != nil {
				return fmt.Errorf("load product %s: %w", line.ProductID, err)
			}

			price := product.EffectivePrice()
			if !price.IsPositive() {
				return apperrors.Validation(fmt.Sprintf("%q is not for sale", product.Name)).With("productId", line.ProductID)
			}
			if !line.ClaimedUnitPrice.Equal(price) {
				return apperrors.PriceMismatch(line.ProductID, product.Name, price.StringFixed(2))
			}
			if product.StockQuantity < line.Quantity {
				return apperrors.InsufficientStock(line.ProductID, product.Name, product.StockQuantity, line.Quantity)
			}

			lines = append(lines, models.OrderLine{
				ProductID: product.ID,
				Name:      product.Name,
				Quantity:  line.Quantity,
				Price:     price,
				Image:     product.ImagePath,
			})
			itemsPrice = itemsPrice.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		totals := s.pricing.Totals(itemsPrice)
		now := s.now().UTC()
		order = models.Order{
			ID:              primitive.NewObjectID(),
			UserID:          req.UserID,
			Lines:           lines,
			ShippingAddress: address,
			PaymentMethod:   req.PaymentMethod,
			ItemsPrice:      totals.ItemsPrice,
			TaxPrice:        totals.TaxPrice,
			ShippingPrice:   totals.ShippingPrice,
			TotalPrice:      totals.TotalPrice,
			IsPaid:          false,
			Status:          models.StatusPending,
			StockReserved:   true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		return reserveLines(ctx, tx, order.Lines)
	})
	if err != nil {
		metrics.Commitments.WithLabelValues(resultLabel(err)).Inc()
		s.log.Info("order commitment rejected",
			zap.String("userId", req.UserID.Hex()),
			zap.Error(err),
		)
		return models.Order{}, err
	}

	metrics.Commitments.WithLabelValues("ok").Inc()
	s.log.Info("order committed",
		zap.String("orderId", order.ID.Hex()),
		zap.String("userId", order.UserID.Hex()),
		zap.String("total", order.TotalPrice.StringFixed(2)),
	)
	s.events.Publish(ctx, EventOrderCommitted, order)
	return order, nil
}

// reserveLines takes stock for every line. The guarded decrement is what
// stops a concurrent commitment that passed the read check from overselling.
func reserveLines(ctx context.Context, tx Tx, lines []models.OrderLine) error {
	for _, line := range lines {
		ok, err := tx.ReserveStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("reserve stock for %s: %w", line.ProductID.Hex(), err)
		}
		if ok {
			continue
		}
		available := 0
		if product, err := tx.Product(ctx, line.ProductID); err == nil {
			available = product.StockQuantity
		}
		return apperrors.InsufficientStock(line.ProductID.Hex(), line.Name, available, line.Quantity)
	}
	return nil
}

func releaseLines(ctx context.Context, tx Tx, lines []models.OrderLine) error {
	for _, line := range lines {
		if err := tx.ReleaseStock(ctx, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("release stock for %s: %w", line.ProductID.Hex(), err)
		}
	}
	return nil
}

func validateCommit(req CommitRequest) ([]primitive.ObjectID, error) {
	if req.UserID.IsZero() {
		return nil, apperrors.Unauthorized("an authenticated user is required")
	}
	if len(req.Lines) == 0 {
		return nil, apperrors.Validation("at least one item is required").With("field", "orderItems")
	}
	if req.PaymentMethod != models.PaymentMethodCard && req.PaymentMethod != models.PaymentMethodCash {
		return nil, apperrors.Validation("invalid payment method").With("field", "paymentMethod")
	}

	ids := make([]primitive.ObjectID, 0, len(req.Lines))
	for i, line := range req.Lines {
		id, err := primitive.ObjectIDFromHex(strings.TrimSpace(line.ProductID))
		if err != nil {
			return nil, apperrors.Validation("invalid productId").With("field", fmt.Sprintf("orderItems[%d].productId", i))
		}
		if line.Quantity <= 0 {
			return nil, apperrors.Validation("quantity must be greater than zero").With("field", fmt.Sprintf("orderItems[%d].quantity", i))
		}
		ids = append(ids, id)
	}

	a := req.ShippingAddress
	required := map[string]string{
		"shippingAddress.fullName":   a.FullName,
		"shippingAddress.address":    a.Address,
		"shippingAddress.city":       a.City,
		"shippingAddress.postalCode": a.PostalCode,
		"shippingAddress.country":    a.Country,
	}
	for _, field := range []string{
		"shippingAddress.fullName",
		"shippingAddress.address",
		"shippingAddress.city",
		"shippingAddress.postalCode",
		"shippingAddress.country",
	} {
		if strings.TrimSpace(required[field]) == "" {
			return nil, apperrors.Validation(field + " is required").With("field", field)
		}
	}
	return ids, nil
}

func cleanAddress(a models.ShippingAddress) models.ShippingAddress {
	clean := func(v string) string {
		return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(v)))
	}
	return models.ShippingAddress{
		FullName:   clean(a.FullName),
		Address:    clean(a.Address),
		City:       clean(a.City),
		PostalCode: clean(a.PostalCode),
		Country:    clean(a.Country),
		Phone:      clean(a.Phone),
		Note:       clean(a.Note),
	}
}

func resultLabel(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}
