package notify

import (
	"fmt"
	"strings"

	"storefront/internal/models"
)

// StatusMessage renders the customer email for a status change.
func StatusMessage(order models.Order, from models.OrderStatus) (subject, body string) {
	ref := shortRef(order)
	subject = fmt.Sprintf("Order %s is now %s", ref, order.Status)

	var b strings.Builder
	name := order.ShippingAddress.FullName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Your order %s moved from %s to %s.\n", ref, from, order.Status)

	switch order.Status {
	case models.StatusProcessing:
		b.WriteString("We received your payment and are preparing your items.\n")
	case models.StatusOutForDelivery:
		b.WriteString("A courier is on the way.\n")
	case models.StatusDelivered:
		b.WriteString("It has been delivered. Enjoy!\n")
	case models.StatusCancelled:
		b.WriteString("It has been cancelled. If you paid, the refund follows separately.\n")
	}

	b.WriteString("\nItems:\n")
	for _, line := range order.Lines {
		fmt.Fprintf(&b, "  %d x %s  %s\n", line.Quantity, line.Name, line.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s\n", order.TotalPrice.StringFixed(2))
	return subject, b.String()
}

func shortRef(order models.Order) string {
	hex := order.ID.Hex()
	return "#" + strings.ToUpper(hex[len(hex)-8:])
}
