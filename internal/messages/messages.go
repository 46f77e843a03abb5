// Package messages holds the user-facing notification texts.
package messages

import "fmt"

const (
	OrderPlacedTitle = "Order Placed"
	OrderPlacedBody  = "Your order #%s has been placed"

	NewOrderTitle = "New Order"
	NewOrderBody  = "You have received a new order #%s"

	PaymentReceivedTitle = "Payment Received"
	PaymentReceivedBody  = "Your order #%s has been paid"

	OrderPaidTitle = "Order Paid"
	OrderPaidBody  = "Order #%s has been paid"

	OrderStatusTitle = "Order Status Updated"
	OrderStatusBody  = "Your order #%s is now %s"

	OwnerOrderStatusTitle = "Order Updated"
	OwnerOrderStatusBody  = "Order #%s status changed to %s"

	PromotionTitle = "New Promotion"
	PromotionBody  = "%s: %s"
)

// shortIDLen is how many trailing characters of an order id users see.
const shortIDLen = 6

// ShortID trims an order id to the suffix shown in notification texts.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[len(id)-shortIDLen:]
}

// ─── Order builders ──────────────────────────────────────────────────────────

func OrderPlaced(orderID string) (string, string) {
	return OrderPlacedTitle, fmt.Sprintf(OrderPlacedBody, ShortID(orderID))
}

func NewOrder(orderID string) (string, string) {
	return NewOrderTitle, fmt.Sprintf(NewOrderBody, ShortID(orderID))
}

func PaymentReceived(orderID string) (string, string) {
	return PaymentReceivedTitle, fmt.Sprintf(PaymentReceivedBody, ShortID(orderID))
}

func OrderPaid(orderID string) (string, string) {
	return OrderPaidTitle, fmt.Sprintf(OrderPaidBody, ShortID(orderID))
}

func OrderStatusChanged(orderID, status string) (string, string) {
	return OrderStatusTitle, fmt.Sprintf(OrderStatusBody, ShortID(orderID), status)
}

func OwnerOrderStatusChanged(orderID, status string) (string, string) {
	return OwnerOrderStatusTitle, fmt.Sprintf(OwnerOrderStatusBody, ShortID(orderID), status)
}

// ─── Promotion builders ──────────────────────────────────────────────────────

func PromotionPublished(restaurantName, headline string) (string, string) {
	if restaurantName == "" {
		return PromotionTitle, headline
	}
	return PromotionTitle, fmt.Sprintf(PromotionBody, restaurantName, headline)
}
