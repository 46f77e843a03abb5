package handlers

import (
	"encoding/json"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/domain"
	"vn.io.arda/livenotify/internal/messages"
)

func init() {
	Register(TopicOrderEvents, "ORDER_PLACED", handleOrderPlaced)
	Register(TopicOrderEvents, "PAYMENT_CONFIRMED", handlePaymentConfirmed)
	Register(TopicOrderEvents, "ORDER_STATUS_CHANGED", handleOrderStatusChanged)
}

type orderEnv struct {
	EventType  string `json:"eventType"`
	EventID    string `json:"eventId"`
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	// OwnerID is the restaurant owner's user id; empty when the producer
	// does not know it.
	OwnerID string `json:"ownerId"`
	Status  string `json:"status"`
}

func parseOrderEnv(data []byte) (*orderEnv, bool) {
	var env orderEnv
	if err := json.Unmarshal(data, &env); err != nil || env.OrderID == "" {
		return nil, false
	}
	return &env, true
}

func orderInput(env *orderEnv, userID string, typ domain.NotificationType, title, body string) application.NotificationInput {
	return application.NotificationInput{
		UserID:        userID,
		Title:         title,
		Message:       body,
		Type:          typ,
		Related:       domain.OrderRef(env.OrderID),
		SourceEventID: env.EventID,
	}
}

// orderDispatch builds the customer notification and, when the owner is
// known, the matching restaurant-side one.
func orderDispatch(env *orderEnv, customer, owner func() (string, string)) *application.Dispatch {
	var d application.Dispatch
	if env.CustomerID != "" {
		title, body := customer()
		d.Notifications = append(d.Notifications, orderInput(env, env.CustomerID, domain.TypeOrder, title, body))
	}
	if env.OwnerID != "" && owner != nil {
		title, body := owner()
		d.Notifications = append(d.Notifications, orderInput(env, env.OwnerID, domain.TypeRestaurant, title, body))
	}
	if len(d.Notifications) == 0 {
		return nil
	}
	return &d
}

func handleOrderPlaced(data []byte) *application.Dispatch {
	env, ok := parseOrderEnv(data)
	if !ok {
		return nil
	}
	return orderDispatch(env,
		func() (string, string) { return messages.OrderPlaced(env.OrderID) },
		func() (string, string) { return messages.NewOrder(env.OrderID) },
	)
}

func handlePaymentConfirmed(data []byte) *application.Dispatch {
	env, ok := parseOrderEnv(data)
	if !ok {
		return nil
	}
	return orderDispatch(env,
		func() (string, string) { return messages.PaymentReceived(env.OrderID) },
		func() (string, string) { return messages.OrderPaid(env.OrderID) },
	)
}

func handleOrderStatusChanged(data []byte) *application.Dispatch {
	env, ok := parseOrderEnv(data)
	if !ok || env.Status == "" {
		return nil
	}
	return orderDispatch(env,
		func() (string, string) { return messages.OrderStatusChanged(env.OrderID, env.Status) },
		func() (string, string) { return messages.OwnerOrderStatusChanged(env.OrderID, env.Status) },
	)
}
