package handlers

import (
	"vn.io.arda/livenotify/internal/kafka/registry"
)

// Topic names the handlers bind to.
const (
	TopicOrderEvents          = "order-events"
	TopicPromotionEvents      = "promotion-events"
	TopicNotificationCommands = "notification-commands"
)

// Register is a convenience alias so each domain file calls Register(...)
// instead of registry.Register(...).
func Register(topic, eventType string, h registry.EventHandler) {
	registry.Register(topic, eventType, h)
}

// RegisterDirect registers a handler for topics that don't use eventType routing.
func RegisterDirect(topic string, h registry.EventHandler) {
	registry.Register(topic, "", h)
}
