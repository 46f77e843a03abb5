package handlers

import (
	"encoding/json"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/domain"
	"vn.io.arda/livenotify/internal/messages"
)

func init() {
	Register(TopicPromotionEvents, "PROMOTION_PUBLISHED", handlePromotionPublished)
}

type promotionEnv struct {
	EventType      string   `json:"eventType"`
	EventID        string   `json:"eventId"`
	RestaurantID   string   `json:"restaurantId"`
	RestaurantName string   `json:"restaurantName"`
	Headline       string   `json:"headline"`
	UserIDs        []string `json:"userIds"`
}

func handlePromotionPublished(data []byte) *application.Dispatch {
	var env promotionEnv
	if err := json.Unmarshal(data, &env); err != nil || env.Headline == "" {
		return nil
	}

	title, body := messages.PromotionPublished(env.RestaurantName, env.Headline)

	var related *domain.EntityRef
	if env.RestaurantID != "" {
		related = domain.RestaurantRef(env.RestaurantID)
	}

	d := &application.Dispatch{}
	seen := make(map[string]struct{}, len(env.UserIDs))
	for _, userID := range env.UserIDs {
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		d.Notifications = append(d.Notifications, application.NotificationInput{
			UserID:        userID,
			Title:         title,
			Message:       body,
			Type:          domain.TypePromotion,
			Related:       related,
			SourceEventID: env.EventID,
		})
	}
	if len(d.Notifications) == 0 {
		return nil
	}
	return d
}
