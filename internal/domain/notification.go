package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by the store when a notification does not exist
// or does not belong to the requesting user.
var ErrNotFound = errors.New("notification not found")

// ErrUnknownType is returned for a type tag outside the closed set.
var ErrUnknownType = errors.New("unknown notification type")

// NotificationType is the closed set of notification categories.
type NotificationType string

const (
	TypeOrder      NotificationType = "order"
	TypePromotion  NotificationType = "promotion"
	TypeSystem     NotificationType = "system"
	TypeRestaurant NotificationType = "restaurant"
)

// ParseNotificationType validates a raw type tag.
func ParseNotificationType(s string) (NotificationType, error) {
	switch t := NotificationType(s); t {
	case TypeOrder, TypePromotion, TypeSystem, TypeRestaurant:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownType, s)
	}
}

// EntityKind names the kind of entity a notification refers to.
type EntityKind string

const (
	EntityOrder      EntityKind = "Order"
	EntityRestaurant EntityKind = "Restaurant"
	EntityUser       EntityKind = "User"
)

// ParseEntityKind validates a raw entity kind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch k := EntityKind(s); k {
	case EntityOrder, EntityRestaurant, EntityUser:
		return k, nil
	default:
		return "", fmt.Errorf("unknown related entity kind %q", s)
	}
}

// EntityRef is a typed reference to the entity a notification is about.
// A nil *EntityRef means the notification has no related entity.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// OrderRef, RestaurantRef and UserRef build entity references.
func OrderRef(id string) *EntityRef      { return &EntityRef{Kind: EntityOrder, ID: id} }
func RestaurantRef(id string) *EntityRef { return &EntityRef{Kind: EntityRestaurant, ID: id} }
func UserRef(id string) *EntityRef       { return &EntityRef{Kind: EntityUser, ID: id} }

// Notification is the persisted notification record.
type Notification struct {
	ID          uuid.UUID
	UserID      string
	Title       string
	Message     string
	Type        NotificationType
	Related     *EntityRef
	IsDelivered bool
	IsRead      bool
	CreatedAt   time.Time
}

// notificationJSON is the wire shape clients already understand.
type notificationJSON struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             string           `json:"user"`
	Title              string           `json:"title"`
	Message            string           `json:"message"`
	Type               NotificationType `json:"type"`
	RelatedEntity      string           `json:"relatedEntity,omitempty"`
	RelatedEntityModel EntityKind       `json:"relatedEntityModel,omitempty"`
	IsDelivered        bool             `json:"isDelivered"`
	IsRead             bool             `json:"isRead"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// MarshalJSON flattens the related entity into relatedEntity/relatedEntityModel.
func (n Notification) MarshalJSON() ([]byte, error) {
	out := notificationJSON{
		ID:          n.ID,
		UserID:      n.UserID,
		Title:       n.Title,
		Message:     n.Message,
		Type:        n.Type,
		IsDelivered: n.IsDelivered,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
	if n.Related != nil {
		out.RelatedEntity = n.Related.ID
		out.RelatedEntityModel = n.Related.Kind
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var in notificationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*n = Notification{
		ID:          in.ID,
		UserID:      in.UserID,
		Title:       in.Title,
		Message:     in.Message,
		Type:        in.Type,
		IsDelivered: in.IsDelivered,
		IsRead:      in.IsRead,
		CreatedAt:   in.CreatedAt,
	}
	if in.RelatedEntity != "" && in.RelatedEntityModel != "" {
		n.Related = &EntityRef{Kind: in.RelatedEntityModel, ID: in.RelatedEntity}
	}
	return nil
}

// NotificationFilter holds query parameters for listing notifications.
type NotificationFilter struct {
	UserID string
	Type   NotificationType
	Limit  int
	Offset int
}

// CreateNotificationInput is what producers hand to the store.
type CreateNotificationInput struct {
	UserID  string
	Title   string
	Message string
	Type    NotificationType
	Related *EntityRef
	// SourceEventID makes creation idempotent per (event, user). Optional.
	SourceEventID string
}

// Validate checks the fields the store requires.
func (in CreateNotificationInput) Validate() error {
	if in.UserID == "" {
		return errors.New("user id is required")
	}
	if in.Title == "" || in.Message == "" {
		return errors.New("title and message are required")
	}
	if _, err := ParseNotificationType(string(in.Type)); err != nil {
		return err
	}
	if in.Related != nil {
		if in.Related.ID == "" {
			return errors.New("related entity id is required")
		}
		if _, err := ParseEntityKind(string(in.Related.Kind)); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns the ids of ns in order.
func IDs(ns []Notification) []uuid.UUID {
	ids := make([]uuid.UUID, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	return ids
}
