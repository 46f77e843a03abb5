package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the port for notification persistence.
// Implementations live in infrastructure/postgres.
type Repository interface {
	// Create stores a new notification and returns the saved entity.
	// A repeated SourceEventID for the same user returns (nil, nil).
	Create(ctx context.Context, input CreateNotificationInput) (*Notification, error)

	// FindUndelivered returns the user's notifications with is_delivered = false, oldest first.
	FindUndelivered(ctx context.Context, userID string) ([]Notification, error)

	// MarkDelivered flips is_delivered for the given ids.
	MarkDelivered(ctx context.Context, ids []uuid.UUID) (int64, error)

	// List fetches notifications matching the given filter, newest first.
	List(ctx context.Context, filter NotificationFilter) ([]Notification, error)

	// CountUnread returns the number of unread notifications for a user.
	CountUnread(ctx context.Context, userID string) (int64, error)

	// MarkRead marks a single notification as read and returns it.
	MarkRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error)

	// MarkAllRead marks all unread notifications for a user as read.
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	// Delete removes one notification belonging to the user.
	Delete(ctx context.Context, id uuid.UUID, userID string) error

	// DeleteAllRead removes every read notification of the user.
	DeleteAllRead(ctx context.Context, userID string) (int64, error)

	// PurgeOlderThan deletes notifications older than the specified number of days (TTL cleanup).
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}
