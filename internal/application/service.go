package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/domain"
)

// ErrInvalidID is returned for a notification id that is not a UUID.
var ErrInvalidID = errors.New("invalid notification id")

// Pusher is the realtime side of the service.
// Implementation lives in realtime/dispatcher.go.
type Pusher interface {
	Enqueue(userID string, n domain.Notification)
	Broadcast(n domain.Notification) int
}

// Service holds all notification use-cases.
type Service struct {
	repo   domain.Repository
	pusher Pusher
}

// NewService creates a new application Service.
func NewService(repo domain.Repository, pusher Pusher) *Service {
	return &Service{repo: repo, pusher: pusher}
}

// CreateNotification validates and persists a notification. A duplicate
// SourceEventID for the same user returns (nil, nil).
func (s *Service) CreateNotification(ctx context.Context, input NotificationInput) (*domain.Notification, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}
	n, err := s.repo.Create(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// SendNotificationToUser hands an already persisted notification to the dispatcher.
func (s *Service) SendNotificationToUser(userID string, n domain.Notification) {
	s.pusher.Enqueue(userID, n)
}

// Notify persists a notification and then enqueues it for live delivery.
// Persisting first is what lets a missed push be recovered by replay.
func (s *Service) Notify(ctx context.Context, input NotificationInput) (*domain.Notification, error) {
	n, err := s.CreateNotification(ctx, input)
	if err != nil {
		return nil, err
	}
	if n == nil {
		log.Debug().Str("user", input.UserID).Str("source_event_id", input.SourceEventID).Msg("duplicate event, notification skipped")
		return nil, nil
	}

	s.SendNotificationToUser(n.UserID, *n)

	log.Info().
		Str("id", n.ID.String()).
		Str("user", n.UserID).
		Str("type", string(n.Type)).
		Msg("notification created and enqueued")
	return n, nil
}

// Announce pushes a transient notification to every connected user.
func (s *Service) Announce(a Announcement) int {
	typ := a.Type
	if typ == "" {
		typ = domain.TypeSystem
	}
	sent := s.pusher.Broadcast(domain.Notification{
		ID:        uuid.New(),
		Title:     a.Title,
		Message:   a.Message,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	})
	log.Info().Str("title", a.Title).Int("recipients", sent).Msg("announcement broadcast")
	return sent
}

// Handle delivers everything a domain event produced. Every notification is
// attempted; failures are joined.
func (s *Service) Handle(ctx context.Context, d Dispatch) error {
	var errs []error
	for _, input := range d.Notifications {
		if _, err := s.Notify(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", input.UserID, err))
		}
	}
	if d.Announcement != nil {
		s.Announce(*d.Announcement)
	}
	return errors.Join(errs...)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage returns the page and limit List actually serves.
func NormalizePage(page, limit int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	return page, limit
}

// List returns a page of the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, page, limit int, typ string) ([]domain.Notification, error) {
	page, limit = NormalizePage(page, limit)
	filter := domain.NotificationFilter{
		UserID: userID,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if typ != "" {
		t, err := domain.ParseNotificationType(typ)
		if err != nil {
			return nil, err
		}
		filter.Type = t
	}
	return s.repo.List(ctx, filter)
}

// CountUnread returns the unread badge count for a user.
func (s *Service) CountUnread(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead marks a single notification as read.
func (s *Service) MarkRead(ctx context.Context, idStr, userID string) (*domain.Notification, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return s.repo.MarkRead(ctx, id, userID)
}

// MarkAllRead marks all notifications for a user as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// Delete removes a notification (must belong to the requesting user).
func (s *Service) Delete(ctx context.Context, idStr, userID string) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return s.repo.Delete(ctx, id, userID)
}

// DeleteAllRead removes every read notification of the user.
func (s *Service) DeleteAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.DeleteAllRead(ctx, userID)
}

// PurgeTTL deletes old notifications. Called by a background scheduler.
func (s *Service) PurgeTTL(ctx context.Context, days int) {
	count, err := s.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		log.Error().Err(err).Msg("notification TTL purge failed")
		return
	}
	log.Info().Int64("deleted", count).Int("older_than_days", days).Msg("notification TTL purge completed")
}
