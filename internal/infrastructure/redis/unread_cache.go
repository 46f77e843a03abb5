// Package redis adds a read-aside cache for unread badge counts.
package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/domain"
)

// Cache defines the subset of Redis commands we need.
type Cache interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
	// DelPrefix removes every key with the given prefix.
	DelPrefix(ctx context.Context, prefix string) error
}

// CachedRepository decorates a domain.Repository with a cached CountUnread.
// Every write that can change a user's unread count invalidates their key.
type CachedRepository struct {
	domain.Repository
	cache Cache
	ttl   time.Duration
}

// NewCachedRepository creates the decorator.
func NewCachedRepository(repo domain.Repository, cache Cache, ttl time.Duration) *CachedRepository {
	return &CachedRepository{Repository: repo, cache: cache, ttl: ttl}
}

// CountUnread serves from cache, falling back to the store and refilling.
func (r *CachedRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	key := unreadKey(userID)

	var cached int64
	if err := r.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	count, err := r.Repository.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}

	// Caching is an optimization; a failed write only costs the next read.
	if err := r.cache.Set(ctx, key, count, r.ttl); err != nil {
		log.Debug().Err(err).Str("user", userID).Msg("unread count cache set failed")
	}
	return count, nil
}

// Create invalidates the owner's unread count.
func (r *CachedRepository) Create(ctx context.Context, input domain.CreateNotificationInput) (*domain.Notification, error) {
	n, err := r.Repository.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if n != nil {
		r.invalidate(ctx, input.UserID)
	}
	return n, nil
}

// MarkRead invalidates the user's unread count.
func (r *CachedRepository) MarkRead(ctx context.Context, id uuid.UUID, userID string) (*domain.Notification, error) {
	n, err := r.Repository.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, userID)
	return n, nil
}

// MarkAllRead invalidates the user's unread count.
func (r *CachedRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := r.Repository.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	r.invalidate(ctx, userID)
	return count, nil
}

// Delete invalidates the user's unread count.
func (r *CachedRepository) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if err := r.Repository.Delete(ctx, id, userID); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// PurgeOlderThan can remove unread rows of any user, so every cached count is dropped.
func (r *CachedRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	count, err := r.Repository.PurgeOlderThan(ctx, days)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		if err := r.cache.DelPrefix(ctx, unreadKeyPrefix); err != nil {
			log.Warn().Err(err).Msg("unread count cache invalidation after purge failed")
		}
	}
	return count, nil
}

func (r *CachedRepository) invalidate(ctx context.Context, userID string) {
	if err := r.cache.Del(ctx, unreadKey(userID)); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("unread count cache invalidation failed")
	}
}

const unreadKeyPrefix = "notify:unread:"

func unreadKey(userID string) string {
	return unreadKeyPrefix + userID
}
