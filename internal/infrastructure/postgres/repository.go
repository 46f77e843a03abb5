package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vn.io.arda/livenotify/internal/domain"
)

//go:embed schema.sql
var schema string

const selectColumns = `id, user_id, title, message, type, related_entity_id, related_entity_kind,
	is_delivered, is_read, created_at`

// Repository is the PostgreSQL implementation of domain.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the notifications table and its indexes if missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new notification record.
func (r *Repository) Create(ctx context.Context, input domain.CreateNotificationInput) (*domain.Notification, error) {
	var relatedID, relatedKind *string
	if input.Related != nil {
		id, kind := input.Related.ID, string(input.Related.Kind)
		relatedID, relatedKind = &id, &kind
	}
	var sourceEventID *string
	if input.SourceEventID != "" {
		sourceEventID = &input.SourceEventID
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, message, type, related_entity_id, related_entity_kind, source_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_event_id, user_id) WHERE source_event_id IS NOT NULL DO NOTHING
		RETURNING `+selectColumns,
		input.UserID, input.Title, input.Message, string(input.Type), relatedID, relatedKind, sourceEventID,
	)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Duplicate source_event_id, idempotent, not an error
			return nil, nil
		}
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// FindUndelivered returns the user's undelivered notifications, oldest first.
func (r *Repository) FindUndelivered(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM notifications
		WHERE user_id = $1 AND is_delivered = FALSE
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("find undelivered: %w", err)
	}
	return collect(rows)
}

// MarkDelivered flips is_delivered for the given ids.
func (r *Repository) MarkDelivered(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_delivered = TRUE
		WHERE id = ANY($1) AND is_delivered = FALSE
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List fetches paginated notifications for a user.
func (r *Repository) List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM notifications
		WHERE user_id = $1
	`
	args := []any{f.UserID}
	paramIdx := 2

	if f.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", paramIdx)
		args = append(args, string(f.Type))
		paramIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", paramIdx, paramIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return collect(rows)
}

// CountUnread returns the count of unread notifications for a user.
func (r *Repository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks a single notification as read and returns it.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID, userID string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND user_id = $2
		RETURNING `+selectColumns,
		id, userID,
	)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// MarkAllRead marks all unread notifications for a user as read.
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a notification belonging to the user.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAllRead removes every read notification of the user.
func (r *Repository) DeleteAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE user_id = $1 AND is_read = TRUE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan deletes notifications older than the given number of days.
func (r *Repository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collect(rows pgx.Rows) ([]domain.Notification, error) {
	defer rows.Close()

	var results []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return results, nil
}

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanNotification(row scannable) (*domain.Notification, error) {
	var (
		n           domain.Notification
		typ         string
		relatedID   *string
		relatedKind *string
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &relatedID, &relatedKind,
		&n.IsDelivered, &n.IsRead, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.Type = domain.NotificationType(typ)
	if relatedID != nil && relatedKind != nil {
		n.Related = &domain.EntityRef{Kind: domain.EntityKind(*relatedKind), ID: *relatedID}
	}
	return &n, nil
}
