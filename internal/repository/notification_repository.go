package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/qc-validator-api/internal/models"
)

// NotificationRepository stores user inbox entries.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a notification repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateBatch inserts all notifications in a single statement.
func (r *NotificationRepository) CreateBatch(ctx context.Context, items []models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO notifications (id, user_id, type, title, body, entity_type, entity_id, read_at, created_at) VALUES (:id, :user_id, :type, :title, :body, :entity_type, :entity_id, :read_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, items); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

// List returns a page of the user's inbox, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := " WHERE user_id = $1"
	if filter.UnreadOnly {
		where += " AND read_at IS NULL"
	}
	page := models.Pagination{Page: filter.Page, PageSize: filter.PageSize}
	offset := page.Normalise(20, 100)

	listQuery := fmt.Sprintf("SELECT id, user_id, type, title, body, entity_type, entity_id, read_at, created_at FROM notifications%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", where, page.PageSize, offset)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, listQuery, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications"+where, filter.UserID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead stamps read_at once; repeated calls keep the first timestamp.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) (*models.Notification, error) {
	const query = `UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2 RETURNING id, user_id, type, title, body, entity_type, entity_id, read_at, created_at`
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id, userID, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}
