package models

import "time"

// NotificationType names the workflow event a notification reports.
type NotificationType string

const (
	NotificationReadyToSign     NotificationType = "agreement.ready_to_sign"
	NotificationSellerSigned    NotificationType = "agreement.seller_signed"
	NotificationCompleted       NotificationType = "agreement.completed"
	NotificationCancelled       NotificationType = "agreement.cancelled"
	NotificationDisputeFiled    NotificationType = "dispute.filed"
	NotificationOfferSubmitted  NotificationType = "dispute.offer_submitted"
	NotificationDisputeResolved NotificationType = "dispute.resolved"
	NotificationDisputeMessage  NotificationType = "dispute.message"
)

// Notification is an inbox entry for one user.
type Notification struct {
	ID         string           `db:"id" json:"id"`
	UserID     string           `db:"user_id" json:"user_id"`
	Type       NotificationType `db:"type" json:"type"`
	Title      string           `db:"title" json:"title"`
	Body       string           `db:"body" json:"body"`
	EntityType string           `db:"entity_type" json:"entity_type"`
	EntityID   string           `db:"entity_id" json:"entity_id"`
	ReadAt     *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains inbox queries.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
