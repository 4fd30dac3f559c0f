package dto

import "time"

// NotificationQuery pages the inbox.
type NotificationQuery struct {
	Unread   bool `form:"unread"`
	Page     int  `form:"page"`
	PageSize int  `form:"page_size"`
}

// DocumentLink is a short-lived download URL for the signed agreement.
type DocumentLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
