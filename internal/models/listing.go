package models

import "time"

// Listing is a marketplace advertisement for a fully passing checklist.
type Listing struct {
	ID               string    `db:"id" json:"id"`
	ChecklistID      string    `db:"checklist_id" json:"checklist_id"`
	SellerID         string    `db:"seller_id" json:"seller_id"`
	Price            int64     `db:"price" json:"price"`
	Contact          string    `db:"contact" json:"contact"`
	ListedAt         time.Time `db:"listed_at" json:"listed_at"`
	LastMaintainedAt time.Time `db:"last_maintained_at" json:"last_maintained_at"`

	// Joined from the checklist for marketplace cards.
	Title string `db:"title" json:"title,omitempty"`
	Score int    `db:"score" json:"score,omitempty"`
}

// ListingFilter constrains listing queries.
type ListingFilter struct {
	SellerID string
	// MaintainedAfter hides listings not maintained since the cutoff when set.
	MaintainedAfter *time.Time
	// EligibleOnly hides listings whose checklist no longer scores 100.
	EligibleOnly bool
	Page            int
	PageSize        int
}
