package models

import "time"

// DisputeStatus is the lifecycle state of a post-completion grievance.
type DisputeStatus string

const (
	DisputeInitiated       DisputeStatus = "INITIATED"
	DisputeSellerResponded DisputeStatus = "SELLER_RESPONDED"
	DisputeClosed          DisputeStatus = "CLOSED"
	DisputeEscalated       DisputeStatus = "ESCALATED"
)

// Resolution texts recorded on terminal disputes.
const (
	ResolutionOfferAccepted = "offer accepted"
	ResolutionEscalated     = "escalated to arbitrator"
)

// Terminal reports whether s accepts no further transitions or messages.
func (s DisputeStatus) Terminal() bool {
	return s == DisputeClosed || s == DisputeEscalated
}

// Valid reports whether s is a known status.
func (s DisputeStatus) Valid() bool {
	switch s {
	case DisputeInitiated, DisputeSellerResponded, DisputeClosed, DisputeEscalated:
		return true
	}
	return false
}

// Dispute is a buyer-initiated grievance over a completed agreement.
type Dispute struct {
	ID          string        `db:"id" json:"id"`
	ChecklistID string        `db:"checklist_id" json:"checklist_id"`
	SellerID    string        `db:"seller_id" json:"seller_id"`
	BuyerID     string        `db:"buyer_id" json:"buyer_id"`
	Reason      string        `db:"reason" json:"reason"`
	Status      DisputeStatus `db:"status" json:"status"`
	SellerOffer *string       `db:"seller_offer" json:"seller_offer,omitempty"`
	Resolution  *string       `db:"resolution" json:"resolution,omitempty"`
	OfferedAt   *time.Time    `db:"offered_at" json:"offered_at,omitempty"`
	ResolvedAt  *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	Version     int64         `db:"version" json:"version"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// Clone returns an independent snapshot of d.
func (d Dispute) Clone() Dispute {
	out := d
	out.SellerOffer = cloneString(d.SellerOffer)
	out.Resolution = cloneString(d.Resolution)
	out.OfferedAt = cloneTime(d.OfferedAt)
	out.ResolvedAt = cloneTime(d.ResolvedAt)
	return out
}

// Parties returns the seller and buyer ids.
func (d Dispute) Parties() []string {
	return []string{d.SellerID, d.BuyerID}
}

// DisputeMessage is one entry of the append-only dispute chat.
type DisputeMessage struct {
	ID        string    `db:"id" json:"id"`
	Seq       int64     `db:"seq" json:"seq"`
	DisputeID string    `db:"dispute_id" json:"dispute_id"`
	AuthorID  string    `db:"author_id" json:"author_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisputeFilter constrains dispute listing queries.
type DisputeFilter struct {
	PartyID  string
	Statuses []DisputeStatus
	Page     int
	PageSize int
}
