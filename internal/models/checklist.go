package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AgreementStatus is the lifecycle state of a checklist's two-party sign-off.
type AgreementStatus string

const (
	AgreementDrafting     AgreementStatus = "drafting"
	AgreementPendingBuyer AgreementStatus = "pending_buyer"
	AgreementReadyToSign  AgreementStatus = "ready_to_sign"
	AgreementPartyASigned AgreementStatus = "party_a_signed"
	AgreementCompleted    AgreementStatus = "completed"
	AgreementCancelled    AgreementStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s AgreementStatus) Terminal() bool {
	return s == AgreementCompleted || s == AgreementCancelled
}

// Editable reports whether the owner may still change items, title and threshold.
func (s AgreementStatus) Editable() bool {
	return s == AgreementDrafting || s == AgreementPendingBuyer
}

// Valid reports whether s is a known status.
func (s AgreementStatus) Valid() bool {
	switch s {
	case AgreementDrafting, AgreementPendingBuyer, AgreementReadyToSign, AgreementPartyASigned, AgreementCompleted, AgreementCancelled:
		return true
	}
	return false
}

// ItemStatus is the inspection outcome of a single requirement.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemPass    ItemStatus = "pass"
	ItemFail    ItemStatus = "fail"
)

// ChecklistItem is one requirement on the inspection report.
type ChecklistItem struct {
	Category       string     `json:"category" validate:"required,max=120"`
	Requirement    string     `json:"requirement" validate:"required,max=1000"`
	Status         ItemStatus `json:"status" validate:"required,oneof=pending pass fail"`
	EvidenceBefore *string    `json:"evidence_before,omitempty" validate:"omitempty,url,max=2048"`
	EvidenceAfter  *string    `json:"evidence_after,omitempty" validate:"omitempty,url,max=2048"`
}

// ChecklistItems is persisted as a JSONB array.
type ChecklistItems []ChecklistItem

// Value marshals items to JSON for persistence.
func (items ChecklistItems) Value() (driver.Value, error) {
	if items == nil {
		items = ChecklistItems{}
	}
	data, err := json.Marshal([]ChecklistItem(items))
	if err != nil {
		return nil, fmt.Errorf("marshal checklist items: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the item list.
func (items *ChecklistItems) Scan(value interface{}) error {
	if value == nil {
		*items = ChecklistItems{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ChecklistItems", value)
	}
	if len(data) == 0 {
		*items = ChecklistItems{}
		return nil
	}
	var decoded []ChecklistItem
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("unmarshal checklist items: %w", err)
	}
	*items = decoded
	return nil
}

// Clone returns a deep copy so snapshots never share item storage.
func (items ChecklistItems) Clone() ChecklistItems {
	if items == nil {
		return nil
	}
	out := make(ChecklistItems, len(items))
	for i, item := range items {
		out[i] = item
		if item.EvidenceBefore != nil {
			v := *item.EvidenceBefore
			out[i].EvidenceBefore = &v
		}
		if item.EvidenceAfter != nil {
			v := *item.EvidenceAfter
			out[i].EvidenceAfter = &v
		}
	}
	return out
}

// Checklist is the inspection report that doubles as the draft contract.
type Checklist struct {
	ID                  string          `db:"id" json:"id"`
	OwnerID             string          `db:"owner_id" json:"owner_id"`
	SellerEmail         string          `db:"seller_email" json:"seller_email"`
	BuyerID             *string         `db:"buyer_id" json:"buyer_id,omitempty"`
	BuyerEmail          *string         `db:"buyer_email" json:"buyer_email,omitempty"`
	Title               string          `db:"title" json:"title"`
	Description         string          `db:"description" json:"description"`
	Items               ChecklistItems  `db:"items" json:"items"`
	Score               int             `db:"score" json:"score"`
	AcceptanceThreshold *int            `db:"acceptance_threshold" json:"acceptance_threshold,omitempty"`
	AgreementStatus     AgreementStatus `db:"agreement_status" json:"agreement_status"`
	AcceptedAt          *time.Time      `db:"accepted_at" json:"accepted_at,omitempty"`
	SellerSignedAt      *time.Time      `db:"seller_signed_at" json:"seller_signed_at,omitempty"`
	BuyerSignedAt       *time.Time      `db:"buyer_signed_at" json:"buyer_signed_at,omitempty"`
	CancelledAt         *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy         *string         `db:"cancelled_by" json:"cancelled_by,omitempty"`
	DocumentPath        *string         `db:"document_path" json:"-"`
	DocumentGeneratedAt *time.Time      `db:"document_generated_at" json:"document_generated_at,omitempty"`
	Version             int64           `db:"version" json:"version"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns an independent snapshot of c.
func (c Checklist) Clone() Checklist {
	out := c
	out.Items = c.Items.Clone()
	out.BuyerID = cloneString(c.BuyerID)
	out.BuyerEmail = cloneString(c.BuyerEmail)
	out.CancelledBy = cloneString(c.CancelledBy)
	out.DocumentPath = cloneString(c.DocumentPath)
	out.AcceptanceThreshold = cloneInt(c.AcceptanceThreshold)
	out.AcceptedAt = cloneTime(c.AcceptedAt)
	out.SellerSignedAt = cloneTime(c.SellerSignedAt)
	out.BuyerSignedAt = cloneTime(c.BuyerSignedAt)
	out.CancelledAt = cloneTime(c.CancelledAt)
	out.DocumentGeneratedAt = cloneTime(c.DocumentGeneratedAt)
	return out
}

// IsBuyer reports whether userID is the attached buyer.
func (c Checklist) IsBuyer(userID string) bool {
	return c.BuyerID != nil && userID != "" && *c.BuyerID == userID
}

// Parties returns the user ids entitled to see the checklist.
func (c Checklist) Parties() []string {
	parties := []string{c.OwnerID}
	if c.BuyerID != nil && *c.BuyerID != "" {
		parties = append(parties, *c.BuyerID)
	}
	return parties
}

// ChecklistDraft carries the owner-supplied fields of a new checklist.
type ChecklistDraft struct {
	Title               string
	Description         string
	Items               ChecklistItems
	AcceptanceThreshold *int
}

// ChecklistRole selects which side of the agreement a listing query returns.
type ChecklistRole string

const (
	ChecklistRoleSeller ChecklistRole = "seller"
	ChecklistRoleBuyer  ChecklistRole = "buyer"
)

// ChecklistFilter constrains listing queries for one user.
type ChecklistFilter struct {
	UserID   string
	Role     ChecklistRole
	Statuses []AgreementStatus
	Page     int
	PageSize int
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
