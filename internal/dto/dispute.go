package dto

import "github.com/noah-isme/qc-validator-api/internal/models"

// FileDisputeRequest opens a dispute on a completed agreement.
type FileDisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// SubmitOfferRequest carries the seller's proposed remedy.
type SubmitOfferRequest struct {
	Offer string `json:"offer" validate:"required,max=2000"`
}

// ResolveDisputeRequest records the buyer's answer to the offer.
type ResolveDisputeRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

// PostMessageRequest appends to the dispute chat.
type PostMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// DisputeQuery filters dispute lists.
type DisputeQuery struct {
	Status   []models.DisputeStatus `form:"status"`
	Page     int                    `form:"page"`
	PageSize int                    `form:"page_size"`
}

// MessageQuery pages the chat log by sequence number.
type MessageQuery struct {
	After int64 `form:"after"`
	Limit int   `form:"limit"`
}
