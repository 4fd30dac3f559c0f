package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

const (
	maxReasonLength  = 4000
	maxMessageLength = 4000
)

// FileDispute opens a grievance on a completed agreement. Only the buyer may file.
// The caller assigns the ID.
func FileDispute(c models.Checklist, actor models.Actor, reason string, now time.Time) (models.Dispute, error) {
	state := string(c.AgreementStatus)
	if c.AgreementStatus != models.AgreementCompleted {
		return models.Dispute{}, guardError(appErrors.ErrInvalidTransition, "completed", state,
			fmt.Sprintf("cannot file a dispute: agreement is %s, expected completed", state), nil)
	}
	if d := Authorize(actor, c, ActionFileDispute); !d.Allowed {
		return models.Dispute{}, deny(d, ActionFileDispute, state)
	}
	reason, err := requireText(reason, "reason", maxReasonLength)
	if err != nil {
		return models.Dispute{}, err
	}

	return models.Dispute{
		ChecklistID: c.ID,
		SellerID:    c.OwnerID,
		BuyerID:     *c.BuyerID,
		Reason:      reason,
		Status:      models.DisputeInitiated,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SubmitOffer records the seller's proposed remedy.
func SubmitOffer(d models.Dispute, actor models.Actor, offer string, now time.Time) (models.Dispute, error) {
	state := string(d.Status)
	if dec := Authorize(actor, d, ActionSubmitOffer); !dec.Allowed {
		return d, deny(dec, ActionSubmitOffer, state)
	}
	if d.Status != models.DisputeInitiated {
		return d, guardError(appErrors.ErrInvalidTransition, "initiated", state,
			fmt.Sprintf("cannot submit an offer: dispute is %s, expected INITIATED", state), nil)
	}
	offer, err := requireText(offer, "offer", maxReasonLength)
	if err != nil {
		return d, err
	}

	next := d.Clone()
	next.SellerOffer = &offer
	next.OfferedAt = timePtr(now)
	next.Status = models.DisputeSellerResponded
	touchDispute(&next, now)
	return next, nil
}

// Resolve lets the buyer accept the offer (CLOSED) or reject it (ESCALATED). Both are terminal.
func Resolve(d models.Dispute, actor models.Actor, accepted bool, now time.Time) (models.Dispute, error) {
	state := string(d.Status)
	if dec := Authorize(actor, d, ActionResolve); !dec.Allowed {
		return d, deny(dec, ActionResolve, state)
	}
	if d.Status != models.DisputeSellerResponded {
		return d, guardError(appErrors.ErrInvalidTransition, "seller_responded", state,
			fmt.Sprintf("cannot resolve: dispute is %s, expected SELLER_RESPONDED", state), nil)
	}

	next := d.Clone()
	resolution := models.ResolutionEscalated
	next.Status = models.DisputeEscalated
	if accepted {
		resolution = models.ResolutionOfferAccepted
		next.Status = models.DisputeClosed
	}
	next.Resolution = &resolution
	next.ResolvedAt = timePtr(now)
	touchDispute(&next, now)
	return next, nil
}

// PostMessage validates a chat entry from either party on a live dispute.
func PostMessage(d models.Dispute, actor models.Actor, body string, now time.Time) (models.DisputeMessage, error) {
	state := string(d.Status)
	if dec := Authorize(actor, d, ActionPostMessage); !dec.Allowed {
		return models.DisputeMessage{}, deny(dec, ActionPostMessage, state)
	}
	if d.Status.Terminal() {
		return models.DisputeMessage{}, guardError(appErrors.ErrInvalidTransition, "not_terminal", state,
			fmt.Sprintf("cannot post a message: dispute is %s", state), nil)
	}
	body, err := requireText(body, "body", maxMessageLength)
	if err != nil {
		return models.DisputeMessage{}, err
	}

	return models.DisputeMessage{
		DisputeID: d.ID,
		AuthorID:  actor.ID,
		Body:      body,
		CreatedAt: now,
	}, nil
}

func requireText(value, field string, max int) (string, error) {
	clean := strings.TrimSpace(value)
	if clean == "" || len(clean) > max {
		return "", appErrors.WithDetails(appErrors.ErrValidation,
			fmt.Sprintf("%s must be between 1 and %d characters", field, max),
			map[string]interface{}{"field": field})
	}
	return clean, nil
}

func touchDispute(d *models.Dispute, now time.Time) {
	d.Version++
	d.UpdatedAt = now
}
