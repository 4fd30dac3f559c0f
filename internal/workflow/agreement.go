package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

const maxTitleLength = 200

// NewChecklist builds the first snapshot of a seller's checklist. A draft with items is an
// invitation awaiting a buyer; an empty draft is an open-ended request still being drafted.
// The caller assigns the ID.
func NewChecklist(seller models.Actor, draft models.ChecklistDraft, now time.Time) (models.Checklist, error) {
	if seller.Anonymous() {
		return models.Checklist{}, deny(Decision{Role: RoleNone, Reason: "authentication required"}, ActionEdit, "")
	}
	title, err := normaliseTitle(draft.Title)
	if err != nil {
		return models.Checklist{}, err
	}
	if err := ValidateItems(draft.Items); err != nil {
		return models.Checklist{}, err
	}
	if err := ValidateThreshold(draft.AcceptanceThreshold); err != nil {
		return models.Checklist{}, err
	}

	status := models.AgreementPendingBuyer
	if len(draft.Items) == 0 {
		status = models.AgreementDrafting
	}
	items := draft.Items.Clone()
	if items == nil {
		items = models.ChecklistItems{}
	}
	var threshold *int
	if draft.AcceptanceThreshold != nil {
		t := *draft.AcceptanceThreshold
		threshold = &t
	}

	return models.Checklist{
		OwnerID:             seller.ID,
		SellerEmail:         seller.Email,
		Title:               title,
		Description:         strings.TrimSpace(draft.Description),
		Items:               items,
		Score:               ComputeScore(items),
		AcceptanceThreshold: threshold,
		AgreementStatus:     status,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// AcceptInvite attaches buyer to a pending invitation and moves it to ready_to_sign.
func AcceptInvite(c models.Checklist, buyer models.Actor, now time.Time) (models.Checklist, error) {
	state := string(c.AgreementStatus)
	if c.AgreementStatus != models.AgreementPendingBuyer {
		return c, guardError(appErrors.ErrAlreadyAccepted, "pending_buyer", state,
			fmt.Sprintf("cannot accept invitation: agreement is %s, expected pending_buyer", state), nil)
	}
	if d := Authorize(buyer, c, ActionAccept); !d.Allowed {
		return c, deny(d, ActionAccept, state)
	}
	if buyer.ID == c.OwnerID {
		return c, guardError(appErrors.ErrSelfDealing, "distinct_parties", state,
			"cannot accept invitation: buyer and seller are the same user", nil)
	}

	next := c.Clone()
	buyerID, buyerEmail := buyer.ID, buyer.Email
	next.BuyerID = &buyerID
	next.BuyerEmail = &buyerEmail
	next.AcceptedAt = timePtr(now)
	next.AgreementStatus = models.AgreementReadyToSign
	touch(&next, now)
	return next, nil
}

// SignAsSeller records the seller's signature once QC passes.
func SignAsSeller(c models.Checklist, actor models.Actor, now time.Time) (models.Checklist, error) {
	state := string(c.AgreementStatus)
	if d := Authorize(actor, c, ActionSignSeller); !d.Allowed {
		return c, deny(d, ActionSignSeller, state)
	}
	if c.AgreementStatus != models.AgreementReadyToSign {
		return c, guardError(appErrors.ErrInvalidTransition, "ready_to_sign", state,
			fmt.Sprintf("cannot sign as seller: agreement is %s, expected ready_to_sign", state), nil)
	}
	score, threshold, result := QCOf(c)
	if result != QCPass {
		return c, guardError(appErrors.ErrScoreBelowThreshold, "qc_pass", state,
			fmt.Sprintf("cannot sign: score %d%% is below required threshold %d%%", score, threshold),
			map[string]interface{}{"score": score, "threshold": threshold})
	}

	next := c.Clone()
	next.Score = score
	next.SellerSignedAt = timePtr(now)
	next.AgreementStatus = models.AgreementPartyASigned
	touch(&next, now)
	return next, nil
}

// SignAsBuyer completes the agreement. The seller must always have signed first.
func SignAsBuyer(c models.Checklist, actor models.Actor, now time.Time) (models.Checklist, error) {
	state := string(c.AgreementStatus)
	if c.AgreementStatus != models.AgreementPartyASigned {
		message := fmt.Sprintf("cannot sign as buyer: agreement is %s, expected party_a_signed", state)
		if c.AgreementStatus == models.AgreementReadyToSign || c.AgreementStatus == models.AgreementPendingBuyer {
			message = "cannot sign as buyer: the seller has not signed yet"
		}
		return c, guardError(appErrors.ErrOutOfOrderSignature, "seller_signed_first", state, message, nil)
	}
	if d := Authorize(actor, c, ActionSignBuyer); !d.Allowed {
		return c, deny(d, ActionSignBuyer, state)
	}

	next := c.Clone()
	next.BuyerSignedAt = timePtr(now)
	next.AgreementStatus = models.AgreementCompleted
	touch(&next, now)
	return next, nil
}

// Cancel terminates a non-completed agreement on behalf of either party.
func Cancel(c models.Checklist, actor models.Actor, now time.Time) (models.Checklist, error) {
	state := string(c.AgreementStatus)
	if d := Authorize(actor, c, ActionCancel); !d.Allowed {
		return c, deny(d, ActionCancel, state)
	}
	if c.AgreementStatus.Terminal() {
		return c, guardError(appErrors.ErrInvalidTransition, "not_terminal", state,
			fmt.Sprintf("cannot cancel: agreement is already %s", state), nil)
	}

	next := c.Clone()
	actorID := actor.ID
	next.CancelledBy = &actorID
	next.CancelledAt = timePtr(now)
	next.AgreementStatus = models.AgreementCancelled
	touch(&next, now)
	return next, nil
}

// Submit turns an open-ended draft into an invitation. It needs at least one item.
func Submit(c models.Checklist, actor models.Actor, now time.Time) (models.Checklist, error) {
	state := string(c.AgreementStatus)
	if d := Authorize(actor, c, ActionSubmit); !d.Allowed {
		return c, deny(d, ActionSubmit, state)
	}
	if c.AgreementStatus != models.AgreementDrafting {
		return c, guardError(appErrors.ErrInvalidTransition, "drafting", state,
			fmt.Sprintf("cannot submit: agreement is %s, expected drafting", state), nil)
	}
	if len(c.Items) == 0 {
		return c, guardError(appErrors.ErrValidation, "items_present", state,
			"cannot submit: add at least one checklist item first", nil)
	}

	next := c.Clone()
	next.AgreementStatus = models.AgreementPendingBuyer
	touch(&next, now)
	return next, nil
}

// ReviseItems replaces the item list and recomputes the score.
func ReviseItems(c models.Checklist, actor models.Actor, items models.ChecklistItems, now time.Time) (models.Checklist, error) {
	if err := requireEditable(c, actor, "revise items"); err != nil {
		return c, err
	}
	if err := ValidateItems(items); err != nil {
		return c, err
	}
	if len(items) == 0 && c.AgreementStatus == models.AgreementPendingBuyer {
		return c, guardError(appErrors.ErrValidation, "items_present", string(c.AgreementStatus),
			"an open invitation must keep at least one checklist item", nil)
	}

	next := c.Clone()
	next.Items = items.Clone()
	if next.Items == nil {
		next.Items = models.ChecklistItems{}
	}
	next.Score = ComputeScore(next.Items)
	touch(&next, now)
	return next, nil
}

// Retitle changes the title and description.
func Retitle(c models.Checklist, actor models.Actor, title, description string, now time.Time) (models.Checklist, error) {
	if err := requireEditable(c, actor, "edit"); err != nil {
		return c, err
	}
	clean, err := normaliseTitle(title)
	if err != nil {
		return c, err
	}

	next := c.Clone()
	next.Title = clean
	next.Description = strings.TrimSpace(description)
	touch(&next, now)
	return next, nil
}

// SetThreshold changes the acceptance threshold. nil restores the default.
func SetThreshold(c models.Checklist, actor models.Actor, threshold *int, now time.Time) (models.Checklist, error) {
	if err := requireEditable(c, actor, "change the threshold"); err != nil {
		return c, err
	}
	if err := ValidateThreshold(threshold); err != nil {
		return c, err
	}

	next := c.Clone()
	next.AcceptanceThreshold = nil
	if threshold != nil {
		t := *threshold
		next.AcceptanceThreshold = &t
	}
	touch(&next, now)
	return next, nil
}

// CanDelete checks that the owner may remove c. Signed agreements are kept as a record.
func CanDelete(c models.Checklist, actor models.Actor) error {
	state := string(c.AgreementStatus)
	if d := Authorize(actor, c, ActionDelete); !d.Allowed {
		return deny(d, ActionDelete, state)
	}
	if c.AgreementStatus == models.AgreementPartyASigned || c.AgreementStatus == models.AgreementCompleted {
		return guardError(appErrors.ErrInvalidTransition, "unsigned", state,
			fmt.Sprintf("cannot delete: agreement is %s", state), nil)
	}
	return nil
}

func requireEditable(c models.Checklist, actor models.Actor, verb string) error {
	state := string(c.AgreementStatus)
	if d := Authorize(actor, c, ActionEdit); !d.Allowed {
		return deny(d, ActionEdit, state)
	}
	if !c.AgreementStatus.Editable() {
		return guardError(appErrors.ErrInvalidTransition, "editable", state,
			fmt.Sprintf("cannot %s: agreement is %s, items are frozen once the buyer accepts", verb, state), nil)
	}
	return nil
}

func normaliseTitle(title string) (string, error) {
	clean := strings.TrimSpace(title)
	if clean == "" || len(clean) > maxTitleLength {
		return "", appErrors.WithDetails(appErrors.ErrValidation,
			fmt.Sprintf("title must be between 1 and %d characters", maxTitleLength),
			map[string]interface{}{"field": "title"})
	}
	return clean, nil
}

func touch(c *models.Checklist, now time.Time) {
	c.Version++
	c.UpdatedAt = now
}

func timePtr(t time.Time) *time.Time {
	return &t
}
