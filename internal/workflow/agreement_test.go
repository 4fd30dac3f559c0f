package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

func TestNewChecklistStatusDependsOnItems(t *testing.T) {
	c, err := NewChecklist(seller, models.ChecklistDraft{Title: "  Bathroom  ", Items: items(models.ItemPass, models.ItemFail)}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementPendingBuyer, c.AgreementStatus)
	assert.Equal(t, "Bathroom", c.Title)
	assert.Equal(t, 50, c.Score)
	assert.Nil(t, c.AcceptanceThreshold)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, seller.ID, c.OwnerID)
	assert.Equal(t, seller.Email, c.SellerEmail)

	open, err := NewChecklist(seller, models.ChecklistDraft{Title: "Open request"}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementDrafting, open.AgreementStatus)
	assert.Equal(t, 0, open.Score)
	assert.NotNil(t, open.Items)
}

func TestNewChecklistRejectsInvalidInput(t *testing.T) {
	_, err := NewChecklist(models.Actor{}, models.ChecklistDraft{Title: "x"}, t0)
	requireCode(t, err, appErrors.ErrActorUnauthorized)

	_, err = NewChecklist(seller, models.ChecklistDraft{Title: "   "}, t0)
	requireCode(t, err, appErrors.ErrValidation)

	bad := 140
	_, err = NewChecklist(seller, models.ChecklistDraft{Title: "x", AcceptanceThreshold: &bad}, t0)
	requireCode(t, err, appErrors.ErrValidation)
}

func TestAcceptInviteAttachesBuyer(t *testing.T) {
	c := newInvitation(t, models.ItemPass)
	now := t0.Add(time.Hour)

	next, err := AcceptInvite(c, buyer, now)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementReadyToSign, next.AgreementStatus)
	require.NotNil(t, next.BuyerID)
	assert.Equal(t, buyer.ID, *next.BuyerID)
	assert.Equal(t, buyer.Email, *next.BuyerEmail)
	assert.Equal(t, now, *next.AcceptedAt)
	assert.Equal(t, c.Version+1, next.Version)

	assert.Nil(t, c.BuyerID, "input snapshot must stay untouched")
	assert.Equal(t, models.AgreementPendingBuyer, c.AgreementStatus)
}

func TestAcceptInviteRejectsSelfDealingForAllIdentities(t *testing.T) {
	for _, id := range []string{"seller-1", "a", "00000000-0000-0000-0000-000000000000", "ünïcode"} {
		owner := models.Actor{ID: id, Email: "x@example.com"}
		c, err := NewChecklist(owner, models.ChecklistDraft{Title: "t", Items: items(models.ItemPass)}, t0)
		require.NoError(t, err)

		// a different email must not help: ids are what count
		_, err = AcceptInvite(c, models.Actor{ID: id, Email: "different@example.com"}, t0)
		appErr := requireCode(t, err, appErrors.ErrSelfDealing)
		assert.Equal(t, "pending_buyer", appErr.Details["current_state"])
	}
}

func TestAcceptInviteAlreadyAcceptedOutsidePendingBuyer(t *testing.T) {
	for _, status := range allStatuses {
		if status == models.AgreementPendingBuyer {
			continue
		}
		c := atState(t, status, models.ItemPass)
		_, err := AcceptInvite(c, other, t0)
		appErr := requireCode(t, err, appErrors.ErrAlreadyAccepted)
		assert.Equal(t, string(status), appErr.Details["current_state"])
	}
}

func TestSignAsSellerGuards(t *testing.T) {
	ready := atState(t, models.AgreementReadyToSign, models.ItemPass, models.ItemPass)

	_, err := SignAsSeller(ready, buyer, t0)
	requireCode(t, err, appErrors.ErrActorUnauthorized)

	_, err = SignAsSeller(atState(t, models.AgreementPendingBuyer, models.ItemPass), seller, t0)
	requireCode(t, err, appErrors.ErrInvalidTransition)

	next, err := SignAsSeller(ready, seller, t0)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementPartyASigned, next.AgreementStatus)
	assert.Equal(t, t0, *next.SellerSignedAt)
}

func TestSignAsSellerUsesExplicitThreshold(t *testing.T) {
	c := atState(t, models.AgreementReadyToSign, models.ItemPass, models.ItemPass, models.ItemPass, models.ItemFail)
	seventy := 70
	c.AcceptanceThreshold = &seventy

	next, err := SignAsSeller(c, seller, t0)
	require.NoError(t, err)
	assert.Equal(t, 75, next.Score)

	eighty := 80
	c.AcceptanceThreshold = &eighty
	_, err = SignAsSeller(c, seller, t0)
	appErr := requireCode(t, err, appErrors.ErrScoreBelowThreshold)
	assert.Equal(t, "cannot sign: score 75% is below required threshold 80%", appErr.Message)
}

func TestSignAsBuyerOutOfOrderUnlessPartyASigned(t *testing.T) {
	for _, status := range allStatuses {
		c := atState(t, status, models.ItemPass)
		next, err := SignAsBuyer(c, buyer, t0)
		if status == models.AgreementPartyASigned {
			require.NoError(t, err)
			assert.Equal(t, models.AgreementCompleted, next.AgreementStatus)
			continue
		}
		appErr := requireCode(t, err, appErrors.ErrOutOfOrderSignature)
		assert.Equal(t, string(status), appErr.Details["current_state"])
	}
}

func TestSignAsBuyerRequiresTheBuyer(t *testing.T) {
	c := atState(t, models.AgreementPartyASigned, models.ItemPass)
	for _, actor := range []models.Actor{seller, other, {}} {
		_, err := SignAsBuyer(c, actor, t0)
		requireCode(t, err, appErrors.ErrActorUnauthorized)
	}
}

func TestCancel(t *testing.T) {
	for _, status := range allStatuses {
		c := atState(t, status, models.ItemPass)
		next, err := Cancel(c, seller, t0)
		if status.Terminal() {
			requireCode(t, err, appErrors.ErrInvalidTransition)
			continue
		}
		require.NoError(t, err, status)
		assert.Equal(t, models.AgreementCancelled, next.AgreementStatus)
		assert.Equal(t, seller.ID, *next.CancelledBy)
	}

	ready := atState(t, models.AgreementReadyToSign, models.ItemPass)
	next, err := Cancel(ready, buyer, t0)
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, *next.CancelledBy)

	_, err = Cancel(ready, other, t0)
	requireCode(t, err, appErrors.ErrActorUnauthorized)

	_, err = Cancel(atState(t, models.AgreementPendingBuyer, models.ItemPass), other, t0)
	requireCode(t, err, appErrors.ErrActorUnauthorized)
}

func TestCancelledIsTerminal(t *testing.T) {
	c := atState(t, models.AgreementCancelled, models.ItemPass)

	_, err := AcceptInvite(c, other, t0)
	requireCode(t, err, appErrors.ErrAlreadyAccepted)
	_, err = SignAsSeller(c, seller, t0)
	requireCode(t, err, appErrors.ErrInvalidTransition)
	_, err = SignAsBuyer(c, buyer, t0)
	requireCode(t, err, appErrors.ErrOutOfOrderSignature)
	_, err = Submit(c, seller, t0)
	requireCode(t, err, appErrors.ErrInvalidTransition)
}

func TestSubmitDraft(t *testing.T) {
	draft := atState(t, models.AgreementDrafting)
	draft.Items = models.ChecklistItems{}

	_, err := Submit(draft, seller, t0)
	requireCode(t, err, appErrors.ErrValidation)

	withItems, err := ReviseItems(draft, seller, items(models.ItemPending), t0)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementDrafting, withItems.AgreementStatus)

	submitted, err := Submit(withItems, seller, t0)
	require.NoError(t, err)
	assert.Equal(t, models.AgreementPendingBuyer, submitted.AgreementStatus)

	_, err = Submit(withItems, buyer, t0)
	requireCode(t, err, appErrors.ErrActorUnauthorized)
}

func TestReviseItemsOnlyWhileEditable(t *testing.T) {
	for _, status := range allStatuses {
		c := atState(t, status, models.ItemFail)
		next, err := ReviseItems(c, seller, items(models.ItemPass, models.ItemPass), t0)
		if status.Editable() {
			require.NoError(t, err)
			assert.Equal(t, 100, next.Score)
			assert.Equal(t, 0, c.Score, "input snapshot must stay untouched")
			continue
		}
		requireCode(t, err, appErrors.ErrInvalidTransition)
	}

	_, err := ReviseItems(atState(t, models.AgreementPendingBuyer, models.ItemFail), buyer, items(models.ItemPass), t0)
	requireCode(t, err, appErrors.ErrActorUnauthorized)

	_, err = ReviseItems(atState(t, models.AgreementPendingBuyer, models.ItemFail), seller, nil, t0)
	requireCode(t, err, appErrors.ErrValidation)
}

func TestRetitleAndSetThreshold(t *testing.T) {
	c := newInvitation(t, models.ItemPass)

	renamed, err := Retitle(c, seller, " New title ", " details ", t0)
	require.NoError(t, err)
	assert.Equal(t, "New title", renamed.Title)
	assert.Equal(t, "details", renamed.Description)

	ninety := 90
	withThreshold, err := SetThreshold(renamed, seller, &ninety, t0)
	require.NoError(t, err)
	assert.Equal(t, 90, *withThreshold.AcceptanceThreshold)

	reset, err := SetThreshold(withThreshold, seller, nil, t0)
	require.NoError(t, err)
	assert.Nil(t, reset.AcceptanceThreshold)

	tooHigh := 101
	_, err = SetThreshold(c, seller, &tooHigh, t0)
	requireCode(t, err, appErrors.ErrValidation)

	locked := atState(t, models.AgreementReadyToSign, models.ItemPass)
	_, err = SetThreshold(locked, seller, &ninety, t0)
	requireCode(t, err, appErrors.ErrInvalidTransition)
	_, err = Retitle(locked, seller, "x", "", t0)
	requireCode(t, err, appErrors.ErrInvalidTransition)
}

func TestCanDelete(t *testing.T) {
	for _, status := range allStatuses {
		err := CanDelete(atState(t, status, models.ItemPass), seller)
		if status == models.AgreementPartyASigned || status == models.AgreementCompleted {
			requireCode(t, err, appErrors.ErrInvalidTransition)
			continue
		}
		assert.NoError(t, err, status)
	}
	requireCode(t, CanDelete(atState(t, models.AgreementReadyToSign, models.ItemPass), buyer), appErrors.ErrActorUnauthorized)
}

func TestScenarioAFailingItemsLockSigning(t *testing.T) {
	c := newInvitation(t, models.ItemPass, models.ItemPass, models.ItemFail)
	assert.Equal(t, 67, c.Score)
	assert.Equal(t, QCFail, Evaluate(c.Score, EffectiveThreshold(c.AcceptanceThreshold)))

	ready, err := AcceptInvite(c, buyer, t0)
	require.NoError(t, err)

	_, err = SignAsSeller(ready, seller, t0)
	appErr := requireCode(t, err, appErrors.ErrScoreBelowThreshold)
	assert.Equal(t, "cannot sign: score 67% is below required threshold 100%", appErr.Message)
	assert.Equal(t, 67, appErr.Details["score"])
	assert.Equal(t, 100, appErr.Details["threshold"])
	assert.Equal(t, "ready_to_sign", appErr.Details["current_state"])
	assert.Equal(t, "qc_pass", appErr.Details["guard"])
}

func TestScenarioBHappyPathThroughDispute(t *testing.T) {
	c := newInvitation(t, models.ItemPass, models.ItemPass)
	assert.Equal(t, 100, c.Score)

	ready, err := AcceptInvite(c, buyer, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.AgreementReadyToSign, ready.AgreementStatus)

	signed, err := SignAsSeller(ready, seller, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.AgreementPartyASigned, signed.AgreementStatus)

	completed, err := SignAsBuyer(signed, buyer, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.AgreementCompleted, completed.AgreementStatus)
	assert.True(t, completed.SellerSignedAt.Before(*completed.BuyerSignedAt))
	assert.Equal(t, int64(4), completed.Version)

	dispute, err := FileDispute(completed, buyer, "tiles cracked within a week", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.DisputeInitiated, dispute.Status)
	assert.Equal(t, seller.ID, dispute.SellerID)
	assert.Equal(t, buyer.ID, dispute.BuyerID)
}
