package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

func TestAuthorizeComparesIDsNotEmails(t *testing.T) {
	c := atState(t, models.AgreementReadyToSign, models.ItemPass)
	impostor := models.Actor{ID: "impostor", Email: seller.Email}

	d := Authorize(impostor, c, ActionSignSeller)
	assert.False(t, d.Allowed)
	assert.Equal(t, RoleNone, d.Role)
	assert.NotEmpty(t, d.Reason)

	assert.True(t, Authorize(seller, &c, ActionSignSeller).Allowed)
}

func TestAuthorizeAnonymousAndUnknownEntities(t *testing.T) {
	c := newInvitation(t, models.ItemPass)
	assert.False(t, Authorize(models.Actor{}, c, ActionView).Allowed)
	assert.False(t, Authorize(seller, "not an entity", ActionView).Allowed)
	assert.False(t, Authorize(seller, (*models.Checklist)(nil), ActionView).Allowed)
	assert.False(t, Authorize(seller, c, ActionResolve).Allowed)
}

func TestAuthorizeChecklistView(t *testing.T) {
	pending := newInvitation(t, models.ItemPass)
	assert.True(t, Authorize(other, pending, ActionView).Allowed, "invitee may view an open invitation")

	ready := atState(t, models.AgreementReadyToSign, models.ItemPass)
	assert.False(t, Authorize(other, ready, ActionView).Allowed)
	assert.True(t, Authorize(buyer, ready, ActionView).Allowed)
	assert.True(t, Authorize(buyer, ready, ActionExport).Allowed)
	assert.False(t, Authorize(buyer, ready, ActionPublish).Allowed)
}

func TestAuthorizeListingAndDispute(t *testing.T) {
	l := models.Listing{SellerID: seller.ID}
	assert.True(t, Authorize(other, l, ActionView).Allowed)
	assert.False(t, Authorize(other, &l, ActionMaintain).Allowed)
	assert.True(t, Authorize(seller, l, ActionUnpublish).Allowed)

	d := models.Dispute{SellerID: seller.ID, BuyerID: buyer.ID}
	assert.True(t, Authorize(seller, d, ActionSubmitOffer).Allowed)
	assert.False(t, Authorize(buyer, d, ActionSubmitOffer).Allowed)
	assert.True(t, Authorize(buyer, &d, ActionResolve).Allowed)
	assert.False(t, Authorize(other, d, ActionView).Allowed)
	assert.True(t, Authorize(models.Actor{ID: "adm", Role: models.RoleAdmin}, d, ActionView).Allowed)
}

func TestRequireCarriesGuardDetails(t *testing.T) {
	ready := atState(t, models.AgreementReadyToSign, models.ItemPass)

	require.NoError(t, Require(buyer, ready, ActionView))

	err := Require(other, ready, ActionView)
	appErr := requireCode(t, err, appErrors.ErrActorUnauthorized)
	assert.Equal(t, "actor", appErr.Details["guard"])
	assert.Equal(t, string(models.AgreementReadyToSign), appErr.Details["current_state"])
	assert.Equal(t, string(RoleNone), appErr.Details["role"])
}
