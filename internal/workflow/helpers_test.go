package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

var (
	t0     = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	seller = models.Actor{ID: "seller-1", Email: "seller@example.com", Role: models.RoleUser}
	buyer  = models.Actor{ID: "buyer-1", Email: "buyer@example.com", Role: models.RoleUser}
	other  = models.Actor{ID: "other-1", Email: "other@example.com", Role: models.RoleUser}
)

func items(statuses ...models.ItemStatus) models.ChecklistItems {
	out := make(models.ChecklistItems, len(statuses))
	for i, s := range statuses {
		out[i] = models.ChecklistItem{Category: "Finish", Requirement: "requirement", Status: s}
	}
	return out
}

func newInvitation(t *testing.T, statuses ...models.ItemStatus) models.Checklist {
	t.Helper()
	c, err := NewChecklist(seller, models.ChecklistDraft{Title: "Kitchen refit", Items: items(statuses...)}, t0)
	require.NoError(t, err)
	c.ID = "chk-1"
	return c
}

func atState(t *testing.T, status models.AgreementStatus, statuses ...models.ItemStatus) models.Checklist {
	t.Helper()
	c := newInvitation(t, statuses...)
	if status == models.AgreementDrafting {
		c.AgreementStatus = status
		return c
	}
	if status == models.AgreementPendingBuyer {
		return c
	}
	c.BuyerID = &buyer.ID
	c.BuyerEmail = &buyer.Email
	c.AgreementStatus = status
	return c
}

func requireCode(t *testing.T, err error, want *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, want)
	appErr := appErrors.FromError(err)
	require.Equal(t, want.Code, appErr.Code)
	return appErr
}

var allStatuses = []models.AgreementStatus{
	models.AgreementDrafting,
	models.AgreementPendingBuyer,
	models.AgreementReadyToSign,
	models.AgreementPartyASigned,
	models.AgreementCompleted,
	models.AgreementCancelled,
}
