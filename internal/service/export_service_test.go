package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

func TestExportServiceInspection(t *testing.T) {
	checklists := newMemChecklistStore()
	checklists.put(models.Checklist{
		ID:              "chk-1",
		OwnerID:         sellerActor.ID,
		Title:           "Used sedan",
		Items:           models.ChecklistItems(checklistItems(models.ItemPass, models.ItemFail)),
		AgreementStatus: models.AgreementDrafting,
	})
	svc := NewExportService(checklists, zap.NewNop(), nil, nil)
	ctx := context.Background()

	result, err := svc.Inspection(ctx, sellerActor, "chk-1", "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"))
	assert.Contains(t, string(result.Payload), "Requirement A")
	assert.Contains(t, string(result.Payload), "fail")

	result, err = svc.Inspection(ctx, sellerActor, "chk-1", "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Payload, []byte("%PDF")))

	_, err = svc.Inspection(ctx, sellerActor, "chk-1", "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Inspection(ctx, strangerActor, "chk-1", "csv")
	assert.ErrorIs(t, err, appErrors.ErrActorUnauthorized)
}
