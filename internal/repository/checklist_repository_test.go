package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

var checklistColumnNames = []string{"id", "owner_id", "seller_email", "buyer_id", "buyer_email", "title", "description", "items", "score", "acceptance_threshold", "agreement_status", "accepted_at", "seller_signed_at", "buyer_signed_at", "cancelled_at", "cancelled_by", "document_path", "document_generated_at", "version", "created_at", "updated_at"}

func checklistRow(rows *sqlmock.Rows, id string, status models.AgreementStatus, version int64) *sqlmock.Rows {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []byte(`[{"category":"Engine","requirement":"No oil leaks","status":"pass"}]`)
	return rows.AddRow(id, "seller-1", "seller@example.com", nil, nil, "Used sedan", "", items, 100, nil, string(status), nil, nil, nil, nil, nil, nil, nil, version, now, now)
}

func TestChecklistRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + checklistColumns + " FROM checklists WHERE id = $1")).
		WithArgs("chk-1").
		WillReturnRows(checklistRow(sqlmock.NewRows(checklistColumnNames), "chk-1", models.AgreementPendingBuyer, 1))

	c, err := repo.FindByID(context.Background(), "chk-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgreementPendingBuyer, c.AgreementStatus)
	require.Len(t, c.Items, 1)
	assert.Equal(t, models.ItemPass, c.Items[0].Status)
	assert.Nil(t, c.BuyerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecklistRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM checklists WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestChecklistRepositoryListSellerRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + checklistColumns + " FROM checklists WHERE owner_id = $1 AND agreement_status = ANY($2) ORDER BY updated_at DESC, id LIMIT 20 OFFSET 0")).
		WithArgs("seller-1", sqlmock.AnyArg()).
		WillReturnRows(checklistRow(sqlmock.NewRows(checklistColumnNames), "chk-1", models.AgreementReadyToSign, 3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM checklists WHERE owner_id = $1 AND agreement_status = ANY($2)")).
		WithArgs("seller-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.ChecklistFilter{
		UserID:   "seller-1",
		Role:     models.ChecklistRoleSeller,
		Statuses: []models.AgreementStatus{models.AgreementReadyToSign},
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecklistRepositoryListEitherParty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM checklists WHERE (owner_id = $1 OR buyer_id = $1) ORDER BY updated_at DESC, id LIMIT 5 OFFSET 5")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(checklistColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM checklists WHERE (owner_id = $1 OR buyer_id = $1)")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	items, total, err := repo.List(context.Background(), models.ChecklistFilter{UserID: "user-1", Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 6, total)
}

func TestChecklistRepositoryUpdateCAS(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	next := models.Checklist{ID: "chk-1", AgreementStatus: models.AgreementPartyASigned, Version: 4, Items: models.ChecklistItems{}}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE checklists SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), next, models.AgreementReadyToSign, 3))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE checklists SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), next, models.AgreementReadyToSign, 3)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecklistRepositorySetDocument(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE checklists SET document_path = $2")).
		WithArgs("chk-1", "agreements/chk-1.pdf", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetDocument(context.Background(), "chk-1", "agreements/chk-1.pdf", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecklistRepositoryDeleteCascadesListings(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM checklists WHERE id = $1 FOR UPDATE")).
		WithArgs("chk-1").
		WillReturnRows(checklistRow(sqlmock.NewRows(checklistColumnNames), "chk-1", models.AgreementReadyToSign, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM disputes WHERE checklist_id = $1)")).
		WithArgs("chk-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM listings WHERE checklist_id = $1")).
		WithArgs("chk-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checklists WHERE id = $1")).
		WithArgs("chk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen models.Checklist
	err := repo.Delete(context.Background(), "chk-1", func(c models.Checklist) error {
		seen = c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seen.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecklistRepositoryDeleteRefusedWhenDisputed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("chk-1").
		WillReturnRows(checklistRow(sqlmock.NewRows(checklistColumnNames), "chk-1", models.AgreementCancelled, 5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("chk-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "chk-1", nil)
	assert.True(t, errors.Is(err, appErrors.ErrReferencedByDispute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChecklistRepositoryDeleteGuardRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewChecklistRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("chk-1").
		WillReturnRows(checklistRow(sqlmock.NewRows(checklistColumnNames), "chk-1", models.AgreementCompleted, 5))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "chk-1", func(models.Checklist) error {
		return appErrors.ErrInvalidTransition
	})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}
