package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

func newDispute(now time.Time) *models.Dispute {
	return &models.Dispute{
		ID:          "dsp-1",
		ChecklistID: "chk-1",
		SellerID:    "seller-1",
		BuyerID:     "buyer-1",
		Reason:      "Brakes squeal",
		Status:      models.DisputeInitiated,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestDisputeRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("FROM checklists c WHERE c.id = $6 AND c.agreement_status = 'completed' AND c.buyer_id = $7")).
		WithArgs("dsp-1", "Brakes squeal", models.DisputeInitiated, int64(1), now, "chk-1", "buyer-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), newDispute(now)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepositoryCreateNotEligible(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	mock.ExpectExec("INSERT INTO disputes").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), newDispute(time.Now()))
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestDisputeRepositoryCreateSecondOpenDispute(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	mock.ExpectExec("INSERT INTO disputes").
		WillReturnError(&pq.Error{Code: "23505", Constraint: OpenDisputeConstraint})

	err := repo.Create(context.Background(), newDispute(time.Now()))
	assert.True(t, errors.Is(err, appErrors.ErrDisputeAlreadyOpen))
}

func TestDisputeRepositoryUpdateCAS(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	next := *newDispute(time.Now())
	next.Status = models.DisputeSellerResponded
	next.Version = 2

	mock.ExpectExec(regexp.QuoteMeta("UPDATE disputes SET status")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), next, models.DisputeInitiated, 1)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepositoryListEscalated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "checklist_id", "seller_id", "buyer_id", "reason", "status", "seller_offer", "resolution", "offered_at", "resolved_at", "version", "created_at", "updated_at"}).
		AddRow("dsp-1", "chk-1", "seller-1", "buyer-1", "Brakes", "ESCALATED", "50% refund", models.ResolutionEscalated, now, now, 3, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + disputeColumns + " FROM disputes WHERE status = ANY($1) ORDER BY created_at DESC, id LIMIT 20 OFFSET 0")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM disputes WHERE status = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.DisputeFilter{Statuses: []models.DisputeStatus{models.DisputeEscalated}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.DisputeEscalated, items[0].Status)
	require.NotNil(t, items[0].Resolution)
	assert.Equal(t, models.ResolutionEscalated, *items[0].Resolution)
	assert.Equal(t, 1, total)
}

func TestDisputeRepositoryCreateMessageAssignsSeq(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dispute_messages")).
		WithArgs("msg-1", "dsp-1", "buyer-1", "hello", now).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	msg := &models.DisputeMessage{ID: "msg-1", DisputeID: "dsp-1", AuthorID: "buyer-1", Body: "hello", CreatedAt: now}
	require.NoError(t, repo.CreateMessage(context.Background(), msg))
	assert.Equal(t, int64(7), msg.Seq)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dispute_messages")).WillReturnRows(sqlmock.NewRows([]string{"seq"}))
	assert.Equal(t, sql.ErrNoRows, repo.CreateMessage(context.Background(), &models.DisputeMessage{ID: "msg-2", DisputeID: "dsp-1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepositoryListMessagesOrdered(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDisputeRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "seq", "dispute_id", "author_id", "body", "created_at"}).
		AddRow("m1", int64(1), "dsp-1", "buyer-1", "first", now).
		AddRow("m2", int64(2), "dsp-1", "seller-1", "second", now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq ASC LIMIT $3")).
		WithArgs("dsp-1", int64(0), 100).
		WillReturnRows(rows)

	messages, err := repo.ListMessages(context.Background(), "dsp-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Body)
	assert.Equal(t, int64(2), messages[1].Seq)
}
