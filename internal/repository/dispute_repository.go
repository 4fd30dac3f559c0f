package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/pkg/database"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

const disputeColumns = `id, checklist_id, seller_id, buyer_id, reason, status, seller_offer, resolution, offered_at, resolved_at, version, created_at, updated_at`

// OpenDisputeConstraint is the partial unique index allowing one open dispute per checklist.
const OpenDisputeConstraint = "disputes_one_open_per_checklist"

// DisputeRepository persists disputes and their message log.
type DisputeRepository struct {
	db *sqlx.DB
}

// NewDisputeRepository creates a new dispute repository.
func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create files a dispute only while the checklist is completed and d.BuyerID is its buyer.
// sql.ErrNoRows means the checklist no longer qualifies. A second open dispute on the same
// checklist yields ErrDisputeAlreadyOpen.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	const query = `INSERT INTO disputes (` + disputeColumns + `)
SELECT $1, c.id, c.owner_id, c.buyer_id, $2, $3, NULL, NULL, NULL, NULL, $4, $5, $5 FROM checklists c WHERE c.id = $6 AND c.agreement_status = 'completed' AND c.buyer_id = $7`
	result, err := r.db.ExecContext(ctx, query, d.ID, d.Reason, d.Status, d.Version, d.CreatedAt, d.ChecklistID, d.BuyerID)
	if err != nil {
		if database.IsUniqueViolation(err, OpenDisputeConstraint) {
			return appErrors.ErrDisputeAlreadyOpen
		}
		return fmt.Errorf("create dispute: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check dispute insert rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID returns the dispute with the given id.
func (r *DisputeRepository) FindByID(ctx context.Context, id string) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.GetContext(ctx, &d, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find dispute: %w", err)
	}
	return &d, nil
}

type disputeCAS struct {
	models.Dispute
	ExpectedStatus  models.DisputeStatus `db:"expected_status"`
	ExpectedVersion int64                `db:"expected_version"`
}

// Update writes next only if the stored row still carries the expected status and version.
func (r *DisputeRepository) Update(ctx context.Context, next models.Dispute, expectedStatus models.DisputeStatus, expectedVersion int64) error {
	const query = `UPDATE disputes SET status = :status, seller_offer = :seller_offer, resolution = :resolution, offered_at = :offered_at, resolved_at = :resolved_at, version = :version, updated_at = :updated_at WHERE id = :id AND status = :expected_status AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, disputeCAS{
		Dispute:         next,
		ExpectedStatus:  expectedStatus,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check dispute update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns disputes matching the filter, newest first.
func (r *DisputeRepository) List(ctx context.Context, filter models.DisputeFilter) ([]models.Dispute, int, error) {
	var conditions []string
	var args []interface{}

	if filter.PartyID != "" {
		args = append(args, filter.PartyID)
		conditions = append(conditions, fmt.Sprintf("(seller_id = $%d OR buyer_id = $%d)", len(args), len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	page := models.Pagination{Page: filter.Page, PageSize: filter.PageSize}
	offset := page.Normalise(20, 100)

	listQuery := fmt.Sprintf("SELECT %s FROM disputes%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", disputeColumns, where, page.PageSize, offset)
	var items []models.Dispute
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list disputes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM disputes"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count disputes: %w", err)
	}
	return items, total, nil
}

// CreateMessage appends m while the dispute is open and the author is one of its parties.
// The assigned sequence number is written back to m. sql.ErrNoRows means the dispute closed.
func (r *DisputeRepository) CreateMessage(ctx context.Context, m *models.DisputeMessage) error {
	const query = `INSERT INTO dispute_messages (id, dispute_id, author_id, body, created_at)
SELECT $1, d.id, $3, $4, $5 FROM disputes d WHERE d.id = $2 AND d.status IN ('INITIATED', 'SELLER_RESPONDED') AND $3 IN (d.seller_id, d.buyer_id)
RETURNING seq`
	if err := r.db.GetContext(ctx, &m.Seq, query, m.ID, m.DisputeID, m.AuthorID, m.Body, m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("create dispute message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages with seq greater than afterSeq, in append order.
func (r *DisputeRepository) ListMessages(ctx context.Context, disputeID string, afterSeq int64, limit int) ([]models.DisputeMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `SELECT id, seq, dispute_id, author_id, body, created_at FROM dispute_messages WHERE dispute_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`
	var messages []models.DisputeMessage
	if err := r.db.SelectContext(ctx, &messages, query, disputeID, afterSeq, limit); err != nil {
		return nil, fmt.Errorf("list dispute messages: %w", err)
	}
	return messages, nil
}
