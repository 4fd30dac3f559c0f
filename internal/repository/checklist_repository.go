package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

const checklistColumns = `id, owner_id, seller_email, buyer_id, buyer_email, title, description, items, score, acceptance_threshold, agreement_status, accepted_at, seller_signed_at, buyer_signed_at, cancelled_at, cancelled_by, document_path, document_generated_at, version, created_at, updated_at`

// ChecklistRepository persists checklist snapshots.
type ChecklistRepository struct {
	db *sqlx.DB
}

// NewChecklistRepository creates a new checklist repository.
func NewChecklistRepository(db *sqlx.DB) *ChecklistRepository {
	return &ChecklistRepository{db: db}
}

// Create inserts a new checklist. The caller assigns the id and initial version.
func (r *ChecklistRepository) Create(ctx context.Context, c *models.Checklist) error {
	const query = `INSERT INTO checklists (` + checklistColumns + `) VALUES (:id, :owner_id, :seller_email, :buyer_id, :buyer_email, :title, :description, :items, :score, :acceptance_threshold, :agreement_status, :accepted_at, :seller_signed_at, :buyer_signed_at, :cancelled_at, :cancelled_by, :document_path, :document_generated_at, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create checklist: %w", err)
	}
	return nil
}

// FindByID returns the checklist snapshot with the given id.
func (r *ChecklistRepository) FindByID(ctx context.Context, id string) (*models.Checklist, error) {
	const query = `SELECT ` + checklistColumns + ` FROM checklists WHERE id = $1`
	var c models.Checklist
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find checklist: %w", err)
	}
	return &c, nil
}

// List returns the checklists a user takes part in, newest first.
func (r *ChecklistRepository) List(ctx context.Context, filter models.ChecklistFilter) ([]models.Checklist, int, error) {
	var conditions []string
	var args []interface{}

	switch filter.Role {
	case models.ChecklistRoleSeller:
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	case models.ChecklistRoleBuyer:
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("buyer_id = $%d", len(args)))
	default:
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("(owner_id = $%d OR buyer_id = $%d)", len(args), len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("agreement_status = ANY($%d)", len(args)))
	}

	where := " WHERE " + strings.Join(conditions, " AND ")
	page := models.Pagination{Page: filter.Page, PageSize: filter.PageSize}
	offset := page.Normalise(20, 100)

	listQuery := fmt.Sprintf("SELECT %s FROM checklists%s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d", checklistColumns, where, page.PageSize, offset)
	var items []models.Checklist
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list checklists: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM checklists"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count checklists: %w", err)
	}
	return items, total, nil
}

type checklistCAS struct {
	models.Checklist
	ExpectedStatus  models.AgreementStatus `db:"expected_status"`
	ExpectedVersion int64                  `db:"expected_version"`
}

// Update writes next only if the stored row still carries the expected status and version.
// A lost race yields sql.ErrNoRows.
func (r *ChecklistRepository) Update(ctx context.Context, next models.Checklist, expectedStatus models.AgreementStatus, expectedVersion int64) error {
	const query = `UPDATE checklists SET buyer_id = :buyer_id, buyer_email = :buyer_email, title = :title, description = :description, items = :items, score = :score, acceptance_threshold = :acceptance_threshold, agreement_status = :agreement_status, accepted_at = :accepted_at, seller_signed_at = :seller_signed_at, buyer_signed_at = :buyer_signed_at, cancelled_at = :cancelled_at, cancelled_by = :cancelled_by, version = :version, updated_at = :updated_at WHERE id = :id AND agreement_status = :expected_status AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, checklistCAS{
		Checklist:       next,
		ExpectedStatus:  expectedStatus,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("update checklist: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check checklist update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetDocument records the rendered agreement document of a completed checklist.
func (r *ChecklistRepository) SetDocument(ctx context.Context, id, path string, generatedAt time.Time) error {
	const query = `UPDATE checklists SET document_path = $2, document_generated_at = $3, version = version + 1, updated_at = $3 WHERE id = $1 AND agreement_status = 'completed'`
	result, err := r.db.ExecContext(ctx, query, id, path, generatedAt)
	if err != nil {
		return fmt.Errorf("set checklist document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check checklist document rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a checklist and its listings in one transaction. The row is locked first and
// handed to guard so the caller can re-check ownership and state against the locked snapshot.
// Checklists referenced by any dispute are kept.
func (r *ChecklistRepository) Delete(ctx context.Context, id string, guard func(models.Checklist) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checklist delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Checklist
	if err = tx.GetContext(ctx, &current, `SELECT `+checklistColumns+` FROM checklists WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock checklist: %w", err)
	}
	if guard != nil {
		if err = guard(current); err != nil {
			return err
		}
	}

	var referenced bool
	if err = tx.GetContext(ctx, &referenced, `SELECT EXISTS (SELECT 1 FROM disputes WHERE checklist_id = $1)`, id); err != nil {
		return fmt.Errorf("check checklist disputes: %w", err)
	}
	if referenced {
		err = appErrors.ErrReferencedByDispute
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM listings WHERE checklist_id = $1`, id); err != nil {
		return fmt.Errorf("delete checklist listings: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM checklists WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete checklist: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checklist delete: %w", err)
	}
	return nil
}
