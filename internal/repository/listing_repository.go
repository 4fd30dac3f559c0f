package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/qc-validator-api/internal/models"
)

const listingSelect = `SELECT l.id, l.checklist_id, l.seller_id, l.price, l.contact, l.listed_at, l.last_maintained_at, c.title, c.score FROM listings l JOIN checklists c ON c.id = l.checklist_id`

const listingCount = `SELECT COUNT(*) FROM listings l JOIN checklists c ON c.id = l.checklist_id`

// ListingRepository persists marketplace listings.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new listing repository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// Create inserts the listing only while the checklist is owned by the seller and scores 100.
// sql.ErrNoRows means the checklist no longer qualifies.
func (r *ListingRepository) Create(ctx context.Context, l *models.Listing) error {
	const query = `INSERT INTO listings (id, checklist_id, seller_id, price, contact, listed_at, last_maintained_at)
SELECT $1, c.id, c.owner_id, $2, $3, $4, $5 FROM checklists c WHERE c.id = $6 AND c.owner_id = $7 AND c.score = 100`
	result, err := r.db.ExecContext(ctx, query, l.ID, l.Price, l.Contact, l.ListedAt, l.LastMaintainedAt, l.ChecklistID, l.SellerID)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check listing insert rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID returns a listing with its checklist title and score.
func (r *ListingRepository) FindByID(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	if err := r.db.GetContext(ctx, &l, listingSelect+` WHERE l.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find listing: %w", err)
	}
	return &l, nil
}

// List returns listings matching the filter, most recently maintained first.
func (r *ListingRepository) List(ctx context.Context, filter models.ListingFilter) ([]models.Listing, int, error) {
	var conditions []string
	var args []interface{}

	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conditions = append(conditions, fmt.Sprintf("l.seller_id = $%d", len(args)))
	}
	if filter.MaintainedAfter != nil {
		args = append(args, *filter.MaintainedAfter)
		conditions = append(conditions, fmt.Sprintf("l.last_maintained_at >= $%d", len(args)))
	}
	if filter.EligibleOnly {
		conditions = append(conditions, "c.score = 100")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	page := models.Pagination{Page: filter.Page, PageSize: filter.PageSize}
	offset := page.Normalise(20, 100)

	listQuery := fmt.Sprintf("%s%s ORDER BY l.last_maintained_at DESC, l.id LIMIT %d OFFSET %d", listingSelect, where, page.PageSize, offset)
	var items []models.Listing
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list listings: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, listingCount+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}
	return items, total, nil
}

// Maintain refreshes last_maintained_at for a listing owned by sellerID.
func (r *ListingRepository) Maintain(ctx context.Context, id, sellerID string, at time.Time) error {
	const query = `UPDATE listings SET last_maintained_at = $3 WHERE id = $1 AND seller_id = $2`
	return r.execOne(ctx, "maintain listing", query, id, sellerID, at)
}

// Delete hard deletes a listing owned by sellerID.
func (r *ListingRepository) Delete(ctx context.Context, id, sellerID string) error {
	const query = `DELETE FROM listings WHERE id = $1 AND seller_id = $2`
	return r.execOne(ctx, "delete listing", query, id, sellerID)
}

func (r *ListingRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
