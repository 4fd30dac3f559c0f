package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

// StaleAfter is how long a listing stays public without maintenance.
const StaleAfter = 90 * 24 * time.Hour

// Publish creates a listing for a checklist whose every item passes. The caller assigns the ID.
func Publish(c models.Checklist, actor models.Actor, price int64, contact string, now time.Time) (models.Listing, error) {
	state := string(c.AgreementStatus)
	if d := Authorize(actor, c, ActionPublish); !d.Allowed {
		return models.Listing{}, deny(d, ActionPublish, state)
	}
	score := ComputeScore(c.Items)
	if score != 100 {
		return models.Listing{}, guardError(appErrors.ErrNotEligible, "perfect_score", state,
			fmt.Sprintf("cannot publish: score %d%% must be 100%%", score),
			map[string]interface{}{"score": score, "required": 100})
	}
	if price < 0 {
		return models.Listing{}, appErrors.WithDetails(appErrors.ErrValidation, "price must not be negative",
			map[string]interface{}{"field": "price"})
	}
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return models.Listing{}, appErrors.WithDetails(appErrors.ErrValidation, "contact is required",
			map[string]interface{}{"field": "contact"})
	}

	return models.Listing{
		ChecklistID:      c.ID,
		SellerID:         c.OwnerID,
		Price:            price,
		Contact:          contact,
		ListedAt:         now,
		LastMaintainedAt: now,
		Title:            c.Title,
		Score:            score,
	}, nil
}

// IsStale reports whether l has gone unmaintained for more than StaleAfter.
func IsStale(l models.Listing, now time.Time) bool {
	return now.Sub(l.LastMaintainedAt) > StaleAfter
}

// StaleAt returns the first instant at which l counts as stale.
func StaleAt(l models.Listing) time.Time {
	return l.LastMaintainedAt.Add(StaleAfter).Add(time.Nanosecond)
}

// FreshCutoff is the oldest lastMaintainedAt that is still publicly visible at now.
func FreshCutoff(now time.Time) time.Time {
	return now.Add(-StaleAfter)
}

// Maintain resets the staleness clock of the seller's listing.
func Maintain(l models.Listing, actor models.Actor, now time.Time) (models.Listing, error) {
	if d := Authorize(actor, l, ActionMaintain); !d.Allowed {
		return l, deny(d, ActionMaintain, "")
	}
	next := l
	next.LastMaintainedAt = now
	return next, nil
}

// Unpublish checks that actor may hard delete l.
func Unpublish(l models.Listing, actor models.Actor) error {
	if d := Authorize(actor, l, ActionUnpublish); !d.Allowed {
		return deny(d, ActionUnpublish, "")
	}
	return nil
}
