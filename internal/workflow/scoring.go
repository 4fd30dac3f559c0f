// Package workflow holds the agreement, marketplace and dispute rules as pure functions over
// immutable snapshots. Nothing here touches storage or the clock; callers pass both in.
package workflow

import (
	"fmt"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

// QCResult is the derived outcome of comparing a score with its threshold.
type QCResult string

const (
	QCPass QCResult = "PASS"
	QCFail QCResult = "FAIL"
)

// DefaultThreshold applies when a checklist carries no explicit threshold.
const DefaultThreshold = 100

// ComputeScore returns round(100 * passed / total), or 0 for an empty list.
func ComputeScore(items models.ChecklistItems) int {
	total := len(items)
	if total == 0 {
		return 0
	}
	passed := 0
	for _, item := range items {
		if item.Status == models.ItemPass {
			passed++
		}
	}
	// integer half-up rounding of 100*passed/total
	return (200*passed + total) / (2 * total)
}

// Evaluate returns PASS iff score >= threshold.
func Evaluate(score, threshold int) QCResult {
	if score >= threshold {
		return QCPass
	}
	return QCFail
}

// EffectiveThreshold resolves an optional stored threshold.
func EffectiveThreshold(threshold *int) int {
	if threshold == nil {
		return DefaultThreshold
	}
	return *threshold
}

// QCOf evaluates c from its items, ignoring any stale stored score.
func QCOf(c models.Checklist) (score, threshold int, result QCResult) {
	score = ComputeScore(c.Items)
	threshold = EffectiveThreshold(c.AcceptanceThreshold)
	return score, threshold, Evaluate(score, threshold)
}

// ValidateThreshold rejects thresholds outside 0..100.
func ValidateThreshold(threshold *int) error {
	if threshold == nil {
		return nil
	}
	if *threshold < 0 || *threshold > 100 {
		return appErrors.WithDetails(appErrors.ErrValidation,
			fmt.Sprintf("acceptance threshold must be between 0 and 100, got %d", *threshold),
			map[string]interface{}{"field": "acceptance_threshold"})
	}
	return nil
}

// ValidateItems rejects items with an unknown status or missing text.
func ValidateItems(items models.ChecklistItems) error {
	for i, item := range items {
		switch item.Status {
		case models.ItemPending, models.ItemPass, models.ItemFail:
		default:
			return appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("item %d has unknown status %q", i, item.Status),
				map[string]interface{}{"field": fmt.Sprintf("items[%d].status", i)})
		}
		if item.Category == "" || item.Requirement == "" {
			return appErrors.WithDetails(appErrors.ErrValidation,
				fmt.Sprintf("item %d needs a category and a requirement", i),
				map[string]interface{}{"field": fmt.Sprintf("items[%d]", i)})
		}
	}
	return nil
}
