package dto

import "github.com/noah-isme/qc-validator-api/internal/models"

// CreateChecklistRequest opens a checklist. With items it becomes an invitation right away;
// without items it stays a draft request.
type CreateChecklistRequest struct {
	Title               string                 `json:"title" validate:"required,max=200"`
	Description         string                 `json:"description" validate:"max=5000"`
	Items               []models.ChecklistItem `json:"items" validate:"omitempty,max=200,dive"`
	AcceptanceThreshold *int                   `json:"acceptance_threshold" validate:"omitempty,min=0,max=100"`
}

// UpdateChecklistRequest retitles a checklist.
type UpdateChecklistRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

// ReviseItemsRequest replaces the checklist items.
type ReviseItemsRequest struct {
	Items []models.ChecklistItem `json:"items" validate:"max=200,dive"`
}

// ThresholdRequest sets or clears the acceptance threshold. Null restores the default.
type ThresholdRequest struct {
	AcceptanceThreshold *int `json:"acceptance_threshold" validate:"omitempty,min=0,max=100"`
}

// ChecklistQuery filters the caller's checklists.
type ChecklistQuery struct {
	Role     models.ChecklistRole     `form:"role"`
	Status   []models.AgreementStatus `form:"status"`
	Page     int                      `form:"page"`
	PageSize int                      `form:"page_size"`
}

// ExportQuery selects the inspection export format.
type ExportQuery struct {
	Format string `form:"format"`
}
