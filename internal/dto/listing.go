package dto

// PublishListingRequest advertises a fully passing checklist.
type PublishListingRequest struct {
	ChecklistID string `json:"checklist_id" validate:"required"`
	Price       int64  `json:"price" validate:"gte=0"`
	Contact     string `json:"contact" validate:"required,max=200"`
}

// ListingQuery pages through listings.
type ListingQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}
