package model

import (
	"errors"
	"strings"
	"time"
)

// Item is a physical object a neighbor offers for borrowing.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url,omitempty"`
	Terms       string    `json:"terms,omitempty"`
	OwnerID     string    `json:"owner_id"`
	OwnerName   string    `json:"owner_name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item statuses.
const (
	ItemStatusAvailable = "available"
	ItemStatusBorrowed  = "borrowed"
)

// NewItem holds the fields supplied when sharing an item.
type NewItem struct {
	Name        string
	Description string
	ImageURL    string
	Terms       string
}

// Item validation errors.
var (
	ErrNameRequired        = errors.New("name is required")
	ErrDescriptionRequired = errors.New("description is required")
)

// ValidateItem checks the required fields of a shared item.
func ValidateItem(name, description string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(description) == "" {
		return ErrDescriptionRequired
	}
	return nil
}

// BrowsableBy reports whether the item belongs in the viewer's browse view:
// available and owned by someone else.
func (i Item) BrowsableBy(viewerID string) bool {
	return i.Status == ItemStatusAvailable && i.OwnerID != viewerID
}
