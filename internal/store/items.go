package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/posodi/internal/model"
)

const itemColumns = `id, name, description, image_url, terms, owner_id, owner_name, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var imageURL, terms sql.NullString
	if err := row.Scan(&item.ID, &item.Name, &item.Description, &imageURL, &terms,
		&item.OwnerID, &item.OwnerName, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.ImageURL = imageURL.String
	item.Terms = terms.String
	return item, nil
}

// sqlNow is the current UTC time to the millisecond, in a layout the driver
// reads back into time.Time.
const sqlNow = `strftime('%Y-%m-%d %H:%M:%f', 'now')`

// CreateItem shares a new item owned by the given profile. The owner's display
// name is copied onto the item and never refreshed.
func CreateItem(ctx context.Context, db *sql.DB, scope model.Scope, owner *model.Profile, in model.NewItem) (*model.Item, error) {
	if err := model.ValidateItem(in.Name, in.Description); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, deployment, neighborhood, name, description, image_url, terms, owner_id, owner_name,
		                    created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, `+sqlNow+`, `+sqlNow+`)`,
		id, scope.Deployment, scope.Neighborhood,
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Description),
		nullIfEmpty(in.ImageURL), nullIfEmpty(in.Terms),
		owner.UserID, owner.DisplayName,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	return GetItem(ctx, db, scope, id)
}

// GetItem returns an item in the scope by ID, or nil if there is none.
func GetItem(ctx context.Context, db *sql.DB, scope model.Scope, id string) (*model.Item, error) {
	return getItem(ctx, db, scope, id)
}

func getItem(ctx context.Context, q querier, scope model.Scope, id string) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE id = ? AND deployment = ? AND neighborhood = ?`,
		id, scope.Deployment, scope.Neighborhood,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListNeighborhoodItems returns every item in the scope, whatever its status.
func ListNeighborhoodItems(ctx context.Context, db *sql.DB, scope model.Scope) ([]model.Item, error) {
	return queryItems(ctx, db,
		`SELECT `+itemColumns+` FROM items
		 WHERE deployment = ? AND neighborhood = ?
		 ORDER BY created_at DESC, rowid DESC`,
		scope.Deployment, scope.Neighborhood,
	)
}

// ListBrowsableItems returns the viewer's browse view: available items in the
// scope owned by someone else.
func ListBrowsableItems(ctx context.Context, db *sql.DB, scope model.Scope, viewerID string) ([]model.Item, error) {
	return queryItems(ctx, db,
		`SELECT `+itemColumns+` FROM items
		 WHERE deployment = ? AND neighborhood = ? AND status = ? AND owner_id <> ?
		 ORDER BY created_at DESC, rowid DESC`,
		scope.Deployment, scope.Neighborhood, model.ItemStatusAvailable, viewerID,
	)
}

// ListOwnerItems returns all items shared by the owner in the scope.
func ListOwnerItems(ctx context.Context, db *sql.DB, scope model.Scope, ownerID string) ([]model.Item, error) {
	return queryItems(ctx, db,
		`SELECT `+itemColumns+` FROM items
		 WHERE deployment = ? AND neighborhood = ? AND owner_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		scope.Deployment, scope.Neighborhood, ownerID,
	)
}

func queryItems(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// SetItemImage stores an uploaded image and points the item's image reference
// at imageURL. Only the owner may change the image.
func SetItemImage(ctx context.Context, db *sql.DB, scope model.Scope, id, ownerID string, image []byte, mime, imageURL string) error {
	item, err := GetItem(ctx, db, scope, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}
	if item.OwnerID != ownerID {
		return ErrForbidden
	}

	_, err = db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, image_url = ?, updated_at = `+sqlNow+`
		 WHERE id = ? AND owner_id = ?`,
		image, mime, imageURL, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's stored image data and MIME type.
func GetItemImage(ctx context.Context, db *sql.DB, scope model.Scope, id string) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ? AND deployment = ? AND neighborhood = ?`,
		id, scope.Deployment, scope.Neighborhood,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.TrimSpace(s)
}
