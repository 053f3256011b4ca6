package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/posodi/internal/model"
)

const requestColumns = `id, item_id, item_name, item_image, owner_id, borrower_id, borrower_name,
	borrow_date, return_date, message, status, checkout_notes, checkin_notes, requested_at, updated_at`

func scanRequest(row rowScanner) (*model.Request, error) {
	r := &model.Request{}
	var itemImage, message, checkout, checkin sql.NullString
	if err := row.Scan(&r.ID, &r.ItemID, &r.ItemName, &itemImage, &r.OwnerID, &r.BorrowerID, &r.BorrowerName,
		&r.BorrowDate, &r.ReturnDate, &message, &r.Status, &checkout, &checkin, &r.RequestedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ItemImage = itemImage.String
	r.Message = message.String
	r.CheckoutNotes = checkout.String
	r.CheckinNotes = checkin.String
	return r, nil
}

// CreateRequest records a pending borrow request. The item's name, image and
// owner are copied from the item as it is at request time.
func CreateRequest(ctx context.Context, db *sql.DB, scope model.Scope, borrower *model.Profile, in model.NewRequest) (*model.Request, error) {
	if strings.TrimSpace(in.BorrowDate) == "" {
		in.BorrowDate = model.Today()
	}
	if err := model.ValidateLoanDates(in.BorrowDate, in.ReturnDate); err != nil {
		return nil, err
	}

	item, err := GetItem(ctx, db, scope, in.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", in.ItemID, ErrNotFound)
	}
	if item.OwnerID == borrower.UserID {
		return nil, ErrOwnItem
	}
	if !item.BrowsableBy(borrower.UserID) {
		return nil, fmt.Errorf("item %s is %s: %w", item.ID, item.Status, ErrItemUnavailable)
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx,
		`INSERT INTO requests (id, deployment, neighborhood, item_id, item_name, item_image, owner_id,
		                       borrower_id, borrower_name, borrow_date, return_date, message, requested_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, `+sqlNow+`, `+sqlNow+`)`,
		id, scope.Deployment, scope.Neighborhood, item.ID, item.Name, nullIfEmpty(item.ImageURL), item.OwnerID,
		borrower.UserID, borrower.DisplayName,
		strings.TrimSpace(in.BorrowDate), strings.TrimSpace(in.ReturnDate), nullIfEmpty(in.Message),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	return GetRequest(ctx, db, scope, id)
}

// GetRequest returns a request in the scope by ID, or nil if there is none.
func GetRequest(ctx context.Context, db *sql.DB, scope model.Scope, id string) (*model.Request, error) {
	r, err := scanRequest(db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests
		 WHERE id = ? AND deployment = ? AND neighborhood = ?`,
		id, scope.Deployment, scope.Neighborhood,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	return r, nil
}

// ListIncomingRequests returns the owner's open requests (pending or
// approved), newest first. Declined and returned requests drop out.
func ListIncomingRequests(ctx context.Context, db *sql.DB, scope model.Scope, ownerID string) ([]model.Request, error) {
	return queryRequests(ctx, db,
		`SELECT `+requestColumns+` FROM requests
		 WHERE deployment = ? AND neighborhood = ? AND owner_id = ? AND status IN (?, ?)
		 ORDER BY requested_at DESC, rowid DESC`,
		scope.Deployment, scope.Neighborhood, ownerID,
		model.RequestStatusPending, model.RequestStatusApproved,
	)
}

// ListBorrowerRequests returns every request made by the borrower, in
// borrow-history order.
func ListBorrowerRequests(ctx context.Context, db *sql.DB, scope model.Scope, borrowerID string) ([]model.Request, error) {
	reqs, err := queryRequests(ctx, db,
		`SELECT `+requestColumns+` FROM requests
		 WHERE deployment = ? AND neighborhood = ? AND borrower_id = ?
		 ORDER BY requested_at DESC, rowid DESC`,
		scope.Deployment, scope.Neighborhood, borrowerID,
	)
	if err != nil {
		return nil, err
	}
	model.SortBorrowHistory(reqs)
	return reqs, nil
}

// ListItemRequests returns all requests on an item, newest first.
func ListItemRequests(ctx context.Context, db *sql.DB, scope model.Scope, itemID string) ([]model.Request, error) {
	return queryRequests(ctx, db,
		`SELECT `+requestColumns+` FROM requests
		 WHERE deployment = ? AND neighborhood = ? AND item_id = ?
		 ORDER BY requested_at DESC, rowid DESC`,
		scope.Deployment, scope.Neighborhood, itemID,
	)
}

func queryRequests(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Request, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

// ApproveRequest moves a pending request to approved and its item to borrowed
// in one transaction. Only the item's owner may approve.
func ApproveRequest(ctx context.Context, db *sql.DB, scope model.Scope, id, ownerID, notes string) (*model.Request, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ref, err := lookupRequest(ctx, tx, scope, id)
	if err != nil {
		return nil, err
	}
	if ref.ownerID != ownerID {
		return nil, ErrForbidden
	}
	if !model.CanTransition(ref.status, model.RequestStatusApproved) {
		return nil, transitionError(ref.status, model.RequestStatusApproved)
	}

	item, err := getItem(ctx, tx, scope, ref.itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", ref.itemID, ErrNotFound)
	}
	if item.Status != model.ItemStatusAvailable {
		return nil, fmt.Errorf("item %s is %s: %w", item.ID, item.Status, ErrItemUnavailable)
	}

	if err := setRequestStatus(ctx, tx, id, ref.status, model.RequestStatusApproved, "checkout_notes", notes); err != nil {
		return nil, err
	}
	if err := setItemStatus(ctx, tx, ref.itemID, model.ItemStatusAvailable, model.ItemStatusBorrowed, ErrItemUnavailable); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing approval: %w", err)
	}

	return GetRequest(ctx, db, scope, id)
}

// DeclineRequest moves a pending request to declined. Only the item's owner
// may decline.
func DeclineRequest(ctx context.Context, db *sql.DB, scope model.Scope, id, ownerID string) (*model.Request, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ref, err := lookupRequest(ctx, tx, scope, id)
	if err != nil {
		return nil, err
	}
	if ref.ownerID != ownerID {
		return nil, ErrForbidden
	}
	if !model.CanTransition(ref.status, model.RequestStatusDeclined) {
		return nil, transitionError(ref.status, model.RequestStatusDeclined)
	}

	if err := setRequestStatus(ctx, tx, id, ref.status, model.RequestStatusDeclined, "", ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing decline: %w", err)
	}

	return GetRequest(ctx, db, scope, id)
}

// ReturnRequest moves an approved request to returned and its item back to
// available in one transaction. Only the borrower may return.
func ReturnRequest(ctx context.Context, db *sql.DB, scope model.Scope, id, borrowerID, notes string) (*model.Request, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ref, err := lookupRequest(ctx, tx, scope, id)
	if err != nil {
		return nil, err
	}
	if ref.borrowerID != borrowerID {
		return nil, ErrForbidden
	}
	if !model.CanTransition(ref.status, model.RequestStatusReturned) {
		return nil, transitionError(ref.status, model.RequestStatusReturned)
	}

	if err := setRequestStatus(ctx, tx, id, ref.status, model.RequestStatusReturned, "checkin_notes", notes); err != nil {
		return nil, err
	}
	if err := setItemStatus(ctx, tx, ref.itemID, model.ItemStatusBorrowed, model.ItemStatusAvailable, ErrInvalidTransition); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing return: %w", err)
	}

	return GetRequest(ctx, db, scope, id)
}

// transitionError explains why a request cannot move from one status to another.
func transitionError(from, to string) error {
	if model.Terminal(from) {
		return fmt.Errorf("%w: request is already %s", ErrInvalidTransition, from)
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// requestRef is the part of a request the lifecycle writes need.
type requestRef struct {
	itemID     string
	ownerID    string
	borrowerID string
	status     string
}

func lookupRequest(ctx context.Context, tx *sql.Tx, scope model.Scope, id string) (*requestRef, error) {
	ref := &requestRef{}
	err := tx.QueryRowContext(ctx,
		`SELECT item_id, owner_id, borrower_id, status FROM requests
		 WHERE id = ? AND deployment = ? AND neighborhood = ?`,
		id, scope.Deployment, scope.Neighborhood,
	).Scan(&ref.itemID, &ref.ownerID, &ref.borrowerID, &ref.status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	return ref, nil
}

// setRequestStatus updates a request only if it is still in status from.
// notesColumn, if set, receives notes.
func setRequestStatus(ctx context.Context, tx *sql.Tx, id, from, to, notesColumn, notes string) error {
	query := `UPDATE requests SET status = ?, updated_at = ` + sqlNow
	args := []any{to}
	if notesColumn != "" {
		query += `, ` + notesColumn + ` = ?`
		args = append(args, nullIfEmpty(notes))
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating request status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: request %s is no longer %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// setItemStatus updates an item only if it is still in status from. If it is
// not, the returned error wraps conflict.
func setItemStatus(ctx context.Context, tx *sql.Tx, id, from, to string, conflict error) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = `+sqlNow+` WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("updating item status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: item %s is no longer %s", conflict, id, from)
	}
	return nil
}
