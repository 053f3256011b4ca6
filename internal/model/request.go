package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Request is a borrower's ask to use an item for a date range.
type Request struct {
	ID            string    `json:"id"`
	ItemID        string    `json:"item_id"`
	ItemName      string    `json:"item_name"`
	ItemImage     string    `json:"item_image,omitempty"`
	OwnerID       string    `json:"owner_id"`
	BorrowerID    string    `json:"borrower_id"`
	BorrowerName  string    `json:"borrower_name"`
	BorrowDate    string    `json:"borrow_date"`
	ReturnDate    string    `json:"return_date"`
	Message       string    `json:"message,omitempty"`
	Status        string    `json:"status"`
	CheckoutNotes string    `json:"checkout_notes,omitempty"`
	CheckinNotes  string    `json:"checkin_notes,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Request statuses.
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusDeclined = "declined"
	RequestStatusReturned = "returned"
)

// DateLayout is the wire and storage format of borrow and return dates.
const DateLayout = "2006-01-02"

// NewRequest holds the fields supplied when asking to borrow an item.
type NewRequest struct {
	ItemID     string
	BorrowDate string
	ReturnDate string
	Message    string
}

// Date validation errors.
var (
	ErrInvalidDate        = errors.New("dates must use the YYYY-MM-DD format")
	ErrReturnBeforeBorrow = errors.New("return date must not be before borrow date")
)

// transitions lists the allowed forward moves of a request. Declined and
// returned are terminal.
var transitions = map[string][]string{
	RequestStatusPending:  {RequestStatusApproved, RequestStatusDeclined},
	RequestStatusApproved: {RequestStatusReturned},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to string) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no further transition is possible from status.
func Terminal(status string) bool {
	return len(transitions[status]) == 0
}

// Today returns the current date in DateLayout.
func Today() string {
	return time.Now().Format(DateLayout)
}

// ValidateLoanDates checks that both dates parse and the return date is not
// before the borrow date.
func ValidateLoanDates(borrow, ret string) error {
	from, err := time.Parse(DateLayout, strings.TrimSpace(borrow))
	if err != nil {
		return fmt.Errorf("borrow date %q: %w", borrow, ErrInvalidDate)
	}
	to, err := time.Parse(DateLayout, strings.TrimSpace(ret))
	if err != nil {
		return fmt.Errorf("return date %q: %w", ret, ErrInvalidDate)
	}
	if to.Before(from) {
		return ErrReturnBeforeBorrow
	}
	return nil
}

// statusRank orders requests in the borrow-history view.
var statusRank = map[string]int{
	RequestStatusApproved: 0,
	RequestStatusPending:  1,
	RequestStatusReturned: 2,
	RequestStatusDeclined: 3,
}

func rank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return len(statusRank)
}

// SortBorrowHistory orders requests by status precedence (approved, pending,
// returned, declined) and, within a status, newest first.
func SortBorrowHistory(reqs []Request) {
	slices.SortStableFunc(reqs, func(a, b Request) int {
		if ra, rb := rank(a.Status), rank(b.Status); ra != rb {
			return ra - rb
		}
		return b.RequestedAt.Compare(a.RequestedAt)
	})
}
