package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Profile is per-user metadata, separate from the identity session.
type Profile struct {
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	Neighborhood  string    `json:"neighborhood"`
	CreatedAt     time.Time `json:"created_at"`
	HasPassphrase bool      `json:"has_passphrase"`
}

// DefaultNeighborhood is assigned to new profiles unless configured otherwise.
const DefaultNeighborhood = "neighborhood-1"

// MinPassphraseLength is the shortest accepted device-link passphrase.
const MinPassphraseLength = 8

// ErrPassphraseTooShort is returned for passphrases below MinPassphraseLength.
var ErrPassphraseTooShort = errors.New("passphrase must be at least 8 characters")

// Scope partitions shared data by deployment and neighborhood.
type Scope struct {
	Deployment   string `json:"deployment"`
	Neighborhood string `json:"neighborhood"`
}

// GeneratedDisplayName derives a display name from a fragment of the user ID.
func GeneratedDisplayName(userID string) string {
	fragment := []rune(strings.ReplaceAll(userID, "-", ""))
	if len(fragment) > 6 {
		fragment = fragment[:6]
	}
	if len(fragment) == 0 {
		return "Neighbor"
	}
	return "Neighbor " + strings.ToUpper(string(fragment))
}

// ValidatePassphrase checks a device-link passphrase.
func ValidatePassphrase(p string) error {
	if utf8.RuneCountInString(p) < MinPassphraseLength {
		return ErrPassphraseTooShort
	}
	return nil
}
