package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/posodi/internal/model"
)

// GetProfile returns the profile of a user, or nil if none exists yet.
func GetProfile(ctx context.Context, db *sql.DB, deployment, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	var hash sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT user_id, display_name, neighborhood, created_at, passphrase_hash
		 FROM profiles WHERE deployment = ? AND user_id = ?`, deployment, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Neighborhood, &p.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	p.HasPassphrase = hash.String != ""
	return p, nil
}

// EnsureProfile returns the user's profile, creating it with a generated
// display name and the given neighborhood if absent. An existing profile is
// returned unchanged. Reports whether the profile was created by this call.
func EnsureProfile(ctx context.Context, db *sql.DB, deployment, userID, neighborhood string) (*model.Profile, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user id required")
	}

	// INSERT OR IGNORE + re-SELECT keeps concurrent first sign-ins from racing.
	result, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (deployment, user_id, display_name, neighborhood)
		 VALUES (?, ?, ?, ?)`,
		deployment, userID, model.GeneratedDisplayName(userID), neighborhood,
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking profile insert: %w", err)
	}

	p, err := GetProfile(ctx, db, deployment, userID)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("profile %s vanished after insert", userID)
	}
	return p, n == 1, nil
}

// SetPassphraseHash stores the bcrypt hash used to restore a session on
// another device.
func SetPassphraseHash(ctx context.Context, db *sql.DB, deployment, userID, hash string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE profiles SET passphrase_hash = ? WHERE deployment = ? AND user_id = ?`,
		hash, deployment, userID,
	)
	if err != nil {
		return fmt.Errorf("setting passphrase: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPassphraseHash returns the stored passphrase hash, or "" if none is set.
func GetPassphraseHash(ctx context.Context, db *sql.DB, deployment, userID string) (string, error) {
	var hash sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT passphrase_hash FROM profiles WHERE deployment = ? AND user_id = ?`,
		deployment, userID,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting passphrase: %w", err)
	}
	return hash.String, nil
}
