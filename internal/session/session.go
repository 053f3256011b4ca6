// Package session establishes user identity and carries it through a request.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/posodi/internal/auth"
	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/store"
)

// ErrInvalidCredentials is returned when a passphrase restore fails.
var ErrInvalidCredentials = errors.New("invalid user id or passphrase")

// Context is the identity of the caller of one request. It is built once per
// request and passed down explicitly.
type Context struct {
	UserID     string
	Deployment string
	TokenID    string
	ExpiresAt  time.Time
	Profile    *model.Profile
}

// Scope returns the partition the caller's shared data lives in.
func (c *Context) Scope() model.Scope {
	return model.Scope{Deployment: c.Deployment, Neighborhood: c.Profile.Neighborhood}
}

// Started is the outcome of a successful sign-in.
type Started struct {
	Token   string
	Session *Context
	// Created reports whether the profile was created by this sign-in.
	Created bool
}

// Manager issues and resolves sessions for one deployment.
type Manager struct {
	DB                  *sql.DB
	Secret              string
	Deployment          string
	DefaultNeighborhood string
	Hub                 *feed.Hub
}

// Bootstrap signs a user in. With an empty bootstrap token a new anonymous
// identity is created; otherwise the token names the user. The user's profile
// is created on first sign-in.
func (m *Manager) Bootstrap(ctx context.Context, bootstrapToken string) (*Started, error) {
	userID := uuid.NewString()
	if bootstrapToken != "" {
		claims, err := auth.ValidateBootstrapToken(m.Secret, bootstrapToken, m.Deployment)
		if err != nil {
			slog.Warn("bootstrap token rejected", "error", err)
			return nil, auth.ErrInvalidToken
		}
		userID = claims.UserID
	}
	return m.start(ctx, userID)
}

// Restore signs in an existing user who has set a passphrase.
func (m *Manager) Restore(ctx context.Context, userID, passphrase string) (*Started, error) {
	if userID == "" || passphrase == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := store.GetPassphraseHash(ctx, m.DB, m.Deployment, userID)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)); err != nil {
		slog.Warn("passphrase restore failed", "user", userID)
		return nil, ErrInvalidCredentials
	}

	return m.start(ctx, userID)
}

func (m *Manager) start(ctx context.Context, userID string) (*Started, error) {
	neighborhood := m.DefaultNeighborhood
	if neighborhood == "" {
		neighborhood = model.DefaultNeighborhood
	}

	profile, created, err := store.EnsureProfile(ctx, m.DB, m.Deployment, userID, neighborhood)
	if err != nil {
		return nil, fmt.Errorf("ensuring profile: %w", err)
	}

	token, err := auth.GenerateToken(m.Secret, userID, m.Deployment)
	if err != nil {
		return nil, err
	}
	claims, err := auth.ValidateToken(m.Secret, token)
	if err != nil {
		return nil, fmt.Errorf("reading issued token: %w", err)
	}

	sc := &Context{
		UserID:     userID,
		Deployment: m.Deployment,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
		Profile:    profile,
	}

	if created {
		slog.Info("profile created", "user", userID, "name", profile.DisplayName, "neighborhood", profile.Neighborhood)
	}
	m.publish(userID, claims.ID, feed.KindSessionStarted)

	return &Started{Token: token, Session: sc, Created: created}, nil
}

// Resolve validates a session token and loads the caller's profile.
func (m *Manager) Resolve(ctx context.Context, token string) (*Context, error) {
	claims, err := auth.ValidateToken(m.Secret, token)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	if claims.Deployment != m.Deployment {
		return nil, fmt.Errorf("token for deployment %q: %w", claims.Deployment, auth.ErrInvalidToken)
	}

	revoked, err := store.IsTokenRevoked(ctx, m.DB, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("token revoked: %w", auth.ErrInvalidToken)
	}

	profile, err := store.GetProfile(ctx, m.DB, m.Deployment, claims.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("no profile for %s: %w", claims.UserID, auth.ErrInvalidToken)
	}

	return &Context{
		UserID:     claims.UserID,
		Deployment: claims.Deployment,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
		Profile:    profile,
	}, nil
}

// SignOut revokes the session token and tells the user's live feeds to close.
func (m *Manager) SignOut(ctx context.Context, sc *Context) error {
	if err := store.RevokeToken(ctx, m.DB, sc.TokenID, sc.ExpiresAt); err != nil {
		return err
	}
	m.publish(sc.UserID, sc.TokenID, feed.KindSessionEnded)
	return nil
}

// SetPassphrase lets the user restore this identity on another device.
func (m *Manager) SetPassphrase(ctx context.Context, sc *Context, passphrase string) error {
	if err := model.ValidatePassphrase(passphrase); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing passphrase: %w", err)
	}

	if err := store.SetPassphraseHash(ctx, m.DB, m.Deployment, sc.UserID, string(hash)); err != nil {
		return err
	}
	sc.Profile.HasPassphrase = true
	return nil
}

func (m *Manager) publish(userID, tokenID, kind string) {
	if m.Hub == nil {
		return
	}
	m.Hub.Publish(feed.UserTopic(m.Deployment, userID), feed.Event{Kind: kind, ID: tokenID, Actor: userID})
}
