package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token audiences. A bootstrap token can only be exchanged for a session;
// it is never accepted as a session itself.
const (
	AudienceSession   = "session"
	AudienceBootstrap = "bootstrap"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims.
type Claims struct {
	UserID     string `json:"user_id"`
	Deployment string `json:"deployment"`
	jwt.RegisteredClaims
}

// TokenExpiry is the default session token lifetime.
const TokenExpiry = 30 * 24 * time.Hour

// BootstrapExpiry is the default bootstrap token lifetime.
const BootstrapExpiry = 24 * time.Hour

// GenerateToken creates a session JWT for a user with a unique JTI.
func GenerateToken(secret, userID, deployment string) (string, error) {
	return sign(secret, AudienceSession, userID, deployment, TokenExpiry)
}

// GenerateBootstrapToken creates a token the holder can exchange for a
// session as the given user.
func GenerateBootstrapToken(secret, userID, deployment string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = BootstrapExpiry
	}
	return sign(secret, AudienceBootstrap, userID, deployment, ttl)
}

// ValidateToken parses and validates a session JWT, returning the claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	return parse(secret, AudienceSession, tokenStr)
}

// ValidateBootstrapToken parses a bootstrap token and checks that it was
// minted for the given deployment.
func ValidateBootstrapToken(secret, tokenStr, deployment string) (*Claims, error) {
	claims, err := parse(secret, AudienceBootstrap, tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Deployment != deployment {
		return nil, fmt.Errorf("token for deployment %q: %w", claims.Deployment, ErrInvalidToken)
	}
	return claims, nil
}

func sign(secret, audience, userID, deployment string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id required")
	}

	now := time.Now()
	claims := Claims{
		UserID:     userID,
		Deployment: deployment,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func parse(secret, audience, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
