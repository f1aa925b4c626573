package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AccessTokenLifetime is how long a signed access token verifies.
	AccessTokenLifetime = 15 * time.Minute
	// RefreshTokenLifetime is how long a stored refresh token stays usable.
	RefreshTokenLifetime = 7 * 24 * time.Hour

	refreshTokenBytes = 32
)

// Claims is the access token payload.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HMAC-SHA256 access tokens bound to one
// issuer/audience pair.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenIssuer builds an issuer around a shared HMAC key.
func NewTokenIssuer(secret []byte, issuer, audience string) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, audience: audience}
}

// Issue signs an access token for the user and returns it with its expiry.
// Every token carries a fresh jti so revocation lists can name individual
// tokens.
func (t *TokenIssuer) Issue(user *models.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(AccessTokenLifetime)
	claims := Claims{
		UserID:   user.ID.Hex(),
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses and verifies an access token: HS256 only, matching
// issuer and audience, expiry required, zero clock leeway (the parser
// default).
func (t *TokenIssuer) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, errs.Validationf("invalid access token: %v", err)
	}
	if !parsed.Valid {
		return nil, errs.Validationf("invalid access token")
	}
	return claims, nil
}

// NewRefreshToken mints an opaque refresh credential for the user. The
// caller persists it; the refresh_tokens TTL index ages it out.
func NewRefreshToken(userID primitive.ObjectID) (*models.RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("refresh token entropy: %w", err)
	}
	now := time.Now().UTC()
	return &models.RefreshToken{
		UserID:    userID,
		Token:     base64.RawURLEncoding.EncodeToString(buf),
		ExpiresAt: now.Add(RefreshTokenLifetime),
		CreatedAt: now,
	}, nil
}
