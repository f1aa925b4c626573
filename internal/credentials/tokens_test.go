package credentials

import (
	"encoding/base64"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

func testUser() *models.User {
	return &models.User{
		ID:       primitive.NewObjectID(),
		Username: "april",
		Email:    "april@example.com",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
}

func TestIssueAndValidate(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "collection-viewer", "collection-viewer")
	user := testUser()

	token, expires, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	ttl := time.Until(expires)
	if ttl < 14*time.Minute || ttl > 16*time.Minute {
		t.Errorf("Expected a 15-minute lifetime, got %v", ttl)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != user.ID.Hex() {
		t.Errorf("Expected userId %s, got %s", user.ID.Hex(), claims.UserID)
	}
	if claims.Username != "april" || claims.Email != "april@example.com" || claims.Role != models.RoleAdmin {
		t.Errorf("Unexpected identity claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Error("Expected a jti on every token")
	}
	if claims.IssuedAt == nil || claims.IssuedAt.After(time.Now().Add(time.Second)) {
		t.Errorf("Unexpected iat: %v", claims.IssuedAt)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "collection-viewer", "collection-viewer")
	other := NewTokenIssuer([]byte("different"), "collection-viewer", "collection-viewer")

	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := other.Validate(token); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("Expected a validation error for a wrong key, got %v", err)
	}
}

func TestValidateRejectsWrongIssuerOrAudience(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "collection-viewer", "collection-viewer")
	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrongIssuer := NewTokenIssuer([]byte("test-secret"), "someone-else", "collection-viewer")
	if _, err := wrongIssuer.Validate(token); err == nil {
		t.Error("Expected an issuer mismatch to fail")
	}
	wrongAudience := NewTokenIssuer([]byte("test-secret"), "collection-viewer", "someone-else")
	if _, err := wrongAudience.Validate(token); err == nil {
		t.Error("Expected an audience mismatch to fail")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "collection-viewer", "collection-viewer")

	past := time.Now().UTC().Add(-time.Hour)
	claims := Claims{
		UserID: primitive.NewObjectID().Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "stale",
			Issuer:    "collection-viewer",
			Audience:  jwt.ClaimStrings{"collection-viewer"},
			IssuedAt:  jwt.NewNumericDate(past.Add(-AccessTokenLifetime)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Signing failed: %v", err)
	}

	if _, err := issuer.Validate(token); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("Expected an expired token to fail validation, got %v", err)
	}
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "collection-viewer", "collection-viewer")

	claims := Claims{
		UserID: primitive.NewObjectID().Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "collection-viewer",
			Audience:  jwt.ClaimStrings{"collection-viewer"},
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Signing failed: %v", err)
	}

	if _, err := issuer.Validate(token); err == nil {
		t.Fatal("Expected a non-HS256 token to be rejected")
	}
}

func TestNewRefreshToken(t *testing.T) {
	userID := primitive.NewObjectID()
	token, err := NewRefreshToken(userID)
	if err != nil {
		t.Fatalf("NewRefreshToken failed: %v", err)
	}

	if token.UserID != userID {
		t.Errorf("Expected userId %s, got %s", userID.Hex(), token.UserID.Hex())
	}
	raw, err := base64.RawURLEncoding.DecodeString(token.Token)
	if err != nil {
		t.Fatalf("Expected base64url token material: %v", err)
	}
	if len(raw) != refreshTokenBytes {
		t.Errorf("Expected %d random bytes, got %d", refreshTokenBytes, len(raw))
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl < 7*24*time.Hour-time.Minute || ttl > 7*24*time.Hour+time.Minute {
		t.Errorf("Expected a 7-day expiry, got %v", ttl)
	}
	if !token.Valid(time.Now()) {
		t.Error("Expected a fresh token to validate")
	}

	other, err := NewRefreshToken(userID)
	if err != nil {
		t.Fatalf("NewRefreshToken failed: %v", err)
	}
	if other.Token == token.Token {
		t.Error("Expected token material to differ per mint")
	}
}
