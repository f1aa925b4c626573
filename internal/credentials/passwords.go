// Package credentials covers password hashing, strength scoring, and the
// access/refresh token pair the HTTP layer hands out.
package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"collection-viewer/internal/errs"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 12

	// MinPasswordLength and MaxPasswordLength bound accepted passwords.
	// The upper bound also keeps input under bcrypt's 72-byte truncation
	// from silently equating long passwords.
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// weakSubstrings each cost 10 strength points when present.
var weakSubstrings = []string{"123", "abc", "qwe", "asd", "zxc", "password", "admin", "user", "test"}

// ValidatePassword enforces the length bounds shared by hashing and the
// account endpoints.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errs.Validationf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return errs.Validationf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// HashPassword validates length and returns a bcrypt hash at cost 12.
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// StrengthScore rates a password 0-100: four points per character up to
// forty, fifteen per character class present, minus five per repeated or
// ascending-letter triple and ten per weak substring.
func StrengthScore(password string) int {
	if password == "" {
		return 0
	}

	score := len(password) * 4
	if score > 40 {
		score = 40
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	for _, present := range []bool{lower, upper, digit, special} {
		if present {
			score += 15
		}
	}

	raw := []rune(password)
	for i := 0; i+2 < len(raw); i++ {
		if raw[i] == raw[i+1] && raw[i] == raw[i+2] {
			score -= 5
		}
	}

	lowered := []rune(strings.ToLower(password))
	for i := 0; i+2 < len(lowered); i++ {
		if lowered[i] >= 'a' && lowered[i] <= 'x' &&
			lowered[i+1] == lowered[i]+1 && lowered[i+2] == lowered[i]+2 {
			score -= 5
		}
	}

	loweredStr := string(lowered)
	for _, weak := range weakSubstrings {
		if strings.Contains(loweredStr, weak) {
			score -= 10
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_=+"

// Generate returns n crypto-random characters from a mixed alphabet.
// Non-positive n falls back to 16.
func Generate(n int) (string, error) {
	if n <= 0 {
		n = 16
	}
	out := make([]byte, n)
	alphabetLen := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("password entropy: %w", err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
