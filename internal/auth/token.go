package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AccessTokenBytes is the entropy of a quote access token (256 bits).
const AccessTokenBytes = 32

// StaffClaims is the payload of a signed staff bearer token.
type StaffClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// NewAccessToken generates the capability credential embedded in public
// quote links.
func NewAccessToken() (string, error) {
	buf := make([]byte, AccessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Preview returns a log-safe prefix of a token.
func Preview(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

func IssueStaffToken(secret []byte, claims StaffClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

func ParseStaffToken(secret []byte, token string, now time.Time) (StaffClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return StaffClaims{}, ErrInvalidToken
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return StaffClaims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return StaffClaims{}, ErrInvalidToken
	}

	var claims StaffClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return StaffClaims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Role == "" || claims.Exp == 0 {
		return StaffClaims{}, ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return StaffClaims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashToken is used to key stored portal sessions so raw bearer values never
// reach the session store.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
