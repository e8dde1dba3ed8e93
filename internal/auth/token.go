package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// InviteClaims is the signed payload carried in an invite link fragment.
type InviteClaims struct {
	InviteID string `json:"inv"`
	GroupID  string `json:"grp"`
	Secret   string `json:"sec"`
	Exp      int64  `json:"exp"`
}

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("expired token")
	ErrSecretMismatch = errors.New("invite secret mismatch")
)

func IssueInviteToken(secret []byte, claims InviteClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal invite claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

func ParseInviteToken(secret []byte, token string, now time.Time) (InviteClaims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 {
		return InviteClaims{}, ErrInvalidToken
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return InviteClaims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return InviteClaims{}, ErrInvalidToken
	}

	var claims InviteClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return InviteClaims{}, ErrInvalidToken
	}
	if claims.InviteID == "" || claims.GroupID == "" || claims.Secret == "" || claims.Exp == 0 {
		return InviteClaims{}, ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return InviteClaims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashSecret bcrypt-hashes an invite secret for storage.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash invite secret: %w", err)
	}
	return string(hashed), nil
}

func CompareSecret(hash, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrSecretMismatch
	}
	return nil
}
