// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrInvalidLength   = errors.New("invalid code length")
)

// inviteAlphabet is the character set for invite codes (62 symbols)
const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns a random UUID string for entity primary keys
func NewID() string {
	return uuid.NewString()
}

// GenerateInviteCode draws length characters uniformly from the invite
// alphabet using crypto/rand. Uniqueness is not guaranteed here; the
// election_invite.code unique index is authoritative.
func GenerateInviteCode(length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}

	max := big.NewInt(int64(len(inviteAlphabet)))
	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate invite code: %w", err)
		}
		sb.WriteByte(inviteAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// GenerateAdminKey creates an HMAC-based admin key for an election
// This is deterministic and verifiable
func GenerateAdminKey(electionID, salt string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(electionID))
	sum := h.Sum(nil)
	// Use URL-safe base64 and trim padding for cleaner keys
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum), "=")
}

// ValidateAdminKey checks if the provided admin key is valid for the election
func ValidateAdminKey(electionID, adminKey, salt string) error {
	expected := GenerateAdminKey(electionID, salt)
	if !hmac.Equal([]byte(adminKey), []byte(expected)) {
		return ErrInvalidAdminKey
	}
	return nil
}
