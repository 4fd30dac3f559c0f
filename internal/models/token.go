package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RefreshToken is a persisted refresh session. Only the SHA-256 digest of the token the client
// holds is stored. Every rotation stays in the family of the login that started it.
type RefreshToken struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	FamilyID  string     `db:"family_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	IPAddress string     `db:"ip_address"`
	UserAgent string     `db:"user_agent"`
}

// Usable reports whether the token can still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// HashRefreshToken returns the digest under which a raw refresh token is stored.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
