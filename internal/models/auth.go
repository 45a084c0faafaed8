package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds sign-in credentials. IP and UserAgent are filled by the
// handler for the audit trail.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse carries the bearer token used by the web client and evidence-cli.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	User        UserInfo  `json:"user"`
}

// UserInfo is the public view of an account.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// JWTClaims is the access token payload.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// MayActFor reports whether the token holder can read or change records
// owned by ownerID. Staff roles reach every claim.
func (c *JWTClaims) MayActFor(ownerID string) bool {
	if c == nil || c.UserID == "" {
		return false
	}
	return c.Role.CanAccessAll() || (ownerID != "" && ownerID == c.UserID)
}
