package dto

import (
	"time"

	"github.com/hongminglow/fanzone-auth/internal/models"
)

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Username    string `json:"username" validate:"required,min=3,max=20"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"omitempty,max=64"`
}

// LoginRequest accepts a username or an email as Identifier.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type SetRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type SetSubscriptionRequest struct {
	Tier   string `json:"tier" validate:"required"`
	Status string `json:"status" validate:"required"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Identity models.Identity  `json:"identity"`
	Tokens   models.TokenPair `json:"tokens"`
}

// RefreshResponse carries the reissued access token. RefreshToken is only
// different from the presented one when rotation is enabled.
type RefreshResponse struct {
	AccessToken     string          `json:"access_token"`
	AccessExpiresAt time.Time       `json:"access_expires_at"`
	RefreshToken    string          `json:"refresh_token"`
	Identity        models.Identity `json:"identity"`
}

// LogoutRequest lets a client whose access token has lapsed still revoke by refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MeResponse describes the caller and what it may do.
type MeResponse struct {
	Identity      models.Identity `json:"identity"`
	EffectiveTier string          `json:"effective_tier"`
	Permissions   []string        `json:"permissions"`
	Gates         Gates           `json:"gates"`
}

type Gates struct {
	PremiumContent bool `json:"premium_content"`
	VIPContent     bool `json:"vip_content"`
	Moderate       bool `json:"moderate"`
}
