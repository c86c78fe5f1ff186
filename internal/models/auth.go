package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest creates a local account.
type RegisterRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,password"`
}

// VerifyEmailRequest submits the registration code.
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// EmailRequest carries only an address (resend verification, forgot password).
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	User        UserInfo `json:"user"`
}

// ResetPasswordRequest completes the forgot-password flow.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,password"`
}

// ChangePasswordRequest stages a new password pending OTP confirmation.
// CurrentPassword may be empty for accounts without a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required,password"`
}

// ConfirmCodeRequest confirms a staged change with its OTP.
type ConfirmCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	IsAdviser    bool   `json:"is_adviser"`
	IsActive     bool   `json:"is_active"`
	Role         Role   `json:"role"`
	jwt.RegisteredClaims
}

// EffectiveRole re-derives the role from the flags so a tampered or stale
// role field cannot widen access.
func (c *JWTClaims) EffectiveRole() Role {
	return RoleFromFlags(c.IsSuperAdmin, c.IsAdmin, c.IsAdviser)
}
