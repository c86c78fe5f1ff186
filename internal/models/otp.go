package models

import (
	"encoding/json"
	"time"
)

// OTPPurpose separates independent verification channels on one account.
type OTPPurpose string

const (
	OTPPurposeRegistration   OTPPurpose = "REGISTRATION"
	OTPPurposePasswordChange OTPPurpose = "PASSWORD_CHANGE"
	OTPPurposeProfileUpdate  OTPPurpose = "PROFILE_UPDATE"
)

// PendingChallenge is the single outstanding code for (UserID, Purpose),
// together with the change it will apply.
type PendingChallenge struct {
	UserID    string          `db:"user_id"`
	Purpose   OTPPurpose      `db:"purpose"`
	Code      string          `db:"code"`
	Payload   json.RawMessage `db:"payload"`
	ExpiresAt time.Time       `db:"expires_at"`
	CreatedAt time.Time       `db:"created_at"`
}

// PendingProfileUpdate is the staged profile change captured at issuance.
type PendingProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Title     *string `json:"title,omitempty"`
}

// PendingPasswordChange holds the already-hashed new password.
type PendingPasswordChange struct {
	PasswordHash string `json:"password_hash"`
}
