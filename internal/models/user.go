package models

import "time"

// User represents an account stored in the users table.
type User struct {
	ID                   string     `db:"id" json:"id"`
	FirstName            string     `db:"first_name" json:"first_name"`
	LastName             string     `db:"last_name" json:"last_name"`
	Email                string     `db:"email" json:"email"`
	PasswordHash         *string    `db:"password_hash" json:"-"`
	Title                *string    `db:"title" json:"title,omitempty"`
	IsAdmin              bool       `db:"is_admin" json:"is_admin"`
	IsSuperAdmin         bool       `db:"is_super_admin" json:"is_super_admin"`
	IsAdviser            bool       `db:"is_adviser" json:"is_adviser"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	IsVerified           bool       `db:"is_verified" json:"is_verified"`
	GroupID              *string    `db:"group_id" json:"group_id,omitempty"`
	ArchiveRequested     bool       `db:"archive_requested" json:"archive_requested"`
	ArchiveReason        *string    `db:"archive_reason" json:"archive_reason,omitempty"`
	ResetPasswordToken   *string    `db:"reset_password_token" json:"-"`
	ResetPasswordExpires *time.Time `db:"reset_password_expires" json:"-"`
	LastLogin            *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// Role derives the account role from its flags.
func (u *User) Role() Role {
	return RoleFromFlags(u.IsSuperAdmin, u.IsAdmin, u.IsAdviser)
}

// HasPassword reports whether a local password has been set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Search           string
	Role             *Role
	Active           *bool
	ArchiveRequested *bool
	GroupIDs         []string
	Page             int
	PageSize         int
	SortBy           string
	SortOrder        string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// UserInfo is the public projection of a user.
type UserInfo struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name"`
	Title            *string `json:"title,omitempty"`
	Role             Role    `json:"role"`
	IsAdmin          bool    `json:"is_admin"`
	IsSuperAdmin     bool    `json:"is_super_admin"`
	IsAdviser        bool    `json:"is_adviser"`
	IsActive         bool    `json:"is_active"`
	IsVerified       bool    `json:"is_verified"`
	HasPassword      bool    `json:"has_password"`
	GroupID          *string `json:"group_id,omitempty"`
	ArchiveRequested bool    `json:"archive_requested"`
}

// Info projects u into a UserInfo.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Title:            u.Title,
		Role:             u.Role(),
		IsAdmin:          u.IsAdmin,
		IsSuperAdmin:     u.IsSuperAdmin,
		IsAdviser:        u.IsAdviser,
		IsActive:         u.IsActive,
		IsVerified:       u.IsVerified,
		HasPassword:      u.HasPassword(),
		GroupID:          u.GroupID,
		ArchiveRequested: u.ArchiveRequested,
	}
}

// Group is a cohort of students managed by an adviser.
type Group struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	AdviserID string    `db:"adviser_id" json:"adviser_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
