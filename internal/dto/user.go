package dto

import "github.com/noah-isme/archivia-api/internal/models"

// UpdateProfileRequest stages a profile change behind an OTP.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Title     *string `json:"title" validate:"omitempty,max=100"`
}

// Empty reports whether the request changes nothing.
func (r UpdateProfileRequest) Empty() bool {
	return r.FirstName == nil && r.LastName == nil && r.Title == nil
}

// CreateUserRequest is used by admins and advisers to provision accounts.
// Provisioned accounts are verified and active.
type CreateUserRequest struct {
	FirstName string      `json:"first_name" validate:"required,max=100"`
	LastName  string      `json:"last_name" validate:"required,max=100"`
	Email     string      `json:"email" validate:"required,email"`
	Password  string      `json:"password" validate:"required,password"`
	Title     *string     `json:"title" validate:"omitempty,max=100"`
	Role      models.Role `json:"role" validate:"omitempty,oneof=student adviser admin super_admin"`
	GroupID   *string     `json:"group_id" validate:"omitempty,uuid"`
}

// UpdateUserRequest changes another account's attributes.
type UpdateUserRequest struct {
	FirstName *string      `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string      `json:"last_name" validate:"omitempty,min=1,max=100"`
	Title     *string      `json:"title" validate:"omitempty,max=100"`
	Role      *models.Role `json:"role" validate:"omitempty,oneof=student adviser admin super_admin"`
	GroupID   *string      `json:"group_id" validate:"omitempty,uuid"`
}

// UserQuery mirrors the user list query string.
type UserQuery struct {
	Search           string `form:"search"`
	Role             string `form:"role" validate:"omitempty,oneof=student adviser admin super_admin"`
	Active           *bool  `form:"active"`
	ArchiveRequested *bool  `form:"archive_requested"`
	Page             int    `form:"page" validate:"omitempty,min=1"`
	PageSize         int    `form:"page_size" validate:"omitempty,min=1,max=100"`
	SortBy           string `form:"sort_by" validate:"omitempty,oneof=created_at email last_name"`
	SortOrder        string `form:"sort_order" validate:"omitempty,oneof=asc desc"`
}

// Filter converts the query into a repository filter.
func (q UserQuery) Filter() models.UserFilter {
	f := models.UserFilter{
		Search:           q.Search,
		Active:           q.Active,
		ArchiveRequested: q.ArchiveRequested,
		Page:             q.Page,
		PageSize:         q.PageSize,
		SortBy:           q.SortBy,
		SortOrder:        q.SortOrder,
	}
	if r, ok := models.ParseRole(q.Role); ok {
		f.Role = &r
	}
	return f
}
