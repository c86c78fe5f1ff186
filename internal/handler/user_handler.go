package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/service"
	"github.com/noah-isme/archivia-api/pkg/response"
)

type userService interface {
	Profile(ctx context.Context, userID string) (*models.UserInfo, error)
	RequestProfileUpdate(ctx context.Context, userID string, req dto.UpdateProfileRequest) (time.Time, error)
	ConfirmProfileUpdate(ctx context.Context, userID string, req models.ConfirmCodeRequest) (*models.UserInfo, error)
	RequestAccountArchive(ctx context.Context, actor service.Actor, req dto.ReasonRequest) error
	List(ctx context.Context, actor service.Actor, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error)
	Get(ctx context.Context, actor service.Actor, id string) (*models.UserInfo, error)
	Create(ctx context.Context, actor service.Actor, req dto.CreateUserRequest) (*models.UserInfo, error)
	Update(ctx context.Context, actor service.Actor, id string, req dto.UpdateUserRequest) (*models.UserInfo, error)
	SetActive(ctx context.Context, actor service.Actor, id string, active bool) error
	ResolveArchiveRequest(ctx context.Context, actor service.Actor, id string, approve bool) error
	Delete(ctx context.Context, actor service.Actor, id string) error
}

// UserHandler serves profile self-service and user management.
type UserHandler struct {
	service userService
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Me godoc
// @Summary Own profile
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	user, err := h.service.Profile(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// UpdateMe godoc
// @Summary Stage a profile update
// @Description Emails a confirmation code; changes apply after confirmation
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.UpdateProfileRequest true "Profile changes"
// @Success 202 {object} response.Envelope
// @Router /users/me [patch]
func (h *UserHandler) UpdateMe(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.UpdateProfileRequest
	if !bindJSON(c, &req, "invalid profile payload") {
		return
	}
	expires, err := h.service.RequestProfileUpdate(c.Request.Context(), actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"code_expires_at": expires}, nil)
}

// ConfirmUpdate godoc
// @Summary Confirm a staged profile update
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body models.ConfirmCodeRequest true "Confirmation code"
// @Success 200 {object} response.Envelope
// @Router /users/me/confirm-update [post]
func (h *UserHandler) ConfirmUpdate(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req models.ConfirmCodeRequest
	if !bindJSON(c, &req, "invalid confirmation payload") {
		return
	}
	user, err := h.service.ConfirmProfileUpdate(c.Request.Context(), actor.ID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// RequestArchive godoc
// @Summary Ask for the own account to be archived
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.ReasonRequest true "Reason"
// @Success 202 {object} response.Envelope
// @Router /users/me/archive-request [post]
func (h *UserHandler) RequestArchive(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !bindJSON(c, &req, "invalid archive request") {
		return
	}
	if err := h.service.RequestAccountArchive(c.Request.Context(), actor, req); err != nil {
		response.Error(c, err)
		return
	}
	response.Message(c, http.StatusAccepted, "archive request submitted")
}

// List godoc
// @Summary List users
// @Description Advisers only see students in the groups they advise
// @Tags Users
// @Produce json
// @Param search query string false "Name or email"
// @Param role query string false "student|adviser|admin|super_admin"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var query dto.UserQuery
	if !bindQuery(c, &query) {
		return
	}
	users, pagination, err := h.service.List(c.Request.Context(), actor, query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get a user
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Provision a user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.CreateUserRequest true "User"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.CreateUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}

// Update godoc
// @Summary Update a user
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.UpdateUserRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /users/{id} [patch]
func (h *UserHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.UpdateUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}

// Activate godoc
// @Summary Reactivate a user
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id}/activate [post]
func (h *UserHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate godoc
// @Summary Deactivate a user
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id}/deactivate [post]
func (h *UserHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *UserHandler) setActive(c *gin.Context, active bool) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.service.SetActive(c.Request.Context(), actor, c.Param("id"), active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ApproveArchive godoc
// @Summary Approve an account archive request
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id}/archive/approve [post]
func (h *UserHandler) ApproveArchive(c *gin.Context) {
	h.resolveArchive(c, true)
}

// RejectArchive godoc
// @Summary Reject an account archive request
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id}/archive/reject [post]
func (h *UserHandler) RejectArchive(c *gin.Context) {
	h.resolveArchive(c, false)
}

func (h *UserHandler) resolveArchive(c *gin.Context, approve bool) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.service.ResolveArchiveRequest(c.Request.Context(), actor, c.Param("id"), approve); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Permanently delete a user
// @Tags Users
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
