package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/dto"
	"github.com/noah-isme/archivia-api/internal/models"
	"github.com/noah-isme/archivia-api/internal/service"
	"github.com/noah-isme/archivia-api/pkg/response"
)

type settingsService interface {
	List(ctx context.Context) ([]models.SystemSetting, error)
	Update(ctx context.Context, actor service.Actor, key string, req models.UpdateSettingRequest) (*models.SystemSetting, error)
	BulkUpdate(ctx context.Context, actor service.Actor, req dto.BulkUpdateSettingsRequest) ([]models.SystemSetting, error)
}

// SettingsHandler serves site branding settings.
type SettingsHandler struct {
	settings settingsService
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(settings settingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// List godoc
// @Summary Branding settings
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /settings [get]
func (h *SettingsHandler) List(c *gin.Context) {
	items, err := h.settings.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Update godoc
// @Summary Change one setting
// @Tags Settings
// @Accept json
// @Produce json
// @Param key path string true "Setting key"
// @Param payload body models.UpdateSettingRequest true "Value"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /settings/{key} [put]
func (h *SettingsHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req models.UpdateSettingRequest
	if !bindJSON(c, &req, "invalid setting payload") {
		return
	}
	item, err := h.settings.Update(c.Request.Context(), actor, c.Param("key"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// BulkUpdate godoc
// @Summary Change several settings atomically
// @Tags Settings
// @Accept json
// @Produce json
// @Param payload body dto.BulkUpdateSettingsRequest true "Items"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /settings [put]
func (h *SettingsHandler) BulkUpdate(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req dto.BulkUpdateSettingsRequest
	if !bindJSON(c, &req, "invalid settings payload") {
		return
	}
	items, err := h.settings.BulkUpdate(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
