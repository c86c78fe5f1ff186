package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/middleware"
	"github.com/noah-isme/archivia-api/internal/service"
	appErrors "github.com/noah-isme/archivia-api/pkg/errors"
	"github.com/noah-isme/archivia-api/pkg/response"
)

// currentActor returns the authenticated caller or writes 401.
func currentActor(c *gin.Context) (service.Actor, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.ActorFromClaims(claims), true
}

// optionalActor returns the caller on routes that also serve anonymous users.
func optionalActor(c *gin.Context) *service.Actor {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	actor := service.ActorFromClaims(claims)
	return &actor
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return false
	}
	return true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, size
}
