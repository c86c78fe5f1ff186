package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/archivia-api/internal/middleware"
	"github.com/noah-isme/archivia-api/internal/models"
)

// Handlers groups the HTTP handlers mounted under the API prefix.
type Handlers struct {
	Auth      *AuthHandler
	Users     *UserHandler
	Documents *DocumentHandler
	Analytics *AnalyticsHandler
	Settings  *SettingsHandler
}

// Guards are the middleware the route table composes.
type Guards struct {
	Auth         gin.HandlerFunc
	OptionalAuth gin.HandlerFunc
	ExportAudit  gin.HandlerFunc
}

// RegisterRoutes mounts the API on rg.
func RegisterRoutes(rg *gin.RouterGroup, h Handlers, g Guards) {
	if g.OptionalAuth == nil {
		g.OptionalAuth = func(c *gin.Context) { c.Next() }
	}
	if g.ExportAudit == nil {
		g.ExportAudit = func(c *gin.Context) { c.Next() }
	}

	auth := rg.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/verify", h.Auth.VerifyEmail)
	auth.POST("/resend-verification", h.Auth.ResendVerification)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)
	auth.GET("/me", g.Auth, h.Auth.Me)
	auth.POST("/change-password/request", g.Auth, h.Auth.RequestPasswordChange)
	auth.POST("/change-password/confirm", g.Auth, h.Auth.ConfirmPasswordChange)

	users := rg.Group("/users", g.Auth)
	users.GET("/me", h.Users.Me)
	users.PATCH("/me", h.Users.UpdateMe)
	users.POST("/me/confirm-update", h.Users.ConfirmUpdate)
	users.POST("/me/archive-request", h.Users.RequestArchive)

	manage := users.Group("", middleware.Require(middleware.CanManageUsers))
	manage.GET("", h.Users.List)
	manage.POST("", h.Users.Create)
	manage.GET("/:id", h.Users.Get)
	manage.PATCH("/:id", h.Users.Update)
	manage.POST("/:id/activate", h.Users.Activate)
	manage.POST("/:id/deactivate", h.Users.Deactivate)

	super := users.Group("", middleware.Require(middleware.CanDecideRequests))
	super.POST("/:id/archive/approve", h.Users.ApproveArchive)
	super.POST("/:id/archive/reject", h.Users.RejectArchive)
	super.DELETE("/:id", h.Users.Delete)

	docs := rg.Group("/documents")
	docs.GET("", g.OptionalAuth, h.Documents.Search)
	docs.GET("/mine", g.Auth, h.Documents.Mine)
	docs.GET("/:id", g.OptionalAuth, h.Documents.Get)
	docs.POST("/upload", g.Auth, middleware.Require(middleware.CanUpload), h.Documents.Upload)
	docs.POST("/:id/archive-request", g.Auth, h.Documents.Transition(models.EventRequestArchive))
	docs.POST("/:id/deletion-request", g.Auth, h.Documents.Transition(models.EventRequestDeletion))
	docs.DELETE("/:id", g.Auth, h.Documents.Delete)

	moderate := docs.Group("", g.Auth, middleware.Require(middleware.CanModerateDocuments))
	moderate.GET("/admin/:queue", h.Documents.Queue)
	moderate.POST("/:id/approve", h.Documents.Transition(models.EventApprove))
	moderate.POST("/:id/reject", h.Documents.Transition(models.EventReject))
	moderate.POST("/:id/archive", h.Documents.Transition(models.EventArchive))
	moderate.POST("/:id/restore", h.Documents.Transition(models.EventRestore))

	decide := docs.Group("", g.Auth, middleware.Require(middleware.CanDecideRequests))
	decide.POST("/:id/archive-request/approve", h.Documents.Transition(models.EventApproveArchive))
	decide.POST("/:id/archive-request/reject", h.Documents.Transition(models.EventRejectArchive))
	decide.POST("/:id/deletion-request/approve", h.Documents.Transition(models.EventApproveDeletion))
	decide.POST("/:id/deletion-request/reject", h.Documents.Transition(models.EventRejectDeletion))

	analytics := rg.Group("/analytics", g.Auth, middleware.Require(middleware.Privileged))
	analytics.GET("/searches", h.Analytics.Searches)
	analytics.GET("/documents", h.Analytics.Documents)
	analytics.GET("/system", h.Analytics.System)
	analytics.GET("/export", g.ExportAudit, h.Analytics.Export)

	rg.GET("/settings", h.Settings.List)
	settings := rg.Group("/settings", g.Auth, middleware.Require(middleware.CanManageSettings))
	settings.PUT("", h.Settings.BulkUpdate)
	settings.PUT("/:key", h.Settings.Update)
}

// RegisterProbes mounts metrics and health endpoints at the router root.
func RegisterProbes(r gin.IRoutes, h *MetricsHandler) {
	r.GET("/metrics", h.Prometheus)
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
}
