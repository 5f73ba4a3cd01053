package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterConfig wires handlers into the gin engine. Nil handlers leave their
// routes unregistered.
type RouterConfig struct {
	Auth          Authenticator
	Consultations *ConsultationHandler
	Chat          *ChatHandler
	Reminders     *ReminderHandler
	Notifications *NotificationHandler
	Logger        *slog.Logger
	Middleware    []gin.HandlerFunc
}

// NewRouter builds the REST API under /api/v1 plus an unauthenticated /healthz.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := defaultLogger(cfg.Logger)

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))
	for _, mw := range cfg.Middleware {
		if mw != nil {
			router.Use(mw)
		}
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	if cfg.Auth != nil {
		api.Use(RequireAuth(cfg.Auth, logger))
	}

	if h := cfg.Consultations; h != nil {
		consultations := api.Group("/consultations")
		consultations.POST("", h.Create)
		consultations.GET("", h.List)
		consultations.GET("/:id", h.Get)
		consultations.PATCH("/:id/status", h.UpdateStatus)
		consultations.GET("/:id/chat-room", h.ChatRoom)
	}

	if h := cfg.Chat; h != nil {
		rooms := api.Group("/chat-rooms")
		rooms.POST("/:id/messages", h.Send)
		rooms.GET("/:id/messages", h.History)
	}

	if h := cfg.Reminders; h != nil {
		reminders := api.Group("/reminders")
		reminders.POST("", h.Create)
		reminders.GET("", h.List)
		reminders.GET("/:id", h.Get)
		reminders.PUT("/:id", h.Update)
		reminders.DELETE("/:id", h.Delete)
	}

	if h := cfg.Notifications; h != nil {
		notifications := api.Group("/notifications")
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.POST("/read-all", h.MarkAllRead)
		notifications.GET("/:id", h.Get)
		notifications.POST("/:id/read", h.MarkRead)

		api.POST("/device-tokens", h.RegisterDeviceToken)
		api.DELETE("/device-tokens/:token", h.RemoveDeviceToken)
	}

	return router
}
