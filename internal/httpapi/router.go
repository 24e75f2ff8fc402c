package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"github.com/suPer8Hu/llm-playground/internal/config"
	"github.com/suPer8Hu/llm-playground/internal/httpapi/handlers"
	"github.com/suPer8Hu/llm-playground/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired(cfg.JWTSecret))

	// messages
	v1.GET("/messages", h.ListMessages)
	v1.GET("/messages/view", h.ViewMessages)
	v1.POST("/messages", h.AddMessage)
	v1.PATCH("/messages/:id", h.EditMessage)
	v1.DELETE("/messages/:id", h.DeleteMessage)
	v1.POST("/messages/reorder", h.ReorderMessages)
	v1.POST("/messages/:id/truncate", h.TruncateMessages)
	v1.DELETE("/messages", h.ClearMessages)

	// generation (rate limited per subject)
	v1.POST("/generate", middleware.RateLimit(cfg.GenerateRPS, cfg.GenerateBurst), h.Generate)
	v1.POST("/generate/stop", h.StopGeneration)

	v1.GET("/events", h.Events)

	v1.GET("/settings", h.GetSettings)
	v1.PUT("/settings", h.PutSettings)
	return r
}
