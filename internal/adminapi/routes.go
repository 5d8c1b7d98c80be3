package adminapi

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jroosing/hydraflow/internal/config"

	_ "github.com/jroosing/hydraflow/internal/adminapi/docs" // swagger docs
)

func registerRoutes(r *gin.Engine, h *httpHandler, cfg config.APIConfig) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	// registered before the API key middleware so it stays open
	api.GET("/health", h.health)
	if cfg.APIKey != "" {
		api.Use(requireAPIKey(cfg.APIKey))
	}

	api.GET("/stats", h.stats)
	api.POST("/commands", h.postCommand)
}
