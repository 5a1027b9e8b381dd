package rest

import (
	"document-gateway/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Environment string
	CORSOrigins []string
}

func NewRouter(handler *Handler, validator middleware.TokenValidator, cfg RouterConfig, logger zerolog.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.ErrorHandler(logger))

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}
	if cfg.Environment == "development" || len(cfg.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api/v1")
	api.GET("/health", handler.Health)

	authed := api.Group("", middleware.Auth(validator))
	authed.POST("/diff", handler.WriteDiff)
	authed.GET("/snapshot", handler.ReadSnapshot)
	authed.GET("/history", handler.GetHistory)
	authed.POST("/resolve", handler.ResolveConflict)
	authed.GET("/changes", handler.StreamChanges)
	authed.GET("/changes/ws", handler.WatchChanges)

	return router
}
