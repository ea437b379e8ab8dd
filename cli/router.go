package cli

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"modelhub_back/assets"
	"modelhub_back/logging"
	"modelhub_back/metrics"
)

func newRouter(a *app) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 32 << 20
	router.Use(
		logging.Middleware(a.logger),
		gin.Recovery(),
		metrics.Middleware(),
		cors.New(corsConfig(a.cfg.AllowedOrigins())),
	)

	router.Static(a.uploads.Prefix(), a.uploads.Dir())
	router.GET("/metrics", metrics.Handler())
	router.GET("/api/events", a.hub.ServeWS)
	assets.NewHandler(a.service, a.logger, assets.WithUploadLimit(a.cfg.UploadMaxBytes)).RegisterRoutes(router)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
