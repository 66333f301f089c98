package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"lconvert/config"
)

// SetupRouter exposes read-only batch status. Every /api/v1 route requires
// the bearer token when cfg.StatusKey is set.
func SetupRouter(src StatusSource, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h := NewHandler(src)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/progress", h.handleGetProgress)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.GET("/jobs/:jobId/output", h.handleGetOutput)
	}
	return r
}

// newCORSHandler wraps the router with CORS so browser dashboards can poll it.
func newCORSHandler(r http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization"},
	})
	return c.Handler(r)
}
