package handlers

import (
	"embed"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lehigh-university-libraries/defect-detect/pkg/metrics"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery(), SetupCORS(h.cfg.CORSAllowedOrigins))
	router.SetHTMLTemplate(indexTemplate)

	router.GET("/", h.Index)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.Static(h.cfg.StaticURLPrefix, h.cfg.UploadDir)

	api := router.Group("/api")
	api.GET("/", h.Health)
	api.POST("/predict", h.Predict)
	api.GET("/classes", h.Classes)

	return router
}

func SetupCORS(allowedOrigins string) gin.HandlerFunc {
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}
