package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string, limiter *RateLimiter) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, limiter)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, limiter *RateLimiter) {
	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if limiter.Enabled() {
		api.Use(limiter.Middleware())
	}
	{
		api.GET("/search", handler.Search)
		api.GET("/geocode/suggest", handler.Suggest)
		api.GET("/clusters", handler.GetClusters)
		api.GET("/events/:slug", handler.GetEvent)
	}

	if apiAccessKey != "" {
		admin := api.Group("/admin")
		admin.Use(authMiddleware(apiAccessKey))
		{
			admin.GET("/feeds", handler.APIListFeeds)
			admin.POST("/ingest", handler.APIIngestAll)
			admin.POST("/ingest/feed", handler.APIIngestFeed)
			admin.POST("/reclassify", handler.APIReclassify)
		}
		slog.Info("Admin API endpoints enabled with authentication")
	} else {
		slog.Info("Admin API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"search":   "/api/search?q=<place>",
			"suggest":  "/api/geocode/suggest?q=<partial>",
			"clusters": "/api/clusters?bbox=<w,s,e,n>&zoom=<z>",
			"event":    "/api/events/<slug>",
			"health":   "/health",
			"metrics":  "/metrics",
		}

		if apiAccessKey != "" {
			endpoints["feeds"] = "/api/admin/feeds (requires X-API-Key header)"
			endpoints["ingest"] = "/api/admin/ingest (POST, requires X-API-Key header)"
			endpoints["ingest_feed"] = "/api/admin/ingest/feed (POST, requires X-API-Key header)"
			endpoints["reclassify"] = "/api/admin/reclassify (POST, requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "Family Comb",
			"version":     handler.deps.Version,
			"description": "Family events and places aggregator with radius search and map clustering",
			"endpoints":   endpoints,
			"api_status": map[string]any{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// authMiddleware accepts the key from X-API-Key or an Authorization bearer
// token. Keys are compared in constant time and failures carry no detail.
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	expected := []byte(apiAccessKey)

	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" || subtle.ConstantTimeCompare([]byte(providedKey), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}
