package router

import (
	"net/http"
	"strconv"
	"strings"

	"go-relayer/internal/handlers"
	"go-relayer/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies handlers and settings the HTTP surface is built from
type Dependencies struct {
	Requests       *handlers.RequestHandler
	Admin          *handlers.AdminHandler
	Stream         *handlers.StreamHandler
	Health         *handlers.HealthHandler
	AdminSecret    string
	AdminIPs       []string
	AllowedOrigins []string
	Logger         logrus.FieldLogger
}

// corsMiddleware CORS middleware; an empty list or "*" allows any origin
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	const maxAge = 3600

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		// preflight
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the gin engine
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(corsMiddleware(deps.AllowedOrigins))

	// ============ Health Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if deps.Health != nil {
		r.GET("/health", deps.Health.HealthCheckHandler)
	}

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ Event stream ============
	if deps.Stream != nil {
		r.GET("/ws/requests", deps.Stream.HandleStream)
	}

	// ============ API Routes ============
	api := r.Group("/api")
	if deps.Requests != nil {
		api.POST("/requests", deps.Requests.CreateRequestHandler)
		api.GET("/requests", deps.Requests.ListRequestsHandler)
		api.GET("/requests/:id", deps.Requests.GetRequestHandler)
		api.POST("/requests/:id/confirm", deps.Requests.ConfirmRequestHandler)
		api.GET("/stats", deps.Requests.StatsHandler)
	}

	if deps.Admin != nil {
		allowlist := middleware.NewIPAllowlist(deps.Logger, deps.AdminIPs)
		auth := middleware.NewAdminAuthMiddleware(deps.AdminSecret, deps.Logger)
		admin := api.Group("/admin", allowlist.Restrict(), auth.RequireAdminAuth())
		admin.POST("/reconcile", deps.Admin.TriggerReconcileHandler)
		admin.GET("/reconcile", deps.Admin.PassStatusHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "Endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
