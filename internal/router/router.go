package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Exam      *handler.ExamHandler
	WS        *handler.WSHandler
	Monitor   *handler.MonitorHandler
	Dashboard *handler.DashboardHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background goroutines owned by middlewares.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// promhttp negotiates its own encoding.
	router.Use(middleware.Brotli("/metrics"))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus scrape endpoint.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(ctx, 30, time.Minute)
	// Candidate lookups: 60 per minute per IP and token.
	examLimiter := middleware.NewRateLimiter(ctx, 60, time.Minute).ByParam("token")

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/recruiter/login", handlers.Auth.RecruiterLogin)

		// Authenticated profile routes
		auth.POST("/recruiter/logout", middleware.RequireRecruiterJWT(authService), handlers.Auth.RecruiterLogout)
		auth.GET("/recruiter/me", middleware.RequireRecruiterJWT(authService), handlers.Auth.GetRecruiterProfile)
	}

	// ─── 2. Candidate Group (exam token is the credential) ─────────────
	candidateAPI := router.Group("/api/v1/exam/:token")
	candidateAPI.Use(handler.RequireExamToken, examLimiter.Middleware())
	{
		candidateAPI.GET("", handlers.Exam.GetExam)
		candidateAPI.GET("/result", handlers.Exam.GetResult)
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1/exam/:token")
	ws.Use(handler.RequireExamToken, examLimiter.Middleware())
	{
		ws.GET("/stream", handlers.WS.ExamStream)
	}

	// ─── 4. Recruiter Group (JWT) ──────────────────────────────────────
	recruiterAPI := router.Group("/api/v1/recruiter")
	recruiterAPI.Use(middleware.RequireRecruiterJWT(authService))
	{
		recruiterAPI.GET("/dashboard", handlers.Dashboard.GetDashboardData)
		recruiterAPI.GET("/sessions", handlers.Monitor.ListSessions)
		recruiterAPI.GET("/sessions/:id", handlers.Monitor.GetSession)
		recruiterAPI.GET("/sessions/:id/monitor", handlers.Monitor.MonitorSessionSSE)
		recruiterAPI.GET("/system/queues", handlers.Monitor.QueueDepths)
	}

	return router
}
