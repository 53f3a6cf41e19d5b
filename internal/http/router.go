// Package httpapi mounts the coaching API on a Gin engine: the middleware
// chain, the public conversation and verification routes, and the
// researcher routes behind bearer tokens.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/docs"
	"github.com/exoxegroup/eng-ai/internal/config"
	"github.com/exoxegroup/eng-ai/internal/http/handlers"
	"github.com/exoxegroup/eng-ai/internal/http/middleware"
	"github.com/exoxegroup/eng-ai/internal/repo"
)

var (
	corsMethods       = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	corsExposeHeaders = []string{middleware.HeaderRequestID, "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed}
)

// RegisterRoutes installs the middleware chain and every endpoint on r.
// The API lives under cfg.APIBasePath; /health, /metrics and /swagger stay
// at the root.
//
// Chain order:
//  1. otelgin span
//  2. RequestID
//  3. AccessLog (redacted unless LOG_ACCESS=full)
//  4. Recovery
//  5. 1 MiB body cap
//  6. Prometheus
//  7. gzip, except the websocket path
//  8. Idempotency-Key check; a stored turn marks the request as a replay
//  9. global rate limit, skipped for replays
//  10. CORS, then security headers
//
// Researcher routes additionally require a bearer token checked by verifier.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, h *handlers.Handlers, verifier middleware.TokenVerifier, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Access logging
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Redact:      cfg.LogAccess != config.AccessFull,
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression; the socket path must stay a plain upgrade
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`.*/ws$`})))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, sessionID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, sessionID, key, now)
			return err == nil && rec != nil && !rec.Pending(), err
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS and security headers
	for _, mw := range corsMiddleware(cfg.CORS.AllowedOrigins) {
		r.Use(mw)
	}
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
		NoStorePrefixes: []string{
			joinPath(cfg.APIBasePath, "/otp"),
			joinPath(cfg.APIBasePath, "/analytics"),
			joinPath(cfg.APIBasePath, "/mirror"),
		},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", h.Health)
	r.GET("/health/detailed", h.HealthDetailed)

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Code sends get their own, much tighter, per-IP budget.
	otpLimiter := middleware.NewNamedRateLimiter("otp_send", cfg.OTP.SendRPS, cfg.OTP.SendBurst, middleware.KeyByIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Verification
		api.POST("/otp/send", otpLimiter.Handler(), h.SendOTP)
		api.POST("/otp/verify", h.VerifyOTP)
		api.GET("/otp/status", h.OTPStatus)

		// Conversation
		api.POST("/conversations", h.StartConversation)
		api.POST("/sessions/:id/turns", h.PostTurn)
		api.GET("/sessions/:id/ws", h.SessionSocket)
		api.POST("/sessions/:id/terminate", h.TerminateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/messages", h.ListMessages)
	}

	researcher := api.Group("", middleware.RequireBearer(verifier))
	{
		researcher.GET("/sessions", h.ListSessions)
		researcher.POST("/sessions", h.CreateSession)
		researcher.PUT("/sessions/:id", h.UpdateSession)
		researcher.DELETE("/sessions/:id", h.DeleteSession)
		researcher.POST("/sessions/:id/messages", h.AppendMessage)

		researcher.GET("/analytics/countries", h.CountryAnalytics)
		researcher.GET("/mirror", h.ListMirror)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// corsMiddleware allows every origin when none are configured. Otherwise the
// request Origin is echoed only when it is on the list, on every response
// and not just on preflights.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsAllowHeaders,
		ExposeHeaders: corsExposeHeaders,
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(conf),
		}
	}

	conf.AllowOrigins = origins
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					c.Writer.Header().Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(conf),
	}
}

func joinPath(base, p string) string {
	return strings.TrimRight(base, "/") + p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
