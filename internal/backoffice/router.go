package backoffice

import (
	"net/http"
	"strings"
	"time"

	"github.com/evetabi/contract/internal/api/middleware"
	"github.com/evetabi/contract/internal/backoffice/handler"
	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/metrics"
	"github.com/evetabi/contract/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc      *service.AuthService
	Positions    handler.PositionStore
	Transactions handler.TransactionStore
	Queue        handler.SessionControlStore
	Settlement   interface {
		handler.ManualCloser
		handler.SweepReporter
	}
	Prices handler.PriceReader
	Hub    handler.ConnCounter
	Cfg    *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())
	r.Use(corsMiddleware(deps.Cfg))
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	dashH := handler.NewDashboardHandler(deps.Positions, deps.Queue, deps.Settlement, deps.Prices, deps.Hub)
	queueH := handler.NewSessionControlHandler(deps.Queue)
	posH := handler.NewPositionAdminHandler(deps.Positions, deps.Transactions, deps.Settlement)

	writeMW := middleware.WriteMiddleware()

	admin := r.Group("/admin")
	admin.Use(adminJWTMiddleware(deps.AuthSvc))
	{
		admin.GET("/dashboard", dashH.Dashboard)
		admin.GET("/prices/:symbol", dashH.Prices)

		// Override queue
		q := admin.Group("/session-controls")
		{
			q.GET("", queueH.List)
			q.POST("", writeMW, queueH.Enqueue)
			q.DELETE("/:id", writeMW, queueH.Cancel)
		}

		// Positions
		p := admin.Group("/positions")
		{
			p.GET("", posH.List)
			p.GET("/:id", posH.Detail)
			p.POST("/:id/close", writeMW, posH.Close)
		}
	}

	return r
}

// ── CORS ──────────────────────────────────────────────────────────────────────

// corsMiddleware allows the admin UI origins. Outside production any origin
// is accepted.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if !cfg.IsProd() || len(cfg.Server.BackofficeOrigins) == 0 {
		cc.AllowOriginFunc = func(string) bool { return !cfg.IsProd() }
	} else {
		cc.AllowOrigins = cfg.Server.BackofficeOrigins
	}
	return cors.New(cc)
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT and requires a back-office role. The
// role is stored as domain.UserRole so the shared write guard can read it.
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "unauthorized", "code": "ERR_UNAUTHORIZED",
			})
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil || claims.TokenType != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "error": "invalid token", "code": "ERR_TOKEN_INVALID",
			})
			return
		}

		role := domain.UserRole(claims.Role)
		if !role.CanAccessBackoffice() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "error": "insufficient permissions", "code": "ERR_FORBIDDEN",
			})
			return
		}

		c.Set("userID", claims.Subject)
		c.Set(middleware.CtxRole, role)
		c.Next()
	}
}
