package api

import (
	"net/http"

	"github.com/evetabi/contract/internal/api/handler"
	"github.com/evetabi/contract/internal/api/middleware"
	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/metrics"
	"github.com/evetabi/contract/internal/service"
	"github.com/evetabi/contract/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc       *service.AuthService
	PositionSvc   handler.PositionService
	SettlementSvc handler.Settler
	Hub           *ws.Hub
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check & metrics ───────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	positionH := handler.NewPositionHandler(deps.PositionSvc)
	settleH := handler.NewSettleHandler(deps.SettlementSvc, deps.Cfg.Settlement.Schedule)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	openRL := middleware.UserRateLimitMiddleware(5) // opens per user
	settleRL := middleware.RateLimitMiddleware(20)  // sweeps per IP

	api := r.Group("/api")
	{
		contract := api.Group("/contract")
		{
			// ── Public ───────────────────────────────────────────────────────
			contract.GET("/schedule", settleH.Schedule)
			contract.POST("/settle", settleRL, settleH.Settle)
			contract.GET("/settle", settleRL, settleH.SettleQuery)

			// ── Authenticated ────────────────────────────────────────────────
			authed := contract.Group("")
			authed.Use(jwtMW)
			{
				authed.POST("/position", openRL, positionH.Open)
				authed.GET("/positions", positionH.List)
				authed.GET("/positions/:id", positionH.Get)
				authed.POST("/settle-user", settleRL, settleH.SettleUser)
			}
		}

		wallet := api.Group("/wallet")
		wallet.Use(jwtMW)
		{
			wallet.GET("/balance", positionH.Balance)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets CORS headers. Outside
// production all origins are allowed; in production only ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
