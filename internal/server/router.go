package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"youth-mis/internal/core"
	"youth-mis/internal/handler"
	"youth-mis/internal/logger"
	"youth-mis/internal/middleware"
)

type Deps struct {
	Core          *core.Core
	PublicKey     string
	AuthRateLimit int
	Version       string
	Logger        *logger.Logger
	// Registry backs /metrics and the HTTP metrics. Nil disables both.
	Registry *prometheus.Registry
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.AuthRateLimit <= 0 {
		deps.AuthRateLimit = 10
	}
	log := deps.Logger

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log.With("component", "http")))
	var throttled *prometheus.CounterVec
	if deps.Registry != nil {
		m := middleware.NewHTTPMetrics(deps.Registry)
		throttled = m.Throttled
		r.Use(middleware.Instrument(m))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	versionHandler := &handler.VersionHandler{Version: deps.Version}
	r.GET("/version", versionHandler.Check)

	c := deps.Core
	apiKey := middleware.RequireAPIKey(deps.PublicKey)
	requireAuth := middleware.RequireAuth(c.Identity)

	authLimit := middleware.RateLimit(middleware.NewLimiter(deps.AuthRateLimit, time.Minute), throttled)
	authHandler := &handler.AuthHandler{Core: c, Logger: log}
	authGroup := r.Group("/auth/v1", apiKey)
	authGroup.POST("/signup", authLimit, authHandler.SignUp)
	authGroup.POST("/token", authLimit, authHandler.Token)
	authGroup.POST("/logout", requireAuth, authHandler.Logout)
	authGroup.GET("/user", requireAuth, authHandler.User)

	tableHandler := &handler.TableHandler{Rows: c.Rows, Logger: log}
	rest := r.Group("/rest/v1", apiKey, requireAuth)
	rest.GET("/:table", tableHandler.List)
	rest.POST("/:table", tableHandler.Create)
	rest.GET("/:table/:id", tableHandler.Get)
	rest.PATCH("/:table/:id", tableHandler.Update)
	rest.DELETE("/:table/:id", tableHandler.Delete)

	functionHandler := &handler.FunctionHandler{Registry: c.Functions, Logger: log}
	r.POST("/functions/v1/:name", apiKey, requireAuth, functionHandler.Invoke)

	realtimeHandler := &handler.RealtimeHandler{Hub: c.Hub, Rows: c.Rows, Logger: log.With("component", "realtime")}
	r.GET("/realtime/v1/websocket", apiKey, requireAuth, realtimeHandler.Serve)

	return r
}
