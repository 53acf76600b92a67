// Package api is the monitoring and control surface: a gin server over
// the engine's Service interface. Everything here reads published
// snapshots or the audit tables; the one write path into the core is
// the kill switch.
package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"trading-agent/internal/engine"
	"trading-agent/internal/events"
	"trading-agent/internal/monitor"
	"trading-agent/pkg/db"
)

// Server wires HTTP endpoints around the engine service and event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Service   engine.Service
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	KillToken string
	Meta      SystemMeta

	started time.Time
}

// SystemMeta is the static identity shown on /health.
type SystemMeta struct {
	Mode    string
	Version string
	NodeID  string
}

// NewServer builds the router with the full middleware chain and all
// routes registered.
func NewServer(bus *events.Bus, database *db.Database, svc engine.Service, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret, killToken string) *Server {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Service:   svc,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		KillToken: killToken,
		Meta:      meta,
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.prometheusMetrics)

	v1 := s.Router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := v1.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/account", s.getAccount)
			protected.GET("/positions", s.getPositions)
			protected.GET("/stats", s.getStats)
			protected.GET("/metrics", s.getMetrics)

			protected.GET("/signals", s.getSignals)
			protected.GET("/orders", s.getOrders)
			protected.GET("/trades", s.getTrades)

			protected.GET("/risk", s.getRiskConfig)
			protected.PUT("/risk", s.updateRiskConfig)

			protected.POST("/kill", s.kill)
			protected.GET("/ws", s.websocket)
		}
	}
}

// health is the public liveness probe; it also answers the operator's
// first question after a page: is the bot still allowed to trade?
func (s *Server) health(c *gin.Context) {
	status := s.Service.GetSystemStatus(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"mode":            s.Meta.Mode,
		"version":         s.Meta.Version,
		"node_id":         s.Meta.NodeID,
		"state":           status.State,
		"trading_enabled": status.TradingEnabled,
		"server_time":     time.Now().UTC(),
		"uptime_seconds":  time.Since(s.started).Seconds(),
	})
}

// Start runs the HTTP server; it blocks like gin's Run does.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
