package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cyclebot/internal/engine"
	"cyclebot/internal/events"
	"cyclebot/internal/metrics"
	"cyclebot/pkg/db"
)

// Server is the HTTP control surface. All trading state flows through the
// engine service; the server itself only holds transport concerns.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	DB        *db.Database
	Bus       *events.Bus
	Metrics   *metrics.Recorder
	Gatherer  prometheus.Gatherer
	JWTSecret string
	Log       zerolog.Logger

	limits *ipLimiters
}

// Config collects the server dependencies and transport knobs.
type Config struct {
	Engine    engine.Service
	DB        *db.Database
	Bus       *events.Bus
	Metrics   *metrics.Recorder
	Gatherer  prometheus.Gatherer
	JWTSecret string
	RateLimit rate.Limit    // per-IP request rate, default 20/s
	RateBurst int           // default 50
	Timeout   time.Duration // per-request deadline, default 30s
	Log       zerolog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := gin.New()
	s := &Server{
		Router:    r,
		Engine:    cfg.Engine,
		DB:        cfg.DB,
		Bus:       cfg.Bus,
		Metrics:   cfg.Metrics,
		Gatherer:  cfg.Gatherer,
		JWTSecret: cfg.JWTSecret,
		Log:       cfg.Log.With().Str("component", "api").Logger(),
		limits:    newIPLimiters(cfg.RateLimit, cfg.RateBurst),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(s.requestLogger())
	r.Use(s.rateLimit())
	r.Use(TimeoutMiddleware(cfg.Timeout))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.metricsHandler())
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.POST("/control/start", s.startRun)
			protected.POST("/control/stop", s.stopRun)

			protected.GET("/cycles", s.listCycles)
			protected.GET("/cycles/:id", s.getCycle)
			protected.GET("/trades", s.listTrades)
			protected.GET("/trades/:id", s.getTrade)
			protected.POST("/trades/:id/exit", s.exitTrade)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.DB.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	if s.Gatherer == nil {
		return func(c *gin.Context) { c.Status(http.StatusNotFound) }
	}
	return gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
