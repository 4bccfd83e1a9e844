// Package server exposes the harvestd control plane: call signaling,
// negotiation lifecycle, room tokens, session lookups, and the observer
// websocket bridge.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hezronokwach/harvest/internal/config"
	"github.com/hezronokwach/harvest/internal/metrics"
	"github.com/hezronokwach/harvest/internal/room"
	"github.com/hezronokwach/harvest/internal/signaling"
	"github.com/hezronokwach/harvest/internal/state"
)

// BridgeProvider resolves the websocket bridge for an active call room.
type BridgeProvider interface {
	Bridge(roomName string) (*room.Bridge, bool)
}

// Server is the harvestd HTTP server.
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	signaling *signaling.Service
	bridges   BridgeProvider
	tokens    *TokenService
	store     state.SessionStore
	collector *metrics.Collector

	engine *gin.Engine
	http   *http.Server
}

// New builds the server and registers all routes.
func New(cfg *config.Config, svc *signaling.Service, bridges BridgeProvider, store state.SessionStore, collector *metrics.Collector, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		signaling: svc,
		bridges:   bridges,
		tokens:    NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		store:     store,
		collector: collector,
		engine:    gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	s.engine.Use(corsMiddleware())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	r.GET("/", s.handleHealth)
	r.GET("/livekit/token", s.handleRoomToken)

	r.POST("/negotiation/call", s.handleStartNegotiation)
	r.POST("/negotiation/end", s.handleEndNegotiation)
	r.GET("/negotiation/sessions", s.handleListSessions)
	r.GET("/negotiation/sessions/:room", s.handleGetSession)

	r.POST("/call/offer", s.handleCallOffer)
	r.POST("/call/accept", s.handleCallAccept)
	r.POST("/call/decline", s.handleCallDecline)

	r.GET("/market-price/:crop", s.handleMarketPrice)
	r.GET("/persona/status/:persona", s.handlePersonaStatus)

	r.GET("/ws/:room", s.handleWebsocket)

	if s.collector != nil {
		r.GET("/metrics", gin.WrapH(s.collector.Handler()))
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the listener until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.WithField("addr", addr).Info("control plane listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Websocket upgrades hold the connection open; the duration is
		// the session length, not request latency.
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
