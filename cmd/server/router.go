package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/linkdesk/session-broker/internal/config"
	"github.com/linkdesk/session-broker/internal/handler"
	"github.com/linkdesk/session-broker/internal/middleware"
	"github.com/linkdesk/session-broker/internal/realtime"
	"github.com/linkdesk/session-broker/internal/repository"
	"github.com/linkdesk/session-broker/internal/service"
)

type routerDeps struct {
	cfg          *config.Config
	store        repository.Store
	broker       *realtime.Broker
	limiter      middleware.Limiter
	health       map[string]handler.Pinger
	isProduction bool
}

func newRouter(d routerDeps) http.Handler {
	sessionService := service.NewSessionService(d.store, d.broker)
	tokenService := service.NewTokenService(d.store, d.cfg.PublicBaseURL)
	signalRelay := service.NewSignalRelay(d.store, d.broker, d.cfg.FanoutConcurrency)

	authMiddleware := middleware.NewAuthMiddleware(d.cfg.JWTSecret, d.cfg.JWTIssuer)
	joinRateLimit := middleware.NewRateLimitMiddleware(d.limiter, d.cfg.JoinRateLimitPerMin, "join")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(d.isProduction)

	sessionHandler := handler.NewSessionHandler(sessionService, tokenService, joinRateLimit.Handler)
	signalingHandler := handler.NewSignalingHandler(signalRelay)
	realtimeHandler := handler.NewRealtimeHandler(d.broker, d.cfg.AllowedOrigins)
	healthHandler := handler.NewHealthHandler(d.health)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		// Streams stay open well past the request timeout.
		r.Get("/realtime/events", realtimeHandler.ServeEvents)
		r.Get("/realtime/ws", realtimeHandler.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimitMiddleware.Handler)

			r.Mount("/sessions", sessionHandler.Routes())
			r.Post("/signaling/publish", signalingHandler.Publish)
			r.Post("/session/broadcast-status", signalingHandler.BroadcastStatus)
		})
	})

	return r
}
