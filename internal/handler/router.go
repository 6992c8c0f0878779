/*
Package handler provides the HTTP handlers and routing setup for the real-time service.

This file defines the main Router, applying logging, CORS and recovery middleware before
delegating to the bridge endpoints, the probes and the WebSocket endpoint.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"hzrealtime/internal/pkg/auth/jwt"
	"hzrealtime/internal/pkg/logx"
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// A nil deps.ConnectLimiter leaves websocket upgrades unthrottled.
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/online-users", HandleOnlineUsers(deps))
	r.Get("/api/online-users", HandleOnlineUsers(deps))
	r.Get("/presence/{user_id}", HandleGetPresence(deps))

	r.Group(func(b chi.Router) {
		b.Use(jwt.RequireServiceToken(deps.Config.BridgeSecret))

		b.Post("/notify-user", HandleNotifyUser(deps))
		b.Post("/broadcast-room", HandleBroadcastRoom(deps))
		b.Post("/broadcast", HandleBroadcast(deps))
	})

	var ws http.Handler = HandleWebSocket(deps, wsUpgrader)
	if deps.ConnectLimiter != nil {
		ws = deps.ConnectLimiter.Middleware(ws)
	}
	r.Get("/ws", ws.ServeHTTP)

	return r
}
