package handler

import (
	"golang.org/x/time/rate"

	"hzrealtime/internal/app/bridge"
	"hzrealtime/internal/app/chat"
	"hzrealtime/internal/configs"
	"hzrealtime/internal/pkg/limiter"
)

// AppDeps holds what the handlers need.
type AppDeps struct {
	Hub    *chat.Hub
	Bridge *bridge.Service
	Config *configs.AppConfig

	// ConnectLimiter throttles websocket upgrades per IP. The caller owns it and stops it on shutdown;
	// nil disables connect throttling.
	ConnectLimiter *limiter.IPRateLimiter
}

// ClientConfig derives per-connection settings from the application config.
func (d *AppDeps) ClientConfig() chat.ClientConfig {
	return chat.ClientConfig{
		SendBuffer:          d.Config.SendBuffer,
		SessionSecret:       d.Config.SessionSecret,
		RequireSessionToken: d.Config.RequireSessionToken,
		ProtocolErrorRate:   rate.Limit(d.Config.ProtocolErrorRate),
		ProtocolErrorBurst:  d.Config.ProtocolErrorBurst,
	}
}
