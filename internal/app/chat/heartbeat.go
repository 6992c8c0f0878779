package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
)

// Default liveness parameters.
const (
	DefaultHeartbeatTimeout  = 30 * time.Second
	DefaultHeartbeatGrace    = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

// MonitorConfig tunes the liveness sweep.
type MonitorConfig struct {
	// Timeout is the idle time after which a connection becomes suspect.
	Timeout time.Duration

	// Grace is the extra idle time a suspect connection gets before it is reaped.
	Grace time.Duration

	// Interval is the sweep period.
	Interval time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultHeartbeatTimeout
	}
	if c.Grace <= 0 {
		c.Grace = DefaultHeartbeatGrace
	}
	if c.Interval <= 0 {
		c.Interval = DefaultHeartbeatInterval
	}
	return c
}

// SweepResult counts the transitions made by one sweep.
type SweepResult struct {
	Suspected int
	Reaped    int
}

// Monitor moves idle connections from alive to suspect and reaps suspects that stay silent.
// Anonymous connections are swept too, which bounds how long a client may linger before authenticating.
type Monitor struct {
	hub    *Hub
	cfg    MonitorConfig
	logger zerolog.Logger
}

// NewMonitor creates a Monitor over the hub's registry.
func NewMonitor(hub *Hub, cfg MonitorConfig) *Monitor {
	return &Monitor{
		hub:    hub,
		cfg:    cfg.withDefaults(),
		logger: logx.Component("heartbeat"),
	}
}

// Sweep evaluates every connection against now.
func (m *Monitor) Sweep(now time.Time) SweepResult {
	var res SweepResult
	for _, c := range m.hub.registry.All() {
		idle := now.Sub(c.LastSeen())

		switch c.State() {
		case StateAlive:
			if idle > m.cfg.Timeout && c.transition(StateAlive, StateSuspect) {
				res.Suspected++
				metrics.HeartbeatSuspects.Inc()
				if p, ok := c.sink.(Pinger); ok {
					p.Ping()
				}
				m.logger.Debug().Str("connection_id", c.id).Dur("idle", idle).Msg("Connection suspect.")
			}
		case StateSuspect:
			if idle > m.cfg.Timeout+m.cfg.Grace && m.hub.reap(c) {
				res.Reaped++
				m.logger.Info().Str("connection_id", c.id).Str("user_id", c.UserID()).Dur("idle", idle).Msg("Connection reaped.")
			}
		}
	}
	return res
}

// Serve sweeps on every tick until ctx is cancelled. It implements suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("timeout", m.cfg.Timeout).
		Dur("grace", m.cfg.Grace).
		Dur("interval", m.cfg.Interval).
		Msg("Heartbeat monitor started.")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Heartbeat monitor stopped.")
			return ctx.Err()
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// String identifies the service in supervisor logs.
func (m *Monitor) String() string {
	return "heartbeat-monitor"
}
