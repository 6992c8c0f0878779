package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
	"hzrealtime/internal/pkg/req"
	"hzrealtime/internal/pkg/resp"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "realtime"

// ConsumerConfig holds the NATS connection settings.
type ConsumerConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// Consumer subscribes to the bridge subjects and feeds them to the Service. A message with a reply
// subject gets the JSON envelope the HTTP bridge would have returned.
type Consumer struct {
	svc    *Service
	cfg    ConsumerConfig
	logger zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewConsumer creates a Consumer. Call Serve to connect.
func NewConsumer(svc *Service, cfg ConsumerConfig) *Consumer {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Name == "" {
		cfg.Name = "hzrealtime-bridge"
	}
	return &Consumer{
		svc:    svc,
		cfg:    cfg,
		logger: logx.Component("nats-bridge"),
		ready:  make(chan struct{}),
	}
}

// Subject returns the full subject for an operation.
func (c *Consumer) Subject(op string) string {
	return c.cfg.SubjectPrefix + "." + op
}

// Ready is closed once the first set of subscriptions is active.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

// Serve connects, subscribes and blocks until ctx is cancelled. It implements suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	nc, err := nats.Connect(c.cfg.URL,
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn().Err(err).Msg("NATS disconnected.")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected.")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", c.cfg.URL, err)
	}
	defer nc.Close()

	handlers := map[string]nats.MsgHandler{
		OpNotifyUser:    c.handle(OpNotifyUser, c.notifyUser),
		OpBroadcastRoom: c.handle(OpBroadcastRoom, c.broadcastRoom),
		OpBroadcast:     c.handle(OpBroadcast, c.broadcast),
	}
	for op, h := range handlers {
		if _, err := nc.Subscribe(c.Subject(op), h); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", c.Subject(op), err)
		}
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush NATS subscriptions: %w", err)
	}

	c.logger.Info().Str("url", nc.ConnectedUrl()).Str("prefix", c.cfg.SubjectPrefix).Msg("NATS bridge subscribed.")
	c.readyOnce.Do(func() { close(c.ready) })

	<-ctx.Done()
	if err := nc.Drain(); err != nil {
		c.logger.Warn().Err(err).Msg("NATS drain failed.")
	}
	c.logger.Info().Msg("NATS bridge stopped.")
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (c *Consumer) String() string {
	return "nats-bridge"
}

type opFunc func(data []byte) (any, *errs.CustomError)

func (c *Consumer) handle(op string, fn opFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		data, err := fn(msg.Data)
		metrics.BridgeRequests.WithLabelValues("nats", op, metrics.Outcome(asError(err))).Inc()

		if err != nil {
			c.logger.Warn().Str("subject", msg.Subject).Int("code", err.Code).Str("message", err.Message).Msg("Bridge message rejected.")
		}
		if msg.Reply == "" {
			return
		}

		body := resp.Success(data)
		if err != nil {
			body = resp.Failure(err)
		}
		out, mErr := json.Marshal(body)
		if mErr != nil {
			c.logger.Error().Err(mErr).Str("subject", msg.Subject).Msg("Failed to encode bridge reply.")
			return
		}
		if rErr := msg.Respond(out); rErr != nil {
			c.logger.Warn().Err(rErr).Str("subject", msg.Subject).Msg("Failed to send bridge reply.")
		}
	}
}

func (c *Consumer) notifyUser(data []byte) (any, *errs.CustomError) {
	var r NotifyUserRequest
	if err := req.DecodeAndValidate(data, &r); err != nil {
		return nil, err
	}
	return c.svc.NotifyUser(r)
}

func (c *Consumer) broadcastRoom(data []byte) (any, *errs.CustomError) {
	var r BroadcastRoomRequest
	if err := req.DecodeAndValidate(data, &r); err != nil {
		return nil, err
	}
	return c.svc.BroadcastRoom(r)
}

func (c *Consumer) broadcast(data []byte) (any, *errs.CustomError) {
	var r BroadcastRequest
	if err := req.DecodeAndValidate(data, &r); err != nil {
		return nil, err
	}
	return c.svc.Broadcast(r)
}
