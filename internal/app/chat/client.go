/*
Package chat contains the core logic for tracking real-time connections, room membership, and event fan-out.

This file defines the Client struct, the websocket transport behind a Connection. It manages the
socket's read and write loops (ReadPump and WritePump), decodes inbound frames and routes them to the Hub.
*/
package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"hzrealtime/internal/app/presence"
	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/auth/jwt"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
	"hzrealtime/internal/pkg/req"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = 20 * time.Second

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// DefaultSendBuffer is the per-connection outbound queue size.
	DefaultSendBuffer = 256
)

// errSendQueueFull is returned by Send when the client cannot keep up.
var errSendQueueFull = errors.New("client send queue full")

// ClientConfig carries the per-connection settings derived from configuration.
type ClientConfig struct {
	// SendBuffer is the outbound queue size.
	SendBuffer int

	// SessionSecret verifies session tokens when RequireSessionToken is set.
	SessionSecret string

	// RequireSessionToken makes session_id a signed token whose subject must equal user_id.
	RequireSessionToken bool

	// ProtocolErrorRate and ProtocolErrorBurst bound invalid frames before the socket is closed.
	ProtocolErrorRate  rate.Limit
	ProtocolErrorBurst int
}

// Client is an active WebSocket connection registered with the Hub.
type Client struct {
	hub  *Hub
	conn *Connection

	// underlying WebSocket connection object.
	ws *websocket.Conn

	cfg ClientConfig

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// ping requests an immediate ping from WritePump.
	ping chan struct{}

	// done is closed once the client must stop writing; send is never closed.
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	// errors is the token bucket for protocol errors.
	errors *rate.Limiter

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient registers a websocket with the hub and returns the client that wraps it.
func NewClient(hub *Hub, ws *websocket.Conn, cfg ClientConfig) (*Client, *errs.CustomError) {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.ProtocolErrorRate <= 0 {
		cfg.ProtocolErrorRate = rate.Every(time.Second)
	}
	if cfg.ProtocolErrorBurst <= 0 {
		cfg.ProtocolErrorBurst = 10
	}

	c := &Client{
		hub:    hub,
		ws:     ws,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		ping:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		errors: rate.NewLimiter(cfg.ProtocolErrorRate, cfg.ProtocolErrorBurst),
		logger: logx.Component("client"),
	}

	conn, err := hub.Connect(c)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.logger = c.logger.With().Str("connection_id", conn.ID()).Logger()

	return c, nil
}

// Connection returns the coordination state bound to this client.
func (c *Client) Connection() *Connection {
	return c.conn
}

// Send implements Sink. It never blocks; a full queue closes the connection as a slow consumer.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, closing slow consumer.")
		metrics.ConnectionsClosed.WithLabelValues("slow_consumer").Inc()
		c.Close(CloseSlowConsumer, "slow consumer")
		return errSendQueueFull
	}
}

// Close implements Sink. The close frame is written by WritePump, which then closes the socket.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.done)
	})
}

// Ping implements Pinger.
func (c *Client) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// ReadPump handles reading messages from the WebSocket connection.
// Pongs and frames refresh liveness; the heartbeat monitor, not a read deadline, decides when a silent peer is gone.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.ws.SetReadLimit(maxMessageSize)

	c.ws.SetPongHandler(func(string) error {
		c.conn.Touch(time.Now())
		return nil
	})

	for {
		_, messageBytes, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.conn.Touch(time.Now())
		c.processInboundMessage(messageBytes)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.hub.Disconnect(c.conn)
	c.Close(websocket.CloseNormalClosure, "")
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}

		case <-c.ping:
			if !c.writePingMessage() {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

		case <-c.done:
			c.drain()
			c.writeCloseMessage()
			return
		}
	}
}

// drain flushes frames queued before the close was requested, so replies are not lost on a clean close.
func (c *Client) drain() {
	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}
		default:
			return
		}
	}
}

// writeQueuedMessage writes one frame. It returns false if the WritePump loop should terminate.
func (c *Client) writeQueuedMessage(message []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a WebSocket Ping message to solicit a pong.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// writeCloseMessage sends the close frame requested through Close.
func (c *Client) writeCloseMessage() {
	code := c.closeCode
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	msg := websocket.FormatCloseMessage(code, c.closeText)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Int("close_code", code).Msg("Failed to send close frame.")
	}
}

// processInboundMessage decodes a client frame and routes it by event.
func (c *Client) processInboundMessage(messageBytes []byte) {
	var inbound InboundFrame
	if err := json.Unmarshal(messageBytes, &inbound); err != nil || inbound.Event == "" {
		c.logger.Warn().Int("bytes", len(messageBytes)).Msg("Client sent invalid JSON")
		c.protocolError("", errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	var err *errs.CustomError
	switch inbound.Event {
	case EventAuthenticate:
		err = c.handleAuthenticate(inbound.Data)
		if err != nil {
			c.reply(EventAuthError, ErrorPayload{Code: err.Code, Message: err.Message})
			c.countProtocolError()
			return
		}

	case EventUpdatePresence:
		err = c.handleUpdatePresence(inbound.Data)

	case EventJoinRoom:
		err = c.handleJoin(inbound.Data)

	case EventLeaveRoom:
		err = c.handleLeave(inbound.Data)

	case EventTypingStart, EventTypingStop:
		err = c.handleTyping(inbound.Event, inbound.Data)

	case EventHeartbeat:
		c.reply(EventHeartbeatAck, HeartbeatAckPayload{ServerTime: time.Now().UnixMilli()})

	default:
		c.logger.Warn().Str("event", inbound.Event).Msg("Client sent unsupported event")
		err = errs.NewError(errs.ErrUnknownEvent, inbound.Event)
	}

	if err != nil {
		c.protocolError(inbound.Event, err)
	}
}

func decodeData(data json.RawMessage, dst any) *errs.CustomError {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return req.DecodeAndValidate(data, dst)
}

// handleAuthenticate binds the connection to the user named in the frame.
func (c *Client) handleAuthenticate(data json.RawMessage) *errs.CustomError {
	var p AuthenticatePayload
	if err := decodeData(data, &p); err != nil {
		return errs.NewError(errs.ErrHandshakeInvalid)
	}

	userID := strings.TrimSpace(p.UserID.String())
	username := strings.TrimSpace(p.Username)

	if c.cfg.RequireSessionToken {
		claims, err := jwt.ParseScoped(p.SessionID, c.cfg.SessionSecret, jwt.ScopeSession)
		if err != nil || claims.ID != userID {
			c.logger.Warn().Str("user_id", userID).Msg("Session token rejected.")
			return errs.NewError(errs.ErrSessionTokenInvalid)
		}
		if username == "" {
			username = claims.Username
		}
	}

	session := user.NewSession(userID, username, p.SessionID)
	rec, err := c.hub.Authenticate(c.conn, session)
	if err != nil {
		return err
	}

	c.logger.Debug().Str("user_id", userID).Msg("Client authenticated.")
	c.reply(EventAuthSuccess, AuthSuccessPayload{
		ConnectionID: c.conn.ID(),
		User:         session.User,
		Presence:     rec,
	})
	return nil
}

func (c *Client) handleUpdatePresence(data json.RawMessage) *errs.CustomError {
	var p PresencePayload
	if err := decodeData(data, &p); err != nil {
		return err
	}
	status, ok := presence.ParseStatus(p.Status)
	if !ok {
		return errs.NewError(errs.ErrInvalidStatus)
	}
	_, err := c.hub.SetPresence(c.conn, status, p.Activity)
	return err
}

func (c *Client) roomFrom(data json.RawMessage) (RoomKey, *errs.CustomError) {
	var p RoomPayload
	if err := decodeData(data, &p); err != nil {
		return "", err
	}
	return ParseRoomKey(p.Room)
}

func (c *Client) handleJoin(data json.RawMessage) *errs.CustomError {
	key, err := c.roomFrom(data)
	if err != nil {
		return err
	}
	if _, err := c.hub.Join(c.conn, key); err != nil {
		return err
	}
	c.reply(EventRoomJoined, RoomJoinedPayload{Room: string(key), Members: len(c.hub.Rooms().MembersOf(key))})
	return nil
}

func (c *Client) handleLeave(data json.RawMessage) *errs.CustomError {
	key, err := c.roomFrom(data)
	if err != nil {
		return err
	}
	if _, err := c.hub.Leave(c.conn, key); err != nil {
		return err
	}
	c.reply(EventRoomLeft, RoomPayload{Room: string(key)})
	return nil
}

func (c *Client) handleTyping(event string, data json.RawMessage) *errs.CustomError {
	key, err := c.roomFrom(data)
	if err != nil {
		return err
	}
	return c.hub.RelayTyping(c.conn, key, event)
}

// reply sends a frame to this client only.
func (c *Client) reply(event string, payload any) {
	if err := c.hub.Dispatcher().SendTo(c.conn, event, payload); err != nil {
		c.logger.Debug().Err(err).Str("event", event).Msg("Reply not delivered.")
	}
}

// protocolError reports an error frame and charges the protocol error budget.
func (c *Client) protocolError(event string, err *errs.CustomError) {
	c.reply(EventError, ErrorPayload{Code: err.Code, Message: err.Message, Event: event})
	c.countProtocolError()
}

func (c *Client) countProtocolError() {
	if c.errors.Allow() {
		return
	}
	abuse := errs.NewError(errs.ErrProtocolAbuse)
	c.logger.Warn().Int("code", abuse.Code).Msg("Protocol error budget exhausted, closing connection.")
	c.hub.Kick(c.conn, CloseProtocolAbuse, abuse.Message, "abuse")
}
