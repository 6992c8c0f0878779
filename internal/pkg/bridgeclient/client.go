/*
Package bridgeclient is the Go client the CRUD tier uses to reach the real-time bridge.

Every call is bounded by a short timeout and guarded by a circuit breaker. Transport failures,
timeouts, 5xx answers and an open breaker are all reported as ErrDegraded, which callers are
expected to log and ignore: real-time delivery is best-effort and never fails a committed write.
*/
package bridgeclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"hzrealtime/internal/pkg/logx"
	"hzrealtime/internal/pkg/metrics"
)

// DefaultTimeout bounds each bridge call.
const DefaultTimeout = 5 * time.Second

// ErrDegraded means the real-time service could not be reached or is unhealthy.
var ErrDegraded = errors.New("realtime service degraded")

// APIError is a well-formed rejection from the bridge, such as a validation failure.
// It does not count against the circuit breaker.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge rejected request: %d %s (http %d)", e.Code, e.Message, e.Status)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the bridge root, e.g. http://realtime:8081.
	BaseURL string

	// ServiceToken is sent as a bearer token when set.
	ServiceToken string

	Timeout time.Duration

	// FailureThreshold is the number of consecutive degraded calls that opens the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration

	HTTPClient *http.Client
}

// Result mirrors the bridge's dispatch result.
type Result struct {
	EventID   string `json:"event_id"`
	Event     string `json:"event"`
	Target    string `json:"target,omitempty"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// Presence is a user's presence as reported by the bridge.
type Presence struct {
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	Activity    *string   `json:"activity"`
	UpdatedAt   time.Time `json:"updated_at"`
	Connections int       `json:"connections"`
}

// OnlineUsers is the online-users listing.
type OnlineUsers struct {
	Count int        `json:"count"`
	Users []Presence `json:"users"`
}

// Health is the bridge liveness summary.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
	Authenticated int    `json:"authenticated"`
	Rooms         int    `json:"rooms"`
	OnlineUsers   int    `json:"online_users"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the real-time bridge over HTTP.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid bridge base URL %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "realtime-bridge",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrDegraded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logx.Warn("Bridge circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{base: base, token: cfg.ServiceToken, http: httpClient, cb: cb}, nil
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

// NotifyUser delivers an event to all of a user's connections.
func (c *Client) NotifyUser(ctx context.Context, userID, event string, payload any) (Result, error) {
	var res Result
	err := c.call(ctx, "notify-user", http.MethodPost, "/notify-user", map[string]any{
		"user_id": userID,
		"event":   event,
		"payload": payload,
	}, &res)
	return res, err
}

// BroadcastRoom delivers an event to the members of a room.
func (c *Client) BroadcastRoom(ctx context.Context, roomKey, event string, payload any) (Result, error) {
	var res Result
	err := c.call(ctx, "broadcast-room", http.MethodPost, "/broadcast-room", map[string]any{
		"room_key": roomKey,
		"event":    event,
		"payload":  payload,
	}, &res)
	return res, err
}

// Broadcast delivers an event to every authenticated connection.
func (c *Client) Broadcast(ctx context.Context, event string, payload any) (Result, error) {
	var res Result
	err := c.call(ctx, "broadcast", http.MethodPost, "/broadcast", map[string]any{
		"event":   event,
		"payload": payload,
	}, &res)
	return res, err
}

// Presence fetches a user's presence.
func (c *Client) Presence(ctx context.Context, userID string) (Presence, error) {
	var p Presence
	err := c.call(ctx, "presence", http.MethodGet, "/presence/"+url.PathEscape(userID), nil, &p)
	return p, err
}

// OnlineUsers lists every user who is not offline.
func (c *Client) OnlineUsers(ctx context.Context) (OnlineUsers, error) {
	var o OnlineUsers
	err := c.call(ctx, "online-users", http.MethodGet, "/online-users", nil, &o)
	return o, err
}

// Health fetches the liveness summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.call(ctx, "health", http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) call(ctx context.Context, op, method, path string, body, dst any) error {
	data, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	metrics.BridgeRequests.WithLabelValues("client", op, metrics.Outcome(err)).Inc()
	if err != nil {
		return err
	}

	if dst == nil || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// do performs one HTTP round trip and returns the envelope's data.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrDegraded, err)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: http %d", ErrDegraded, res.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrDegraded, err)
	}
	if env.Code != 0 || res.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{Status: res.StatusCode, Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}

// AfterCommit runs write and, only if it succeeded, notify. The notify error is logged and
// dropped, so the caller sees exactly the outcome of its own write.
func AfterCommit(ctx context.Context, write, notify func(context.Context) error) error {
	if err := write(ctx); err != nil {
		return err
	}
	if err := notify(ctx); err != nil {
		logx.Warn("Real-time notify skipped", "error", err.Error(), "degraded", errors.Is(err, ErrDegraded))
	}
	return nil
}
