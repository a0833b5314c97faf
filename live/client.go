// Package live runs one relay connection per call: resolve the room, open the
// transport, authenticate, then keep the heartbeat going while inbound frames
// are dispatched to a handler until either side stops.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"blive-greeting/directory"
	"blive-greeting/domain"
	"blive-greeting/metrics"
	"blive-greeting/protocol"
	"blive-greeting/websocket"
)

const tracerName = "blive-greeting/live"

type Option func(*Client)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		c.heartbeatInterval = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithRegistry(r domain.Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

// WithTracerProvider traces connections with tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithScheme overrides the relay URL scheme (default "wss").
func WithScheme(scheme string) Option {
	return func(c *Client) {
		c.scheme = scheme
	}
}

type Client struct {
	resolver          domain.RoomResolver
	registry          domain.Registry
	metrics           *metrics.Metrics
	heartbeatInterval time.Duration
	scheme            string
	tracer            trace.Tracer
}

func NewClient(resolver domain.RoomResolver, opts ...Option) *Client {
	c := &Client{
		resolver:          resolver,
		heartbeatInterval: websocket.DefaultHeartbeatInterval,
		scheme:            "wss",
		tracer:            otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectAndRun makes one connection attempt to the room and blocks until it
// ends. It never retries; the returned error is the first fatal cause.
func (c *Client) ConnectAndRun(ctx context.Context, creds domain.Credentials, roomID uint32, h domain.Handler) (err error) {
	ctx, span := c.tracer.Start(ctx, "live.ConnectAndRun",
		trace.WithAttributes(attribute.Int64("room.id", int64(roomID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	params, err := c.resolve(ctx, creds, roomID)
	if err != nil {
		return err
	}

	uid, err := params.Credentials.UID()
	if err != nil {
		return err
	}
	auth, err := protocol.BuildAuthFrame(uid, params.RoomID, params.Credentials.Buvid(), params.AuthToken)
	if err != nil {
		return err
	}

	url := RelayURL(c.scheme, params.RelayHost, params.RelayPort)
	span.SetAttributes(attribute.String("relay.url", url))

	ws, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	conn := websocket.NewConn(id, roomID, ws, auth,
		protocol.NewDispatcher(roomID, h, c.metrics),
		websocket.WithHeartbeatInterval(c.heartbeatInterval),
		websocket.WithMetrics(c.metrics),
	)

	if c.registry != nil {
		c.registry.Register(conn)
		defer c.registry.Unregister(conn)
	}
	c.metrics.ConnectionOpened()
	slog.Info("relay connected", "room", roomID, "connId", id, "url", url)

	err = conn.Run(ctx)
	c.metrics.ConnectionClosed(err)
	slog.Info("relay connection ended", "room", roomID, "connId", id, "error", err)
	return err
}

func (c *Client) resolve(ctx context.Context, creds domain.Credentials, roomID uint32) (domain.ConnParams, error) {
	info, err := c.resolver.ResolveRoom(ctx, roomID, creds)
	if err != nil {
		return domain.ConnParams{}, fmt.Errorf("resolve room %d: %w", roomID, err)
	}
	return directory.Relay(roomID, info, creds)
}

func RelayURL(scheme, host string, port uint16) string {
	return fmt.Sprintf("%s://%s/sub", scheme, net.JoinHostPort(host, strconv.Itoa(int(port))))
}
