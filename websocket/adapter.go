package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"blive-greeting/domain"
	"blive-greeting/metrics"
	"blive-greeting/protocol"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageSize   = 4 << 20

	DefaultHeartbeatInterval = 30 * time.Second
)

// Dial opens the relay transport.
func Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return ws, nil
}

type Option func(*Conn)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Conn) {
		c.heartbeatInterval = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Conn) {
		c.metrics = m
	}
}

// Conn owns one relay transport. The write pump is the only writer and the
// read pump the only reader.
type Conn struct {
	id                string
	room              uint32
	ws                *websocket.Conn
	auth              []byte
	heartbeatInterval time.Duration
	handler           domain.MessageHandler
	metrics           *metrics.Metrics
}

func NewConn(id string, room uint32, ws *websocket.Conn, auth []byte, h domain.MessageHandler, opts ...Option) *Conn {
	c := &Conn{
		id:                id,
		room:              room,
		ws:                ws,
		auth:              auth,
		heartbeatInterval: DefaultHeartbeatInterval,
		handler:           h,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Room() uint32 { return c.room }

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Run sends the auth frame, then keeps the heartbeat going while inbound
// messages are dispatched. It returns as soon as either pump stops, with that
// pump's result, after the transport is closed and the other pump has exited.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- c.writePump(ctx) }()
	go func() { done <- c.readPump(ctx) }()

	pending := 2
	var err error
	select {
	case err = <-done:
		pending--
	case <-ctx.Done():
		err = ctx.Err()
	}

	cancel()
	c.ws.Close()
	for ; pending > 0; pending-- {
		<-done
	}
	return err
}

func (c *Conn) readPump(ctx context.Context) error {
	readWait := 3 * c.heartbeatInterval
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Info("relay closed connection", "room", c.room, "connId", c.id)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))

		if err := c.handler.Handle(ctx, data); err != nil {
			return err
		}
	}
}

func (c *Conn) writePump(ctx context.Context) error {
	if err := c.write(c.auth); err != nil {
		return fmt.Errorf("write auth: %w", err)
	}
	slog.Debug("auth sent", "room", c.room, "connId", c.id)

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	heartbeat := protocol.BuildHeartbeatFrame()
	for {
		select {
		case <-ctx.Done():
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case <-ticker.C:
			if err := c.write(heartbeat); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
			c.metrics.HeartbeatSent()
		}
	}
}

func (c *Conn) write(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}
