package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"blive-greeting/domain"
	"blive-greeting/metrics"
)

// Dispatcher decodes one transport message, classifies every reply it holds
// and feeds them to the handler in wire order.
type Dispatcher struct {
	roomID  uint32
	decoder *Decoder
	handler domain.Handler
	metrics *metrics.Metrics
}

func NewDispatcher(roomID uint32, h domain.Handler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		roomID:  roomID,
		decoder: NewDecoder(),
		handler: h,
		metrics: m,
	}
}

// Handle returns an error only for causes that must end the connection:
// undecodable frames, a rejected auth, or a handler abort.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) error {
	replies, err := d.decoder.Decode(data)
	if err != nil {
		d.metrics.DecodeError()
		return err
	}

	for _, reply := range replies {
		d.metrics.Reply(reply.Kind.String())

		n, err := Classify(reply)
		switch {
		case errors.Is(err, ErrAuthRejected):
			d.metrics.ClassifyError("auth")
			slog.Error("auth error", "room", d.roomID, "error", err)
			return err
		case errors.Is(err, ErrHeartbeatMismatch):
			d.metrics.ClassifyError("heartbeat")
			slog.Warn("heartbeat error", "room", d.roomID, "error", err)
			continue
		case err != nil:
			d.metrics.ClassifyError("message")
			slog.Warn("parse message error", "room", d.roomID, "error", err)
			continue
		}

		switch n.Kind {
		case domain.NotifyHeartbeat:
			slog.Debug("heartbeat OK", "room", d.roomID)
		case domain.NotifyAuth:
			slog.Info("auth OK", "room", d.roomID)
		case domain.NotifyEvent:
			d.metrics.Event(string(n.Event.Kind))
		}

		if err := d.handler.React(ctx, d.roomID, n); err != nil {
			return fmt.Errorf("handler: %w", err)
		}
	}
	return nil
}
