// Package greeting greets a streamer in chat when their room goes live.
package greeting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"blive-greeting/domain"
	"blive-greeting/notify"
)

const DefaultDebounce = 10 * time.Second

// ChatSender posts the greeting into a room.
type ChatSender interface {
	SendGreeting(ctx context.Context, roomID uint32) error
}

// Notifier receives a notice each time a greeting goes out.
type Notifier interface {
	SendMessage(ctx context.Context, peer notify.Peer, message string) error
}

type Option func(*Bot)

func WithDebounce(d time.Duration) Option {
	return func(b *Bot) {
		b.debounce = d
	}
}

func WithNotifier(n Notifier, peer notify.Peer) Option {
	return func(b *Bot) {
		b.notifier = n
		b.peer = peer
	}
}

func withClock(now func() time.Time) Option {
	return func(b *Bot) {
		b.now = now
	}
}

// Bot sends a greeting when a room goes live. LIVE events that arrive within
// the debounce window of the previous one are dropped; the relay tends to
// repeat them.
type Bot struct {
	sender   ChatSender
	notifier Notifier
	peer     notify.Peer
	debounce time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[uint32]time.Time
	born time.Time
}

func NewBot(sender ChatSender, opts ...Option) *Bot {
	b := &Bot{
		sender:   sender,
		debounce: DefaultDebounce,
		now:      time.Now,
		last:     make(map[uint32]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.born = b.now()
	return b
}

func (b *Bot) React(ctx context.Context, roomID uint32, n domain.Notification) error {
	if n.Kind != domain.NotifyEvent {
		return nil
	}

	switch n.Event.Kind {
	case domain.EventLive:
		b.greet(ctx, roomID)
	case domain.EventDanmu:
		dm := n.Event.Danmu
		slog.Debug("danmu", "room", roomID, "uid", dm.UID, "uname", dm.Uname, "content", dm.Content)
	default:
		slog.Debug("received event", "room", roomID, "cmd", n.Event.Cmd)
	}
	return nil
}

func (b *Bot) greet(ctx context.Context, roomID uint32) {
	if elapsed, ok := b.touch(roomID); !ok {
		slog.Debug("debounce greeting", "room", roomID, "elapsed", elapsed)
		return
	}

	if err := b.sender.SendGreeting(ctx, roomID); err != nil {
		slog.Error("send greeting error", "room", roomID, "error", err)
		return
	}
	slog.Info("greeting sent", "room", roomID)

	if b.notifier == nil {
		return
	}
	msg := fmt.Sprintf("room %d is live, greeting sent", roomID)
	if err := b.notifier.SendMessage(ctx, b.peer, msg); err != nil {
		slog.Warn("notify error", "room", roomID, "error", err)
	}
}

// touch records a LIVE event for the room and reports whether it falls
// outside the debounce window.
func (b *Bot) touch(roomID uint32) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	last, ok := b.last[roomID]
	if !ok {
		last = b.born
	}
	b.last[roomID] = now

	elapsed := now.Sub(last)
	return elapsed, elapsed >= b.debounce
}
