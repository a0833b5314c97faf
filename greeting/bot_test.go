package greeting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blive-greeting/domain"
	"blive-greeting/notify"
)

type mockSender struct {
	rooms []uint32
	err   error
	mu    sync.Mutex
}

func (m *mockSender) SendGreeting(ctx context.Context, roomID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, roomID)
	return m.err
}

func (m *mockSender) getRooms() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.rooms...)
}

type mockNotifier struct {
	messages []string
	peers    []notify.Peer
	mu       sync.Mutex
}

func (m *mockNotifier) SendMessage(ctx context.Context, peer notify.Peer, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = append(m.peers, peer)
	m.messages = append(m.messages, message)
	return nil
}

type fakeClock struct {
	t  time.Time
	mu sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func liveEvent(kind domain.EventKind) domain.Notification {
	return domain.Notification{Kind: domain.NotifyEvent, Event: &domain.LiveEvent{Kind: kind, Cmd: string(kind)}}
}

func TestBot_Debounce(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	sender := &mockSender{}
	bot := NewBot(sender, withClock(clock.Now))
	ctx := context.Background()

	// Inside the window that starts at construction.
	clock.Advance(5 * time.Second)
	require.NoError(t, bot.React(ctx, 1, liveEvent(domain.EventLive)))
	assert.Empty(t, sender.getRooms())

	// The suppressed event still moves the window.
	clock.Advance(6 * time.Second)
	require.NoError(t, bot.React(ctx, 1, liveEvent(domain.EventLive)))
	assert.Empty(t, sender.getRooms())

	clock.Advance(10 * time.Second)
	require.NoError(t, bot.React(ctx, 1, liveEvent(domain.EventLive)))
	assert.Equal(t, []uint32{1}, sender.getRooms())
}

func TestBot_RoomsDebounceIndependently(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	sender := &mockSender{}
	bot := NewBot(sender, withClock(clock.Now), WithDebounce(time.Second))
	ctx := context.Background()

	clock.Advance(2 * time.Second)
	require.NoError(t, bot.React(ctx, 1, liveEvent(domain.EventLive)))
	require.NoError(t, bot.React(ctx, 2, liveEvent(domain.EventLive)))
	require.NoError(t, bot.React(ctx, 1, liveEvent(domain.EventLive)))

	assert.Equal(t, []uint32{1, 2}, sender.getRooms())
}

func TestBot_IgnoresOtherNotifications(t *testing.T) {
	sender := &mockSender{}
	bot := NewBot(sender, WithDebounce(0))
	ctx := context.Background()

	notifications := []domain.Notification{
		{Kind: domain.NotifyHeartbeat},
		{Kind: domain.NotifyAuth},
		liveEvent(domain.EventPreparing),
		liveEvent(domain.EventOther),
		{Kind: domain.NotifyEvent, Event: &domain.LiveEvent{
			Kind:  domain.EventDanmu,
			Cmd:   "DANMU_MSG",
			Danmu: &domain.Danmu{UID: 1, Uname: "alice", Content: "hi"},
		}},
	}
	for _, n := range notifications {
		require.NoError(t, bot.React(ctx, 1, n))
	}

	assert.Empty(t, sender.getRooms())
}

func TestBot_Notifier(t *testing.T) {
	sender := &mockSender{}
	notifier := &mockNotifier{}
	peer := notify.Peer{Kind: notify.Group, ID: 42}
	bot := NewBot(sender, WithDebounce(0), WithNotifier(notifier, peer))

	require.NoError(t, bot.React(context.Background(), 7, liveEvent(domain.EventLive)))

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, peer, notifier.peers[0])
	assert.Contains(t, notifier.messages[0], "7")
}

func TestBot_SendErrorIsNotFatal(t *testing.T) {
	sender := &mockSender{err: errors.New("boom")}
	notifier := &mockNotifier{}
	bot := NewBot(sender, WithDebounce(0), WithNotifier(notifier, notify.Peer{}))

	err := bot.React(context.Background(), 1, liveEvent(domain.EventLive))

	assert.NoError(t, err)
	assert.Len(t, sender.getRooms(), 1)
	assert.Empty(t, notifier.messages)
}
