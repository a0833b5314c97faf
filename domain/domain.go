package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrMissingUID = errors.New("credentials: missing DedeUserID")

// Credential keys issued by the login flow.
const (
	KeyUID    = "DedeUserID"
	KeyCSRF   = "bili_jct"
	KeyBuvid3 = "buvid3"
)

// Credentials maps session cookie names to values. Read-only once a
// connection attempt starts.
type Credentials map[string]string

func (c Credentials) UID() (uint64, error) {
	raw, ok := c[KeyUID]
	if !ok || raw == "" {
		return 0, ErrMissingUID
	}
	uid, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("credentials: parse uid: %w", err)
	}
	return uid, nil
}

func (c Credentials) Buvid() string { return c[KeyBuvid3] }
func (c Credentials) CSRF() string  { return c[KeyCSRF] }

type ReplyKind int

const (
	ReplyHeartbeat ReplyKind = iota
	ReplyAuth
	ReplyMessage
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyHeartbeat:
		return "heartbeat"
	case ReplyAuth:
		return "auth"
	case ReplyMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Reply is one leaf frame produced by the decoder.
type Reply struct {
	Kind ReplyKind
	Body []byte
}

type EventKind string

const (
	EventLive      EventKind = "LIVE"
	EventPreparing EventKind = "PREPARING"
	EventDanmu     EventKind = "DANMU_MSG"
	EventInteract  EventKind = "INTERACT_WORD"
	EventOther     EventKind = "OTHER"
)

// LiveEvent is the decoded payload of a message reply. Danmu is set for
// EventDanmu, Interaction for EventInteract.
type LiveEvent struct {
	Kind        EventKind
	Cmd         string
	Danmu       *Danmu
	Interaction *Interaction
	Raw         json.RawMessage
}

type Danmu struct {
	UID       uint64
	Uname     string
	Content   string
	Medal     *Medal
	Timestamp int64
}

// Medal is the fan badge a chat sender wears.
type Medal struct {
	Level      int
	Name       string
	TargetName string
	RoomID     uint32
	TargetID   uint64
}

type Interaction struct {
	UID     uint64 `json:"uid"`
	Uname   string `json:"uname"`
	MsgType int    `json:"msg_type"`
}

type NotificationKind int

const (
	NotifyHeartbeat NotificationKind = iota
	NotifyAuth
	NotifyEvent
)

// Notification is what a Handler receives per classified reply.
type Notification struct {
	Kind  NotificationKind
	Event *LiveEvent
}

// Handler reacts to classified replies of one room connection. A non-nil
// error stops the connection's reader. Implementations shared between rooms
// must guard their own state.
type Handler interface {
	React(ctx context.Context, roomID uint32, n Notification) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, roomID uint32, n Notification) error

func (f HandlerFunc) React(ctx context.Context, roomID uint32, n Notification) error {
	return f(ctx, roomID, n)
}

// MessageHandler consumes one inbound transport message.
type MessageHandler interface {
	Handle(ctx context.Context, data []byte) error
}

type RelayHost struct {
	Host    string `json:"host"`
	Port    uint16 `json:"port"`
	WSSPort uint16 `json:"wss_port"`
	WSPort  uint16 `json:"ws_port"`
}

type RoomInfo struct {
	Token    string      `json:"token"`
	HostList []RelayHost `json:"host_list"`
}

type RoomResolver interface {
	ResolveRoom(ctx context.Context, roomID uint32, creds Credentials) (*RoomInfo, error)
}

// ConnParams is resolved once per connection attempt.
type ConnParams struct {
	RoomID      uint32
	RelayHost   string
	RelayPort   uint16
	AuthToken   string
	Credentials Credentials
}

type Connection interface {
	ID() string
	Room() uint32
	Close() error
}

type Registry interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Stats() (rooms, connections int)
}
