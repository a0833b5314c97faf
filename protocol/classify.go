package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"blive-greeting/domain"
)

// Classification errors. Only ErrAuthRejected is fatal to a connection.
var (
	ErrHeartbeatMismatch = errors.New("protocol: unexpected heartbeat reply")
	ErrAuthRejected      = errors.New("protocol: auth rejected")
	ErrMalformedMessage  = errors.New("protocol: malformed message")
)

var (
	heartbeatAck = []byte{0, 0, 0, 1}
	authOK       = []byte(`{"code":0}`)
)

func ValidateHeartbeat(body []byte) error {
	if !bytes.Equal(body, heartbeatAck) {
		return fmt.Errorf("%w: % x", ErrHeartbeatMismatch, body)
	}
	return nil
}

func ValidateAuth(body []byte) error {
	if !bytes.Equal(body, authOK) {
		return fmt.Errorf("%w: %s", ErrAuthRejected, body)
	}
	return nil
}

// Classify turns a decoded reply into the notification a handler receives.
func Classify(reply domain.Reply) (domain.Notification, error) {
	switch reply.Kind {
	case domain.ReplyHeartbeat:
		return domain.Notification{Kind: domain.NotifyHeartbeat}, ValidateHeartbeat(reply.Body)
	case domain.ReplyAuth:
		return domain.Notification{Kind: domain.NotifyAuth}, ValidateAuth(reply.Body)
	default:
		ev, err := ParseEvent(reply.Body)
		if err != nil {
			return domain.Notification{}, err
		}
		return domain.Notification{Kind: domain.NotifyEvent, Event: ev}, nil
	}
}

type envelope struct {
	Cmd  string          `json:"cmd"`
	Info json.RawMessage `json:"info"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a message body. Unknown commands yield EventOther.
func ParseEvent(body []byte) (*domain.LiveEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	ev := &domain.LiveEvent{Cmd: env.Cmd, Raw: json.RawMessage(body)}
	switch domain.EventKind(env.Cmd) {
	case domain.EventLive, domain.EventPreparing:
		ev.Kind = domain.EventKind(env.Cmd)
	case domain.EventDanmu:
		dm, err := parseDanmu(env.Info)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Cmd, err)
		}
		ev.Kind = domain.EventDanmu
		ev.Danmu = dm
	case domain.EventInteract:
		ev.Kind = domain.EventInteract
		if len(env.Data) > 0 && string(env.Data) != "null" {
			var in domain.Interaction
			if err := json.Unmarshal(env.Data, &in); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Cmd, err)
			}
			ev.Interaction = &in
		}
	default:
		ev.Kind = domain.EventOther
	}
	return ev, nil
}

// Positions inside the DANMU_MSG info array.
const (
	infoContent = 1
	infoUser    = 2
	infoMedal   = 3
	infoExtra   = 9
)

// Positions inside the fan badge array.
const (
	medalLevel      = 0
	medalName       = 1
	medalTargetName = 2
	medalRoomID     = 3
	medalTargetID   = 12
)

func parseDanmu(raw json.RawMessage) (*domain.Danmu, error) {
	var info []json.RawMessage
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("info: %w", err)
	}
	if len(info) <= infoExtra {
		return nil, fmt.Errorf("info has %d elements", len(info))
	}

	dm := &domain.Danmu{}
	if err := json.Unmarshal(info[infoContent], &dm.Content); err != nil {
		return nil, fmt.Errorf("info[1]: %w", err)
	}

	var user []json.RawMessage
	if err := json.Unmarshal(info[infoUser], &user); err != nil {
		return nil, fmt.Errorf("info[2]: %w", err)
	}
	if len(user) < 2 {
		return nil, fmt.Errorf("info[2] has %d elements", len(user))
	}
	if err := json.Unmarshal(user[0], &dm.UID); err != nil {
		return nil, fmt.Errorf("info[2][0]: %w", err)
	}
	if err := json.Unmarshal(user[1], &dm.Uname); err != nil {
		return nil, fmt.Errorf("info[2][1]: %w", err)
	}

	medal, err := parseMedal(info[infoMedal])
	if err != nil {
		return nil, fmt.Errorf("info[3]: %w", err)
	}
	dm.Medal = medal

	var extra struct {
		TS *int64 `json:"ts"`
	}
	if err := json.Unmarshal(info[infoExtra], &extra); err != nil {
		return nil, fmt.Errorf("info[9]: %w", err)
	}
	if extra.TS == nil {
		return nil, errors.New("info[9].ts missing")
	}
	dm.Timestamp = *extra.TS
	return dm, nil
}

// parseMedal reads the positional badge array. null and [] mean no badge.
func parseMedal(raw json.RawMessage) (*domain.Medal, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) <= medalTargetID {
		return nil, fmt.Errorf("badge has %d elements", len(fields))
	}

	m := &domain.Medal{}
	targets := []struct {
		pos int
		dst any
	}{
		{medalLevel, &m.Level},
		{medalName, &m.Name},
		{medalTargetName, &m.TargetName},
		{medalRoomID, &m.RoomID},
		{medalTargetID, &m.TargetID},
	}
	for _, t := range targets {
		if err := json.Unmarshal(fields[t.pos], t.dst); err != nil {
			return nil, fmt.Errorf("badge[%d]: %w", t.pos, err)
		}
	}
	return m, nil
}
