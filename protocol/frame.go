package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// HeaderLength is the fixed header size of every frame the client builds.
const HeaderLength = 16

// Operation codes.
const (
	OpHeartbeat    uint32 = 2
	OpHeartbeatAck uint32 = 3
	OpMessage      uint32 = 5
	OpAuth         uint32 = 7
	OpAuthAck      uint32 = 8
)

// Protocol versions.
const (
	VersionJSON   uint16 = 0
	VersionPlain  uint16 = 1
	VersionGzip   uint16 = 2
	VersionBrotli uint16 = 3
)

// heartbeatBody is what the web client sends as its keep-alive payload.
const heartbeatBody = "[object Object]"

// Frame is the unit of wire transmission.
//
// Wire format (all integers big-endian):
//
//	┌──────────┬──────────────┬──────────────┬──────────────┬──────────┐
//	│ size     │ header_len   │ protover     │ operation    │ sequence │
//	│ (4 bytes)│ (2 bytes)    │ (2 bytes)    │ (4 bytes)    │ (4 bytes)│
//	└──────────┴──────────────┴──────────────┴──────────────┴──────────┘
//	│ body (size - header_len bytes)                                  │
//	└─────────────────────────────────────────────────────────────────┘
type Frame struct {
	Version   uint16
	Operation uint32
	Sequence  uint32
	Body      []byte
}

// NewFrame returns a plain frame with sequence 1.
func NewFrame(body []byte, op uint32) *Frame {
	return &Frame{
		Version:   VersionPlain,
		Operation: op,
		Sequence:  1,
		Body:      body,
	}
}

// Encode encodes the frame with a 16 byte header. No compression is applied.
func (f *Frame) Encode() []byte {
	size := HeaderLength + len(f.Body)
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(size))
	binary.BigEndian.PutUint16(buf[4:6], HeaderLength)
	binary.BigEndian.PutUint16(buf[6:8], f.Version)
	binary.BigEndian.PutUint32(buf[8:12], f.Operation)
	binary.BigEndian.PutUint32(buf[12:16], f.Sequence)
	copy(buf[HeaderLength:], f.Body)
	return buf
}

// BuildFrame encodes body as a plain frame with the given operation code.
func BuildFrame(body []byte, op uint32) []byte {
	return NewFrame(body, op).Encode()
}

type authBody struct {
	UID      uint64 `json:"uid"`
	RoomID   uint32 `json:"roomid"`
	Protover int    `json:"protover"`
	Buvid    string `json:"buvid"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key"`
}

// BuildAuthFrame encodes the auth request sent right after the transport opens.
func BuildAuthFrame(uid uint64, roomID uint32, buvid, token string) ([]byte, error) {
	body, err := json.Marshal(authBody{
		UID:      uid,
		RoomID:   roomID,
		Protover: int(VersionBrotli),
		Buvid:    buvid,
		Platform: "web",
		Type:     2,
		Key:      token,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode auth: %w", err)
	}
	return BuildFrame(body, OpAuth), nil
}

func BuildHeartbeatFrame() []byte {
	return BuildFrame([]byte(heartbeatBody), OpHeartbeat)
}
