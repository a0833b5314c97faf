package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"blive-greeting/domain"
)

// Expansion limits against decompression amplification from a hostile relay.
const (
	// DefaultMaxExpandedSize caps the decompressed bytes of one transport
	// message, summed over every compressed frame it carries (16MB).
	DefaultMaxExpandedSize = 16 * 1024 * 1024

	// DefaultMaxDepth caps how many compressed frames may wrap each other.
	DefaultMaxDepth = 8
)

// Decoding errors. All of them are fatal to the stream: once a frame
// boundary is lost the remaining bytes cannot be trusted.
var (
	ErrInvalidLength    = errors.New("protocol: invalid length data")
	ErrIncompleteHeader = errors.New("protocol: incomplete header")
	ErrIncompleteBody   = errors.New("protocol: incomplete body")
	ErrDecompress       = errors.New("protocol: decompress body")
	ErrExpandedTooLarge = errors.New("protocol: decompressed body exceeds limit")
	ErrNestingTooDeep   = errors.New("protocol: compressed frames nested too deep")
)

// Decoder demultiplexes transport messages into replies. MaxExpandedSize is
// a budget shared by all expansions of one Decode call.
type Decoder struct {
	MaxExpandedSize int
	MaxDepth        int
}

// NewDecoder creates a decoder with the default limits.
func NewDecoder() *Decoder {
	return &Decoder{
		MaxExpandedSize: DefaultMaxExpandedSize,
		MaxDepth:        DefaultMaxDepth,
	}
}

// DecodeFrames decodes buf with the default limits.
func DecodeFrames(buf []byte) ([]domain.Reply, error) {
	return NewDecoder().Decode(buf)
}

// Decode walks every frame in buf, expanding compressed bodies in place, and
// returns the leaf replies in wire order. An empty buffer yields no replies.
func (d *Decoder) Decode(buf []byte) ([]domain.Reply, error) {
	var replies []domain.Reply
	budget := d.MaxExpandedSize
	if err := d.decode(buf, 0, &budget, &replies); err != nil {
		return nil, err
	}
	return replies, nil
}

func (d *Decoder) decode(buf []byte, depth int, budget *int, replies *[]domain.Reply) error {
	for pos := 0; pos < len(buf); {
		data := buf[pos:]

		if len(data) < 6 {
			return fmt.Errorf("%w: %d bytes left at offset %d", ErrInvalidLength, len(data), pos)
		}
		size := int(binary.BigEndian.Uint32(data[0:4]))
		headerLen := int(binary.BigEndian.Uint16(data[4:6]))

		if headerLen < HeaderLength || len(data) < HeaderLength {
			return fmt.Errorf("%w: header_len=%d at offset %d", ErrIncompleteHeader, headerLen, pos)
		}
		version := binary.BigEndian.Uint16(data[6:8])
		op := binary.BigEndian.Uint32(data[8:12])

		remaining := len(data) - HeaderLength
		if remaining < size+HeaderLength-2*headerLen || size < headerLen || remaining < size-HeaderLength {
			return fmt.Errorf("%w: size=%d header_len=%d remaining=%d", ErrIncompleteBody, size, headerLen, remaining)
		}
		body := data[headerLen:size]

		switch {
		case op == OpHeartbeatAck:
			*replies = append(*replies, domain.Reply{Kind: domain.ReplyHeartbeat, Body: body})
		case op == OpAuthAck:
			*replies = append(*replies, domain.Reply{Kind: domain.ReplyAuth, Body: body})
		case version == VersionJSON && op == OpMessage:
			*replies = append(*replies, domain.Reply{Kind: domain.ReplyMessage, Body: body})
		case version == VersionGzip, version == VersionBrotli:
			if depth >= d.MaxDepth {
				return fmt.Errorf("%w: depth %d", ErrNestingTooDeep, depth)
			}
			expanded, err := d.expand(version, body, *budget)
			if err != nil {
				return err
			}
			*budget -= len(expanded)
			if err := d.decode(expanded, depth+1, budget, replies); err != nil {
				return err
			}
		}

		pos += size
	}
	return nil
}

// expand decompresses body, failing once more than limit bytes come out.
func (d *Decoder) expand(version uint16, body []byte, limit int) ([]byte, error) {
	var r io.Reader
	switch version {
	case VersionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecompress, err)
		}
		defer zr.Close()
		r = zr
	default:
		r = brotli.NewReader(bytes.NewReader(body))
	}

	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: protover %d: %v", ErrDecompress, version, err)
	}
	if n > int64(limit) {
		return nil, fmt.Errorf("%w: more than %d bytes per message", ErrExpandedTooLarge, d.MaxExpandedSize)
	}
	return out.Bytes(), nil
}
