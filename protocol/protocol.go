// Package protocol implements the binary frame format used by stream connections.
//
// A byte stream has no message boundaries, so every frame starts with a fixed 14-byte
// header that carries the body length. The receiver reads the header first, then exactly
// that many body bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   id    │ bodyLen │    body ...    │
//	│ prp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Requests and responses share the id space of the peer that sent the request: a
// response carries the id of the request it answers.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "prp" (peer rpc protocol). Lets a listener reject
// connections that do not speak the protocol.
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (id) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation made for a single frame.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType tells the receiver how to route a frame.
type MsgType byte

const (
	MsgTypeRequest      MsgType = 0 // Peer → peer request, expects a response unless id is 0
	MsgTypeResponse     MsgType = 1 // Answer to the request with the same id
	MsgTypeHeartbeat    MsgType = 2 // KeepAlive probe (no body)
	MsgTypeClose        MsgType = 3 // Sender is closing the connection (no body)
	MsgTypeHandshake    MsgType = 4 // Dialer → listener, body is a ConnectRequest
	MsgTypeHandshakeAck MsgType = 5 // Listener → dialer, body is a ConnectResponse
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypeClose:
		return "close"
	case MsgTypeHandshake:
		return "handshake"
	case MsgTypeHandshakeAck:
		return "handshake-ack"
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=Binary
	MsgType   MsgType // See the MsgType constants
	ID        uint32  // Request id, echoed by the response
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Writers shared by several goroutines must be locked by the caller, otherwise
// frames interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.ID)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One write per frame so a frame is never split between two writers.
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, and message type.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHandshakeAck {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	id := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		ID:        id,
		BodyLen:   bodyLen,
	}, body, nil
}
