// Package channel implements comch.Conn and comch.Engine over any link that
// can carry frames, so transports only have to move bytes.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType identifies a frame on the channel.
type FrameType uint8

const (
	// FrameHello opens a connection; the payload is the service name.
	FrameHello FrameType = iota + 1
	// FrameAccept accepts a connection; the payload is the peer's max message size (u32).
	FrameAccept
	// FrameReject refuses a connection; the payload is a reason.
	FrameReject
	// FrameMessage carries a control message.
	FrameMessage
	// FrameConsumerAdded announces a consumer endpoint of the sender.
	FrameConsumerAdded
	// FrameConsumerExpired withdraws a consumer endpoint of the sender.
	FrameConsumerExpired
	// FrameBulk carries a bulk buffer addressed to the receiver's consumer.
	FrameBulk
	// FrameBye closes the connection.
	FrameBye
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameAccept:
		return "accept"
	case FrameReject:
		return "reject"
	case FrameMessage:
		return "message"
	case FrameConsumerAdded:
		return "consumer-added"
	case FrameConsumerExpired:
		return "consumer-expired"
	case FrameBulk:
		return "bulk"
	case FrameBye:
		return "bye"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

const (
	headerSize = 9
	// MaxPayload bounds a single frame payload.
	MaxPayload = 1 << 20
)

var ErrMalformedFrame = errors.New("channel: malformed frame")

// Frame is the unit exchanged over a link.
type Frame struct {
	Type     FrameType
	Consumer uint32
	Payload  []byte
}

// MarshalBinary encodes the frame as type(u8) | consumer(u32) | length(u32) | payload,
// big-endian.
func (f Frame) MarshalBinary() ([]byte, error) {
	if f.Type < FrameHello || f.Type > FrameBye {
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformedFrame, uint8(f.Type))
	}
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrMalformedFrame, len(f.Payload))
	}
	b := make([]byte, headerSize+len(f.Payload))
	b[0] = byte(f.Type)
	binary.BigEndian.PutUint32(b[1:5], f.Consumer)
	binary.BigEndian.PutUint32(b[5:9], uint32(len(f.Payload)))
	copy(b[headerSize:], f.Payload)
	return b, nil
}

// UnmarshalBinary decodes a frame. The payload is copied.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(b))
	}
	t := FrameType(b[0])
	if t < FrameHello || t > FrameBye {
		return fmt.Errorf("%w: unknown type %d", ErrMalformedFrame, b[0])
	}
	n := binary.BigEndian.Uint32(b[5:9])
	if int(n) != len(b)-headerSize {
		return fmt.Errorf("%w: length %d with %d payload bytes", ErrMalformedFrame, n, len(b)-headerSize)
	}
	f.Type = t
	f.Consumer = binary.BigEndian.Uint32(b[1:5])
	f.Payload = append([]byte(nil), b[headerSize:]...)
	return nil
}
