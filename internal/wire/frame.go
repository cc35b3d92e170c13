package wire

import (
	"encoding/binary"

	"github.com/hyperengineering/lakesync/internal/lakeerr"
)

// Tag identifies the payload carried by a frame on the persistent-connection
// transport (spec §4.B, §6).
type Tag byte

const (
	TagPush           Tag = 0x01
	TagPull           Tag = 0x02
	TagBroadcast      Tag = 0x03
	TagActionPush     Tag = 0x04
	TagActionResponse Tag = 0x05
)

func (t Tag) String() string {
	switch t {
	case TagPush:
		return "push"
	case TagPull:
		return "pull"
	case TagBroadcast:
		return "broadcast"
	case TagActionPush:
		return "action_push"
	case TagActionResponse:
		return "action_response"
	default:
		return "unknown"
	}
}

// frameHeaderLen is the tag byte plus the 4-byte big-endian body length
// prefix that precedes every frame body on the wire.
const frameHeaderLen = 1 + 4

// wrapFrame prepends the tag byte and length prefix to an already-encoded
// body, producing the bytes that go directly on the persistent connection.
func wrapFrame(tag Tag, body []byte) []byte {
	out := make([]byte, frameHeaderLen+len(body))
	out[0] = byte(tag)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

// WrapFrame is the exported form of wrapFrame, for transports and their
// test fixtures that need to frame an already-encoded body under a tag
// without one of the message-specific Encode* helpers (e.g. a push ack,
// which carries no dedicated wire type of its own).
func WrapFrame(tag Tag, body []byte) []byte {
	return wrapFrame(tag, body)
}

// SplitFrame parses the tag byte and length-prefixed body out of a raw
// frame received from the persistent connection. It validates the length
// prefix matches the actual remaining bytes, returning CODEC_ERROR on any
// truncation or mismatch.
func SplitFrame(frame []byte) (Tag, []byte, error) {
	if len(frame) < frameHeaderLen {
		return 0, nil, lakeerr.New(lakeerr.Codec, "frame shorter than header")
	}
	tag := Tag(frame[0])
	bodyLen := binary.BigEndian.Uint32(frame[1:5])
	body := frame[5:]
	if uint32(len(body)) != bodyLen {
		return 0, nil, lakeerr.New(lakeerr.Codec, "frame length prefix does not match body size")
	}
	return tag, body, nil
}
