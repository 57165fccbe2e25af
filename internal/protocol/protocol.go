package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire constants for the relay framing protocol.
const (
	Magic   = 0xAA
	Version = 1

	// Message types
	MsgAudio = 0x01
	MsgText  = 0x02

	// Flag bits
	FlagLang1In  = 0x01
	FlagLang2In  = 0x02
	FlagLang1Out = 0x04
	FlagLang2Out = 0x08

	// HeaderSize is the fixed wire header length:
	// magic(1) + version(1) + msg_type(1) + flags(1) + payload_len(4), big-endian.
	HeaderSize = 8

	// DefaultMaxPayload bounds a single frame's payload.
	DefaultMaxPayload = 4096
)

// Frame is one header+payload unit on the wire.
type Frame struct {
	MsgType uint8
	Flags   uint8
	Payload []byte
}

// ProtocolError reports a corrupt header at a frame boundary. Frame
// boundaries cannot be rediscovered within a corrupted stream, so the
// session is closed when one is observed.
type ProtocolError struct {
	Magic   uint8
	Version uint8
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: magic=0x%02X version=%d (want 0x%02X/%d)",
		e.Magic, e.Version, Magic, Version)
}

// Encode builds a well-formed frame: 8-byte header followed by the payload.
func Encode(msgType, flags uint8, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = Magic
	buf[1] = Version
	buf[2] = msgType
	buf[3] = flags
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// IsValidMsgType checks if the message type is one the relay understands.
func IsValidMsgType(t uint8) bool {
	return t == MsgAudio || t == MsgText
}

// InputFlagLang maps an input flag to a language label. Returns current
// when neither input bit is set (the sender keeps talking in the same
// language without re-flagging every frame).
func InputFlagLang(flags uint8, current, lang1, lang2 string) string {
	if flags&FlagLang1In != 0 {
		return lang1
	}
	if flags&FlagLang2In != 0 {
		return lang2
	}
	return current
}

// OutputFlag returns the output flag bit for a target language.
func OutputFlag(lang, lang1 string) uint8 {
	if lang == lang1 {
		return FlagLang1Out
	}
	return FlagLang2Out
}

// String returns a human-readable representation of the frame.
func (f *Frame) String() string {
	var t string
	switch f.MsgType {
	case MsgAudio:
		t = "Audio"
	case MsgText:
		t = "Text"
	default:
		t = fmt.Sprintf("Unknown(0x%02x)", f.MsgType)
	}
	return fmt.Sprintf("Frame{Type:%s, Flags:0x%02X, PayloadLen:%d}", t, f.Flags, len(f.Payload))
}
