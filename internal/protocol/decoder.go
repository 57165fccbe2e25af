package protocol

import (
	"encoding/binary"
)

// Decoder is an incremental frame decoder for a TCP byte stream. Feed it
// bytes as they arrive; it retains incomplete header or payload bytes
// until more data shows up and never discards buffered partial data on a
// short read.
type Decoder struct {
	buf        []byte
	skip       int // oversized payload bytes still to discard
	maxPayload int
}

// NewDecoder creates a decoder. maxPayload bounds a single frame's
// payload; a frame declaring more is dropped, its payload bytes
// discarded as they stream in without ever being buffered.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends data to the internal buffer and returns zero or more
// complete frames. A magic or version mismatch at a frame boundary
// returns *ProtocolError; decoded frames preceding the corruption are
// still returned alongside the error.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	d.buf = append(d.buf, data...)

	var out []Frame
	for {
		if d.skip > 0 {
			n := d.skip
			if n > len(d.buf) {
				n = len(d.buf)
			}
			d.buf = d.buf[n:]
			d.skip -= n
			if d.skip > 0 {
				return out, nil
			}
		}

		if len(d.buf) < HeaderSize {
			return out, nil
		}

		magic, version := d.buf[0], d.buf[1]
		if magic != Magic || version != Version {
			return out, &ProtocolError{Magic: magic, Version: version}
		}

		msgType := d.buf[2]
		flags := d.buf[3]
		payloadLen := int(binary.BigEndian.Uint32(d.buf[4:8]))

		if payloadLen > d.maxPayload {
			// Oversized frame: drop its payload as it arrives instead
			// of buffering it, so a hostile length cannot grow memory.
			d.buf = d.buf[HeaderSize:]
			d.skip = payloadLen
			continue
		}

		if len(d.buf) < HeaderSize+payloadLen {
			return out, nil
		}

		payload := make([]byte, payloadLen)
		copy(payload, d.buf[HeaderSize:HeaderSize+payloadLen])
		d.buf = d.buf[HeaderSize+payloadLen:]

		out = append(out, Frame{MsgType: msgType, Flags: flags, Payload: payload})
	}
}

// Buffered returns the number of bytes retained while waiting for the
// rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops all buffered bytes and any pending payload discard.
func (d *Decoder) Reset() {
	d.buf = nil
	d.skip = 0
}
