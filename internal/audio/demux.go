package audio

import (
	"fmt"
)

// Channel selects which interleaved channel a demux produces.
type Channel int

const (
	Left Channel = iota
	Right
	Mix
)

// DecodeError reports an audio payload whose length is not a multiple of
// the sample-frame width (bytes per sample x channel count).
type DecodeError struct {
	PayloadLen int
	FrameBytes int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio decode error: payload length %d not a multiple of frame width %d",
		e.PayloadLen, e.FrameBytes)
}

// Demuxer converts packed interleaved PCM payloads into mono float32
// samples in [-1.0, 1.0]. Samples are signed little-endian two's
// complement; bit depth and channel count are fixed for a session. Bytes
// left over after the last whole sample frame are carried into the next
// payload, so senders may split sample frames across packets freely.
type Demuxer struct {
	channels       int
	bytesPerSample int
	carry          []byte
}

// NewDemuxer creates a demuxer for the given channel count and bit depth.
// Supported bit depths are 16 and 24.
func NewDemuxer(channels, bitDepth int) (*Demuxer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	switch bitDepth {
	case 16, 24:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d (want 16 or 24)", bitDepth)
	}
	return &Demuxer{channels: channels, bytesPerSample: bitDepth / 8}, nil
}

// FrameBytes returns the byte width of one interleaved sample frame.
func (d *Demuxer) FrameBytes() int {
	return d.bytesPerSample * d.channels
}

// Demux decodes a payload, prepending any carried partial frame from the
// previous call. The result may be empty when the combined data is
// shorter than one sample frame.
func (d *Demuxer) Demux(payload []byte, ch Channel) []float32 {
	data := payload
	if len(d.carry) > 0 {
		data = append(append([]byte{}, d.carry...), payload...)
		d.carry = nil
	}

	frameBytes := d.FrameBytes()
	trim := len(data) - len(data)%frameBytes
	if trim < len(data) {
		d.carry = append([]byte{}, data[trim:]...)
		data = data[:trim]
	}
	if len(data) == 0 {
		return nil
	}

	samples, _ := Decode(data, d.channels, d.bytesPerSample*8, ch)
	return samples
}

// Reset discards any carried partial sample frame.
func (d *Demuxer) Reset() {
	d.carry = nil
}

// Decode converts a packed PCM buffer to mono float32 samples. Unlike
// Demuxer.Demux it is stateless and fails with *DecodeError when the
// buffer is not whole sample frames.
func Decode(data []byte, channels, bitDepth int, ch Channel) ([]float32, error) {
	bytesPerSample := bitDepth / 8
	frameBytes := bytesPerSample * channels
	if len(data)%frameBytes != 0 {
		return nil, &DecodeError{PayloadLen: len(data), FrameBytes: frameBytes}
	}

	frames := len(data) / frameBytes
	out := make([]float32, frames)
	scale := float32(int32(1) << (bitDepth - 1))

	for i := 0; i < frames; i++ {
		base := i * frameBytes
		switch ch {
		case Mix:
			var sum float32
			for c := 0; c < channels; c++ {
				sum += float32(decodeSample(data[base+c*bytesPerSample:], bytesPerSample))
			}
			out[i] = sum / float32(channels) / scale
		case Right:
			c := channels - 1
			out[i] = float32(decodeSample(data[base+c*bytesPerSample:], bytesPerSample)) / scale
		default:
			out[i] = float32(decodeSample(data[base:], bytesPerSample)) / scale
		}
	}
	return out, nil
}

// decodeSample reads one signed little-endian sample of 2 or 3 bytes.
func decodeSample(b []byte, bytesPerSample int) int32 {
	if bytesPerSample == 2 {
		return int32(int16(uint16(b[0]) | uint16(b[1])<<8))
	}
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}
