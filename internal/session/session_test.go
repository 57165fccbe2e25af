package session

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/protocol"
)

type scriptedTranscriber struct {
	text string
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, samples []float32, _ string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	return s.text, nil
}

type echoTranslator struct{}

func (echoTranslator) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	return targetLang + ":" + text, nil
}

func sessionConfig() *config.Config {
	return &config.Config{
		SampleRate:        100,
		Channels:          2,
		BitDepth:          16,
		WindowSeconds:     0.4,
		StepHz:            50, // fast ticks to keep the test short
		MinWindowSeconds:  0.1,
		MaxBufferSeconds:  2.0,
		Lang1Label:        "en",
		Lang2Label:        "fr",
		CommitHistory:     3,
		CommitMinChars:    1,
		TextMaxPayload:    128,
		MaxPayload:        4096,
		NoSpeechGapMs:     60000, // effectively off
		SilenceRMS:        0.005,
		OutboundQueueSize: 64,
	}
}

// pack16Stereo builds n interleaved stereo frames with the given sample
// value on both channels.
func pack16Stereo(value int16, n int) []byte {
	out := make([]byte, 0, n*4)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(value))
	for i := 0; i < n; i++ {
		out = append(out, b[0], b[1], b[0], b[1])
	}
	return out
}

// collectText reads the peer side of the pipe and forwards decoded text
// frames until the connection dies.
func collectText(t *testing.T, conn net.Conn) <-chan protocol.Frame {
	t.Helper()
	frames := make(chan protocol.Frame, 16)
	go func() {
		defer close(frames)
		dec := protocol.NewDecoder(protocol.DefaultMaxPayload)
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				decoded, decErr := dec.Feed(buf[:n])
				for _, f := range decoded {
					if f.MsgType == protocol.MsgText {
						frames <- f
					}
				}
				if decErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return frames
}

func startSession(t *testing.T, cfg *config.Config, stt *scriptedTranscriber) (client net.Conn, done <-chan error, cancel context.CancelFunc) {
	t.Helper()
	server, clientConn := net.Pipe()

	s, err := New(Params{
		Conn:        server,
		Config:      cfg,
		Transcriber: stt,
		Translator:  echoTranslator{},
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		clientConn.Close()
	})
	return clientConn, errCh, cancelFn
}

func TestSession_AudioInTranslationOut(t *testing.T) {
	client, _, _ := startSession(t, sessionConfig(), &scriptedTranscriber{text: "hello"})
	frames := collectText(t, client)

	payload := pack16Stereo(16384, 20)
	if _, err := client.Write(protocol.Encode(protocol.MsgAudio, protocol.FlagLang1In, payload)); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	select {
	case f := <-frames:
		if f.Flags != protocol.FlagLang2Out {
			t.Errorf("Expected lang2 output flag, got 0x%02x", f.Flags)
		}
		if string(f.Payload) != "fr:hello" {
			t.Errorf("Expected payload 'fr:hello', got %q", f.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for translated text frame")
	}
}

func TestSession_Lang2AudioTranslatesToLang1(t *testing.T) {
	client, _, _ := startSession(t, sessionConfig(), &scriptedTranscriber{text: "bonjour"})
	frames := collectText(t, client)

	payload := pack16Stereo(16384, 20)
	if _, err := client.Write(protocol.Encode(protocol.MsgAudio, protocol.FlagLang2In, payload)); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	select {
	case f := <-frames:
		if f.Flags != protocol.FlagLang1Out {
			t.Errorf("Expected lang1 output flag, got 0x%02x", f.Flags)
		}
		if string(f.Payload) != "en:bonjour" {
			t.Errorf("Expected payload 'en:bonjour', got %q", f.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for translated text frame")
	}
}

func TestSession_ProtocolViolationEndsSession(t *testing.T) {
	client, done, _ := startSession(t, sessionConfig(), &scriptedTranscriber{})

	if _, err := client.Write([]byte{0xFF, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("Failed to write corrupt frame: %v", err)
	}

	select {
	case err := <-done:
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("Expected protocol error from session, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Session did not end on protocol violation")
	}
}

func TestSession_ClientDisconnectEndsCleanly(t *testing.T) {
	client, done, _ := startSession(t, sessionConfig(), &scriptedTranscriber{})

	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown on client disconnect, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Session did not end on client disconnect")
	}
}

func TestSession_CancelFlushesPendingText(t *testing.T) {
	cfg := sessionConfig()
	cfg.CommitMinChars = 100 // hold all text back until a flush
	client, done, cancel := startSession(t, cfg, &scriptedTranscriber{text: "pending words"})
	frames := collectText(t, client)

	payload := pack16Stereo(16384, 20)
	if _, err := client.Write(protocol.Encode(protocol.MsgAudio, protocol.FlagLang1In, payload)); err != nil {
		t.Fatalf("Failed to write audio frame: %v", err)
	}

	// Give the worker a few ticks to transcribe, then hang up our side.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("Connection closed before the flushed text arrived")
		}
		if string(f.Payload) != "fr:pending words" {
			t.Errorf("Expected flushed payload 'fr:pending words', got %q", f.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for flushed text frame")
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Session did not end after cancel")
	}
}
