package server

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/protocol"
)

type fixedTranscriber struct{ text string }

func (f *fixedTranscriber) Transcribe(_ context.Context, samples []float32, _ string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	return f.text, nil
}

type taggingTranslator struct{}

func (taggingTranslator) Translate(_ context.Context, text, _, targetLang string) (string, error) {
	return targetLang + ":" + text, nil
}

func serverConfig() *config.Config {
	return &config.Config{
		ListenAddr:        "127.0.0.1:0",
		SampleRate:        100,
		Channels:          2,
		BitDepth:          16,
		WindowSeconds:     0.4,
		StepHz:            50,
		MinWindowSeconds:  0.1,
		MaxBufferSeconds:  2.0,
		Lang1Label:        "en",
		Lang2Label:        "fr",
		CommitHistory:     3,
		CommitMinChars:    1,
		TextMaxPayload:    128,
		MaxPayload:        4096,
		NoSpeechGapMs:     60000,
		SilenceRMS:        0.005,
		OutboundQueueSize: 64,
	}
}

func startServer(t *testing.T, cfg *config.Config) (addr string, shutdown func()) {
	t.Helper()
	srv := New(Params{
		Config:      cfg,
		Transcriber: &fixedTranscriber{text: "hello"},
		Translator:  taggingTranslator{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Server did not bind in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return srv.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Expected clean server shutdown, got %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Server did not shut down in time")
		}
	}
}

func audioFrame(n int) []byte {
	payload := make([]byte, 0, n*4)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(16384))
	for i := 0; i < n; i++ {
		payload = append(payload, b[0], b[1], b[0], b[1])
	}
	return protocol.Encode(protocol.MsgAudio, protocol.FlagLang1In, payload)
}

func readTextFrame(t *testing.T, conn net.Conn, timeout time.Duration) (protocol.Frame, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	dec := protocol.NewDecoder(protocol.DefaultMaxPayload)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, decErr := dec.Feed(buf[:n])
			if decErr != nil {
				t.Fatalf("Corrupt frame from server: %v", decErr)
			}
			for _, f := range frames {
				if f.MsgType == protocol.MsgText {
					return f, true
				}
			}
		}
		if err != nil {
			return protocol.Frame{}, false
		}
	}
}

func TestServer_RelaysTranslatedText(t *testing.T) {
	addr, shutdown := startServer(t, serverConfig())
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(audioFrame(20)); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}

	f, ok := readTextFrame(t, conn, 3*time.Second)
	if !ok {
		t.Fatal("Timed out waiting for translated text")
	}
	if string(f.Payload) != "fr:hello" {
		t.Errorf("Expected payload 'fr:hello', got %q", f.Payload)
	}
	if f.Flags != protocol.FlagLang2Out {
		t.Errorf("Expected lang2 output flag, got 0x%02x", f.Flags)
	}
}

func TestServer_NewConnectionSupersedesOld(t *testing.T) {
	addr, shutdown := startServer(t, serverConfig())
	defer shutdown()

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	defer first.Close()

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial relay again: %v", err)
	}
	defer second.Close()

	// The first connection should be closed out from under us.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64)
	if _, err := first.Read(buf); err == nil {
		t.Error("Expected first connection to be closed after supersede")
	}

	// The second connection gets full service.
	if _, err := second.Write(audioFrame(20)); err != nil {
		t.Fatalf("Failed to send audio on second connection: %v", err)
	}
	f, ok := readTextFrame(t, second, 3*time.Second)
	if !ok {
		t.Fatal("Timed out waiting for text on second connection")
	}
	if string(f.Payload) != "fr:hello" {
		t.Errorf("Expected payload 'fr:hello', got %q", f.Payload)
	}
}

func TestServer_ShutdownClosesListener(t *testing.T) {
	addr, shutdown := startServer(t, serverConfig())
	shutdown()

	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Error("Expected dial to fail after shutdown")
	}
}
