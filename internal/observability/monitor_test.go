package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialMonitor(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func waitObservers(t *testing.T, m *Monitor, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.Observers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d observers, got %d", want, m.Observers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_Broadcast(t *testing.T) {
	m := NewMonitor()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	conn := dialMonitor(t, srv)
	defer conn.Close()
	waitObservers(t, m, 1)

	sent := TranscriptEvent{
		SessionID: "s1",
		Kind:      EventCommit,
		Lang:      "en",
		Text:      "hello world",
		Timestamp: time.Now().UTC(),
	}
	m.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got TranscriptEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Kind != EventCommit || got.Text != "hello world" || got.Lang != "en" {
		t.Errorf("Event mismatch: %+v", got)
	}
}

func TestMonitor_MultipleObservers(t *testing.T) {
	m := NewMonitor()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	c1 := dialMonitor(t, srv)
	defer c1.Close()
	c2 := dialMonitor(t, srv)
	defer c2.Close()
	waitObservers(t, m, 2)

	m.Publish(TranscriptEvent{Kind: EventTranslation, Lang: "fr", Text: "salut"})

	for i, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got TranscriptEvent
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("Observer %d ReadJSON failed: %v", i, err)
		}
		if got.Text != "salut" {
			t.Errorf("Observer %d: expected salut, got %q", i, got.Text)
		}
	}
}

func TestMonitor_DisconnectedObserverRemoved(t *testing.T) {
	m := NewMonitor()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	conn := dialMonitor(t, srv)
	waitObservers(t, m, 1)

	conn.Close()
	waitObservers(t, m, 0)
}

func TestMonitor_PublishWithNoObservers(t *testing.T) {
	m := NewMonitor()
	// Must not panic or block.
	m.Publish(TranscriptEvent{Kind: EventCommit, Text: "x"})
}
