package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crosstalklabs/speech-relay/internal/resilience"
)

func testConfig(url string) ClientConfig {
	return ClientConfig{
		URL:               url,
		Timeout:           time.Second,
		NoSpeechThreshold: 0.9,
		Retry:             resilience.RetryConfig{MaxAttempts: 1},
		BreakerFailures:   100,
		BreakerReset:      time.Second,
	}
}

func TestClient_Transcribe(t *testing.T) {
	var gotReq transcribeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(transcribeResponse{Text: "hello there"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	text, err := c.Transcribe(context.Background(), []float32{0.1, -0.1, 0.2}, "en")
	if err != nil {
		t.Fatalf("Transcribe() failed: %v", err)
	}
	if text != "hello there" {
		t.Errorf("Expected %q, got %q", "hello there", text)
	}

	if gotReq.Language != "en" {
		t.Errorf("Expected language en, got %s", gotReq.Language)
	}
	if gotReq.NoSpeechThreshold != 0.9 {
		t.Errorf("Expected no_speech_threshold 0.9, got %f", gotReq.NoSpeechThreshold)
	}
	raw, err := base64.StdEncoding.DecodeString(gotReq.Audio)
	if err != nil {
		t.Fatalf("Audio is not valid base64: %v", err)
	}
	if len(raw) != 3*4 {
		t.Errorf("Expected 12 audio bytes, got %d", len(raw))
	}
}

func TestClient_EmptyWindow(t *testing.T) {
	c := NewClient(testConfig("http://invalid.example"))
	text, err := c.Transcribe(context.Background(), nil, "en")
	if err != nil || text != "" {
		t.Errorf("Empty window must shortcut to empty hypothesis, got %q err=%v", text, err)
	}
}

func TestClient_EngineFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model busy", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Transcribe(context.Background(), []float32{0.1}, "en")

	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected TranscriptionError, got %v", err)
	}
	if terr.Language != "en" {
		t.Errorf("Expected error language en, got %s", terr.Language)
	}
}

func TestClient_EngineErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transcribeResponse{Error: "model not loaded"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Transcribe(context.Background(), []float32{0.1}, "fr")
	var terr *TranscriptionError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected TranscriptionError, got %v", err)
	}
}

func TestClient_BreakerOpensOnRepeatedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.BreakerFailures = 2
	c := NewClient(cfg)

	c.Transcribe(context.Background(), []float32{0.1}, "en")
	c.Transcribe(context.Background(), []float32{0.1}, "en")

	if c.BreakerState() != resilience.Open {
		t.Errorf("Expected open breaker after repeated failures, got %v", c.BreakerState())
	}

	// Rejected fast while open, still surfaced as a TranscriptionError.
	_, err := c.Transcribe(context.Background(), []float32{0.1}, "en")
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("Expected wrapped ErrOpen, got %v", err)
	}
}

func TestClient_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	ok, err := c.Healthy(context.Background())
	if err != nil || !ok {
		t.Errorf("Expected healthy engine, got ok=%v err=%v", ok, err)
	}
}
