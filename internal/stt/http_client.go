package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/crosstalklabs/speech-relay/internal/resilience"
)

// ClientConfig configures the HTTP transcription client.
type ClientConfig struct {
	URL               string
	Timeout           time.Duration
	NoSpeechThreshold float64
	Retry             resilience.RetryConfig
	BreakerFailures   int
	BreakerReset      time.Duration
}

// Client talks to a transcription engine over HTTP JSON. The window's
// samples travel as base64 little-endian float32; the engine answers
// with a single hypothesis.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	breaker    *resilience.Breaker
}

type transcribeRequest struct {
	Audio             string  `json:"audio"` // base64 float32le mono
	SampleFormat      string  `json:"sample_format"`
	Language          string  `json:"language"`
	NoSpeechThreshold float64 `json:"no_speech_threshold"`
}

type transcribeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewClient creates a transcription client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset == 0 {
		cfg.BreakerReset = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewBreaker("stt", cfg.BreakerFailures, cfg.BreakerReset),
	}
}

// Transcribe sends one window to the engine and returns its hypothesis.
// Failures come back as *TranscriptionError.
func (c *Client) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	var text string
	call := func() error {
		var err error
		text, err = c.doRequest(ctx, samples, language)
		return err
	}

	err := c.breaker.Call(func() error {
		return resilience.Do(ctx, c.cfg.Retry, call, resilience.IsTransient)
	})
	if err != nil {
		return "", &TranscriptionError{Language: language, Err: err}
	}
	return text, nil
}

// Healthy probes the engine endpoint for readiness reporting.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// BreakerState exposes the engine breaker for metrics.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *Client) doRequest(ctx context.Context, samples []float32, language string) (string, error) {
	body, err := json.Marshal(transcribeRequest{
		Audio:             base64.StdEncoding.EncodeToString(encodeFloat32LE(samples)),
		SampleFormat:      "f32le",
		Language:          language,
		NoSpeechThreshold: c.cfg.NoSpeechThreshold,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("engine error: %s", out.Error)
	}
	return out.Text, nil
}

func encodeFloat32LE(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}
