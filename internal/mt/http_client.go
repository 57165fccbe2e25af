package mt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crosstalklabs/speech-relay/internal/resilience"
)

// ClientConfig configures the HTTP translation client.
type ClientConfig struct {
	URL             string
	Timeout         time.Duration
	Retry           resilience.RetryConfig
	BreakerFailures int
	BreakerReset    time.Duration
}

// Client talks to a translation engine over HTTP JSON.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	breaker    *resilience.Breaker
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	Error          string `json:"error,omitempty"`
}

// NewClient creates a translation client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
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
		breaker:    resilience.NewBreaker("mt", cfg.BreakerFailures, cfg.BreakerReset),
	}
}

// Translate converts text to the target language. Failures come back as
// *TranslationError; empty input shortcuts to empty output.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	var translated string
	call := func() error {
		var err error
		translated, err = c.doRequest(ctx, text, sourceLang, targetLang)
		return err
	}

	err := c.breaker.Call(func() error {
		return resilience.Do(ctx, c.cfg.Retry, call, resilience.IsTransient)
	})
	if err != nil {
		return "", &TranslationError{SourceLang: sourceLang, TargetLang: targetLang, Err: err}
	}
	return translated, nil
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

func (c *Client) doRequest(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	body, err := json.Marshal(translateRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/translate", bytes.NewReader(body))
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

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("engine error: %s", out.Error)
	}
	return out.TranslatedText, nil
}
