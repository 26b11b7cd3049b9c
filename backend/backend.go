// Package backend talks to the interview backend's HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"viva/ai"
	"viva/log"
)

type Config struct {
	URL          string
	Timeout      time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Error is a non-2xx response. Status is 0 for transport failures.
type Error struct {
	Method  string
	Path    string
	Status  int
	Attempt int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: attempt %d: %v", e.Method, e.Path, e.Attempt, e.Err)
	}
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("%s %s: HTTP %d (attempt %d): %s", e.Method, e.Path, e.Status, e.Attempt, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Terminal reports whether retrying cannot help.
func (e *Error) Terminal() bool {
	return e.Status >= 400 && e.Status < 500 && !retryableStatus(e.Status)
}

// Network reports whether the request never got an HTTP response.
func (e *Error) Network() bool { return e.Status == 0 }

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// IsNetwork reports whether err is a backend transport failure.
func IsNetwork(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Network()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type Client struct {
	cfg    Config
	client *TracedClient
}

func New(cfg Config) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &Client{cfg: cfg, client: NewTracedClient()}
}

func (c *Client) Name() string { return "backend" }

func (c *Client) URL() string { return c.cfg.URL }

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.InitialDelay)
	b = retry.WithCappedDuration(c.cfg.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.cfg.MaxAttempts-1), b)
}

// do sends a JSON request, retrying transient failures, and decodes the
// JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}

	attempt := 0
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		resp, err := c.attempt(ctx, method, path, body)
		if err != nil {
			e := &Error{Method: method, Path: path, Attempt: attempt, Err: err}
			c.logRequest(method, path, 0, attempt, nil, err)
			if ctx.Err() != nil {
				return e
			}
			return retry.RetryableError(e)
		}
		c.logRequest(method, path, resp.StatusCode, attempt, resp, nil)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			e := &Error{Method: method, Path: path, Status: resp.StatusCode, Attempt: attempt, Body: string(resp.Body)}
			if retryableStatus(resp.StatusCode) {
				return retry.RetryableError(e)
			}
			return e
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return &Error{Method: method, Path: path, Status: resp.StatusCode, Attempt: attempt, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	})
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (*TracedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

func (c *Client) logRequest(method, path string, status, attempt int, resp *TracedResponse, err error) {
	d := log.RequestData{Method: method, Path: path, Status: status, Attempt: attempt, Err: err}
	if resp != nil && resp.Metrics != nil {
		m := resp.Metrics
		d.BodyKB = float64(len(resp.Body)) / 1024
		d.DNSMs = float64(m.DNS.Milliseconds())
		d.TLSMs = float64(m.TLS.Milliseconds())
		d.TTFBMs = float64(m.TTFB.Milliseconds())
		d.TotalMs = float64(m.Total.Milliseconds())
		d.ConnReused = m.ConnReused
	}
	log.RequestMetrics(d)
}

type Health struct {
	Status           string `json:"status"`
	APIKeyConfigured bool   `json:"api_key_configured"`
}

// Healthy reports whether the backend can serve AI requests.
func (h Health) Healthy() bool {
	return h.APIKeyConfigured && (h.Status == "" || strings.EqualFold(h.Status, "ok") || strings.EqualFold(h.Status, "healthy"))
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// CheckHealth returns nil when the backend is reachable, reports a healthy
// status and has an AI key.
func (c *Client) CheckHealth(ctx context.Context) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	switch {
	case h.Healthy():
		return nil
	case !h.APIKeyConfigured:
		return errors.New("backend has no AI API key configured")
	default:
		return fmt.Errorf("backend status %q", h.Status)
	}
}

type generateRequest struct {
	Transcript      string          `json:"transcript"`
	CurrentQuestion string          `json:"currentQuestion"`
	Options         generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
}

func (c *Client) GenerateResponse(ctx context.Context, transcript, question string, opts ai.ResponseOptions) (string, error) {
	var resp struct {
		Response string `json:"response"`
	}
	err := c.do(ctx, http.MethodPost, "/generate-response", generateRequest{
		Transcript:      transcript,
		CurrentQuestion: question,
		Options: generateOptions{
			Temperature:  opts.Temperature,
			MaxTokens:    opts.MaxTokens,
			SystemPrompt: opts.SystemPrompt,
			Model:        opts.Model,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Response)
	if reply == "" {
		return "", ai.ErrEmptyReply
	}
	return reply, nil
}

type transcribeRequest struct {
	AudioData string            `json:"audio_data"`
	MimeType  string            `json:"mime_type"`
	Options   transcribeOptions `json:"options"`
}

type transcribeOptions struct {
	Language    string  `json:"language,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Temperature float32 `json:"temperature"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string, opts ai.TranscribeOptions) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	err := c.do(ctx, http.MethodPost, "/transcribe", transcribeRequest{
		AudioData: base64.StdEncoding.EncodeToString(audio),
		MimeType:  mimeType,
		Options: transcribeOptions{
			Language:    opts.Language,
			Prompt:      opts.Prompt,
			Temperature: opts.Temperature,
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

type speechRequest struct {
	Text    string        `json:"text"`
	Options speechOptions `json:"options"`
}

type speechOptions struct {
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Model string  `json:"model,omitempty"`
}

// TextToSpeech returns MP3 bytes.
func (c *Client) TextToSpeech(ctx context.Context, text string, opts ai.SpeechOptions) ([]byte, error) {
	var resp struct {
		AudioData string `json:"audio_data"`
	}
	err := c.do(ctx, http.MethodPost, "/text-to-speech", speechRequest{
		Text:    text,
		Options: speechOptions{Voice: opts.Voice, Speed: opts.Speed, Model: opts.Model},
	}, &resp)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.AudioData)
	if err != nil {
		return nil, fmt.Errorf("decode speech audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ai.ErrEmptyReply
	}
	return data, nil
}
