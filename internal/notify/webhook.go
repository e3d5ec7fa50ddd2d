package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds each webhook delivery.
const DefaultTimeout = 8 * time.Second

// maxResponseDrain caps how much of a response body is read before closing.
const maxResponseDrain = 64 << 10

// Logger is the logging interface used by the webhook.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures a Webhook.
type Config struct {
	URL string
	// Username overrides the poster name. Empty uses the accessory name.
	Username  string
	AvatarURL string
	Timeout   time.Duration
	Client    *http.Client
	Logger    Logger
}

// Webhook posts accessory announcements to a chat webhook.
//
// Announce returns at once; delivery happens in the background and failures
// are only logged. Close waits for deliveries still in flight.
type Webhook struct {
	cfg    Config
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// message is the JSON body accepted by Discord-compatible webhooks.
type message struct {
	Username        string          `json:"username,omitempty"`
	AvatarURL       string          `json:"avatar_url,omitempty"`
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// New creates a webhook sink.
func New(cfg Config) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Webhook{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Announce posts message in the background.
func (w *Webhook) Announce(deviceName, content string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		if err := w.Send(w.ctx, deviceName, content); err != nil {
			w.logger.Warn("webhook notification failed", "accessory", deviceName, "error", err)
		}
	}()
}

// Send posts one message and waits for the response.
func (w *Webhook) Send(ctx context.Context, deviceName, content string) error {
	username := w.cfg.Username
	if username == "" {
		username = deviceName
	}

	body, err := json.Marshal(message{
		Username:        username,
		AvatarURL:       w.cfg.AvatarURL,
		Content:         content,
		AllowedMentions: allowedMentions{Parse: []string{"users", "roles"}},
	})
	if err != nil {
		return fmt.Errorf("encoding webhook message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain)) //nolint:errcheck // draining for reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debug("webhook notification sent", "accessory", deviceName)
	return nil
}

// Close stops accepting announcements and waits up to the delivery timeout
// for those in flight.
func (w *Webhook) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.Timeout):
		w.cancel()
		<-done
	}
	w.cancel()
}
