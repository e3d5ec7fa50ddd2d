package accessory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Timing defaults.
const (
	// DefaultRequestTimeout bounds every device HTTP request.
	DefaultRequestTimeout = 8 * time.Second

	// DefaultSensorInterval is the sensor poll period.
	DefaultSensorInterval = 60 * time.Second

	// DefaultStatusInterval is the switch status poll period.
	DefaultStatusInterval = 5 * time.Second
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Binding pulls one field out of a status document and writes it to a store.
type Binding struct {
	Field string
	Apply func(doc Document) error
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Name labels log entries, for example "switch status" or "sensor".
	Name     string
	URL      string
	Interval time.Duration
	// Timeout bounds each request. Zero selects DefaultRequestTimeout.
	Timeout  time.Duration
	Bindings []Binding
	Client   HTTPDoer
	Logger   Logger
}

// Poller fetches a JSON status document on a fixed period.
//
// The first fetch happens as soon as the poller starts. Each fetch runs on
// its own goroutine, so a slow device can have several requests in flight;
// their writes land in whatever order the responses arrive. A failed fetch
// is logged and the next tick is the retry.
type Poller struct {
	cfg    PollerConfig
	logger Logger

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPoller validates cfg and fills defaults.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("poller %s: url is required", cfg.Name)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poller %s: interval must be positive", cfg.Name)
	}
	if len(cfg.Bindings) == 0 {
		return nil, fmt.Errorf("poller %s: at least one binding is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	return &Poller{
		cfg:    cfg,
		logger: orNoop(cfg.Logger),
	}, nil
}

// Start launches the poll loop. It runs until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
}

// Wait blocks until the loop and every in-flight fetch have returned.
// Call it after cancelling the context passed to Start.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.spawn(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("status poll failed",
				"poller", p.cfg.Name,
				"url", p.cfg.URL,
				"error", err,
			)
		}
	}()
}

// PollOnce performs one fetch and applies every binding.
//
// Transport and decode failures are returned wrapped in ErrTransport.
// A binding that cannot extract its field is logged and skipped; the
// other bindings still apply.
func (p *Poller) PollOnce(ctx context.Context) error {
	doc, err := p.fetch(ctx)
	if err != nil {
		return err
	}

	for _, b := range p.cfg.Bindings {
		if err := b.Apply(doc); err != nil {
			p.logger.Warn("status field not applied",
				"poller", p.cfg.Name,
				"field", b.Field,
				"error", err,
			)
		}
	}
	return nil
}

func (p *Poller) fetch(ctx context.Context) (Document, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize)) //nolint:errcheck // draining for reuse
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	doc, err := DecodeDocument(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return doc, nil
}
