package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardgate/mcp-gateway-go/pkg/errors"
	"github.com/wardgate/mcp-gateway-go/pkg/protocol"
)

// SSEConfig configures the event-stream transport.
type SSEConfig struct {
	// BaseURL is the gateway root; streams attach to {BaseURL}/events.
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// MaxStreams bounds concurrent subscriptions.
	MaxStreams int `yaml:"max_streams" validate:"min=0"`
	// DisableReconnect turns off automatic resumption; the stream then
	// ends with an error on the first disconnect.
	DisableReconnect bool `yaml:"disable_reconnect"`
	// ReconnectBase and ReconnectMax shape the reconnect backoff.
	ReconnectBase time.Duration `yaml:"reconnect_base" validate:"min=0"`
	ReconnectMax  time.Duration `yaml:"reconnect_max" validate:"min=0"`
	// Headers are added to every stream request.
	Headers map[string]string `yaml:"headers"`
	// BufferSize is the per-stream event channel capacity.
	BufferSize int `yaml:"buffer_size" validate:"min=0"`
}

// SubscribeOptions selects what a stream receives and where it resumes.
type SubscribeOptions struct {
	// EventTypes filters delivery to the named types; empty means all.
	// Frames without an event line carry the default type "message".
	EventTypes []string
	// LastEventID resumes the stream after a previously seen event.
	LastEventID string
}

// SSETransport maintains long-lived event streams against the gateway's
// /events endpoint. Each subscription is an independent stream with its own
// resumption state; delivery order is FIFO within a stream only.
type SSETransport struct {
	config SSEConfig
	client *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	streams map[*Stream]struct{}
	closed  bool
}

// NewSSETransport builds the transport.
func NewSSETransport(config SSEConfig, logger zerolog.Logger) (*SSETransport, error) {
	if config.BaseURL == "" {
		return nil, errors.Validation("sse transport requires a base_url")
	}
	if config.MaxStreams <= 0 {
		config.MaxStreams = DefaultMaxStreams
	}
	if config.ReconnectBase <= 0 {
		config.ReconnectBase = time.Second
	}
	if config.ReconnectMax <= 0 {
		config.ReconnectMax = 30 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &SSETransport{
		config: config,
		// No client timeout: streams are long-lived by design. Lifetime
		// is bounded by the subscription context.
		client:  &http.Client{},
		logger:  logger.With().Str("transport", "sse").Logger(),
		streams: make(map[*Stream]struct{}),
	}, nil
}

// Kind implements Transport.
func (t *SSETransport) Kind() Kind { return KindSSE }

// Connect is a no-op; streams attach lazily per subscription.
func (t *SSETransport) Connect(ctx context.Context) error { return nil }

// HealthCheck verifies the gateway answers at all.
func (t *SSETransport) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.BaseURL+"/health", nil)
	if err != nil {
		return errors.Transport("sse", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.ConnectionFailed("sse", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return errors.Transport("sse", fmt.Errorf("health endpoint returned %d", resp.StatusCode))
	}
	return nil
}

// Disconnect closes every active stream.
func (t *SSETransport) Disconnect() error {
	t.mu.Lock()
	t.closed = true
	streams := make([]*Stream, 0, len(t.streams))
	for s := range t.streams {
		streams = append(streams, s)
	}
	t.mu.Unlock()

	for _, s := range streams {
		_ = s.Close()
	}
	return nil
}

// ActiveStreams reports the number of open subscriptions.
func (t *SSETransport) ActiveStreams() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// Subscribe opens a new event stream. The returned Stream delivers events in
// arrival order on Events() until Close is called, ctx ends, or, with
// reconnection disabled, the connection drops.
func (t *SSETransport) Subscribe(ctx context.Context, opts SubscribeOptions) (*Stream, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.ClientClosed()
	}
	if len(t.streams) >= t.config.MaxStreams {
		t.mu.Unlock()
		return nil, errors.Transport("sse", fmt.Errorf("stream pool limit %d reached", t.config.MaxStreams))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		transport:   t,
		events:      make(chan protocol.Event, t.config.BufferSize),
		done:        make(chan struct{}),
		cancel:      cancel,
		lastEventID: opts.LastEventID,
		eventTypes:  typeSet(opts.EventTypes),
		opts:        opts,
		logger:      t.logger.With().Strs("event_types", opts.EventTypes).Logger(),
	}
	t.streams[s] = struct{}{}
	t.mu.Unlock()

	go s.run(streamCtx)
	return s, nil
}

func (t *SSETransport) remove(s *Stream) {
	t.mu.Lock()
	delete(t.streams, s)
	t.mu.Unlock()
}

func typeSet(types []string) map[string]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(types))
	for _, tp := range types {
		set[tp] = struct{}{}
	}
	return set
}

// Stream is one live subscription. Events are delivered strictly in arrival
// order; when the internal buffer fills, delivery applies backpressure to the
// network read rather than dropping events.
type Stream struct {
	transport *SSETransport
	events    chan protocol.Event
	done      chan struct{}
	cancel    context.CancelFunc
	opts      SubscribeOptions
	logger    zerolog.Logger

	mu          sync.Mutex
	lastEventID string
	err         error
	closeOnce   sync.Once

	eventTypes map[string]struct{}

	// delivered notes whether the current connection handed out at least
	// one event; only touched from the run goroutine.
	delivered bool
}

// Events returns the delivery channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan protocol.Event { return s.events }

// Err reports why the stream ended. Nil until the Events channel is closed,
// and nil after a clean Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastEventID returns the id of the most recently delivered event; used to
// resume a replacement stream.
func (s *Stream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// Close terminates the stream and releases its connection.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer func() {
		s.transport.remove(s)
		close(s.events)
		close(s.done)
	}()

	attempt := 0
	for {
		s.delivered = false
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if s.transport.config.DisableReconnect {
			s.fail(err)
			return
		}

		// A connection that delivered events was healthy; start the
		// backoff over instead of compounding old failures.
		if s.delivered {
			attempt = 0
		}
		attempt++
		delay := reconnectDelay(s.transport.config.ReconnectBase, s.transport.config.ReconnectMax, attempt)
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("last_event_id", s.LastEventID()).
			Msg("event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume opens one connection and pumps events until it drops.
func (s *Stream) consume(ctx context.Context) error {
	u := s.transport.config.BaseURL + "/events"
	if len(s.opts.EventTypes) > 0 {
		q := url.Values{}
		q.Set("types", strings.Join(s.opts.EventTypes, ","))
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Transport("sse", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := s.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	for k, v := range s.transport.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.transport.client.Do(req)
	if err != nil {
		return errors.ConnectionFailed("sse", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return errors.Transport("sse", fmt.Errorf("events endpoint returned %d", resp.StatusCode))
	}

	return s.readEvents(ctx, resp.Body)
}

// readEvents parses text/event-stream frames: data:, id:, event: and retry:
// lines terminated by a blank line per frame.
func (s *Stream) readEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		data      strings.Builder
		eventType string
		eventID   string
	)
	flush := func() error {
		defer func() {
			data.Reset()
			eventType = ""
			eventID = ""
		}()
		if data.Len() == 0 {
			return nil
		}
		if eventID != "" {
			s.mu.Lock()
			s.lastEventID = eventID
			s.mu.Unlock()
		}
		// Frames without an event: line carry the protocol default type.
		if eventType == "" {
			eventType = "message"
		}
		if s.eventTypes != nil {
			if _, ok := s.eventTypes[eventType]; !ok {
				return nil
			}
		}
		ev := protocol.Event{ID: eventID, Type: eventType, Data: []byte(data.String())}
		select {
		case s.events <- ev:
			s.delivered = true
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "retry:"):
			// Server-suggested reconnect delay; our backoff governs.
		case strings.HasPrefix(line, ":"):
			// Comment / keepalive.
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Transport("sse", err)
	}
	return errors.Transport("sse", io.EOF)
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// reconnectDelay is min(base * 2^(attempt-1), max) with +/-25% jitter, the
// same shape the retry policy uses.
func reconnectDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	d = time.Duration(float64(d) * (1 + 0.25*(2*rand.Float64()-1)))
	if d > max {
		d = max
	}
	return d
}
