// Package stream provides a single-flight, cancellable channel for on-demand
// streamed generation (prep checklists, decision help, follow-up detail).
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/coparent-ritual/internal/generation"
)

// updateBuffer bounds how far the producer can run ahead of a reader of Updates.
const updateBuffer = 64

// ErrUnknownKind is returned by Start for an unsupported stream kind.
var ErrUnknownKind = errors.New("unknown stream kind")

// Kind selects the prompt used for a stream.
type Kind string

const (
	KindPrep     Kind = "prep"
	KindDecision Kind = "decision"
	KindDetail   Kind = "detail"
)

// ParseKind validates s as a stream kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPrep, KindDecision, KindDetail:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// PromptRenderer renders the prompt for a stream kind.
type PromptRenderer interface {
	Render(name string, data any) (string, int, error)
}

// Channel runs at most one stream at a time. Starting a stream cancels the
// one in flight, so only the latest stream's output is observable.
type Channel struct {
	streamer generation.Streamer
	prompts  PromptRenderer
	logger   *slog.Logger

	mu      sync.Mutex
	current *Handle
	seq     uint64
}

// NewChannel creates a Channel.
func NewChannel(streamer generation.Streamer, prompts PromptRenderer, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{streamer: streamer, prompts: prompts, logger: logger}
}

// Start cancels any stream in flight and begins a new one for kind. The
// returned Handle accumulates text as chunks arrive.
func (c *Channel) Start(ctx context.Context, kind Kind, streamContext map[string]any) (*Handle, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if c.streamer == nil || !c.streamer.Configured() {
		return nil, generation.ErrProviderUnavailable
	}

	prompt, maxTokens, err := c.prompts.Render(string(kind), map[string]any{"Context": streamContext})
	if err != nil {
		return nil, fmt.Errorf("render %s prompt: %w", kind, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.current != nil {
		c.current.Cancel()
	}
	c.seq++
	h := &Handle{
		ID:      c.seq,
		Kind:    kind,
		cancel:  cancel,
		updates: make(chan string, updateBuffer),
		done:    make(chan struct{}),
	}
	c.current = h
	c.mu.Unlock()

	c.logger.Debug("stream started", "stream_id", h.ID, "kind", kind)
	go c.run(streamCtx, h, prompt, maxTokens)
	return h, nil
}

// Cancel stops h, or the stream in flight when h is nil.
func (c *Channel) Cancel(h *Handle) {
	c.mu.Lock()
	if h == nil {
		h = c.current
	}
	c.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Current returns the stream in flight, if any.
func (c *Channel) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close cancels the stream in flight.
func (c *Channel) Close() {
	c.Cancel(nil)
}

func (c *Channel) run(ctx context.Context, h *Handle, prompt string, maxTokens int) {
	defer func() {
		c.mu.Lock()
		if c.current == h {
			c.current = nil
		}
		c.mu.Unlock()

		h.cancel()
		close(h.updates)
		close(h.done)
	}()

	for chunk, err := range c.streamer.Stream(ctx, prompt, maxTokens) {
		if err != nil {
			if ctx.Err() != nil {
				// Aborted by the caller; keep the partial text, report nothing.
				c.logger.Debug("stream cancelled", "stream_id", h.ID, "kind", h.Kind)
				return
			}
			h.fail(err)
			c.logger.Warn("stream failed", "stream_id", h.ID, "kind", h.Kind, "error", err)
			return
		}
		if !h.append(ctx, chunk) {
			c.logger.Debug("stream cancelled", "stream_id", h.ID, "kind", h.Kind)
			return
		}
	}
	c.logger.Debug("stream finished", "stream_id", h.ID, "kind", h.Kind, "length", len(h.Text()))
}

// Handle is one stream started on a Channel. It doubles as the cancellation
// token for that stream.
type Handle struct {
	ID   uint64
	Kind Kind

	cancel  context.CancelFunc
	updates chan string
	done    chan struct{}

	mu        sync.RWMutex
	text      strings.Builder
	err       error
	cancelled bool
}

// Text returns everything received so far.
func (h *Handle) Text() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.text.String()
}

// Updates delivers each chunk after it has been appended to Text. It is
// closed when the stream ends. A reader that stops draining Updates stalls
// the stream once the buffer is full.
func (h *Handle) Updates() <-chan string {
	return h.updates
}

// Done is closed when the stream has finished, failed or been cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the transport error that ended the stream. Cancellation is
// not an error.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Cancelled reports whether Cancel was called on h.
func (h *Handle) Cancelled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancelled
}

// Cancel stops the stream. No text is appended after Cancel returns.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
}

func (h *Handle) append(ctx context.Context, chunk string) bool {
	h.mu.Lock()
	if h.cancelled || ctx.Err() != nil {
		h.mu.Unlock()
		return false
	}
	h.text.WriteString(chunk)
	h.mu.Unlock()

	select {
	case h.updates <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}
