package stream

import (
	"log/slog"
	"sync"

	"github.com/ashureev/coparent-ritual/internal/generation"
)

type registryEntry struct {
	channel *Channel
	refs    int
}

// Registry hands out one Channel per user, so a new stream from any of a
// user's connections replaces the one already running for that user. A
// Channel lives only while some connection holds it.
type Registry struct {
	streamer generation.Streamer
	prompts  PromptRenderer
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[string]*registryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry(streamer generation.Streamer, prompts PromptRenderer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		streamer: streamer,
		prompts:  prompts,
		logger:   logger,
		channels: make(map[string]*registryEntry),
	}
}

// Acquire returns the user's Channel, creating it on first use. Every
// Acquire must be paired with a Release once the caller is done streaming.
func (r *Registry) Acquire(userID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.channels[userID]
	if !ok {
		e = &registryEntry{channel: NewChannel(r.streamer, r.prompts, r.logger.With("user_id", userID))}
		r.channels[userID] = e
	}
	e.refs++
	return e.channel
}

// Release drops one hold on the user's Channel. The last Release cancels
// any stream still running and forgets the Channel.
func (r *Registry) Release(userID string) {
	r.mu.Lock()
	e, ok := r.channels[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	last := e.refs <= 0
	if last {
		delete(r.channels, userID)
	}
	r.mu.Unlock()

	if last {
		e.channel.Close()
		r.logger.Debug("stream channel released", "user_id", userID)
	}
}

// CloseAll cancels every stream in flight and forgets all channels.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range channels {
		e.channel.Close()
	}
}

func (r *Registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
