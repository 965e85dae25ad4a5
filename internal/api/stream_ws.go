package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/coparent-ritual/internal/generation"
	"github.com/ashureev/coparent-ritual/internal/identity"
	"github.com/ashureev/coparent-ritual/internal/stream"
)

// wsClientMessage is sent by the browser.
type wsClientMessage struct {
	Type    string         `json:"type"`
	Kind    string         `json:"kind,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// wsServerMessage is sent to the browser.
type wsServerMessage struct {
	Type     string `json:"type"`
	StreamID uint64 `json:"streamId,omitempty"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
}

// wsConn serializes writes to one websocket.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(ctx context.Context, msg wsServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// StreamWS is the websocket variant of Stream. The client sends start and
// cancel messages and receives chunk, done, cancelled and error messages.
func (h *InsightHandler) StreamWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{ws: ws}
	channel := h.streams.Acquire(userID)
	var (
		pumps sync.WaitGroup
		mine  *stream.Handle
	)
	defer func() {
		if mine != nil {
			mine.Cancel()
		}
		cancel()
		pumps.Wait()
		h.streams.Release(userID)
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if !errors.Is(err, context.Canceled) {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.writeJSON(ctx, wsServerMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "start":
			handle, err := h.startWS(ctx, channel, msg)
			if err != nil {
				_ = conn.writeJSON(ctx, wsServerMessage{Type: "error", Error: err.Error()})
				continue
			}
			mine = handle
			pumps.Add(1)
			go func() {
				defer pumps.Done()
				h.pump(ctx, conn, handle)
			}()
		case "cancel":
			if mine != nil {
				mine.Cancel()
			}
		case "ping":
			_ = conn.writeJSON(ctx, wsServerMessage{Type: "pong"})
		default:
			_ = conn.writeJSON(ctx, wsServerMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *InsightHandler) startWS(ctx context.Context, channel *stream.Channel, msg wsClientMessage) (*stream.Handle, error) {
	kind, err := stream.ParseKind(msg.Kind)
	if err != nil {
		return nil, err
	}
	handle, err := channel.Start(ctx, kind, msg.Context)
	if errors.Is(err, generation.ErrProviderUnavailable) {
		return nil, errors.New("insight generation is not configured")
	}
	return handle, err
}

// pump forwards one stream's chunks and its final state to the client.
func (h *InsightHandler) pump(ctx context.Context, conn *wsConn, handle *stream.Handle) {
	for chunk := range handle.Updates() {
		if err := conn.writeJSON(ctx, wsServerMessage{Type: "chunk", StreamID: handle.ID, Text: chunk}); err != nil {
			handle.Cancel()
			break
		}
	}
	<-handle.Done()

	final := wsServerMessage{StreamID: handle.ID, Text: handle.Text()}
	switch {
	case handle.Err() != nil:
		final = wsServerMessage{Type: "error", StreamID: handle.ID, Error: handle.Err().Error()}
	case handle.Cancelled():
		final.Type = "cancelled"
	default:
		final.Type = "done"
	}
	if err := conn.writeJSON(ctx, final); err != nil {
		h.logger.Debug("Failed to send stream result", "error", err, "stream_id", handle.ID)
	}
}

// originPatterns turns configured origins into host patterns for
// websocket.AcceptOptions.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
