package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coparent-ritual/internal/domain"
	"github.com/ashureev/coparent-ritual/internal/generation"
	"github.com/ashureev/coparent-ritual/internal/identity"
	"github.com/ashureev/coparent-ritual/internal/insight"
	"github.com/ashureev/coparent-ritual/internal/stream"
)

// SourceHeader reports whether an analyze response came from the cache,
// fresh generation, partial generation or the local fallback.
const SourceHeader = "X-Insight-Source"

// InsightHandler serves batch analysis and streamed generation.
type InsightHandler struct {
	*Handler
	insights *insight.Orchestrator
	streams  *stream.Registry
	origins  []string
}

// NewInsightHandler creates an InsightHandler. allowedOrigins limits which
// browser origins may open the websocket stream.
func NewInsightHandler(base *Handler, insights *insight.Orchestrator, streams *stream.Registry, allowedOrigins []string) *InsightHandler {
	return &InsightHandler{
		Handler:  base,
		insights: insights,
		streams:  streams,
		origins:  originPatterns(allowedOrigins),
	}
}

// RegisterRoutes registers insight routes.
func (h *InsightHandler) RegisterRoutes(r chi.Router) {
	r.Route("/insights", func(r chi.Router) {
		r.Post("/analyze", h.Analyze)
		r.Post("/stream", h.Stream)
		r.Get("/stream/ws", h.StreamWS)
	})
}

type analyzeRequest struct {
	Events      []domain.Event     `json:"events"`
	Conflicts   []domain.Conflict  `json:"conflicts"`
	WeekSummary domain.WeekSummary `json:"weekSummary"`
}

type fallbackResponse struct {
	Error    string `json:"error"`
	Fallback bool   `json:"fallback"`
	Message  string `json:"message,omitempty"`
}

// Analyze returns the insight bundle for a week.
func (h *InsightHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("insight analysis panicked", "panic", rec)
			JSON(w, http.StatusInternalServerError, fallbackResponse{
				Error:    "Failed to analyze week",
				Fallback: true,
				Message:  fmt.Sprint(rec),
			})
		}
	}()

	var req analyzeRequest
	if !h.decode(w, r, &req) {
		return
	}

	bundle, outcome := h.insights.Analyze(r.Context(), req.Events, req.Conflicts, req.WeekSummary)
	if errors.Is(outcome.Err, generation.ErrProviderUnavailable) {
		JSON(w, http.StatusServiceUnavailable, fallbackResponse{
			Error:    "Insight generation is not configured",
			Fallback: true,
		})
		return
	}

	h.logger.Debug("week analyzed",
		"user_id", identity.UserIDFromContext(r.Context()),
		"source", outcome.Source,
		"tasks", outcome.Tasks,
		"failed", outcome.Failed)

	w.Header().Set(SourceHeader, string(outcome.Source))
	JSON(w, http.StatusOK, bundle)
}

type streamRequest struct {
	Type    string         `json:"type"`
	Context map[string]any `json:"context"`
}

// Stream writes generated text as a chunked plain-text body. It replaces
// any stream the same user already has running.
func (h *InsightHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, err := stream.ParseKind(req.Type)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	channel := h.streams.Acquire(userID)
	defer h.streams.Release(userID)

	handle, err := channel.Start(r.Context(), kind, req.Context)
	if err != nil {
		h.writeStreamStartError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range handle.Updates() {
		if _, err := w.Write([]byte(chunk)); err != nil {
			h.logger.Debug("stream client went away", "user_id", userID, "error", err)
			handle.Cancel()
			break
		}
		flusher.Flush()
	}
	<-handle.Done()

	if err := handle.Err(); err != nil {
		// Headers are already sent; the truncated body is the only signal.
		h.logger.Warn("stream ended with error", "user_id", userID, "kind", kind, "error", err)
	}
}

func (h *InsightHandler) writeStreamStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, generation.ErrProviderUnavailable):
		Error(w, http.StatusServiceUnavailable, "Insight generation is not configured")
	case errors.Is(err, stream.ErrUnknownKind):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("failed to start stream", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start stream")
	}
}
