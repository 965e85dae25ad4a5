package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coparent-ritual/internal/identity"
	"github.com/ashureev/coparent-ritual/internal/ritual"
)

// RitualHandler serves ritual progress and partner sync state.
type RitualHandler struct {
	*Handler
	ritual *ritual.Service
}

// NewRitualHandler creates a RitualHandler.
func NewRitualHandler(base *Handler, svc *ritual.Service) *RitualHandler {
	return &RitualHandler{Handler: base, ritual: svc}
}

// RegisterRoutes registers ritual routes.
func (h *RitualHandler) RegisterRoutes(r chi.Router) {
	r.Route("/ritual", func(r chi.Router) {
		r.Get("/progress", h.GetProgress)
		r.Post("/progress", h.AdvanceProgress)
		r.Post("/progress/reset", h.ResetProgress)
		r.Get("/sync", h.GetSync)
	})
}

type progressRequest struct {
	WeekKey string `json:"weekKey"`
	Step    int    `json:"step"`
}

// GetProgress returns the caller's progress for a week.
func (h *RitualHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	weekKey, ok := h.weekKey(w, r.URL.Query().Get("weekKey"))
	if !ok {
		return
	}
	p, err := h.ritual.Progress(r.Context(), identity.UserIDFromContext(r.Context()), weekKey)
	if err != nil {
		h.internalError(w, "get progress", err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// AdvanceProgress moves the caller forward to a step.
func (h *RitualHandler) AdvanceProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !h.decode(w, r, &req) {
		return
	}
	weekKey, ok := h.weekKey(w, req.WeekKey)
	if !ok {
		return
	}

	p, err := h.ritual.Advance(r.Context(), identity.UserIDFromContext(r.Context()), weekKey, req.Step)
	if errors.Is(err, ritual.ErrInvalidStep) {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, "advance progress", err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// ResetProgress starts the caller's ritual over.
func (h *RitualHandler) ResetProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !h.decode(w, r, &req) {
		return
	}
	weekKey, ok := h.weekKey(w, req.WeekKey)
	if !ok {
		return
	}

	p, err := h.ritual.Reset(r.Context(), identity.UserIDFromContext(r.Context()), weekKey)
	if err != nil {
		h.internalError(w, "reset progress", err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// GetSync returns the derived partner sync state.
func (h *RitualHandler) GetSync(w http.ResponseWriter, r *http.Request) {
	weekKey, ok := h.weekKey(w, r.URL.Query().Get("weekKey"))
	if !ok {
		return
	}
	view, err := h.ritual.SyncState(r.Context(), identity.UserIDFromContext(r.Context()), weekKey)
	if err != nil {
		h.internalError(w, "sync state", err)
		return
	}
	JSON(w, http.StatusOK, view)
}

func (h *RitualHandler) weekKey(w http.ResponseWriter, raw string) (string, bool) {
	key, err := h.ritual.NormalizeWeekKey(raw)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", "op", op, "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
