package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coparent-ritual/internal/identity"
	"github.com/ashureev/coparent-ritual/internal/nudge"
	"github.com/ashureev/coparent-ritual/internal/ritual"
)

// NudgeHandler serves nudge creation and status.
type NudgeHandler struct {
	*Handler
	sender *nudge.Sender
	weeks  *ritual.Service
}

// NewNudgeHandler creates a NudgeHandler. weeks normalizes week keys.
func NewNudgeHandler(base *Handler, sender *nudge.Sender, weeks *ritual.Service) *NudgeHandler {
	return &NudgeHandler{Handler: base, sender: sender, weeks: weeks}
}

// RegisterRoutes registers nudge routes.
func (h *NudgeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/nudges", h.Create)
	r.Get("/nudges", h.Status)
}

type nudgeRequest struct {
	WeekKey string `json:"weekKey"`
}

type nudgeResponse struct {
	Success       bool            `json:"success"`
	NudgeID       string          `json:"nudgeId"`
	Notifications map[string]bool `json:"notifications"`
}

type cooldownResponse struct {
	Error           string `json:"error"`
	CooldownMinutes int    `json:"cooldownMinutes"`
}

// Create nudges the caller's partner.
func (h *NudgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req nudgeRequest
	if !h.decode(w, r, &req) {
		return
	}
	weekKey, err := h.weeks.NormalizeWeekKey(req.WeekKey)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sender.Send(r.Context(), identity.UserIDFromContext(r.Context()), weekKey, h.now())
	if errors.Is(err, nudge.ErrNoPartner) {
		Error(w, http.StatusBadRequest, "No partner")
		return
	}
	if err != nil {
		h.internalError(w, "send nudge", err)
		return
	}
	if !res.Accepted {
		JSON(w, http.StatusTooManyRequests, cooldownResponse{
			Error:           "Cooldown active",
			CooldownMinutes: res.RetryAfterMinutes,
		})
		return
	}

	notifications := map[string]bool{nudge.ChannelEmail: false, nudge.ChannelPush: false}
	for channel, ok := range res.Notifications {
		notifications[channel] = ok
	}
	JSON(w, http.StatusOK, nudgeResponse{
		Success:       true,
		NudgeID:       res.Nudge.ID,
		Notifications: notifications,
	})
}

// Status reports whether the caller can nudge right now.
func (h *NudgeHandler) Status(w http.ResponseWriter, r *http.Request) {
	weekKey, err := h.weeks.NormalizeWeekKey(r.URL.Query().Get("weekKey"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.sender.Status(r.Context(), identity.UserIDFromContext(r.Context()), weekKey, h.now())
	if err != nil {
		h.internalError(w, "nudge status", err)
		return
	}
	JSON(w, http.StatusOK, status)
}
