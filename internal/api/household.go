package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/coparent-ritual/internal/identity"
)

// PartnerStore links co-parents.
type PartnerStore interface {
	GetPartnerID(ctx context.Context, userID string) (string, error)
	SetPartner(ctx context.Context, userID, partnerID string) error
}

// HouseholdHandler links the caller with their co-parent.
type HouseholdHandler struct {
	*Handler
	partners PartnerStore
}

// NewHouseholdHandler creates a HouseholdHandler.
func NewHouseholdHandler(base *Handler, partners PartnerStore) *HouseholdHandler {
	return &HouseholdHandler{Handler: base, partners: partners}
}

// RegisterRoutes registers household routes.
func (h *HouseholdHandler) RegisterRoutes(r chi.Router) {
	r.Route("/household", func(r chi.Router) {
		r.Get("/partner", h.GetPartner)
		r.Put("/partner", h.SetPartner)
	})
}

type partnerBody struct {
	PartnerID string `json:"partnerId"`
}

// GetPartner returns the caller's linked co-parent, if any.
func (h *HouseholdHandler) GetPartner(w http.ResponseWriter, r *http.Request) {
	partnerID, err := h.partners.GetPartnerID(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.internalError(w, "get partner", err)
		return
	}
	JSON(w, http.StatusOK, partnerBody{PartnerID: partnerID})
}

// SetPartner links the caller and partnerId to each other.
func (h *HouseholdHandler) SetPartner(w http.ResponseWriter, r *http.Request) {
	var req partnerBody
	if !h.decode(w, r, &req) {
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	if !identity.ValidUserID(req.PartnerID) || req.PartnerID == userID {
		Error(w, http.StatusBadRequest, "invalid partnerId")
		return
	}

	if err := h.partners.SetPartner(r.Context(), userID, req.PartnerID); err != nil {
		h.internalError(w, "set partner", err)
		return
	}
	h.logger.Info("partner linked", "user_id", userID, "partner_id", req.PartnerID)
	JSON(w, http.StatusOK, req)
}
