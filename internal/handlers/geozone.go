package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/request"
	"github.com/paranoiabot/reminderd/internal/scheduler"
	"github.com/paranoiabot/reminderd/internal/validation"
)

// GeozoneHandler handles inbound geozone events
type GeozoneHandler struct {
	core *scheduler.Core
}

// NewGeozoneHandler creates a new geozone handler
func NewGeozoneHandler(core *scheduler.Core) *GeozoneHandler {
	return &GeozoneHandler{core: core}
}

// RegisterRoutes registers geozone routes on the given router
func (h *GeozoneHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.PostEvent).Methods("POST")
}

// GeozoneEventRequest represents an inbound enter/exit event for a named zone
type GeozoneEventRequest struct {
	Zone       string    `json:"zone" validate:"required,min=1,max=128"`
	Trigger    string    `json:"trigger" validate:"required,geozone_trigger"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// GeozoneEventResponse reports which reminders the event touched
type GeozoneEventResponse struct {
	Triggered []string `json:"triggered"`
}

// PostEvent records a geozone enter/exit event for the authenticated user
// and reports the reminders whose gate it satisfied.
func (h *GeozoneHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	var req GeozoneEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	if err := validation.Validate.Struct(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fieldError := range validationErrors {
				respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Validation failed: %s", fieldError.Error()))
				return
			}
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed")
		return
	}

	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	triggered, err := h.core.OnGeozoneEvent(r.Context(), models.GeozoneEvent{
		UserID:     user.ID,
		Zone:       req.Zone,
		Trigger:    models.GeozoneTrigger(req.Trigger),
		OccurredAt: occurred,
	})
	if err != nil {
		respondCoreError(w, err)
		return
	}

	ids := make([]string, 0, len(triggered))
	for _, id := range triggered {
		ids = append(ids, id.String())
	}
	respondJSON(w, http.StatusOK, GeozoneEventResponse{Triggered: ids})
}
