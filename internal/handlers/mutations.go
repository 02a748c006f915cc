package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mesapos/mesaposgo/internal/models"
)

// mutationRequest is the UI's shape for a local business write
type mutationRequest struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Operation  string       `json:"operation"`
	Payload    models.JSONB `json:"payload"`
}

// createMutation applies a local write and queues its outbound mutation in
// one transaction; the response carries the queue entry id so the UI can
// correlate lifecycle events from the websocket stream.
func (r *Router) createMutation(w http.ResponseWriter, req *http.Request) {
	var body mutationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if body.EntityType == "" || body.EntityID == "" || body.Operation == "" {
		respondError(w, http.StatusBadRequest, "entity_type, entity_id and operation are required")
		return
	}
	if _, ok := models.NewEntityFor(models.EntityType(body.EntityType)); !ok {
		respondError(w, http.StatusBadRequest, "unknown entity type: "+body.EntityType)
		return
	}

	entry, err := r.engine.EnqueueLocalChange(
		models.EntityType(body.EntityType),
		body.EntityID,
		models.Operation(body.Operation),
		body.Payload,
	)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"mutation_id": entry.ID,
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
		"status":      entry.Status,
	})
}
