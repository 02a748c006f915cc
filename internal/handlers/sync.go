package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	enginesync "github.com/mesapos/mesaposgo/internal/sync"
)

// SyncHandler exposes the sync engine's operator surface
type SyncHandler struct {
	engine *enginesync.Engine
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(engine *enginesync.Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// RegisterRoutes registers sync routes
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sync/status", sh.GetSyncStatus).Methods("GET")
	r.HandleFunc("/api/sync/failures", sh.ListFailures).Methods("GET")
	r.HandleFunc("/api/sync/failures/{id}/resync", sh.ResyncFailure).Methods("POST")
	r.HandleFunc("/api/sync/connectivity", sh.SetConnectivity).Methods("POST")
}

// GetSyncStatus returns queue depth, connectivity and loop state
func (sh *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := sh.engine.Status()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ListFailures returns unresolved permanent failures for operator review
func (sh *SyncHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := sh.engine.ListFailures()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(failures),
		"failures": failures,
	})
}

// ResyncFailure re-enqueues a permanently failed mutation after operator
// review
func (sh *SyncHandler) ResyncFailure(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid failure id")
		return
	}

	entry, err := sh.engine.ResyncFailure(uint(id))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"mutation_id": entry.ID,
		"entity_type": entry.EntityType,
		"entity_id":   entry.EntityID,
	})
}

// SetConnectivity accepts a connectivity hint from the UI
func (sh *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sh.engine.ConnectivityHint(body.Online)
	respondJSON(w, http.StatusOK, map[string]bool{"online": body.Online})
}
