package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mesapos/mesaposgo/internal/database"
	enginesync "github.com/mesapos/mesaposgo/internal/sync"
	"github.com/mesapos/mesaposgo/internal/websocket"
)

// Router wraps the mux router with the terminal's services
type Router struct {
	*mux.Router
	db     *database.DB
	engine *enginesync.Engine
	hub    *websocket.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB, engine *enginesync.Engine, hub *websocket.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
		engine: engine,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Local mutation intake (the UI's write path)
	api.HandleFunc("/local/mutations", r.createMutation).Methods("POST")

	// Sync surface
	sh := NewSyncHandler(engine)
	sh.RegisterRoutes(r.Router)

	// Sync event stream for the UI
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the terminal
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "terminal",
	})
}

// getStatus returns the current status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "running",
		"version":    "1.0.0",
		"ui_clients": r.hub.ClientCount(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
