package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/showdown/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	auth              *auth.Service
}

// NewWebSocketHandler creates a new WebSocket handler. A nil auth service accepts the
// user_id query parameter as the identity.
func NewWebSocketHandler(cm *ConnectionManager, authService *auth.Service) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		auth:              authService,
	}
}

// HandleConnection authenticates the caller and upgrades the connection.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID, err := h.identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, userID); err != nil {
		// the upgrader has already replied to the client
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) identify(r *http.Request) (string, error) {
	if h.auth != nil {
		claims, err := h.auth.ValidateToken(auth.TokenFromRequest(r))
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return "", errUserRequired
	}
	return userID, nil
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
