package ports

import (
	"net/http"

	"rillnet/internal/core/domain"
)

// WebSocketHandler is the per-connection entry point driven by the HTTP
// upgrade handler. Implemented by the signaling WebSocketServer.
type WebSocketHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
	OnlineUserCount() int
	IsUserOnline(userID domain.UserID) bool
}
