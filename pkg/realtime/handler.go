package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/mahaj/presence-chat/pkg/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens, not cookies, authenticate the socket
	},
}

// ServeWS verifies the caller before upgrading; an unauthenticated caller
// never gets a session and never shows up in presence.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		h.log.Info("Unauthorized websocket request", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.closed.Load() {
		http.Error(w, "Shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "user_id", identity.ID, "error", err)
		return
	}
	if _, err := h.Connect(identity, conn); err != nil {
		_ = conn.Close()
	}
}
