package ws

import (
	"net/http"

	"github.com/vedran77/nebula/internal/transport/http/middleware"
	"nhooyr.io/websocket"
)

// ServeWS returns an HTTP handler that upgrades to WebSocket. It must sit
// behind middleware.Auth, which puts the caller's user ID in the context.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			hub.log.Warn("ws: accept error", "error", err)
			return
		}

		client := NewClient(hub, conn, userID)
		if !hub.add(client) {
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}

		go client.WritePump()
		client.ReadPump(r.Context())
	}
}
