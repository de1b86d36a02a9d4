// Package gateway is the session gateway: it upgrades connections,
// associates them with verified bidder identities, and maps auction
// subscriptions onto the fan-out. Unauthenticated connections get read-only
// access.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/navyas1307/Auction-System/internal/auction"
	"github.com/navyas1307/Auction-System/internal/auth"
	"github.com/navyas1307/Auction-System/internal/fanout"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP layer in front of us owns origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub      *fanout.Hub
	coord    *auction.Coordinator
	verifier auth.Verifier
	log      *slog.Logger
}

func NewHandler(hub *fanout.Hub, coord *auction.Coordinator, verifier auth.Verifier, log *slog.Logger) *Handler {
	return &Handler{hub: hub, coord: coord, verifier: verifier, log: log}
}

// ServeWS upgrades the request and runs the connection until it drops.
// Disconnection releases every subscription the connection held.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws, h.hub, h.coord, h.verifier, h.log)
	h.log.Debug("client connected", "conn_id", c.id, "remote", r.RemoteAddr)
	c.run()
	h.log.Debug("client disconnected", "conn_id", c.id)
}
