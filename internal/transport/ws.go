package transport

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/InduwaraSMPN/browtrix/internal/bridge"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size; snapshots can be large.
	maxMessageSize = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Pages served from any origin may attach; authentication is deferred.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades an incoming page connection, attaches it to the registry,
// and runs its read loop. The write pump runs in its own goroutine and exits
// when the registry closes the connection's outbound channel.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	conn, err := s.reg.Attach(r.RemoteAddr, r.UserAgent())
	if err != nil {
		if errors.Is(err, bridge.ErrCapacityExceeded) {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection limit reached")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		_ = ws.Close()
		log.Printf("attach refused for %s: %v", r.RemoteAddr, err)
		return
	}
	log.Printf("page connected: %s (%s), %d active", conn.ID, r.RemoteAddr, s.reg.Len())

	go s.writePump(ws, conn)
	s.readLoop(ws, conn)
}

// readLoop delivers every inbound message to the broker until the connection
// drops, then detaches it (idempotently; eviction may have raced us).
func (s *Server) readLoop(ws *websocket.Conn, conn *bridge.Conn) {
	defer func() {
		s.reg.Detach(conn.ID)
		_ = ws.Close()
		log.Printf("page disconnected: %s, %d active", conn.ID, s.reg.Len())
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("read error on %s: %v", conn.ID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.broker.HandleInbound(conn.ID, data)
	}
}

// writePump drains the registry-owned outbound queue onto the socket,
// preserving dispatch order, and keeps the connection alive with pings.
// A closed queue means the registry detached us.
func (s *Server) writePump(ws *websocket.Conn, conn *bridge.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case payload, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
