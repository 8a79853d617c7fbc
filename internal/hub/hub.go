package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one broadcast message. The wire shape matches what dashboards
// expect: {"action":"refresh"}, {"action":"register","room_id":N} or, for a
// device state change, {"mac_address":"..","current_room_id":N}.
type Event struct {
	Action        string `json:"action,omitempty"`
	RoomID        int64  `json:"room_id,omitempty"`
	HWAddr        string `json:"mac_address,omitempty"`
	CurrentRoomID int64  `json:"current_room_id,omitempty"`
}

// Hub fans change events out to all connected WebSocket subscribers.
// Delivery is best-effort: a subscriber that cannot be written to is
// dropped, not retried. Liveness is asserted by periodic pings; dead
// connections are pruned by the heartbeat loop.
type Hub struct {
	heartbeat    time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates a hub. Run must be started for heartbeat pruning to happen.
func New(heartbeat, writeTimeout time.Duration) *Hub {
	return &Hub{
		heartbeat:    heartbeat,
		writeTimeout: writeTimeout,
		conns:        make(map[*websocket.Conn]struct{}),
	}
}

// Subscribe upgrades the request to a WebSocket connection and keeps it in
// the broadcast set until the client disconnects. It blocks for the life of
// the connection.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("Error upgrading websocket connection: %v", err)
		return
	}

	h.add(conn)
	log.Println("A subscriber connected")
	defer func() {
		h.remove(conn)
		log.Println("A subscriber disconnected")
	}()

	// Reading keeps control frames (pong replies) flowing; inbound data
	// messages are ignored.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Run pings every subscriber at the heartbeat cadence and drops the ones
// that do not answer. It blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			for _, conn := range h.snapshot() {
				pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					h.drop(conn)
				}
			}
		}
	}
}

// Refresh tells all subscribers the state set changed and they should
// re-fetch everything.
func (h *Hub) Refresh() {
	h.broadcast(Event{Action: "refresh"})
}

// RegistrationRequested announces that an unknown device was sighted in the
// given room so a registration flow can be started.
func (h *Hub) RegistrationRequested(roomID int64) {
	h.broadcast(Event{Action: "register", RoomID: roomID})
}

// StateChanged announces a device's new room.
func (h *Hub) StateChanged(hwAddr string, roomID int64) {
	h.broadcast(Event{HWAddr: hwAddr, CurrentRoomID: roomID})
}

// SubscriberCount returns the current number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshalling broadcast event: %v", err)
		return
	}

	for _, conn := range h.snapshot() {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			h.drop(conn)
		}
	}
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.remove(conn)
	conn.Close(websocket.StatusGoingAway, "unreachable subscriber")
}

func (h *Hub) closeAll() {
	for _, conn := range h.snapshot() {
		h.remove(conn)
		conn.Close(websocket.StatusNormalClosure, "server shutting down")
	}
}
