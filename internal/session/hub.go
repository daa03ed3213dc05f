package session

import (
	"encoding/json"
	"log/slog"
	"sync"
)

type room struct {
	sessionID string
	clients   map[string]*Client // clientID -> client
}

func newRoom(sessionID string) *room {
	return &room{
		sessionID: sessionID,
		clients:   make(map[string]*Client),
	}
}

// Hub fans session state snapshots out to the WebSocket clients watching each
// session. It is a one-way surface: clients receive snapshots, they never
// submit mutations over the socket.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*room // sessionID -> room
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[client.SessionID]
	if !ok {
		r = newRoom(client.SessionID)
		h.rooms[client.SessionID] = r
	}
	r.clients[client.ClientID] = client
	h.mu.Unlock()

	client.Send(&Message{Type: TypeWelcome, SessionID: client.SessionID, Payload: json.RawMessage(`{}`)})

	slog.Info("watcher joined", "session", client.SessionID, "client", client.ClientID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[client.SessionID]
	if !ok {
		h.mu.Unlock()
		return
	}

	delete(r.clients, client.ClientID)
	close(client.send)

	if len(r.clients) == 0 {
		delete(h.rooms, client.SessionID)
	}
	h.mu.Unlock()

	slog.Info("watcher left", "session", client.SessionID, "client", client.ClientID)
}

// NotifyState pushes a snapshot to every client watching the session.
func (h *Hub) NotifyState(sessionID string, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		slog.Error("marshal snapshot", "error", err)
		return
	}
	msg := &Message{
		Type:      TypeStateUpdate,
		SessionID: sessionID,
		Payload:   payload,
	}

	h.mu.RLock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(msg)
	}
}
