package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client merepresentasikan satu koneksi WebSocket ke FE.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Goroutine write membaca dari sini dan mengirim ke conn.
	send chan WsEvent

	// Filter opsional; kosong berarti terima event semua user.
	userID string
}

// Hub menyimpan semua client aktif dan menangani broadcast event.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan WsEvent
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan WsEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run harus dijalankan di goroutine terpisah, berhenti setelah Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			owner := eventOwner(event)
			h.mu.Lock()
			for client := range h.clients {
				if client.userID != "" && owner != "" && client.userID != owner {
					continue
				}
				select {
				case client.send <- event:
				default:
					// buffer penuh, anggap client bermasalah
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish mengimplementasikan RealtimePublisher. Event dibuang kalau
// antrian broadcast penuh supaya supervisor tidak pernah ikut tertahan.
func (h *Hub) Publish(event WsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		log.Warn().Str("event", string(event.Event)).Msg("ws broadcast queue full, event dropped")
	}
}

// RealtimePublisher dipegang service lain agar tidak tergantung langsung ke Hub.
type RealtimePublisher interface {
	Publish(event WsEvent)
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan WsEvent, 256),
		userID: userID,
	}
}

// WritePump mengirim event dari channel send ke koneksi WS.
func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for event := range c.send {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Msg("ws: failed to marshal event")
			continue
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().Err(err).Msg("ws: failed to write message")
			return
		}
	}
}

// ReadPump hanya consume dan buang; dipakai untuk deteksi disconnect.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(15 * time.Minute))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(15 * time.Minute))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func eventOwner(event WsEvent) string {
	switch d := event.Data.(type) {
	case SessionStatusData:
		return d.UserID
	case QRGeneratedData:
		return d.UserID
	case SessionErrorData:
		return d.UserID
	case LocationReceivedData:
		return d.UserID
	case JobProgressData:
		return d.OwnerUserID
	}
	return ""
}
