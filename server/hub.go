package server

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nedpals/davi-device-agent/status"
)

const (
	clientSendBuffer = 256
	writeWait        = 10 * time.Second
)

// Client is one WebSocket connection. Every write goes through its send
// queue so only the write pump touches the connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once

	// watermark is the highest Seq already delivered in the snapshot.
	watermark uint64
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan any, clientSendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues msg. A client whose queue is full is disconnected rather
// than allowed to stall the status dispatcher.
func (c *Client) Send(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.Close()
		return false
	}
}

// Close stops the write pump and closes the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) writePump(logger *log.Logger) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if m, ok := msg.(Message); ok && m.Type == WSMessageTypeStatusEvent {
				if ev, ok := m.Payload.(status.Event); ok && ev.Seq <= c.watermark {
					continue
				}
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Printf("WebSocket write to %s failed: %v", c.ID, err)
				c.Close()
				return
			}
		}
	}
}

// Hub fans status events out to every connected client.
type Hub struct {
	Logger *log.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		Logger:  log.New(os.Stderr, "[hub] ", log.LstdFlags),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.Send(msg) {
			h.Logger.Printf("Dropping client %s: send queue full or closed", c.ID)
			h.remove(c)
		}
	}
}

// PublishEvent is a status.Subscriber.
func (h *Hub) PublishEvent(ev status.Event) {
	h.Broadcast(Message{Type: WSMessageTypeStatusEvent, Payload: ev})
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}
