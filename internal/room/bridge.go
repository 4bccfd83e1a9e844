package room

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	clientSendBuf  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Observers connect from the browser frontend on a different
		// origin. Tokens gate access at the HTTP layer.
		return true
	},
}

// Bridge exposes a room to websocket observers. Every broadcast event is
// encoded once and fanned out to all connected clients. Inbound client
// messages (contract approvals, call answers) are decoded and published
// into the room under the bridge's identity.
type Bridge struct {
	participant *Participant
	logger      *zap.Logger

	mu      sync.RWMutex
	clients map[*bridgeClient]struct{}
	closed  bool
}

// NewBridge joins the room under the given identity and starts relaying.
func NewBridge(r *Room, identity string, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := r.Join(identity)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		participant: p,
		logger:      logger,
		clients:     make(map[*bridgeClient]struct{}),
	}
	p.OnEvent(b.relay)
	return b, nil
}

// ClientCount returns the number of connected observers.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request to a websocket observer connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &bridgeClient{
		bridge: b,
		conn:   conn,
		send:   make(chan []byte, clientSendBuf),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.clients[client] = struct{}{}
	b.mu.Unlock()

	b.logger.Debug("observer connected", zap.String("remote", conn.RemoteAddr().String()))
	go client.writePump()
	go client.readPump()
}

// Close disconnects all observers and leaves the room.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for client := range b.clients {
		close(client.send)
	}
	b.clients = make(map[*bridgeClient]struct{})
	b.mu.Unlock()

	b.participant.Leave()
}

func (b *Bridge) relay(env Envelope) {
	data, err := Encode(env.Event)
	if err != nil {
		b.logger.Error("failed to encode event for observers",
			zap.String("event", string(env.Event.EventType())),
			zap.Error(err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client.send <- data:
		default:
			b.logger.Warn("observer send buffer full, dropping event",
				zap.String("event", string(env.Event.EventType())))
		}
	}
}

func (b *Bridge) remove(client *bridgeClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.send)
	}
}

// inbound publishes a decoded client message into the room.
func (b *Bridge) inbound(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		b.logger.Warn("dropping malformed observer message", zap.Error(err))
		return
	}
	if err := b.participant.Publish(ev); err != nil {
		b.logger.Warn("failed to publish observer message",
			zap.String("event", string(ev.EventType())),
			zap.Error(err))
	}
}

type bridgeClient struct {
	bridge *Bridge
	conn   *websocket.Conn
	send   chan []byte
}

func (c *bridgeClient) readPump() {
	defer func() {
		c.bridge.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.bridge.logger.Debug("observer read error", zap.Error(err))
			}
			return
		}
		c.bridge.inbound(data)
	}
}

func (c *bridgeClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
