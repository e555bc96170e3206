package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yllada/ovpn-mgmt/events"
)

const (
	connOutboxSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// eventMessage is the WebSocket frame for one daemon event.
type eventMessage struct {
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`

	Type        string            `json:"type,omitempty"`
	ClientID    *int              `json:"client_id,omitempty"`
	KeyID       *int              `json:"key_id,omitempty"`
	Primary     *int              `json:"primary,omitempty"`
	Address     string            `json:"address,omitempty"`
	CommonName  string            `json:"common_name,omitempty"`
	Environment map[string]string `json:"env,omitempty"`

	Prefix  string `json:"prefix,omitempty"`
	Message string `json:"message,omitempty"`
}

func newEventMessage(ev events.Event, at time.Time) (eventMessage, bool) {
	msg := eventMessage{Kind: ev.Kind(), Time: at}
	switch e := ev.(type) {
	case *events.ClientEvent:
		cid := e.ClientID
		msg.Type = e.Type
		msg.ClientID = &cid
		msg.KeyID = e.KeyID
		msg.Primary = e.Primary
		msg.Address = e.Address
		msg.CommonName = e.CommonName()
		msg.Environment = e.Environment
	case *events.Notification:
		msg.Prefix = e.Prefix
		msg.Message = e.Message
	default:
		return msg, false
	}
	return msg, true
}

// wsConn is one subscriber. gorilla/websocket allows one concurrent
// writer, so every write goes through writeLoop.
type wsConn struct {
	ws        *websocket.Conn
	outbox    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:      ws,
		outbox:  make(chan []byte, connOutboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *wsConn) enqueue(data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.closeNow()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeNow()
				return
			}
		}
	}
}

// readLoop discards client frames and returns when the peer goes away.
func (c *wsConn) readLoop() {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// hub fans events out to every subscriber. A subscriber whose outbox is
// full is dropped.
type hub struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[*wsConn]struct{})}
}

func (h *hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *hub) broadcast(data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.conns {
		if c.enqueue(data) {
			sent++
			continue
		}
		delete(h.conns, c)
		c.closeNow()
	}
	return sent
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		c.closeNow()
	}
}

// HandleEvent broadcasts ev to every WebSocket subscriber.
func (s *Server) HandleEvent(ev events.Event) error {
	msg, ok := newEventMessage(ev, time.Now())
	if !ok {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.hub.broadcast(data)
	return nil
}

func (s *Server) streamEvents(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed: %v", err)
		return
	}

	conn := newWSConn(ws)
	s.hub.add(conn)
	s.log.Debug("Event subscriber %s connected", ws.RemoteAddr())

	go conn.writeLoop()
	conn.readLoop()

	s.hub.remove(conn)
	conn.closeNow()
	s.log.Debug("Event subscriber %s gone", ws.RemoteAddr())
}
