package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codesync/pkg/types"
)

// Connection wraps one transport session. WebSocket writes are serialized
// through a single writer goroutine; everything else may call WriteJSON
// concurrently. Claims are set once at establishment and immutable after.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	claims  *types.Claims

	// rooms and sessions the connection currently participates in,
	// maintained by the presence coordinator and collab manager so that
	// transport close can clean up everything the connection touched.
	rooms    map[string]struct{}
	sessions map[string]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewConnection creates a connection wrapper and starts its writer.
// conn may be nil in tests; writes then queue until the buffer fills.
func NewConnection(id string, conn *websocket.Conn, claims *types.Claims) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       id,
		conn:     conn,
		writeCh:  make(chan []byte, 256),
		claims:   claims,
		rooms:    make(map[string]struct{}),
		sessions: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if conn != nil {
		go c.writeLoop()
	}
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery. Delivery is best-effort: a closed or
// saturated connection drops the event rather than blocking the caller.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteTimeout
	}
}

// WriteEvent sends a stamped outbound event.
func (c *Connection) WriteEvent(name string, payload interface{}) error {
	return c.WriteJSON(types.NewOutbound(name, payload))
}

// WriteError reports a per-action failure to this connection only.
func (c *Connection) WriteError(message, code string) error {
	return c.WriteJSON(types.NewOutbound(types.EventError, &types.ErrorPayload{
		Message: message,
		Code:    code,
	}))
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection is shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Claims() *types.Claims { return c.claims }

func (c *Connection) UserID() string { return c.claims.UserID }

func (c *Connection) DisplayName() string { return c.claims.DisplayName }

func (c *Connection) HasRole(role string) bool { return c.claims.HasRole(role) }

// AddRoom records local room participation.
func (c *Connection) AddRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

// RemoveRoom is idempotent.
func (c *Connection) RemoveRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// Rooms snapshots the joined room set.
func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// InRoom reports local membership as seen by this connection.
func (c *Connection) InRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// AddSession records collaboration session participation.
func (c *Connection) AddSession(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

// RemoveSession is idempotent.
func (c *Connection) RemoveSession(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// Sessions snapshots the active session set.
func (c *Connection) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sessions := make([]string, 0, len(c.sessions))
	for sessionID := range c.sessions {
		sessions = append(sessions, sessionID)
	}
	return sessions
}
