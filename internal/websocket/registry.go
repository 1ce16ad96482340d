package websocket

import (
	"sync"
)

// Registry tracks this process's live connections. It is pure local
// bookkeeping: authoritative room membership lives in the shared-state
// store, and the registry only answers "which of my connections should
// receive this event".
type Registry struct {
	mu sync.RWMutex
	// connID -> Connection
	connections map[string]*Connection
	// userID -> connID -> Connection; one identity may hold several
	// transports (two browser tabs), all of which receive direct fan-out
	byUser map[string]map[string]*Connection
	// roomID -> connID -> Connection for broadcast delivery
	byRoom map[string]map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
		byRoom:      make(map[string]map[string]*Connection),
	}
}

// Register adds a connection. Unlike user-keyed registries, a second
// connection for the same identity does not displace the first.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.Claims() == nil {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn

	userID := conn.UserID()
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][conn.ID()] = conn
	return nil
}

// Unregister removes a connection from every index. Idempotent, and safe
// against a stale connection removing its replacement: only the exact
// instance that is registered is removed.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())

	userID := conn.UserID()
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}

	for roomID, conns := range r.byRoom {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byRoom, roomID)
		}
	}
}

// JoinRoom indexes the connection for room broadcast delivery.
func (r *Registry) JoinRoom(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[string]*Connection)
	}
	r.byRoom[roomID][conn.ID()] = conn
}

// LeaveRoom removes the room index entry. Idempotent.
func (r *Registry) LeaveRoom(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.byRoom[roomID]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byRoom, roomID)
		}
	}
}

// UserConnections returns every live connection for an identity.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// HasUser reports whether the identity has any live connection here.
func (r *Registry) HasUser(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// RoomConnections returns the local connections subscribed to a room.
func (r *Registry) RoomConnections(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.byRoom[roomID]))
	for _, conn := range r.byRoom[roomID] {
		conns = append(conns, conn)
	}
	return conns
}

// RoomEmpty reports whether no local connection remains in the room.
func (r *Registry) RoomEmpty(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom[roomID]) == 0
}

// ConnectionsWithAnyRole returns local connections whose role set
// intersects roles.
func (r *Registry) ConnectionsWithAnyRole(roles []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []*Connection
	for _, conn := range r.connections {
		if conn.Claims().HasAnyRole(roles) {
			conns = append(conns, conn)
		}
	}
	return conns
}

// AllConnections snapshots every live connection.
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports registry size for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.connections),
		"users":       len(r.byUser),
		"rooms":       len(r.byRoom),
	}
}
