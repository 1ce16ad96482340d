package hub

import (
	"context"
	"log"
	"sync"

	"codesync/internal/websocket"
	"codesync/pkg/types"
)

// Dispatcher handles one inbound event end to end, including error
// reporting back to the connection.
type Dispatcher interface {
	HandleEvent(ctx context.Context, conn *websocket.Connection, event *types.Event)
}

// Presence receives connection lifecycle notifications from the hub.
type Presence interface {
	ConnectionRegistered(conn *websocket.Connection)
	Disconnect(ctx context.Context, conn *websocket.Connection)
}

// SessionCleaner tears down collaboration participation on disconnect.
type SessionCleaner interface {
	Disconnect(ctx context.Context, conn *websocket.Connection)
}

// eventContext pairs an inbound event with its originating connection.
type eventContext struct {
	conn  *websocket.Connection
	event *types.Event
}

// Hub is the per-process event loop: one goroutine drains all connection
// lifecycle changes and inbound events, so handler code never races
// within a process. Cross-process coordination happens only through the
// shared-state store's pub/sub, never through the hub.
type Hub struct {
	eventChannel      chan *eventContext
	registerChannel   chan *websocket.Connection
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}

	registry   *websocket.Registry
	dispatcher Dispatcher
	presence   Presence
	sessions   SessionCleaner

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub. Buffers absorb event bursts; a saturated buffer
// rejects rather than blocking the read pumps.
func NewHub(registry *websocket.Registry, dispatcher Dispatcher, presence Presence, sessions SessionCleaner) *Hub {
	return &Hub{
		eventChannel:      make(chan *eventContext, 1024),
		registerChannel:   make(chan *websocket.Connection, 128),
		unregisterChannel: make(chan *websocket.Connection, 128),
		shutdownChannel:   make(chan struct{}),
		registry:          registry,
		dispatcher:        dispatcher,
		presence:          presence,
		sessions:          sessions,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting event hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	return nil
}

func (h *Hub) checkRunning() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	return nil
}

// RegisterConnection queues a connection for registration.
func (h *Hub) RegisterConnection(conn *websocket.Connection) error {
	if err := h.checkRunning(); err != nil {
		return err
	}
	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// UnregisterConnection queues a connection for teardown.
func (h *Hub) UnregisterConnection(conn *websocket.Connection) error {
	if err := h.checkRunning(); err != nil {
		return err
	}
	select {
	case h.unregisterChannel <- conn:
		return nil
	default:
		return ErrUnregisterChannelFull
	}
}

// Dispatch queues an inbound event for processing.
func (h *Hub) Dispatch(conn *websocket.Connection, event *types.Event) error {
	if err := h.checkRunning(); err != nil {
		return err
	}
	select {
	case h.eventChannel <- &eventContext{conn: conn, event: event}:
		return nil
	default:
		return ErrEventChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case evCtx := <-h.eventChannel:
			h.dispatcher.HandleEvent(ctx, evCtx.conn, evCtx.event)

		case conn := <-h.registerChannel:
			h.handleRegistration(conn)

		case conn := <-h.unregisterChannel:
			h.handleDeregistration(ctx, conn)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) handleRegistration(conn *websocket.Connection) {
	if conn == nil {
		log.Printf("Attempted to register nil connection")
		return
	}
	if err := h.registry.Register(conn); err != nil {
		log.Printf("Connection registration failed: conn=%s err=%v", conn.ID(), err)
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("Failed to close connection after registration failure: %v", closeErr)
		}
		return
	}
	h.presence.ConnectionRegistered(conn)
	log.Printf("Connection registered: user=%s conn=%s", conn.UserID(), conn.ID())
}

// handleDeregistration removes the connection from every room and every
// active editing session before it leaves the registry. Transport close
// is the trigger; no cancellation token exists because every operation is
// a single round trip.
func (h *Hub) handleDeregistration(ctx context.Context, conn *websocket.Connection) {
	if conn == nil {
		return
	}
	h.presence.Disconnect(ctx, conn)
	h.sessions.Disconnect(ctx, conn)
	h.registry.Unregister(conn)
	log.Printf("Connection deregistered: user=%s conn=%s", conn.UserID(), conn.ID())
}
