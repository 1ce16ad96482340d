package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the fronting proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventSink receives connection lifecycle events and inbound events from
// the read pumps. Implemented by the hub.
type EventSink interface {
	RegisterConnection(conn *Connection) error
	UnregisterConnection(conn *Connection) error
	Dispatch(conn *Connection, event *types.Event) error
}

// Handler authenticates and upgrades incoming transport connections.
// Authentication happens exactly once per connection: the bearer token's
// claims populate the connection for its whole lifetime.
type Handler struct {
	verifier     interfaces.TokenVerifier
	sink         EventSink
	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewHandler creates a WebSocket handler.
func NewHandler(verifier interfaces.TokenVerifier, sink EventSink, pingInterval, readTimeout time.Duration) *Handler {
	return &Handler{
		verifier:     verifier,
		sink:         sink,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// bearerToken pulls the token from the Authorization header or, for
// browser clients that cannot set headers on WebSocket upgrades, the
// token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// HandleWebSocket validates the token, upgrades, registers the connection
// and runs its read pump until transport close.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		switch err {
		case interfaces.ErrTokenMissing:
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
		case interfaces.ErrTokenExpired:
			http.Error(w, "Token expired", http.StatusUnauthorized)
		default:
			http.Error(w, "Invalid token", http.StatusUnauthorized)
		}
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(uuid.New().String(), raw, claims)

	if err := h.sink.RegisterConnection(conn); err != nil {
		log.Printf("Connection registration failed: user=%s err=%v", claims.UserID, err)
		_ = conn.Close()
		return
	}

	go h.handleConnection(conn, raw)
}

// handleConnection runs heartbeat and the read pump. Transport close is
// the only cancellation signal: it immediately triggers room and session
// cleanup through the sink's deregistration path.
func (h *Handler) handleConnection(conn *Connection, raw *websocket.Conn) {
	defer func() {
		if err := h.sink.UnregisterConnection(conn); err != nil {
			log.Printf("Deregistration failed: user=%s err=%v", conn.UserID(), err)
		}
		_ = conn.Close()
	}()

	if err := raw.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return
	}
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := raw.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: user=%s err=%v", conn.UserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event types.Event
		if err := json.Unmarshal(data, &event); err != nil || event.Name == "" {
			_ = conn.WriteError("malformed event", types.CodeValidationError)
			continue
		}

		if err := h.sink.Dispatch(conn, &event); err != nil {
			// Dispatch errors mean the hub could not queue the event;
			// per-action errors are reported inside the dispatcher.
			_ = conn.WriteError("server busy, try again", types.CodeStoreUnavailable)
		}
	}
}
