package presence

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"codesync/internal/store"
	"codesync/internal/websocket"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// Envelope is the cross-process broadcast frame. A broadcast is published
// once on the bus; every process, the publisher included, delivers it to
// its own locally-held connections. No ordering holds across publishers.
type Envelope struct {
	Event       *types.Outbound `json:"event"`
	RoomID      string          `json:"roomId,omitempty"`
	ExcludeUser string          `json:"excludeUser,omitempty"`
	TargetRoles []string        `json:"targetRoles,omitempty"`
}

// Coordinator tracks which identities belong to which room and owns all
// broadcast fan-out. Authoritative membership lives in the shared-state
// store; the coordinator reconciles it on every join, leave and
// disconnect so that the store set always equals the union of live
// connections' views.
type Coordinator struct {
	st       interfaces.Store
	bus      interfaces.Bus
	registry *websocket.Registry

	typingTTL time.Duration

	mu       sync.Mutex
	running  bool
	roomSubs map[string]interfaces.Subscription
	userSubs map[string]interfaces.Subscription
	global   interfaces.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewCoordinator creates a presence coordinator.
func NewCoordinator(st interfaces.Store, bus interfaces.Bus, registry *websocket.Registry, typingTTL time.Duration) *Coordinator {
	return &Coordinator{
		st:        st,
		bus:       bus,
		registry:  registry,
		typingTTL: typingTTL,
		roomSubs:  make(map[string]interfaces.Subscription),
		userSubs:  make(map[string]interfaces.Subscription),
	}
}

// Start subscribes to the global broadcast channel.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	global, err := c.bus.Subscribe(c.ctx, store.GlobalChannel)
	if err != nil {
		c.cancel()
		return err
	}
	c.global = global
	c.running = true
	go c.pump(global)
	return nil
}

// Stop drops every subscription.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	c.running = false
	c.cancel()
	for roomID, sub := range c.roomSubs {
		_ = sub.Close()
		delete(c.roomSubs, roomID)
	}
	for userID, sub := range c.userSubs {
		_ = sub.Close()
		delete(c.userSubs, userID)
	}
	_ = c.global.Close()
	return nil
}

// pump drains one subscription, delivering each envelope to the local
// connections it addresses.
func (c *Coordinator) pump(sub interfaces.Subscription) {
	for msg := range sub.Messages() {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			log.Printf("Dropping malformed bus envelope on %s: %v", msg.Channel, err)
			continue
		}
		c.deliver(&env)
	}
}

func (c *Coordinator) deliver(env *Envelope) {
	var conns []*websocket.Connection
	switch {
	case env.RoomID != "":
		conns = c.registry.RoomConnections(env.RoomID)
	case len(env.TargetRoles) > 0:
		conns = c.registry.ConnectionsWithAnyRole(env.TargetRoles)
	default:
		conns = c.registry.AllConnections()
	}
	for _, conn := range conns {
		if env.ExcludeUser != "" && conn.UserID() == env.ExcludeUser {
			continue
		}
		if err := conn.WriteJSON(env.Event); err != nil {
			// At-most-once: a connection closing mid-broadcast just
			// misses the event.
			continue
		}
	}
}

// ConnectionRegistered wires per-user direct fan-out: the first local
// connection for an identity subscribes this process to that identity's
// channel.
func (c *Coordinator) ConnectionRegistered(conn *websocket.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	userID := conn.UserID()
	if _, ok := c.userSubs[userID]; ok {
		return
	}
	sub, err := c.bus.Subscribe(c.ctx, store.UserChannel(userID))
	if err != nil {
		log.Printf("User channel subscription failed: user=%s err=%v", userID, err)
		return
	}
	c.userSubs[userID] = sub
	go c.pump(sub)
}

// presenceEntry scopes a room presence record to one connection. User IDs
// cannot contain "/", so the separator is unambiguous.
func presenceEntry(conn *websocket.Connection) string {
	return conn.UserID() + "/" + conn.ID()
}

// accessAllowed decides room access by room type. General and
// discussion rooms are open; contest, collaboration and interview rooms
// check the relevant registration set in the store.
func (c *Coordinator) accessAllowed(ctx context.Context, claims *types.Claims, roomID string, roomType types.RoomType) (bool, error) {
	if claims.HasRole(types.RoleAdmin) || claims.HasRole(types.RoleModerator) {
		return true, nil
	}
	switch roomType {
	case types.RoomTypeGeneral, types.RoomTypeDiscussion:
		return true, nil
	case types.RoomTypeContest:
		return c.st.SetContains(ctx, store.ContestRegisteredKey(roomID), claims.UserID)
	case types.RoomTypeCollaboration:
		// Collaboration rooms are keyed by session id; joining requires
		// being a session participant (join-session adds you).
		raw, ok, err := c.st.Get(ctx, store.CollabSessionKey(roomID))
		if err != nil || !ok {
			return false, err
		}
		var session types.CollabSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return false, nil
		}
		return session.HasParticipant(claims.UserID), nil
	case types.RoomTypeInterview:
		if claims.HasRole(types.RoleInterviewer) {
			return true, nil
		}
		return c.st.SetContains(ctx, store.InterviewParticipantsKey(roomID), claims.UserID)
	default:
		return false, nil
	}
}

// Join adds the identity to the room and subscribes the connection to its
// broadcasts. Returns the participant list excluding the joiner.
func (c *Coordinator) Join(ctx context.Context, conn *websocket.Connection, roomID string, roomType types.RoomType) ([]string, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, ErrInvalidRoom
	}
	if !types.IsValidRoomType(roomType) {
		return nil, ErrInvalidRoomType
	}

	allowed, err := c.accessAllowed(ctx, conn.Claims(), roomID, roomType)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrAccessDenied
	}

	if err := c.st.SetAdd(ctx, store.RoomPresenceKey(roomID), presenceEntry(conn)); err != nil {
		return nil, err
	}
	if err := c.st.SetAdd(ctx, store.RoomMembersKey(roomID), conn.UserID()); err != nil {
		return nil, err
	}
	if err := c.st.Set(ctx, store.RoomTypeKey(roomID), string(roomType), 0); err != nil {
		return nil, err
	}

	conn.AddRoom(roomID)
	c.registry.JoinRoom(conn, roomID)
	c.ensureRoomSubscription(roomID)

	members, err := c.st.SetMembers(ctx, store.RoomMembersKey(roomID))
	if err != nil {
		return nil, err
	}
	participants := make([]string, 0, len(members))
	for _, m := range members {
		if m != conn.UserID() {
			participants = append(participants, m)
		}
	}

	_ = c.Broadcast(ctx, roomID, types.NewOutbound(types.EventUserJoinedRoom, &types.RoomUserPayload{
		RoomID:      roomID,
		UserID:      conn.UserID(),
		DisplayName: conn.DisplayName(),
	}), conn.UserID())

	log.Printf("Room joined: room=%s user=%s type=%s", roomID, conn.UserID(), roomType)
	return participants, nil
}

// Leave removes the identity from the room. Leaving a room not joined is
// a no-op, not an error.
func (c *Coordinator) Leave(ctx context.Context, conn *websocket.Connection, roomID string) error {
	if !conn.InRoom(roomID) {
		return nil
	}
	conn.RemoveRoom(roomID)
	c.registry.LeaveRoom(conn, roomID)

	if err := c.st.SetRemove(ctx, store.RoomPresenceKey(roomID), presenceEntry(conn)); err != nil {
		return err
	}

	// The identity stays in the membership set while any of its
	// connections, on any instance, still holds the room. The presence
	// set carries one entry per connection, so the check covers remote
	// instances too.
	entries, err := c.st.SetMembers(ctx, store.RoomPresenceKey(roomID))
	if err != nil {
		return err
	}
	stillPresent := false
	prefix := conn.UserID() + "/"
	for _, entry := range entries {
		if strings.HasPrefix(entry, prefix) {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		if err := c.st.SetRemove(ctx, store.RoomMembersKey(roomID), conn.UserID()); err != nil {
			return err
		}
	}

	// Room GC: an empty membership set means the room no longer exists.
	members, err := c.st.SetMembers(ctx, store.RoomMembersKey(roomID))
	if err == nil && len(members) == 0 {
		_ = c.st.Delete(ctx, store.RoomTypeKey(roomID))
	}

	c.dropRoomSubscriptionIfIdle(roomID)

	_ = c.Broadcast(ctx, roomID, types.NewOutbound(types.EventUserLeftRoom, &types.RoomUserPayload{
		RoomID:      roomID,
		UserID:      conn.UserID(),
		DisplayName: conn.DisplayName(),
	}), conn.UserID())

	log.Printf("Room left: room=%s user=%s", roomID, conn.UserID())
	return nil
}

// Disconnect reconciles every room the connection had joined. Called on
// transport close; there is nothing else to cancel because all
// operations are single round trips.
func (c *Coordinator) Disconnect(ctx context.Context, conn *websocket.Connection) {
	for _, roomID := range conn.Rooms() {
		if err := c.Leave(ctx, conn, roomID); err != nil {
			log.Printf("Disconnect cleanup failed: room=%s user=%s err=%v", roomID, conn.UserID(), err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registry.HasUser(conn.UserID()) {
		if sub, ok := c.userSubs[conn.UserID()]; ok {
			_ = sub.Close()
			delete(c.userSubs, conn.UserID())
		}
	}
}

// Broadcast publishes an event to every connection in the room across all
// instances. Best-effort: a store outage means no broadcast occurs, and
// the caller treats silence as a possible signal.
func (c *Coordinator) Broadcast(ctx context.Context, roomID string, event *types.Outbound, excludeUser string) error {
	payload, err := json.Marshal(&Envelope{Event: event, RoomID: roomID, ExcludeUser: excludeUser})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, store.RoomChannel(roomID), payload)
}

// BroadcastUser publishes direct fan-out to every live connection of one
// identity on any instance.
func (c *Coordinator) BroadcastUser(ctx context.Context, userID string, event *types.Outbound) error {
	payload, err := json.Marshal(&Envelope{Event: event})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, store.UserChannel(userID), payload)
}

// BroadcastGlobal publishes to every connection, optionally filtered to
// role holders at each delivering instance.
func (c *Coordinator) BroadcastGlobal(ctx context.Context, event *types.Outbound, targetRoles []string) error {
	payload, err := json.Marshal(&Envelope{Event: event, TargetRoles: targetRoles})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, store.GlobalChannel, payload)
}

// Typing records a short-lived typing indicator. A crashed client's
// indicator self-heals through key expiry; there is no stop message.
func (c *Coordinator) Typing(ctx context.Context, conn *websocket.Connection, roomID string) error {
	if !conn.InRoom(roomID) {
		return ErrAccessDenied
	}
	if err := c.st.Set(ctx, store.TypingKey(roomID, conn.UserID()), "1", c.typingTTL); err != nil {
		return err
	}
	return c.Broadcast(ctx, roomID, types.NewOutbound(types.EventUserTyping, &types.RoomUserPayload{
		RoomID:      roomID,
		UserID:      conn.UserID(),
		DisplayName: conn.DisplayName(),
	}), conn.UserID())
}

// IsMember checks authoritative membership in the store. Callers that
// gate actions on membership re-verify here at action time instead of
// trusting state cached at join time.
func (c *Coordinator) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return c.st.SetContains(ctx, store.RoomMembersKey(roomID), userID)
}

func (c *Coordinator) ensureRoomSubscription(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	if _, ok := c.roomSubs[roomID]; ok {
		return
	}
	sub, err := c.bus.Subscribe(c.ctx, store.RoomChannel(roomID))
	if err != nil {
		log.Printf("Room channel subscription failed: room=%s err=%v", roomID, err)
		return
	}
	c.roomSubs[roomID] = sub
	go c.pump(sub)
}

func (c *Coordinator) dropRoomSubscriptionIfIdle(roomID string) {
	if !c.registry.RoomEmpty(roomID) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.roomSubs[roomID]; ok {
		_ = sub.Close()
		delete(c.roomSubs, roomID)
	}
}
