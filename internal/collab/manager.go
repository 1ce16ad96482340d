package collab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/internal/websocket"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// Manager maintains collaborative editing sessions: one shared buffer and
// cursor set per session guarded by an optimistic version counter. Buffer
// mutations are accepted only against the current version; concurrent
// submitters race on the store and exactly one wins, the rest rebase.
// Cursor moves sit outside the version protocol entirely.
type Manager struct {
	st          interfaces.Store
	coordinator *presence.Coordinator
	sessionTTL  time.Duration
	nowFunc     func() time.Time
}

// NewManager creates a collaboration session manager.
func NewManager(st interfaces.Store, coordinator *presence.Coordinator, sessionTTL time.Duration) *Manager {
	return &Manager{
		st:          st,
		coordinator: coordinator,
		sessionTTL:  sessionTTL,
		nowFunc:     time.Now,
	}
}

// SetClock overrides the manager clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.nowFunc = now
}

func (m *Manager) load(ctx context.Context, sessionID string) (*types.CollabSession, error) {
	raw, ok, err := m.st.Get(ctx, store.CollabSessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	var session types.CollabSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (m *Manager) save(ctx context.Context, session *types.CollabSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return m.st.Set(ctx, store.CollabSessionKey(session.ID), string(raw), m.sessionTTL)
}

// Create starts a new session at version zero with an empty buffer. The
// creator is the first participant and thereby the owner.
func (m *Manager) Create(ctx context.Context, conn *websocket.Connection, sessionID, problemID, language string) (*types.CollabSession, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if !types.IsValidRoomID(sessionID) {
		return nil, types.ErrInvalidRoomID
	}

	if _, ok, err := m.st.Get(ctx, store.CollabSessionKey(sessionID)); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrSessionExists
	}

	if language == "" {
		language = "python"
	}

	now := m.nowFunc()
	session := &types.CollabSession{
		ID:           sessionID,
		ProblemID:    problemID,
		OwnerID:      conn.UserID(),
		Participants: []string{conn.UserID()},
		Code:         "",
		Language:     language,
		Cursors:      make(map[string]types.CursorPosition),
		Version:      0,
		CreatedAt:    now,
		LastModified: now,
	}
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	conn.AddSession(sessionID)
	log.Printf("Collaboration session created: session=%s owner=%s", sessionID, conn.UserID())
	return session, nil
}

// Join adds the connection's identity to the participant set and returns
// the current session state so the client can render buffer and cursors.
func (m *Manager) Join(ctx context.Context, conn *websocket.Connection, sessionID string) (*types.CollabSession, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(conn.UserID()) {
		session.Participants = append(session.Participants, conn.UserID())
		if err := m.save(ctx, session); err != nil {
			return nil, err
		}
	}
	conn.AddSession(sessionID)
	return session, nil
}

// Leave removes the connection from the session's cursor set. The
// participant list is kept: sessions end only by explicit owner deletion
// or by store-entry expiry, so a participant can reconnect and resume.
func (m *Manager) Leave(ctx context.Context, conn *websocket.Connection, sessionID string) error {
	conn.RemoveSession(sessionID)
	session, err := m.load(ctx, sessionID)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil
		}
		return err
	}
	if _, ok := session.Cursors[conn.UserID()]; !ok {
		return nil
	}
	delete(session.Cursors, conn.UserID())
	if err := m.save(ctx, session); err != nil {
		return err
	}
	return m.coordinator.Broadcast(ctx, sessionID, types.NewOutbound(types.EventCursorUpdated, &types.CursorUpdatedPayload{
		SessionID: sessionID,
		Cursors:   session.Cursors,
	}), conn.UserID())
}

// Delete terminates a session. Owner-only.
func (m *Manager) Delete(ctx context.Context, conn *websocket.Connection, sessionID string) error {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerID != conn.UserID() {
		return ErrNotOwner
	}
	if err := m.st.Delete(ctx, store.CollabSessionKey(sessionID)); err != nil {
		return err
	}
	conn.RemoveSession(sessionID)
	log.Printf("Collaboration session deleted: session=%s owner=%s", sessionID, conn.UserID())
	return m.coordinator.Broadcast(ctx, sessionID, types.NewOutbound(types.EventSessionDeleted, &types.SessionRefPayload{
		SessionID: sessionID,
	}), conn.UserID())
}

// ApplyChange runs the optimistic-concurrency protocol. A submission whose
// base version is stale gets a Conflict carrying the authoritative buffer
// and version; an accepted submission replaces the buffer, increments the
// version by exactly one and is broadcast to every other participant.
func (m *Manager) ApplyChange(ctx context.Context, conn *websocket.Connection, sessionID, code string, baseVersion int64) (*types.CollabSession, error) {
	if err := types.ValidateCode(code); err != nil {
		return nil, err
	}

	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(conn.UserID()) {
		return nil, ErrNotParticipant
	}

	if baseVersion != session.Version {
		return nil, &Conflict{
			ConflictVersion: baseVersion,
			CurrentVersion:  session.Version,
			CurrentCode:     session.Code,
		}
	}

	session.Code = code
	session.Version++
	session.LastModified = m.nowFunc()
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	_ = m.coordinator.Broadcast(ctx, sessionID, types.NewOutbound(types.EventCodeUpdated, &types.CodeUpdatedPayload{
		SessionID: sessionID,
		Code:      session.Code,
		Version:   session.Version,
		UserID:    conn.UserID(),
	}), conn.UserID())
	return session, nil
}

// MoveCursor overwrites the user's cursor position and broadcasts the
// full cursor map. Last write wins; there is no conflict concept because
// cursors are ephemeral UI state, not document state.
func (m *Manager) MoveCursor(ctx context.Context, conn *websocket.Connection, sessionID string, cursor types.CursorPosition) error {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.HasParticipant(conn.UserID()) {
		return ErrNotParticipant
	}

	if session.Cursors == nil {
		session.Cursors = make(map[string]types.CursorPosition)
	}
	session.Cursors[conn.UserID()] = cursor
	if err := m.save(ctx, session); err != nil {
		return err
	}

	return m.coordinator.Broadcast(ctx, sessionID, types.NewOutbound(types.EventCursorUpdated, &types.CursorUpdatedPayload{
		SessionID: sessionID,
		Cursors:   session.Cursors,
	}), conn.UserID())
}

// Disconnect clears the cursors the connection had in every session it
// participated in. Runs on transport close.
func (m *Manager) Disconnect(ctx context.Context, conn *websocket.Connection) {
	for _, sessionID := range conn.Sessions() {
		if err := m.Leave(ctx, conn, sessionID); err != nil {
			log.Printf("Session disconnect cleanup failed: session=%s user=%s err=%v", sessionID, conn.UserID(), err)
		}
	}
}
