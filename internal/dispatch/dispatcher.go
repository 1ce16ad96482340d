package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"codesync/internal/chat"
	"codesync/internal/collab"
	"codesync/internal/leaderboard"
	"codesync/internal/notify"
	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/internal/websocket"
	"codesync/pkg/types"
)

// Dispatcher routes inbound events to the session-level services. Every
// per-action error goes back to the originating connection only, as an
// error event; it is never broadcast and never terminates the connection.
type Dispatcher struct {
	coordinator *presence.Coordinator
	chat        *chat.Service
	collab      *collab.Manager
	leaderboard *leaderboard.Engine
	notify      *notify.Service

	handlers map[string]func(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error
}

// NewDispatcher wires the event table.
func NewDispatcher(coordinator *presence.Coordinator, chatSvc *chat.Service, collabMgr *collab.Manager, lb *leaderboard.Engine, notifySvc *notify.Service) *Dispatcher {
	d := &Dispatcher{
		coordinator: coordinator,
		chat:        chatSvc,
		collab:      collabMgr,
		leaderboard: lb,
		notify:      notifySvc,
	}
	d.handlers = map[string]func(context.Context, *websocket.Connection, json.RawMessage) error{
		types.EventJoinRoom:             d.handleJoinRoom,
		types.EventLeaveRoom:            d.handleLeaveRoom,
		types.EventSendMessage:          d.handleSendMessage,
		types.EventEditMessage:          d.handleEditMessage,
		types.EventDeleteMessage:        d.handleDeleteMessage,
		types.EventReportMessage:        d.handleReportMessage,
		types.EventTyping:               d.handleTyping,
		types.EventCreateSession:        d.handleCreateSession,
		types.EventJoinSession:          d.handleJoinSession,
		types.EventLeaveSession:         d.handleLeaveSession,
		types.EventDeleteSession:        d.handleDeleteSession,
		types.EventCodeChange:           d.handleCodeChange,
		types.EventCursorMove:           d.handleCursorMove,
		types.EventGetLeaderboard:       d.handleGetLeaderboard,
		types.EventGetNotifications:     d.handleGetNotifications,
		types.EventMarkNotificationRead: d.handleMarkNotificationRead,
	}
	return d
}

// HandleEvent runs one inbound event. Panics in a handler are logged and
// swallowed; the connection stays open.
func (d *Dispatcher) HandleEvent(ctx context.Context, conn *websocket.Connection, event *types.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Handler panic: event=%s user=%s panic=%v", event.Name, conn.UserID(), r)
		}
	}()

	handler, ok := d.handlers[event.Name]
	if !ok {
		d.reportError(conn, event.Name, fmt.Errorf("%w: %s", ErrUnknownEvent, event.Name))
		return
	}

	if err := handler(ctx, conn, event.Payload); err != nil {
		d.reportError(conn, event.Name, err)
	}
}

// reportError maps service errors onto the wire taxonomy. A version
// conflict is not reported as an error at all: it becomes the structured
// collaboration-conflict event carrying the authoritative state.
func (d *Dispatcher) reportError(conn *websocket.Connection, eventName string, err error) {
	var conflict *collab.Conflict
	if errors.As(err, &conflict) {
		// handleCodeChange already delivered the conflict payload.
		return
	}

	code := types.CodeValidationError
	switch {
	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, chat.ErrConcurrentUpdate):
		code = types.CodeStoreUnavailable
	case errors.Is(err, presence.ErrAccessDenied),
		errors.Is(err, chat.ErrNotInRoom),
		errors.Is(err, chat.ErrNotAuthor),
		errors.Is(err, chat.ErrDeleteForbidden),
		errors.Is(err, chat.ErrEditWindowExpired),
		errors.Is(err, collab.ErrNotParticipant),
		errors.Is(err, collab.ErrNotOwner):
		code = types.CodeAccessDenied
	case errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, collab.ErrSessionNotFound),
		errors.Is(err, leaderboard.ErrContestNotFound),
		errors.Is(err, notify.ErrNotificationNotFound):
		code = types.CodeNotFound
	}

	log.Printf("Event failed: event=%s user=%s code=%s err=%v", eventName, conn.UserID(), code, err)
	_ = conn.WriteError(err.Error(), code)
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return ErrMalformedPayload
	}
	return nil
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.JoinRoomPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	participants, err := d.coordinator.Join(ctx, conn, p.RoomID, p.RoomType)
	if err != nil {
		return err
	}
	return conn.WriteEvent(types.EventRoomJoined, &types.RoomJoinedPayload{
		RoomID:       p.RoomID,
		RoomType:     p.RoomType,
		Participants: participants,
	})
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.LeaveRoomPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return d.coordinator.Leave(ctx, conn, p.RoomID)
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.SendMessagePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	_, err := d.chat.Send(ctx, conn, p.RoomID, p.Content, p.ReplyTo)
	return err
}

func (d *Dispatcher) handleEditMessage(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.EditMessagePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	_, err := d.chat.Edit(ctx, conn, p.RoomID, p.MessageID, p.Content)
	return err
}

func (d *Dispatcher) handleDeleteMessage(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.MessageRefPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	_, err := d.chat.Delete(ctx, conn, p.RoomID, p.MessageID)
	return err
}

func (d *Dispatcher) handleReportMessage(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.MessageRefPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return d.chat.Report(ctx, conn, p.RoomID, p.MessageID, p.Reason)
}

func (d *Dispatcher) handleTyping(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.TypingPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return d.coordinator.Typing(ctx, conn, p.RoomID)
}

func (d *Dispatcher) handleCreateSession(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.CreateSessionPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	session, err := d.collab.Create(ctx, conn, p.SessionID, p.ProblemID, p.Language)
	if err != nil {
		return err
	}
	// The creator is a participant already, so the room predicate passes.
	if _, err := d.coordinator.Join(ctx, conn, session.ID, types.RoomTypeCollaboration); err != nil {
		return err
	}
	return conn.WriteEvent(types.EventSessionCreated, session)
}

func (d *Dispatcher) handleJoinSession(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	session, err := d.collab.Join(ctx, conn, p.SessionID)
	if err != nil {
		return err
	}
	if _, err := d.coordinator.Join(ctx, conn, session.ID, types.RoomTypeCollaboration); err != nil {
		return err
	}
	return conn.WriteEvent(types.EventSessionJoined, session)
}

func (d *Dispatcher) handleLeaveSession(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := d.collab.Leave(ctx, conn, p.SessionID); err != nil {
		return err
	}
	return d.coordinator.Leave(ctx, conn, p.SessionID)
}

func (d *Dispatcher) handleDeleteSession(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.SessionRefPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return d.collab.Delete(ctx, conn, p.SessionID)
}

func (d *Dispatcher) handleCodeChange(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.CodeChangePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	session, err := d.collab.ApplyChange(ctx, conn, p.SessionID, p.Code, p.Version)
	if err != nil {
		var conflict *collab.Conflict
		if errors.As(err, &conflict) {
			// Structured disagreement, not a failure: the client
			// rebases onto the authoritative state and resubmits.
			_ = conn.WriteEvent(types.EventCollaborationConflict, &types.ConflictPayload{
				SessionID:       p.SessionID,
				ConflictVersion: conflict.ConflictVersion,
				CurrentVersion:  conflict.CurrentVersion,
				CurrentCode:     conflict.CurrentCode,
			})
		}
		return err
	}
	// Ack the submitter with the accepted version; other participants
	// got it via broadcast.
	return conn.WriteEvent(types.EventCodeUpdated, &types.CodeUpdatedPayload{
		SessionID: session.ID,
		Code:      session.Code,
		Version:   session.Version,
		UserID:    conn.UserID(),
	})
}

func (d *Dispatcher) handleCursorMove(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.CursorMovePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return d.collab.MoveCursor(ctx, conn, p.SessionID, types.CursorPosition{
		Line:      p.Line,
		Column:    p.Column,
		Selection: p.Selection,
	})
}

func (d *Dispatcher) handleGetLeaderboard(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.GetLeaderboardPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	rankings, err := d.leaderboard.Get(ctx, p.ContestID, p.Limit)
	if err != nil {
		return err
	}
	frozen, err := d.leaderboard.IsFrozen(ctx, p.ContestID)
	if err != nil {
		return err
	}
	return conn.WriteEvent(types.EventLeaderboard, &types.LeaderboardPayload{
		ContestID:   p.ContestID,
		Rankings:    rankings,
		Frozen:      frozen,
		LastUpdated: time.Now(),
	})
}

func (d *Dispatcher) handleGetNotifications(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	p := types.GetNotificationsPayload{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return ErrMalformedPayload
		}
	}
	notifications, err := d.notify.History(ctx, conn.Claims(), int64(p.Limit))
	if err != nil {
		return err
	}
	return conn.WriteEvent(types.EventNotificationHistory, notifications)
}

func (d *Dispatcher) handleMarkNotificationRead(ctx context.Context, conn *websocket.Connection, payload json.RawMessage) error {
	var p types.MarkNotificationReadPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	return d.notify.MarkRead(ctx, conn.UserID(), p.NotificationID)
}
