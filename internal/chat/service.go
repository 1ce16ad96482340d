package chat

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

// Service maintains the per-room append-only message log. The log is
// bounded in length and retention; identity fields of a message never
// change, and deletion overwrites content so ordering and reply
// references survive.
type Service struct {
	st           interfaces.Store
	coordinator  *presence.Coordinator
	historyLimit int64
	retention    time.Duration
	editWindow   time.Duration
	nowFunc      func() time.Time
}

// NewService creates a chat message service.
func NewService(st interfaces.Store, coordinator *presence.Coordinator, historyLimit int64, retention, editWindow time.Duration) *Service {
	return &Service{
		st:           st,
		coordinator:  coordinator,
		historyLimit: historyLimit,
		retention:    retention,
		editWindow:   editWindow,
		nowFunc:      time.Now,
	}
}

// SetClock overrides the service clock, for edit-window tests.
func (s *Service) SetClock(now func() time.Time) {
	s.nowFunc = now
}

// Send appends a message to the room log and broadcasts it. Membership is
// re-verified against the store at send time, not cached from join time.
func (s *Service) Send(ctx context.Context, conn *websocket.Connection, roomID, content, replyTo string) (*types.ChatMessage, error) {
	if err := types.ValidateMessageContent(content); err != nil {
		return nil, err
	}

	member, err := s.coordinator.IsMember(ctx, roomID, conn.UserID())
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotInRoom
	}

	msg := &types.ChatMessage{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		AuthorID:   conn.UserID(),
		AuthorName: conn.DisplayName(),
		Content:    content,
		ReplyTo:    replyTo,
		CreatedAt:  s.nowFunc(),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if err := s.st.ListPush(ctx, store.RoomMessagesKey(roomID), string(raw), s.historyLimit, s.retention); err != nil {
		return nil, err
	}

	// Sender included: the broadcast carries the server-assigned id and
	// timestamp, which the sender does not have yet.
	_ = s.coordinator.Broadcast(ctx, roomID, types.NewOutbound(types.EventMessageReceived, msg), "")
	return msg, nil
}

// writeRetries bounds the re-scan loop when concurrent pushes shift the
// log between locating a message and writing it back.
const writeRetries = 3

// findMessage scans the retained log for a message id, returning the raw
// stored entry alongside the decoded message so in-place writes can guard
// against index shifts. The log is bounded so the scan is bounded with it.
func (s *Service) findMessage(ctx context.Context, roomID, messageID string) (*types.ChatMessage, int64, string, error) {
	entries, err := s.st.ListRange(ctx, store.RoomMessagesKey(roomID), 0, -1)
	if err != nil {
		return nil, 0, "", err
	}
	for i, entry := range entries {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			continue
		}
		if msg.ID == messageID {
			return &msg, int64(i), entry, nil
		}
	}
	return nil, 0, "", ErrMessageNotFound
}

// Edit replaces a message's content. Author-only, and only within the
// edit window measured from creation. The write lands only if the entry
// still sits where the scan found it; a concurrent send shifts every
// index, so a failed guard re-locates and retries.
func (s *Service) Edit(ctx context.Context, conn *websocket.Connection, roomID, messageID, content string) (*types.ChatMessage, error) {
	if err := types.ValidateMessageContent(content); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < writeRetries; attempt++ {
		msg, index, orig, err := s.findMessage(ctx, roomID, messageID)
		if err != nil {
			return nil, err
		}
		if msg.Deleted {
			return nil, ErrMessageDeleted
		}
		if msg.AuthorID != conn.UserID() {
			return nil, ErrNotAuthor
		}
		if s.nowFunc().Sub(msg.CreatedAt) > s.editWindow {
			return nil, ErrEditWindowExpired
		}

		now := s.nowFunc()
		msg.Content = content
		msg.Edited = true
		msg.EditedAt = &now

		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		swapped, err := s.st.ListSetIfEqual(ctx, store.RoomMessagesKey(roomID), index, orig, string(raw))
		if err != nil {
			return nil, err
		}
		if swapped {
			_ = s.coordinator.Broadcast(ctx, roomID, types.NewOutbound(types.EventMessageEdited, msg), "")
			return msg, nil
		}
	}
	return nil, ErrConcurrentUpdate
}

// Delete overwrites content with the deletion marker. Permitted for the
// author and for moderator or admin role holders. Clients receive the
// replacement event instead of re-fetching history.
func (s *Service) Delete(ctx context.Context, conn *websocket.Connection, roomID, messageID string) (*types.ChatMessage, error) {
	for attempt := 0; attempt < writeRetries; attempt++ {
		msg, index, orig, err := s.findMessage(ctx, roomID, messageID)
		if err != nil {
			return nil, err
		}
		if msg.Deleted {
			return msg, nil
		}

		isModerator := conn.HasRole(types.RoleModerator) || conn.HasRole(types.RoleAdmin)
		if msg.AuthorID != conn.UserID() && !isModerator {
			return nil, ErrDeleteForbidden
		}

		msg.Content = types.DeletedContent
		msg.Deleted = true

		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		swapped, err := s.st.ListSetIfEqual(ctx, store.RoomMessagesKey(roomID), index, orig, string(raw))
		if err != nil {
			return nil, err
		}
		if swapped {
			_ = s.coordinator.Broadcast(ctx, roomID, types.NewOutbound(types.EventMessageDeleted, msg), "")
			return msg, nil
		}
	}
	return nil, ErrConcurrentUpdate
}

// Report appends to the room's report log and alerts moderators. Advisory
// only: the message itself is untouched until a moderator acts on it.
func (s *Service) Report(ctx context.Context, conn *websocket.Connection, roomID, messageID, reason string) error {
	msg, _, _, err := s.findMessage(ctx, roomID, messageID)
	if err != nil {
		return err
	}

	report := &types.MessageReportPayload{
		RoomID:     roomID,
		MessageID:  msg.ID,
		AuthorID:   msg.AuthorID,
		ReporterID: conn.UserID(),
		Reason:     reason,
		ReportedAt: s.nowFunc(),
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := s.st.ListPush(ctx, store.RoomReportsKey(roomID), string(raw), s.historyLimit, s.retention); err != nil {
		return err
	}

	_ = s.coordinator.BroadcastGlobal(ctx, types.NewOutbound(types.EventMessageReported, report),
		[]string{types.RoleModerator, types.RoleAdmin})

	log.Printf("Message reported: room=%s message=%s author=%s reporter=%s reason=%q",
		roomID, msg.ID, msg.AuthorID, conn.UserID(), reason)
	return nil
}

// History returns up to limit retained messages, newest first.
func (s *Service) History(ctx context.Context, roomID string, limit int64) ([]*types.ChatMessage, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	entries, err := s.st.ListRange(ctx, store.RoomMessagesKey(roomID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	messages := make([]*types.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
