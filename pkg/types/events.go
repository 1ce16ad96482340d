package types

import (
	"encoding/json"
	"time"
)

// Inbound event names, multiplexed over the per-connection channel.
const (
	EventJoinRoom             = "join-room"
	EventLeaveRoom            = "leave-room"
	EventSendMessage          = "send-message"
	EventEditMessage          = "edit-message"
	EventDeleteMessage        = "delete-message"
	EventReportMessage        = "report-message"
	EventTyping               = "typing"
	EventCreateSession        = "create-session"
	EventJoinSession          = "join-session"
	EventLeaveSession         = "leave-session"
	EventDeleteSession        = "delete-session"
	EventCodeChange           = "code-change"
	EventCursorMove           = "cursor-move"
	EventGetLeaderboard       = "get-leaderboard"
	EventGetNotifications     = "get-notifications"
	EventMarkNotificationRead = "mark-notification-read"
)

// Outbound event names.
const (
	EventRoomJoined            = "room-joined"
	EventUserJoinedRoom        = "user-joined-room"
	EventUserLeftRoom          = "user-left-room"
	EventUserTyping            = "user-typing"
	EventMessageReceived       = "message-received"
	EventMessageEdited         = "message-edited"
	EventMessageDeleted        = "message-deleted"
	EventMessageReported       = "message-reported"
	EventSessionCreated        = "session-created"
	EventSessionJoined         = "session-joined"
	EventSessionDeleted        = "session-deleted"
	EventCodeUpdated           = "code-updated"
	EventCollaborationConflict = "collaboration-conflict"
	EventCursorUpdated         = "cursor-updated"
	EventLeaderboardUpdate     = "leaderboard-update"
	EventLeaderboard           = "leaderboard"
	EventNotification          = "notification"
	EventNotificationHistory   = "notification-history"
	EventError                 = "error"
)

// Event is the wire envelope in both directions. Payload stays raw on the
// way in so each handler decodes only its own shape.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is the envelope for server-originated events. Payload is
// marshaled eagerly because outbound events fan out to many connections.
type Outbound struct {
	Name      string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewOutbound stamps an outbound event with the current time.
func NewOutbound(name string, payload interface{}) *Outbound {
	return &Outbound{Name: name, Payload: payload, Timestamp: time.Now()}
}

// ErrorPayload is returned to the originating connection only, never
// broadcast, and never terminates the connection.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JoinRoomPayload is the body of a join-room event.
type JoinRoomPayload struct {
	RoomID   string   `json:"roomId"`
	RoomType RoomType `json:"roomType"`
}

// LeaveRoomPayload is the body of a leave-room event.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload is the body of a send-message event.
type SendMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// EditMessagePayload is the body of an edit-message event.
type EditMessagePayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// MessageRefPayload addresses an existing message (delete, report).
type MessageRefPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Reason    string `json:"reason,omitempty"`
}

// TypingPayload is the body of a typing event.
type TypingPayload struct {
	RoomID string `json:"roomId"`
}

// CreateSessionPayload is the body of a create-session event.
type CreateSessionPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	ProblemID string `json:"problemId,omitempty"`
	Language  string `json:"language,omitempty"`
}

// SessionRefPayload addresses an existing collaboration session.
type SessionRefPayload struct {
	SessionID string `json:"sessionId"`
}

// CodeChangePayload carries a buffer mutation and the version the submitter
// believed was current.
type CodeChangePayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Version   int64  `json:"version"`
}

// CursorMovePayload is the body of a cursor-move event.
type CursorMovePayload struct {
	SessionID string `json:"sessionId"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Selection string `json:"selection,omitempty"`
}

// GetLeaderboardPayload is the body of a get-leaderboard request.
type GetLeaderboardPayload struct {
	ContestID string `json:"contestId"`
	Limit     int    `json:"limit,omitempty"`
}

// GetNotificationsPayload is the body of a get-notifications request.
type GetNotificationsPayload struct {
	Limit int `json:"limit,omitempty"`
}

// MarkNotificationReadPayload is the body of a mark-notification-read event.
type MarkNotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
}

// RoomJoinedPayload is sent to the joiner; Participants excludes them.
type RoomJoinedPayload struct {
	RoomID       string   `json:"roomId"`
	RoomType     RoomType `json:"roomType"`
	Participants []string `json:"participants"`
}

// RoomUserPayload announces membership changes to a room.
type RoomUserPayload struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// CodeUpdatedPayload broadcasts an accepted buffer mutation.
type CodeUpdatedPayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Version   int64  `json:"version"`
	UserID    string `json:"userId"`
}

// ConflictPayload carries the authoritative state back to a submitter whose
// base version was stale. The client rebases and resubmits; the server never
// merges.
type ConflictPayload struct {
	SessionID       string `json:"sessionId"`
	ConflictVersion int64  `json:"conflictVersion"`
	CurrentVersion  int64  `json:"currentVersion"`
	CurrentCode     string `json:"currentCode"`
}

// MessageReportPayload alerts moderators to a reported message. It is
// also the stored shape of one entry in the room's report log.
type MessageReportPayload struct {
	RoomID     string    `json:"roomId"`
	MessageID  string    `json:"messageId"`
	AuthorID   string    `json:"authorId"`
	ReporterID string    `json:"reporterId"`
	Reason     string    `json:"reason,omitempty"`
	ReportedAt time.Time `json:"reportedAt"`
}

// CursorUpdatedPayload broadcasts the full cursor map after any move.
type CursorUpdatedPayload struct {
	SessionID string                    `json:"sessionId"`
	Cursors   map[string]CursorPosition `json:"cursors"`
}

// LeaderboardPayload carries a full ordered ranking snapshot.
type LeaderboardPayload struct {
	ContestID   string          `json:"contestId"`
	Rankings    []*RankingEntry `json:"rankings"`
	Frozen      bool            `json:"frozen"`
	LastUpdated time.Time       `json:"lastUpdated"`
}
