package types

import (
	"time"
)

// RoomType classifies a broadcast scope. The type decides which access
// predicate applies when an identity joins.
type RoomType string

const (
	RoomTypeGeneral       RoomType = "general"
	RoomTypeContest       RoomType = "contest"
	RoomTypeCollaboration RoomType = "collaboration"
	RoomTypeDiscussion    RoomType = "discussion"
	RoomTypeInterview     RoomType = "interview"
)

// Roles granted by the identity service at connection time.
const (
	RoleUser        = "user"
	RoleModerator   = "moderator"
	RoleAdmin       = "admin"
	RoleInterviewer = "interviewer"
)

// Claims is the identity attached to a connection after token verification.
// Populated once at connection establishment; never refreshed per message.
type Claims struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles"`
	ExpiresAt   int64    `json:"exp"`
}

// HasRole reports whether the claims carry the given role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the claims intersect the given role set.
func (c *Claims) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if c.HasRole(r) {
			return true
		}
	}
	return false
}

// Room is a named broadcast scope. Rooms exist implicitly: a room is present
// exactly while its membership set in the store is non-empty.
type Room struct {
	ID      string   `json:"id"`
	Type    RoomType `json:"type"`
	Members []string `json:"members"`
}

// ChatMessage is one entry in a room's append-only message log. Identity
// fields (ID, RoomID, AuthorID, CreatedAt) are immutable; Content and the
// edit pair mutate in place. Deletion overwrites Content rather than
// removing the entry so reply references stay resolvable.
type ChatMessage struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"roomId"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Content    string     `json:"content"`
	ReplyTo    string     `json:"replyTo,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Edited     bool       `json:"edited"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
	Deleted    bool       `json:"deleted"`
}

// DeletedContent replaces a message body on delete.
const DeletedContent = "[deleted]"

// CursorPosition is ephemeral UI state, outside the version protocol.
type CursorPosition struct {
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Selection string `json:"selection,omitempty"`
}

// CollabSession is one shared editable document. Version increases by
// exactly one on every accepted buffer mutation and never decreases; a
// mutation is accepted only when its base version equals Version.
type CollabSession struct {
	ID           string                    `json:"id"`
	ProblemID    string                    `json:"problemId,omitempty"`
	OwnerID      string                    `json:"ownerId"`
	Participants []string                  `json:"participants"`
	Code         string                    `json:"code"`
	Language     string                    `json:"language"`
	Cursors      map[string]CursorPosition `json:"cursors"`
	Version      int64                     `json:"version"`
	CreatedAt    time.Time                 `json:"createdAt"`
	LastModified time.Time                 `json:"lastModified"`
}

// HasParticipant reports whether the user is in the session.
func (s *CollabSession) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RankingEntry is one participant's aggregate in a contest ranking. Rank is
// derived on every recompute, never read back from the store as authoritative.
type RankingEntry struct {
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName,omitempty"`
	Score          int       `json:"score"`
	SolvedProblems int       `json:"solvedProblems"`
	Penalty        int       `json:"penalty"`
	LastSubmission time.Time `json:"lastSubmission"`
	Rank           int       `json:"rank"`
}

// Before reports whether e precedes other in the contest total order:
// more solved problems first, then lower penalty, then earlier last
// submission. The submission-time tiebreak makes the order strict for any
// two distinct participants.
func (e *RankingEntry) Before(other *RankingEntry) bool {
	if e.SolvedProblems != other.SolvedProblems {
		return e.SolvedProblems > other.SolvedProblems
	}
	if e.Penalty != other.Penalty {
		return e.Penalty < other.Penalty
	}
	return e.LastSubmission.Before(other.LastSubmission)
}

// NotificationType categorizes a notification for client rendering.
type NotificationType string

const (
	NotificationInfo        NotificationType = "info"
	NotificationSuccess     NotificationType = "success"
	NotificationWarning     NotificationType = "warning"
	NotificationContest     NotificationType = "contest"
	NotificationSubmission  NotificationType = "submission"
	NotificationAchievement NotificationType = "achievement"
)

// Notification is immutable once created. Per-user read state lives in a
// separate store key, not on the record.
type Notification struct {
	ID          string                 `json:"id"`
	Type        NotificationType       `json:"type"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	TargetUsers []string               `json:"targetUsers,omitempty"`
	TargetRoles []string               `json:"targetRoles,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	ExpiresAt   *time.Time             `json:"expiresAt,omitempty"`
	Read        bool                   `json:"read"`
}

// Expired reports whether the notification is past its expiry at t.
func (n *Notification) Expired(t time.Time) bool {
	return n.ExpiresAt != nil && t.After(*n.ExpiresAt)
}
