package types

import (
	"regexp"
	"strings"
)

// Compiled once at package initialization; validation runs on every
// inbound event.
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)
)

// MaxMessageLength bounds chat message content in bytes.
const MaxMessageLength = 4096

// MaxCodeLength bounds a collaboration buffer in bytes.
const MaxCodeLength = 262144

// IsValidUserID checks identity format supplied by the external
// identity service.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks room key format. Colons are allowed so callers can
// namespace (contest:42, interview:abc).
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 128 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidRoomType checks the room type against the known set.
func IsValidRoomType(t RoomType) bool {
	switch t {
	case RoomTypeGeneral, RoomTypeContest, RoomTypeCollaboration,
		RoomTypeDiscussion, RoomTypeInterview:
		return true
	default:
		return false
	}
}

// ValidateMessageContent enforces the chat content bounds. Whitespace-only
// content counts as empty.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxMessageLength {
		return ErrContentTooLong
	}
	return nil
}

// ValidateCode enforces the collaboration buffer bound. An empty buffer is
// valid; clearing the document is an ordinary mutation.
func ValidateCode(code string) error {
	if len(code) > MaxCodeLength {
		return ErrContentTooLong
	}
	return nil
}
