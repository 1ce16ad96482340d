package store

import "fmt"

// Key layout shared by every server instance. All coordination state lives
// under these keys; a process holds nothing authoritative in local memory
// beyond its own connections.

func RoomMembersKey(roomID string) string {
	return fmt.Sprintf("room:%s:members", roomID)
}

func RoomTypeKey(roomID string) string {
	return fmt.Sprintf("room:%s:type", roomID)
}

// RoomPresenceKey holds one entry per (user, connection) in the room, so
// membership reconciliation sees every live connection on every instance,
// not just the local ones.
func RoomPresenceKey(roomID string) string {
	return fmt.Sprintf("room:%s:conns", roomID)
}

func RoomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

func RoomReportsKey(roomID string) string {
	return fmt.Sprintf("room:%s:reports", roomID)
}

func RoomChannel(roomID string) string {
	return fmt.Sprintf("broadcast:room:%s", roomID)
}

// UserChannel carries direct fan-out (notifications) for one identity
// across all of its live connections on any instance.
func UserChannel(userID string) string {
	return fmt.Sprintf("broadcast:user:%s", userID)
}

// GlobalChannel carries platform-wide fan-out.
const GlobalChannel = "broadcast:global"

func TypingKey(roomID, userID string) string {
	return fmt.Sprintf("typing:%s:%s", roomID, userID)
}

func CollabSessionKey(sessionID string) string {
	return fmt.Sprintf("collab:%s", sessionID)
}

func ContestStandingsKey(contestID string) string {
	return fmt.Sprintf("contest:%s:standings", contestID)
}

func ContestFrozenKey(contestID string) string {
	return fmt.Sprintf("contest:%s:frozen", contestID)
}

// ContestRankingKey holds the last published ordered ranking. While the
// contest is frozen this snapshot, not the live aggregates, is what every
// read path serves.
func ContestRankingKey(contestID string) string {
	return fmt.Sprintf("contest:%s:ranking", contestID)
}

func ContestRegisteredKey(contestID string) string {
	return fmt.Sprintf("contest:%s:registered", contestID)
}

func InterviewParticipantsKey(interviewID string) string {
	return fmt.Sprintf("interview:%s:participants", interviewID)
}

func UserNotificationsKey(userID string) string {
	return fmt.Sprintf("user:%s:notifications", userID)
}

func NotificationReadKey(notificationID string) string {
	return fmt.Sprintf("notification:%s:read", notificationID)
}
