package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// broadcastBacklogKey holds role-targeted and global notifications; role
// filtering happens at query time because offline role holders cannot be
// enumerated at send time.
const broadcastBacklogKey = "notifications:broadcast"

// Service routes structured notifications to targeted users, targeted
// roles, or everyone. Live delivery is best-effort; a durable backlog
// bounded by count and retention lets offline identities catch up.
type Service struct {
	st           interfaces.Store
	coordinator  *presence.Coordinator
	backlogLimit int64
	retention    time.Duration
	nowFunc      func() time.Time
}

// NewService creates a notification fan-out service.
func NewService(st interfaces.Store, coordinator *presence.Coordinator, backlogLimit int64, retention time.Duration) *Service {
	return &Service{
		st:           st,
		coordinator:  coordinator,
		backlogLimit: backlogLimit,
		retention:    retention,
		nowFunc:      time.Now,
	}
}

// SetClock overrides the service clock, for expiry tests.
func (s *Service) SetClock(now func() time.Time) {
	s.nowFunc = now
}

func validType(t types.NotificationType) bool {
	switch t {
	case types.NotificationInfo, types.NotificationSuccess, types.NotificationWarning,
		types.NotificationContest, types.NotificationSubmission, types.NotificationAchievement:
		return true
	default:
		return false
	}
}

// Send resolves exactly one delivery mode in priority order: explicit
// target users, else target roles, else global. The notification is
// recorded durably before live fan-out so an offline target can always
// pull it later.
func (s *Service) Send(ctx context.Context, n *types.Notification) (*types.Notification, error) {
	if n.Title == "" {
		return nil, ErrEmptyTitle
	}
	if n.Type == "" {
		n.Type = types.NotificationInfo
	}
	if !validType(n.Type) {
		return nil, ErrInvalidType
	}

	n.ID = uuid.New().String()
	n.CreatedAt = s.nowFunc()

	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}

	event := types.NewOutbound(types.EventNotification, n)

	switch {
	case len(n.TargetUsers) > 0:
		for _, userID := range n.TargetUsers {
			if err := s.st.ListPush(ctx, store.UserNotificationsKey(userID), string(raw), s.backlogLimit, s.retention); err != nil {
				return nil, err
			}
		}
		for _, userID := range n.TargetUsers {
			if err := s.coordinator.BroadcastUser(ctx, userID, event); err != nil {
				log.Printf("Notification delivery failed: id=%s user=%s err=%v", n.ID, userID, err)
			}
		}

	case len(n.TargetRoles) > 0:
		if err := s.st.ListPush(ctx, broadcastBacklogKey, string(raw), s.backlogLimit, s.retention); err != nil {
			return nil, err
		}
		if err := s.coordinator.BroadcastGlobal(ctx, event, n.TargetRoles); err != nil {
			log.Printf("Notification delivery failed: id=%s roles=%v err=%v", n.ID, n.TargetRoles, err)
		}

	default:
		if err := s.st.ListPush(ctx, broadcastBacklogKey, string(raw), s.backlogLimit, s.retention); err != nil {
			return nil, err
		}
		if err := s.coordinator.BroadcastGlobal(ctx, event, nil); err != nil {
			log.Printf("Notification delivery failed: id=%s err=%v", n.ID, err)
		}
	}

	log.Printf("Notification sent: id=%s type=%s users=%d roles=%d", n.ID, n.Type, len(n.TargetUsers), len(n.TargetRoles))
	return n, nil
}

// History returns the claims' notification backlog, newest first: direct
// notifications plus any broadcast ones whose role targeting matches.
// Expired entries are filtered out; the read flag is populated per user.
func (s *Service) History(ctx context.Context, claims *types.Claims, limit int64) ([]*types.Notification, error) {
	if limit <= 0 || limit > s.backlogLimit {
		limit = s.backlogLimit
	}

	direct, err := s.st.ListRange(ctx, store.UserNotificationsKey(claims.UserID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	broadcast, err := s.st.ListRange(ctx, broadcastBacklogKey, 0, limit-1)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	notifications := make([]*types.Notification, 0, len(direct)+len(broadcast))
	decode := func(entries []string, roleFiltered bool) {
		for _, entry := range entries {
			var n types.Notification
			if err := json.Unmarshal([]byte(entry), &n); err != nil {
				continue
			}
			if n.Expired(now) {
				continue
			}
			if roleFiltered && len(n.TargetRoles) > 0 && !claims.HasAnyRole(n.TargetRoles) {
				continue
			}
			notifications = append(notifications, &n)
		}
	}
	decode(direct, false)
	decode(broadcast, true)

	// Merge the two logs newest-first.
	for i := 1; i < len(notifications); i++ {
		for j := i; j > 0 && notifications[j].CreatedAt.After(notifications[j-1].CreatedAt); j-- {
			notifications[j], notifications[j-1] = notifications[j-1], notifications[j]
		}
	}
	if int64(len(notifications)) > limit {
		notifications = notifications[:limit]
	}

	for _, n := range notifications {
		read, err := s.st.SetContains(ctx, store.NotificationReadKey(n.ID), claims.UserID)
		if err != nil {
			return nil, err
		}
		n.Read = read
	}
	return notifications, nil
}

// MarkRead flags the notification as read for one user. Read state is
// independent of the notification record, so the same notification can be
// read for one target and unread for another.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	known, err := s.backlogContains(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if !known {
		return ErrNotificationNotFound
	}
	if err := s.st.SetAdd(ctx, store.NotificationReadKey(notificationID), userID); err != nil {
		return err
	}
	// Read markers live no longer than the notifications they annotate.
	return s.st.Expire(ctx, store.NotificationReadKey(notificationID), s.retention)
}

// backlogContains reports whether the id still sits in a backlog the user
// can see. Marking an evicted or never-sent notification read would leave
// an orphaned marker set behind.
func (s *Service) backlogContains(ctx context.Context, userID, notificationID string) (bool, error) {
	for _, key := range []string{store.UserNotificationsKey(userID), broadcastBacklogKey} {
		entries, err := s.st.ListRange(ctx, key, 0, -1)
		if err != nil {
			return false, err
		}
		for _, entry := range entries {
			var n types.Notification
			if err := json.Unmarshal([]byte(entry), &n); err != nil {
				continue
			}
			if n.ID == notificationID {
				return true, nil
			}
		}
	}
	return false, nil
}
