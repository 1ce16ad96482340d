package notify

import "errors"

var (
	ErrEmptyTitle           = errors.New("notification title cannot be empty")
	ErrInvalidType          = errors.New("invalid notification type")
	ErrNotificationNotFound = errors.New("notification not found")
)
