package chat

import "errors"

var (
	ErrNotInRoom         = errors.New("sender is not a member of the target room")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotAuthor         = errors.New("only the author may edit this message")
	ErrDeleteForbidden   = errors.New("only the author or a moderator may delete this message")
	ErrEditWindowExpired = errors.New("edit window has expired")
	ErrMessageDeleted    = errors.New("message has been deleted")
	ErrConcurrentUpdate  = errors.New("message log changed concurrently, retry")
)
