package presence

import "errors"

var (
	ErrAccessDenied    = errors.New("access denied for this room")
	ErrNotRunning      = errors.New("presence coordinator is not running")
	ErrAlreadyRunning  = errors.New("presence coordinator is already running")
	ErrInvalidRoom     = errors.New("invalid room identifier")
	ErrInvalidRoomType = errors.New("invalid room type")
)
