package collab

import "errors"

var (
	ErrSessionNotFound = errors.New("collaboration session not found")
	ErrNotParticipant  = errors.New("user is not a participant of this session")
	ErrNotOwner        = errors.New("only the session owner may delete it")
	ErrSessionExists   = errors.New("collaboration session already exists")
)

// Conflict is the structured optimistic-concurrency rejection. It is not a
// failure: it carries the authoritative buffer and version so the client
// can rebase and resubmit. The server never merges.
type Conflict struct {
	ConflictVersion int64
	CurrentVersion  int64
	CurrentCode     string
}

func (c *Conflict) Error() string {
	return "code change rejected: stale base version"
}
