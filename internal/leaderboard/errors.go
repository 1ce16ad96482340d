package leaderboard

import "errors"

var (
	ErrContestNotFound = errors.New("contest has no ranking data")
	ErrInvalidContest  = errors.New("invalid contest identifier")
)
