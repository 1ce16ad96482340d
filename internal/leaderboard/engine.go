package leaderboard

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// pointsPerSolve feeds the display score; ordering never uses it.
const pointsPerSolve = 100

// aggregate is the stored per-(contest,user) record. Rank is not part of
// it: ranks are derived on every recompute and rewritten in full.
type aggregate struct {
	UserID         string    `json:"userId"`
	DisplayName    string    `json:"displayName,omitempty"`
	SolvedProblems []string  `json:"solvedProblems"`
	Penalty        int       `json:"penalty"`
	LastSubmission time.Time `json:"lastSubmission"`
}

func (a *aggregate) solved(problemID string) bool {
	for _, p := range a.SolvedProblems {
		if p == problemID {
			return true
		}
	}
	return false
}

// Engine maintains a deterministically ordered ranking per contest,
// recomputed incrementally as submissions arrive. Freezing suspends
// broadcast visibility without suspending score accumulation.
type Engine struct {
	st          interfaces.Store
	coordinator *presence.Coordinator

	// contests with ranking activity since process start, for the
	// streaming re-emit ticker
	mu     sync.Mutex
	active map[string]struct{}

	streamTopN int
	cancel     context.CancelFunc
}

// NewEngine creates a ranking engine.
func NewEngine(st interfaces.Store, coordinator *presence.Coordinator, streamTopN int) *Engine {
	return &Engine{
		st:          st,
		coordinator: coordinator,
		active:      make(map[string]struct{}),
		streamTopN:  streamTopN,
	}
}

func (e *Engine) markActive(contestID string) {
	e.mu.Lock()
	e.active[contestID] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) activeContests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	contests := make([]string, 0, len(e.active))
	for id := range e.active {
		contests = append(contests, id)
	}
	return contests
}

// AddSubmission updates the submitter's aggregate, recomputes the full
// order, persists it and broadcasts the updated ranking to the contest
// room unless the contest is frozen. Rejected submissions still add
// penalty; a problem counts as solved at most once.
func (e *Engine) AddSubmission(ctx context.Context, contestID, userID, problemID string, accepted bool, at time.Time, penaltyDelta int) ([]*types.RankingEntry, error) {
	if !types.IsValidRoomID(contestID) {
		return nil, ErrInvalidContest
	}

	key := store.ContestStandingsKey(contestID)
	agg := &aggregate{UserID: userID}
	if raw, ok, err := e.st.HashGet(ctx, key, userID); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal([]byte(raw), agg); err != nil {
			agg = &aggregate{UserID: userID}
		}
	}

	if accepted && !agg.solved(problemID) {
		agg.SolvedProblems = append(agg.SolvedProblems, problemID)
	}
	agg.Penalty += penaltyDelta
	agg.LastSubmission = at

	raw, err := json.Marshal(agg)
	if err != nil {
		return nil, err
	}
	if err := e.st.HashSet(ctx, key, userID, string(raw)); err != nil {
		return nil, err
	}
	e.markActive(contestID)

	rankings, err := e.recompute(ctx, contestID)
	if err != nil {
		return nil, err
	}

	frozen, err := e.IsFrozen(ctx, contestID)
	if err != nil {
		return rankings, err
	}
	if !frozen {
		if err := e.persistRanking(ctx, contestID, rankings); err != nil {
			return rankings, err
		}
		e.broadcast(ctx, contestID, rankings)
	}
	return rankings, nil
}

// persistRanking writes the published ordered ranking. Frozen-window
// recomputes never reach it, so the stored snapshot is always the last
// order that was visible.
func (e *Engine) persistRanking(ctx context.Context, contestID string, rankings []*types.RankingEntry) error {
	raw, err := json.Marshal(rankings)
	if err != nil {
		return err
	}
	return e.st.Set(ctx, store.ContestRankingKey(contestID), string(raw), 0)
}

func (e *Engine) loadRanking(ctx context.Context, contestID string) ([]*types.RankingEntry, error) {
	raw, ok, err := e.st.Get(ctx, store.ContestRankingKey(contestID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*types.RankingEntry{}, nil
	}
	var rankings []*types.RankingEntry
	if err := json.Unmarshal([]byte(raw), &rankings); err != nil {
		return []*types.RankingEntry{}, nil
	}
	return rankings, nil
}

// recompute derives the total order from all aggregates and assigns dense
// 1-based ranks. The order is strict: solved problems descending, then
// penalty ascending, then earlier last submission.
func (e *Engine) recompute(ctx context.Context, contestID string) ([]*types.RankingEntry, error) {
	fields, err := e.st.HashGetAll(ctx, store.ContestStandingsKey(contestID))
	if err != nil {
		return nil, err
	}

	entries := make([]*types.RankingEntry, 0, len(fields))
	for _, raw := range fields {
		var agg aggregate
		if err := json.Unmarshal([]byte(raw), &agg); err != nil {
			continue
		}
		entries = append(entries, &types.RankingEntry{
			UserID:         agg.UserID,
			DisplayName:    agg.DisplayName,
			Score:          len(agg.SolvedProblems) * pointsPerSolve,
			SolvedProblems: len(agg.SolvedProblems),
			Penalty:        agg.Penalty,
			LastSubmission: agg.LastSubmission,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Before(entries[j])
	})
	for i, entry := range entries {
		entry.Rank = i + 1
	}
	return entries, nil
}

func (e *Engine) broadcast(ctx context.Context, contestID string, rankings []*types.RankingEntry) {
	err := e.coordinator.Broadcast(ctx, contestID, types.NewOutbound(types.EventLeaderboardUpdate, &types.LeaderboardPayload{
		ContestID:   contestID,
		Rankings:    rankings,
		LastUpdated: time.Now(),
	}), "")
	if err != nil {
		// Degrade to no broadcast; clients re-query authoritative state.
		log.Printf("Leaderboard broadcast failed: contest=%s err=%v", contestID, err)
	}
}

// Get returns the current ranking. An unfrozen contest is recomputed from
// live aggregates; a frozen one serves the snapshot published at freeze
// time so frozen-window scoring leaks through neither push nor pull. A
// contest with no submissions yields an empty slice, not an error.
func (e *Engine) Get(ctx context.Context, contestID string, limit int) ([]*types.RankingEntry, error) {
	frozen, err := e.IsFrozen(ctx, contestID)
	if err != nil {
		return nil, err
	}

	var rankings []*types.RankingEntry
	if frozen {
		rankings, err = e.loadRanking(ctx, contestID)
	} else {
		rankings, err = e.recompute(ctx, contestID)
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(rankings) {
		rankings = rankings[:limit]
	}
	return rankings, nil
}

// contestExists treats a contest as known once it has registrations or
// ranking activity.
func (e *Engine) contestExists(ctx context.Context, contestID string) (bool, error) {
	fields, err := e.st.HashGetAll(ctx, store.ContestStandingsKey(contestID))
	if err != nil {
		return false, err
	}
	if len(fields) > 0 {
		return true, nil
	}
	registered, err := e.st.SetMembers(ctx, store.ContestRegisteredKey(contestID))
	if err != nil {
		return false, err
	}
	return len(registered) > 0, nil
}

// Freeze pins the ranking at its current order. Scoring continues
// internally; both broadcast and pull reads serve the pinned order until
// Unfreeze.
func (e *Engine) Freeze(ctx context.Context, contestID string) error {
	if !types.IsValidRoomID(contestID) {
		return ErrInvalidContest
	}
	exists, err := e.contestExists(ctx, contestID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrContestNotFound
	}

	rankings, err := e.recompute(ctx, contestID)
	if err != nil {
		return err
	}
	if err := e.persistRanking(ctx, contestID, rankings); err != nil {
		return err
	}
	log.Printf("Leaderboard frozen: contest=%s participants=%d", contestID, len(rankings))
	return e.st.Set(ctx, store.ContestFrozenKey(contestID), "1", 0)
}

// Unfreeze reveals the order accumulated during the frozen window in one
// snapshot and broadcasts it.
func (e *Engine) Unfreeze(ctx context.Context, contestID string) error {
	if !types.IsValidRoomID(contestID) {
		return ErrInvalidContest
	}
	frozen, err := e.IsFrozen(ctx, contestID)
	if err != nil {
		return err
	}
	if !frozen {
		if exists, err := e.contestExists(ctx, contestID); err != nil {
			return err
		} else if !exists {
			return ErrContestNotFound
		}
	}

	if err := e.st.Delete(ctx, store.ContestFrozenKey(contestID)); err != nil {
		return err
	}
	rankings, err := e.recompute(ctx, contestID)
	if err != nil {
		return err
	}
	if err := e.persistRanking(ctx, contestID, rankings); err != nil {
		return err
	}
	log.Printf("Leaderboard unfrozen: contest=%s participants=%d", contestID, len(rankings))
	e.broadcast(ctx, contestID, rankings)
	return nil
}

// IsFrozen reports the contest's freeze flag.
func (e *Engine) IsFrozen(ctx context.Context, contestID string) (bool, error) {
	_, ok, err := e.st.Get(ctx, store.ContestFrozenKey(contestID))
	return ok, err
}

// StartStreaming re-emits the top-N ranking for every active contest on a
// fixed interval, as a liveness signal independent of submission-driven
// updates. Frozen contests are skipped.
func (e *Engine) StartStreaming(ctx context.Context, interval time.Duration) {
	streamCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, contestID := range e.activeContests() {
					frozen, err := e.IsFrozen(streamCtx, contestID)
					if err != nil || frozen {
						continue
					}
					rankings, err := e.Get(streamCtx, contestID, e.streamTopN)
					if err != nil {
						continue
					}
					e.broadcast(streamCtx, contestID, rankings)
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()
}

// StopStreaming halts the periodic re-emit loop.
func (e *Engine) StopStreaming() {
	if e.cancel != nil {
		e.cancel()
	}
}
