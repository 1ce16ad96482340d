package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/internal/websocket"
	"codesync/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	coordinator := presence.NewCoordinator(mem, mem, websocket.NewRegistry(), 5*time.Second)
	require.NoError(t, coordinator.Start(context.Background()))
	t.Cleanup(func() { _ = coordinator.Stop() })
	return NewManager(mem, coordinator, time.Hour), mem
}

func newConn(userID string) *websocket.Connection {
	return websocket.NewConnection("conn-"+userID, nil, &types.Claims{
		UserID:      userID,
		DisplayName: userID,
		Roles:       []string{types.RoleUser},
	})
}

func TestCreateSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")

	session, err := m.Create(ctx, alice, "", "two-sum", "go")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "alice", session.OwnerID)
	assert.Equal(t, []string{"alice"}, session.Participants)
	assert.Equal(t, int64(0), session.Version)
	assert.Empty(t, session.Code)
	assert.Equal(t, "go", session.Language)
	assert.Contains(t, alice.Sessions(), session.ID)
}

func TestCreateSessionDefaultsAndValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "python", session.Language)

	_, err = m.Create(ctx, alice, "pair-1", "", "")
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = m.Create(ctx, alice, "bad id!", "", "")
	assert.ErrorIs(t, err, types.ErrInvalidRoomID)
}

func TestJoinSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	bob := newConn("bob")

	created, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)

	joined, err := m.Join(ctx, bob, created.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, joined.Participants)
	assert.Contains(t, bob.Sessions(), created.ID)

	// Rejoining does not duplicate the participant entry.
	again, err := m.Join(ctx, bob, created.ID)
	require.NoError(t, err)
	assert.Len(t, again.Participants, 2)

	_, err = m.Join(ctx, bob, "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestApplyChangeAcceptsCurrentVersion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)

	updated, err := m.ApplyChange(ctx, alice, session.ID, "print('hi')", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "print('hi')", updated.Code)

	updated, err = m.ApplyChange(ctx, alice, session.ID, "print('bye')", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
}

func TestApplyChangeStaleBaseVersionConflicts(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	bob := newConn("bob")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, bob, session.ID)
	require.NoError(t, err)

	// Alice's change from base version 0 wins.
	_, err = m.ApplyChange(ctx, alice, session.ID, "x", 0)
	require.NoError(t, err)

	// Bob also edited from base version 0; his submission must lose and
	// carry back the authoritative state to rebase onto.
	_, err = m.ApplyChange(ctx, bob, session.ID, "y", 0)
	var conflict *Conflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.ConflictVersion)
	assert.Equal(t, int64(1), conflict.CurrentVersion)
	assert.Equal(t, "x", conflict.CurrentCode)

	// The losing submission changed nothing.
	current, err := m.Join(ctx, bob, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", current.Code)
	assert.Equal(t, int64(1), current.Version)

	// Rebased on the authoritative version, Bob's change goes through.
	updated, err := m.ApplyChange(ctx, bob, session.ID, "xy", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
}

func TestApplyChangeRequiresParticipation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	eve := newConn("eve")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)

	_, err = m.ApplyChange(ctx, eve, session.ID, "sneaky", 0)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = m.ApplyChange(ctx, alice, "no-such-session", "x", 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestApplyChangeValidatesCode(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)

	long := make([]byte, types.MaxCodeLength+1)
	_, err = m.ApplyChange(ctx, alice, session.ID, string(long), 0)
	assert.ErrorIs(t, err, types.ErrContentTooLong)

	// Clearing the buffer is an ordinary accepted mutation.
	updated, err := m.ApplyChange(ctx, alice, session.ID, "", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
}

func TestMoveCursor(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	bob := newConn("bob")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, bob, session.ID)
	require.NoError(t, err)

	require.NoError(t, m.MoveCursor(ctx, alice, session.ID, types.CursorPosition{Line: 3, Column: 7}))
	require.NoError(t, m.MoveCursor(ctx, bob, session.ID, types.CursorPosition{Line: 1, Column: 1}))

	// Cursor moves never touch the version counter.
	current, err := m.Join(ctx, alice, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), current.Version)
	assert.Equal(t, types.CursorPosition{Line: 3, Column: 7}, current.Cursors["alice"])
	assert.Equal(t, types.CursorPosition{Line: 1, Column: 1}, current.Cursors["bob"])

	assert.ErrorIs(t, m.MoveCursor(ctx, newConn("eve"), session.ID, types.CursorPosition{}), ErrNotParticipant)
}

func TestLeaveKeepsParticipantRemovesCursor(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	bob := newConn("bob")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, bob, session.ID)
	require.NoError(t, err)
	require.NoError(t, m.MoveCursor(ctx, bob, session.ID, types.CursorPosition{Line: 2}))

	require.NoError(t, m.Leave(ctx, bob, session.ID))
	assert.NotContains(t, bob.Sessions(), session.ID)

	current, err := m.Join(ctx, alice, session.ID)
	require.NoError(t, err)
	assert.True(t, current.HasParticipant("bob"), "participants survive leave for reconnection")
	assert.NotContains(t, current.Cursors, "bob")

	// Leaving a vanished session is a no-op.
	assert.NoError(t, m.Leave(ctx, bob, "no-such-session"))
}

func TestDeleteSessionOwnerOnly(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	bob := newConn("bob")

	session, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, bob, session.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Delete(ctx, bob, session.ID), ErrNotOwner)

	require.NoError(t, m.Delete(ctx, alice, session.ID))
	_, ok, err := mem.Get(ctx, store.CollabSessionKey(session.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, m.Delete(ctx, alice, session.ID), ErrSessionNotFound)
}

func TestDisconnectClearsCursors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := newConn("alice")
	bob := newConn("bob")

	s1, err := m.Create(ctx, alice, "pair-1", "", "")
	require.NoError(t, err)
	s2, err := m.Create(ctx, alice, "pair-2", "", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, bob, s1.ID)
	require.NoError(t, err)

	require.NoError(t, m.MoveCursor(ctx, alice, s1.ID, types.CursorPosition{Line: 1}))
	require.NoError(t, m.MoveCursor(ctx, alice, s2.ID, types.CursorPosition{Line: 2}))

	m.Disconnect(ctx, alice)
	assert.Empty(t, alice.Sessions())

	current, err := m.Join(ctx, bob, s1.ID)
	require.NoError(t, err)
	assert.NotContains(t, current.Cursors, "alice")
}
