package queue_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/leighmacdonald/gbans-sub003/internal/queue"
	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestStore(lobbySize int) *queue.Store {
	dir := queue.StaticDirectory{
		1: {Name: "Frankfurt 1", ShortName: "ffm-1", CC: "de", ConnectURL: "steam://connect/fra1.example.com:27015"},
		2: {Name: "Chicago 1", ShortName: "chi-1", CC: "us"},
	}
	return queue.NewStore(newTestLogger(), queue.ThresholdPolicy{Size: lobbySize}, dir)
}

func member(steamID string) wire.QueueMember {
	return wire.QueueMember{SteamID: steamID, Name: "player " + steamID}
}

func TestJoinIsIdempotent(t *testing.T) {
	s := newTestStore(6)
	conn := uuid.New()

	changed, formed := s.Join(conn, member("a"), []int{1})
	require.True(t, changed)
	require.Empty(t, formed)

	changed, formed = s.Join(conn, member("a"), []int{1})
	require.False(t, changed)
	require.Empty(t, formed)

	lobbies, users := s.Snapshot()
	require.Len(t, lobbies, 1)
	require.Len(t, lobbies[0].Members, 1)
	require.Len(t, users, 1)
}

func TestLeaveIsIdempotent(t *testing.T) {
	s := newTestStore(6)
	conn := uuid.New()
	s.Join(conn, member("a"), []int{1})

	require.True(t, s.Leave(conn, []int{1}))
	require.False(t, s.Leave(conn, []int{1}))

	lobbies, users := s.Snapshot()
	require.Empty(t, lobbies)
	require.Empty(t, users)
}

func TestFormationSelectsOldestLeavesNewest(t *testing.T) {
	s := newTestStore(2)
	first, second, third := uuid.New(), uuid.New(), uuid.New()

	s.Join(first, member("a"), []int{1})

	_, formed := s.Join(second, member("b"), []int{1})
	require.Len(t, formed, 1)
	require.Equal(t, 1, formed[0].ServerID)
	require.Equal(t, "ffm-1", formed[0].Server.ShortName)
	require.Len(t, formed[0].Entries, 2)
	require.Equal(t, first, formed[0].Entries[0].ConnID)
	require.Equal(t, second, formed[0].Entries[1].ConnID)

	// A later arrival waits for the next formation.
	_, formed = s.Join(third, member("c"), []int{1})
	require.Empty(t, formed)

	lobbies, _ := s.Snapshot()
	require.Len(t, lobbies, 1)
	require.Equal(t, "c", lobbies[0].Members[0].SteamID)
}

// Two clients queued on the same two servers must produce exactly one
// formation: once selected for server 1, neither is available for server 2.
func TestFormationIsExactlyOnceAcrossServers(t *testing.T) {
	s := newTestStore(2)
	first, second := uuid.New(), uuid.New()

	_, formed := s.Join(first, member("a"), []int{1, 2})
	require.Empty(t, formed)

	_, formed = s.Join(second, member("b"), []int{1, 2})
	require.Len(t, formed, 1)
	require.Equal(t, 1, formed[0].ServerID)

	lobbies, users := s.Snapshot()
	require.Empty(t, lobbies)
	require.Empty(t, users)
}

func TestFormationRemovesParticipantsFromOtherQueues(t *testing.T) {
	s := newTestStore(2)
	lingering, first, second := uuid.New(), uuid.New(), uuid.New()

	s.Join(lingering, member("x"), []int{2})
	s.Join(first, member("a"), []int{1, 2})
	_, formed := s.Join(second, member("b"), []int{1})
	require.Len(t, formed, 1)

	// Only the bystander remains, still queued on server 2.
	lobbies, users := s.Snapshot()
	require.Len(t, lobbies, 1)
	require.Equal(t, 2, lobbies[0].ServerID)
	require.Len(t, users, 1)
	require.Equal(t, "x", users[0].SteamID)
}

func TestDropClearsAllMemberships(t *testing.T) {
	s := newTestStore(6)
	conn, other := uuid.New(), uuid.New()
	s.Join(conn, member("a"), []int{1, 2})
	s.Join(other, member("b"), []int{2})

	require.True(t, s.Drop(conn))
	require.False(t, s.Drop(conn))

	lobbies, users := s.Snapshot()
	require.Len(t, lobbies, 1)
	require.Equal(t, 2, lobbies[0].ServerID)
	require.Len(t, users, 1)
	require.Equal(t, "b", users[0].SteamID)
}

func TestSnapshotDedupesUsersAndOrdersServers(t *testing.T) {
	s := newTestStore(6)
	conn := uuid.New()
	s.Join(conn, member("a"), []int{2, 1})

	lobbies, users := s.Snapshot()
	require.Len(t, lobbies, 2)
	require.Equal(t, 1, lobbies[0].ServerID)
	require.Equal(t, 2, lobbies[1].ServerID)
	require.Len(t, users, 1)
}

func TestFormationOnUnknownServerStillForms(t *testing.T) {
	s := newTestStore(1)
	_, formed := s.Join(uuid.New(), member("a"), []int{99})
	require.Len(t, formed, 1)
	require.Equal(t, 99, formed[0].ServerID)
	require.Zero(t, formed[0].Server)
}
