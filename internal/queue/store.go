package queue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

// Entry is one queued connection on one server.
type Entry struct {
	ConnID   uuid.UUID
	Member   wire.QueueMember
	JoinedAt time.Time
}

// Directory resolves a server id to its connect details for StartGame.
type Directory interface {
	Resolve(serverID int) (wire.GameServer, bool)
}

// StaticDirectory is a fixed id -> server mapping, seeded from config.
type StaticDirectory map[int]wire.GameServer

func (d StaticDirectory) Resolve(serverID int) (wire.GameServer, bool) {
	srv, ok := d[serverID]
	return srv, ok
}

// Formation is the result of a lobby-formation decision: delivered exactly
// once, and only to the selected participants.
type Formation struct {
	ServerID int
	Server   wire.GameServer
	Entries  []Entry
}

// Store tracks, per queueable server, the set of connections currently
// queued, and forms lobbies when the policy threshold is met.
//
// All mutations run under one mutex. Formation must be atomic across servers
// (a selected connection leaves every queue), so per-server locking would not
// be enough anyway.
type Store struct {
	mu      sync.Mutex
	servers map[int][]Entry // FIFO join order, set semantics by ConnID

	policy Policy
	dir    Directory
	logger *slog.Logger
}

func NewStore(logger *slog.Logger, policy Policy, dir Directory) *Store {
	return &Store{
		servers: make(map[int][]Entry),
		policy:  policy,
		dir:     dir,
		logger:  logger.With(slog.String("component", "queue_store")),
	}
}

// Join adds (conn, serverID) for each id not already present. Idempotent.
// Formation is evaluated on every server whose membership changed, under the
// same critical section, so a connection can never land in two lobbies.
func (s *Store) Join(connID uuid.UUID, member wire.QueueMember, serverIDs []int) (bool, []Formation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	now := time.Now()
	var touched []int

	for _, serverID := range serverIDs {
		if s.contains(serverID, connID) {
			continue
		}
		s.servers[serverID] = append(s.servers[serverID], Entry{
			ConnID:   connID,
			Member:   member,
			JoinedAt: now,
		})
		changed = true
		touched = append(touched, serverID)
		s.logger.Debug("connection queued",
			slog.String("connID", connID.String()),
			slog.Int("serverID", serverID),
		)
	}

	// Formation runs after every membership change has been applied, so a
	// connection formed on one server is not re-queued by a later id in the
	// same request.
	var formed []Formation
	for _, serverID := range touched {
		if f, ok := s.evaluateLocked(serverID); ok {
			formed = append(formed, f)
		}
	}

	return changed, formed
}

// Leave removes matching memberships. Idempotent.
func (s *Store) Leave(connID uuid.UUID, serverIDs []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, serverID := range serverIDs {
		if s.removeLocked(serverID, connID) {
			changed = true
		}
	}
	return changed
}

// Drop is the implicit Leave for all of a connection's memberships,
// applied when the connection disconnects.
func (s *Store) Drop(connID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for serverID := range s.servers {
		if s.removeLocked(serverID, connID) {
			changed = true
		}
	}
	return changed
}

// Snapshot returns the broadcast projections: per-server lobby states in
// server-id order and the flat list of queued users (deduped by steam id,
// ordered by first appearance).
func (s *Store) Snapshot() ([]wire.LobbyState, []wire.QueueMember) {
	s.mu.Lock()
	defer s.mu.Unlock()

	serverIDs := make([]int, 0, len(s.servers))
	for id := range s.servers {
		serverIDs = append(serverIDs, id)
	}
	sort.Ints(serverIDs)

	lobbies := make([]wire.LobbyState, 0, len(serverIDs))
	users := make([]wire.QueueMember, 0)
	seen := make(map[string]struct{})

	for _, id := range serverIDs {
		entries := s.servers[id]
		members := make([]wire.QueueMember, 0, len(entries))
		for _, e := range entries {
			members = append(members, e.Member)
			if _, ok := seen[e.Member.SteamID]; !ok {
				seen[e.Member.SteamID] = struct{}{}
				users = append(users, e.Member)
			}
		}
		lobbies = append(lobbies, wire.LobbyState{ServerID: id, Members: members})
	}

	return lobbies, users
}

// evaluateLocked applies the formation policy to one server. On formation the
// selected connections leave every queue, not just the formed server's: they
// are off to a game and must not be double-assigned by a later decision.
func (s *Store) evaluateLocked(serverID int) (Formation, bool) {
	selected := s.policy.Select(serverID, s.servers[serverID])
	if len(selected) == 0 {
		return Formation{}, false
	}

	picked := make([]Entry, len(selected))
	copy(picked, selected)

	for _, entry := range picked {
		for id := range s.servers {
			s.removeLocked(id, entry.ConnID)
		}
	}

	srv, ok := s.dir.Resolve(serverID)
	if !ok {
		s.logger.Warn("formed lobby for server missing from directory", slog.Int("serverID", serverID))
	}

	s.logger.Info("lobby formed",
		slog.Int("serverID", serverID),
		slog.Int("members", len(picked)),
	)

	return Formation{ServerID: serverID, Server: srv, Entries: picked}, true
}

func (s *Store) contains(serverID int, connID uuid.UUID) bool {
	for _, e := range s.servers[serverID] {
		if e.ConnID == connID {
			return true
		}
	}
	return false
}

func (s *Store) removeLocked(serverID int, connID uuid.UUID) bool {
	entries := s.servers[serverID]
	for i, e := range entries {
		if e.ConnID == connID {
			s.servers[serverID] = append(entries[:i], entries[i+1:]...)
			if len(s.servers[serverID]) == 0 {
				delete(s.servers, serverID)
			}
			return true
		}
	}
	return false
}
