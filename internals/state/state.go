// Package state implements State: the process-wide registry mapping room
// codes to rooms, with lazy creation and the shared monotonic id counters
// every room draws peer ids from.
package state

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/huddlertc/sfu/internals/media"
	"github.com/huddlertc/sfu/internals/metrics"
	"github.com/huddlertc/sfu/internals/room"
)

// State is the top-level registry a Server holds for its whole lifetime.
type State struct {
	ctx context.Context

	nextPeerID atomic.Uint32
	nextRoomID atomic.Uint32

	mu         sync.Mutex
	rooms      map[string]*room.Room
	collectors map[string]context.CancelFunc
	logger     *zap.Logger
}

// New creates an empty registry. Peer and room ids start at 1. ctx bounds
// the lifetime of every per-room StatsCollector spawned by GetRoom; it is
// the server's process-wide context, canceled on shutdown.
func New(ctx context.Context, logger *zap.Logger) *State {
	s := &State{
		ctx:        ctx,
		rooms:      make(map[string]*room.Room),
		collectors: make(map[string]context.CancelFunc),
		logger:     logger,
	}
	s.nextPeerID.Store(1)
	s.nextRoomID.Store(1)
	return s
}

// GetRoom returns the room for code, creating it if this is the first
// request for that code. The room-id counter advances on every call,
// whether or not a room is actually created, matching the upstream
// behavior this registry is grounded on; only the id assigned to an
// actually-created room needs to be unique, which this preserves.
//
// A freshly created room gets exactly one StatsCollector, scoped to the
// room's own lifetime (started here, stopped in RemoveRoom) rather than to
// any one connection, since multiple peers share the room and none of them
// individually owns its telemetry.
func (s *State) GetRoom(code string) *room.Room {
	id := s.nextRoomID.Add(1) - 1

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[code]; ok {
		return r
	}

	r := room.New(id, &s.nextPeerID, s.logger)
	s.rooms[code] = r
	metrics.ActiveRooms.Inc()

	roomCtx, cancel := context.WithCancel(s.ctx)
	s.collectors[code] = cancel
	go media.NewStatsCollector(r, s.logger).Run(roomCtx)

	return r
}

// RemoveRoom deletes the room registered under code, if any, and stops its
// StatsCollector. Session.Leave calls this once a room's last peer departs;
// a room that no longer has any member is simply forgotten, not explicitly
// closed, since it owns no resources beyond its (now-empty) peer map.
func (s *State) RemoveRoom(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		delete(s.rooms, code)
		metrics.ActiveRooms.Dec()
	}
	if cancel, ok := s.collectors[code]; ok {
		cancel()
		delete(s.collectors, code)
	}
}
