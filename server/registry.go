package main

import (
	"errors"
	"sync"
	"time"

	"github.com/yzoe76300/Battle-of-Yavin/protocol"
)

var (
	ErrRoomFull    = errors.New("room is full")
	ErrInvalidJoin = errors.New("invalid join")
)

// Peer is anything the registry can seat in a room and message.
type Peer interface {
	ID() string
	Send(t string, payload any)
}

// Slot is one occupied role in a room.
type Slot struct {
	Peer     Peer
	UserID   string
	Username string
}

// Room is a pair of role slots. Index 0 is player1.
type Room struct {
	ID        string
	slots     [2]*Slot
	finished  bool
	CreatedAt time.Time
}

func slotIndex(role string) int {
	if role == protocol.RolePlayer2 {
		return 1
	}
	return 0
}

func roleAt(i int) string {
	if i == 1 {
		return protocol.RolePlayer2
	}
	return protocol.RolePlayer1
}

func (rm *Room) empty() bool {
	return rm.slots[0] == nil && rm.slots[1] == nil
}

func (rm *Room) indexOfPeer(id string) int {
	for i, s := range rm.slots {
		if s != nil && s.Peer.ID() == id {
			return i
		}
	}
	return -1
}

func (rm *Room) indexOfUser(userID string) int {
	for i, s := range rm.slots {
		if s != nil && s.UserID == userID {
			return i
		}
	}
	return -1
}

func (rm *Room) roster() []protocol.RosterEntry {
	out := make([]protocol.RosterEntry, 2)
	for i, s := range rm.slots {
		out[i].Role = roleAt(i)
		if s != nil {
			uid, name := s.UserID, s.Username
			out[i].UserID = &uid
			out[i].Username = &name
		}
	}
	return out
}

// JoinRequest asks for a slot in RoomID.
type JoinRequest struct {
	RoomID   string
	UserID   string
	Username string
	Role     string // preferred role, may be empty
}

// JoinResult describes the slot granted by Join.
type JoinResult struct {
	Role        string
	Reconnected bool
	// Displaced is the connection that held the slot before a takeover.
	Displaced Peer
}

// RoomSnapshot is a copy of a room's occupants.
type RoomSnapshot struct {
	ID        string
	Slots     [2]Slot
	CreatedAt time.Time
}

// Registry owns every room's slot pair. All mutations and the roster
// broadcasts they trigger happen under one mutex, so every member sees
// rosters in mutation order.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join seats peer in req.RoomID. A user already holding a slot takes it over
// in place; otherwise the preferred slot, then the other one, is granted.
func (r *Registry) Join(peer Peer, req JoinRequest) (JoinResult, error) {
	if peer == nil || req.RoomID == "" || req.UserID == "" {
		return JoinResult{}, ErrInvalidJoin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[req.RoomID]
	if !ok {
		rm = &Room{ID: req.RoomID, CreatedAt: time.Now()}
		r.rooms[req.RoomID] = rm
	}

	var res JoinResult
	prev := rm.indexOfPeer(peer.ID())
	free := func(i int) bool { return rm.slots[i] == nil || i == prev }

	idx := rm.indexOfUser(req.UserID)
	switch {
	case idx >= 0:
		old := rm.slots[idx]
		if old.Peer.ID() != peer.ID() {
			res.Displaced = old.Peer
		}
		res.Reconnected = true
	case protocol.ValidRole(req.Role) && free(slotIndex(req.Role)):
		idx = slotIndex(req.Role)
	case free(0):
		idx = 0
	case free(1):
		idx = 1
	default:
		return JoinResult{}, ErrRoomFull
	}
	// one slot per connection
	if prev >= 0 && prev != idx {
		rm.slots[prev] = nil
	}

	rm.slots[idx] = &Slot{Peer: peer, UserID: req.UserID, Username: req.Username}
	res.Role = roleAt(idx)

	peer.Send(protocol.MsgRoleAssigned, protocol.RoleAssignedMsg{Role: res.Role})
	peer.Send(protocol.MsgRoomJoined, protocol.RoomJoinedMsg{RoomID: rm.ID})
	r.broadcastRoster(rm)
	return res, nil
}

// Leave releases the slot held by peer's connection. It reports whether a
// slot was released; a connection displaced by a takeover releases nothing.
func (r *Registry) Leave(roomID string, peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	idx := rm.indexOfPeer(peer.ID())
	if idx < 0 {
		return false
	}
	rm.slots[idx] = nil
	if rm.empty() {
		delete(r.rooms, roomID)
		return true
	}
	r.broadcastRoster(rm)
	return true
}

func (r *Registry) broadcastRoster(rm *Room) {
	roster := rm.roster()
	for _, s := range rm.slots {
		if s != nil {
			s.Peer.Send(protocol.MsgRoomRoster, roster)
		}
	}
}

// Peers returns the connections currently seated in roomID.
func (r *Registry) Peers(roomID string) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Peer, 0, 2)
	for _, s := range rm.slots {
		if s != nil {
			out = append(out, s.Peer)
		}
	}
	return out
}

// RoleOf returns the role held by connection peerID in roomID.
func (r *Registry) RoleOf(roomID, peerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	idx := rm.indexOfPeer(peerID)
	if idx < 0 {
		return "", false
	}
	return roleAt(idx), true
}

// Roster returns the [player1, player2] roster of roomID, or nil.
func (r *Registry) Roster(roomID string) []protocol.RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.roster()
}

// Snapshot copies the occupants of roomID.
func (r *Registry) Snapshot(roomID string) (RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, false
	}
	snap := RoomSnapshot{ID: rm.ID, CreatedAt: rm.CreatedAt}
	for i, s := range rm.slots {
		if s != nil {
			snap.Slots[i] = *s
		}
	}
	return snap, true
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// MarkFinished latches roomID's result. Only the first call returns true.
func (r *Registry) MarkFinished(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok || rm.finished {
		return false
	}
	rm.finished = true
	return true
}
