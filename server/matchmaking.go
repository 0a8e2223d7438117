package main

import (
	"log"
	"sync"
	"time"

	"github.com/yzoe76300/Battle-of-Yavin/protocol"
)

// queueEntry is a user waiting for an opponent
type queueEntry struct {
	Peer     Peer
	UserID   string
	Username string
	JoinedAt time.Time
}

// Pairing is a match made by the Matchmaker. Player1 waited longest.
type Pairing struct {
	RoomID  string
	Player1 queueEntry
	Player2 queueEntry
}

// Matchmaker pairs queued users first-in first-out.
type Matchmaker struct {
	mu        sync.Mutex
	queue     []queueEntry
	newRoomID func() string
	onMatch   func(Pairing)
}

// NewMatchmaker creates a Matchmaker. onMatch may be nil.
func NewMatchmaker(newRoomID func() string, onMatch func(Pairing)) *Matchmaker {
	if newRoomID == nil {
		newRoomID = GenerateRoomID
	}
	return &Matchmaker{newRoomID: newRoomID, onMatch: onMatch}
}

// Enqueue adds a user to the queue and pairs the two oldest entries when
// possible. A user already queued gets already_in_queue.
func (m *Matchmaker) Enqueue(peer Peer, userID, username string) {
	m.mu.Lock()
	for _, e := range m.queue {
		if e.UserID == userID {
			m.mu.Unlock()
			peer.Send(protocol.MsgMatchmakingStatus, protocol.MatchmakingStatusMsg{
				Status:  protocol.StatusAlreadyInQueue,
				Message: "You are already in the queue",
			})
			return
		}
	}
	m.queue = append(m.queue, queueEntry{Peer: peer, UserID: userID, Username: username, JoinedAt: time.Now()})

	if len(m.queue) < 2 {
		n := len(m.queue)
		m.mu.Unlock()
		peer.Send(protocol.MsgMatchmakingStatus, protocol.MatchmakingStatusMsg{
			Status:      protocol.StatusWaiting,
			Message:     "Looking for a rival...",
			QueueLength: n,
		})
		return
	}

	p := Pairing{RoomID: m.newRoomID(), Player1: m.queue[0], Player2: m.queue[1]}
	m.queue = append(m.queue[:0], m.queue[2:]...)
	m.mu.Unlock()

	seats := map[string]queueEntry{protocol.RolePlayer1: p.Player1, protocol.RolePlayer2: p.Player2}
	for _, role := range []string{protocol.RolePlayer1, protocol.RolePlayer2} {
		opp := seats[protocol.OtherRole(role)]
		seats[role].Peer.Send(protocol.MsgMatchFound, protocol.MatchFoundMsg{
			RoomID:     p.RoomID,
			Opponent:   protocol.Opponent{Username: opp.Username, UserID: opp.UserID},
			PlayerRole: role,
		})
	}
	log.Printf("match: %s vs %s (room %s)", p.Player1.Username, p.Player2.Username, p.RoomID)
	if m.onMatch != nil {
		m.onMatch(p)
	}
}

// Cancel removes userID from the queue. Nothing is sent when the user was
// not queued.
func (m *Matchmaker) Cancel(peer Peer, userID string) bool {
	m.mu.Lock()
	idx := -1
	for i, e := range m.queue {
		if e.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	m.mu.Unlock()

	peer.Send(protocol.MsgMatchmakingStatus, protocol.MatchmakingStatusMsg{
		Status:  protocol.StatusCancelled,
		Message: "Cancelled",
	})
	return true
}

// RemovePeer drops every entry queued by a disconnected connection.
func (m *Matchmaker) RemovePeer(peer Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	for _, e := range m.queue {
		if e.Peer.ID() != peer.ID() {
			kept = append(kept, e)
		}
	}
	clear(m.queue[len(kept):])
	m.queue = kept
}

// Len returns the number of queued users
func (m *Matchmaker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
