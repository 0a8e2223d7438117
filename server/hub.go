package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yzoe76300/Battle-of-Yavin/protocol"
	"golang.org/x/time/rate"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients and owns the room registry, the relay
// and the matchmaking queue.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	registry   *Registry
	relay      *Relay
	matchmaker *Matchmaker
	journal    *Journal

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	// Auth & DB, nil when running without persistence
	db   *DB
	auth *Auth

	msgRate  rate.Limit
	msgBurst int
}

// NewHub creates a new Hub. msgRate is the per-connection inbound message
// budget per second.
func NewHub(db *DB, auth *Auth, msgRate float64) *Hub {
	if msgRate <= 0 {
		msgRate = defaultMsgRate
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		registry:   NewRegistry(),
		journal:    NewJournal(db),
		ipConns:    make(map[string]int),
		db:         db,
		auth:       auth,
		msgRate:    rate.Limit(msgRate),
		msgBurst:   int(msgRate),
	}
	h.relay = NewRelay(h.registry, h.recordResult)
	h.matchmaker = NewMatchmaker(GenerateRoomID, func(p Pairing) {
		h.journal.Track(EvtMatchFound, p.RoomID, p.Player1.UserID, fmt.Sprintf(`{"opponent":%q}`, p.Player2.UserID))
	})
	return h
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	defer h.journal.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.journal.Track(EvtConnect, "", "", fmt.Sprintf(`{"conn":%q,"codec":%q}`, client.id, client.codec.Name()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

			if client.roomID != "" && h.registry.Leave(client.roomID, client) {
				h.journal.Track(EvtRoomLeave, client.roomID, client.userID, "")
			}
			h.matchmaker.RemovePeer(client)
			h.journal.Track(EvtDisconnect, "", client.userID, fmt.Sprintf(`{"conn":%q}`, client.id))
		}
		h.journal.SetLive(h.ClientCount(), h.registry.RoomCount())
	}
}

// recordResult persists the first gameOver relayed in a room.
func (h *Hub) recordResult(snap RoomSnapshot, msg *protocol.GameOverMsg) {
	// a tie has no winning user
	winnerID := ""
	for i, s := range snap.Slots {
		if protocol.SideOf(roleAt(i)) == msg.Winner {
			winnerID = s.UserID
		}
	}
	h.journal.Track(EvtGameOver, snap.ID, winnerID, fmt.Sprintf(`{"winner":%q}`, msg.Winner))
	if h.db == nil {
		return
	}
	res := MatchResult{
		RoomID:      snap.ID,
		Winner:      msg.Winner,
		Player1ID:   snap.Slots[0].UserID,
		Player1Name: snap.Slots[0].Username,
		Player2ID:   snap.Slots[1].UserID,
		Player2Name: snap.Slots[1].Username,
		LivesLeft:   *msg.Lives.Left,
		LivesRight:  *msg.Lives.Right,
		Duration:    time.Since(snap.CreatedAt).Seconds(),
	}
	if _, err := h.db.RecordMatchResult(res); err != nil {
		log.Printf("record match %s: %v", snap.ID, err)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
