package main

import (
	"database/sql"
	"log"
	"sync"
	"time"
)

// Room event types
const (
	EvtConnect     = "connect"
	EvtDisconnect  = "disconnect"
	EvtRoomJoin    = "room_join"
	EvtRoomLeave   = "room_leave"
	EvtRoomFull    = "room_full"
	EvtTakeover    = "takeover"
	EvtMatchFound  = "match_found"
	EvtGameOver    = "game_over"
	EvtRateLimited = "rate_limited"
)

// JournalEvent is one recorded room event
type JournalEvent struct {
	Type      string
	RoomID    string
	UserID    string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// Journal records room events with batched background writes and keeps a
// few live counters for /healthz.
type Journal struct {
	db     *DB
	events chan JournalEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu        sync.RWMutex
	peers     int
	rooms     int
	relayed   int64
	dropped   int64
	batchSize int
	interval  time.Duration
}

// NewJournal creates and starts the journal writer. db may be nil, in which
// case events are counted but not stored.
func NewJournal(db *DB) *Journal {
	j := &Journal{
		db:        db,
		events:    make(chan JournalEvent, 1024),
		stop:      make(chan struct{}),
		batchSize: 50,
		interval:  5 * time.Second,
	}
	j.wg.Add(1)
	go j.writer()
	return j
}

// Track enqueues an event for async persistence (non-blocking)
func (j *Journal) Track(evtType, roomID, userID, data string) {
	select {
	case j.events <- JournalEvent{
		Type:      evtType,
		RoomID:    roomID,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
	}
}

// CountRelayed adds n forwarded messages to the live counters
func (j *Journal) CountRelayed(n int) {
	j.mu.Lock()
	j.relayed += int64(n)
	j.mu.Unlock()
}

// SetLive updates the live peer and room counts
func (j *Journal) SetLive(peers, rooms int) {
	j.mu.Lock()
	j.peers = peers
	j.rooms = rooms
	j.mu.Unlock()
}

// LiveMetrics is the snapshot served by /healthz
type LiveMetrics struct {
	Peers   int   `json:"peers"`
	Rooms   int   `json:"rooms"`
	Relayed int64 `json:"relayed"`
	Dropped int64 `json:"droppedEvents"`
}

// Live returns current live metrics
func (j *Journal) Live() LiveMetrics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return LiveMetrics{Peers: j.peers, Rooms: j.rooms, Relayed: j.relayed, Dropped: j.dropped}
}

// Stop flushes pending events and shuts down the writer
func (j *Journal) Stop() {
	j.once.Do(func() {
		close(j.stop)
		j.wg.Wait()
	})
}

// writer is the background goroutine that batches and writes events to DB
func (j *Journal) writer() {
	defer j.wg.Done()

	batch := make([]JournalEvent, 0, 64)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-j.events:
			batch = append(batch, evt)
			if len(batch) >= j.batchSize {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-j.stop:
			// Track may still run on closing connections, so drain without
			// closing the channel.
		drain:
			for {
				select {
				case evt := <-j.events:
					batch = append(batch, evt)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				j.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch of events to the database
func (j *Journal) flush(events []JournalEvent) {
	if j.db == nil || len(events) == 0 {
		return
	}
	tx, err := j.db.conn.Begin()
	if err != nil {
		log.Printf("journal: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO room_events (event_type, room_id, user_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("journal: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		rid := sql.NullString{String: evt.RoomID, Valid: evt.RoomID != ""}
		uid := sql.NullString{String: evt.UserID, Valid: evt.UserID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Type, rid, uid, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			log.Printf("journal: insert error: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("journal: commit error: %v", err)
	}
}

// EventCounts returns event counts by type over the last days
func (j *Journal) EventCounts(days int) (map[string]int, error) {
	counts := make(map[string]int)
	if j.db == nil {
		return counts, nil
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := j.db.conn.Query(`
		SELECT event_type, COUNT(*) FROM room_events
		WHERE created_at >= ?
		GROUP BY event_type`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
