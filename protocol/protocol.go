// Package protocol defines the messages exchanged between duel peers and the
// relay server, and the codecs used to put them on the wire.
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Client -> Server message types
const (
	MsgJoin              = "join"
	MsgLeave             = "leave"
	MsgTurretUpdate      = "turretUpdate"
	MsgFire              = "fire"
	MsgSpawnFighters     = "spawnFighters"
	MsgFighterDown       = "fighterDown" // same name in both directions
	MsgBreach            = "breach"      // same name in both directions
	MsgGameOver          = "gameOver"    // same name in both directions
	MsgCheatToggle       = "cheatToggle"
	MsgJoinMatchmaking   = "joinMatchmaking"
	MsgCancelMatchmaking = "cancelMatchmaking"
)

// Server -> Client message types
const (
	MsgRoleAssigned      = "roleAssigned"
	MsgRoomJoined        = "roomJoined"
	MsgRoomRoster        = "roomRoster"
	MsgRoomFull          = "roomFull"
	MsgOpponentTurret    = "opponentTurret"
	MsgOpponentFire      = "opponentFire"
	MsgFighterSpawn      = "fighterSpawn"
	MsgOpponentCheat     = "opponentCheat"
	MsgMatchFound        = "matchFound"
	MsgMatchmakingStatus = "matchmakingStatus"
	MsgError             = "error"
)

// Roles a connection can hold inside a room.
const (
	RolePlayer1 = "player1"
	RolePlayer2 = "player2"
)

// Arena sides. player1 defends the left base, player2 the right one.
const (
	SideLeft  = "left"
	SideRight = "right"
	SideTie   = "tie"
)

// Matchmaking statuses
const (
	StatusWaiting        = "waiting"
	StatusAlreadyInQueue = "already_in_queue"
	StatusCancelled      = "cancelled"
)

// ErrMalformed is returned when a payload is missing required fields.
var ErrMalformed = errors.New("malformed payload")

// ValidRole reports whether r names one of the two room slots.
func ValidRole(r string) bool {
	return r == RolePlayer1 || r == RolePlayer2
}

// OtherRole returns the opposite slot.
func OtherRole(r string) string {
	if r == RolePlayer2 {
		return RolePlayer1
	}
	return RolePlayer2
}

// SideOf returns the arena side defended by a role.
func SideOf(role string) string {
	if role == RolePlayer2 {
		return SideRight
	}
	return SideLeft
}

// ValidSide reports whether s is left or right.
func ValidSide(s string) bool {
	return s == SideLeft || s == SideRight
}

// RoomPayload is implemented by every relayed message. Room returns the room
// id the sender claims to act in; Validate rejects payloads missing fields.
type RoomPayload interface {
	Room() string
	Validate() error
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Float returns a pointer to v for required numeric fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v for required integer fields.
func Int(v int) *int { return &v }

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// JoinMsg asks the registry for a slot in a room.
type JoinMsg struct {
	RoomID   string `json:"roomId" msgpack:"roomId"`
	Username string `json:"username" msgpack:"username"`
	UserID   string `json:"userId" msgpack:"userId"`
	Role     string `json:"role" msgpack:"role"`
	Token    string `json:"token,omitempty" msgpack:"token,omitempty"`
}

func (m *JoinMsg) Room() string { return m.RoomID }

func (m *JoinMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("join without roomId")
	}
	if m.UserID == "" && m.Token == "" {
		return malformed("join without userId")
	}
	return nil
}

// LeaveMsg releases the sender's slot.
type LeaveMsg struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
}

// RoleAssignedMsg confirms the slot the server granted.
type RoleAssignedMsg struct {
	Role string `json:"role" msgpack:"role"`
}

// RoomJoinedMsg acknowledges a successful join.
type RoomJoinedMsg struct {
	RoomID string `json:"roomId" msgpack:"roomId"`
}

// RoomFullMsg rejects a join; the connection stays open.
type RoomFullMsg struct {
	RoomID  string `json:"roomId" msgpack:"roomId"`
	Message string `json:"message" msgpack:"message"`
}

// RosterEntry summarises one slot. UserID and Username are nil for an empty slot.
type RosterEntry struct {
	Role     string  `json:"role" msgpack:"role"`
	UserID   *string `json:"userId" msgpack:"userId"`
	Username *string `json:"username" msgpack:"username"`
}

// Occupied reports whether a user holds the slot.
func (e RosterEntry) Occupied() bool {
	return e.UserID != nil
}

// TurretMsg carries the sender's own turret angle (radians from its forward axis).
type TurretMsg struct {
	RoomID string   `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Angle  *float64 `json:"angle" msgpack:"angle"`
	TS     int64    `json:"ts" msgpack:"ts"`
}

func (m *TurretMsg) Room() string { return m.RoomID }

func (m *TurretMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("turretUpdate without roomId")
	}
	if m.Angle == nil {
		return malformed("turretUpdate without angle")
	}
	if !finite(*m.Angle) {
		return malformed("turretUpdate angle not finite")
	}
	return nil
}

// FireMsg describes a projectile the sender created. Position and velocity
// are required; TS is informational.
type FireMsg struct {
	RoomID string   `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	X      *float64 `json:"x" msgpack:"x"`
	Y      *float64 `json:"y" msgpack:"y"`
	VX     *float64 `json:"vx" msgpack:"vx"`
	VY     *float64 `json:"vy" msgpack:"vy"`
	TS     float64  `json:"ts" msgpack:"ts"`
}

// NewFireMsg builds a fire message with every required field set.
func NewFireMsg(roomID string, x, y, vx, vy, ts float64) FireMsg {
	return FireMsg{RoomID: roomID, X: &x, Y: &y, VX: &vx, VY: &vy, TS: ts}
}

func (m *FireMsg) Room() string { return m.RoomID }

func (m *FireMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("fire without roomId")
	}
	if m.X == nil || m.Y == nil || m.VX == nil || m.VY == nil {
		return malformed("fire without position or velocity")
	}
	if !finite(*m.X, *m.Y, *m.VX, *m.VY, m.TS) {
		return malformed("fire with non-finite coordinates")
	}
	return nil
}

// FighterState is a fighter as spawned by the host.
type FighterState struct {
	ID   string  `json:"id" msgpack:"id"`
	Side string  `json:"side" msgpack:"side"`
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
	VX   float64 `json:"vx" msgpack:"vx"`
	VY   float64 `json:"vy" msgpack:"vy"`
	R    float64 `json:"r" msgpack:"r"`
}

// SpawnMsg carries a batch of host-spawned fighters.
type SpawnMsg struct {
	RoomID   string         `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Fighters []FighterState `json:"fighters" msgpack:"fighters"`
}

func (m *SpawnMsg) Room() string { return m.RoomID }

func (m *SpawnMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("spawnFighters without roomId")
	}
	if len(m.Fighters) == 0 {
		return malformed("spawnFighters without fighters")
	}
	for _, f := range m.Fighters {
		if f.ID == "" || !ValidSide(f.Side) {
			return malformed("fighter without id or side")
		}
		if !finite(f.X, f.Y, f.VX, f.VY, f.R) {
			return malformed("fighter %s with non-finite state", f.ID)
		}
	}
	return nil
}

// FighterDownMsg reports a fighter destroyed by the sender's projectile.
type FighterDownMsg struct {
	RoomID string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	ID     string `json:"id" msgpack:"id"`
}

func (m *FighterDownMsg) Room() string { return m.RoomID }

func (m *FighterDownMsg) Validate() error {
	if m.RoomID == "" || m.ID == "" {
		return malformed("fighterDown without roomId or id")
	}
	return nil
}

// BreachMsg reports a fighter crossing a side's shield. ID is empty for
// peers that predate per-fighter breach tracking.
type BreachMsg struct {
	RoomID string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Side   string `json:"side" msgpack:"side"`
	ID     string `json:"id,omitempty" msgpack:"id,omitempty"`
}

func (m *BreachMsg) Room() string { return m.RoomID }

func (m *BreachMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("breach without roomId")
	}
	if !ValidSide(m.Side) {
		return malformed("breach with side %q", m.Side)
	}
	return nil
}

// Lives holds both sides' life counters. Both are required on the wire.
type Lives struct {
	Left  *int `json:"left" msgpack:"left"`
	Right *int `json:"right" msgpack:"right"`
}

// NewLives returns counters with both sides set.
func NewLives(left, right int) Lives {
	return Lives{Left: &left, Right: &right}
}

// GameOverMsg declares the terminal state.
type GameOverMsg struct {
	RoomID string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Winner string `json:"winner" msgpack:"winner"`
	Lives  Lives  `json:"lives" msgpack:"lives"`
}

func (m *GameOverMsg) Room() string { return m.RoomID }

func (m *GameOverMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("gameOver without roomId")
	}
	if !ValidSide(m.Winner) && m.Winner != SideTie {
		return malformed("gameOver with winner %q", m.Winner)
	}
	if m.Lives.Left == nil || m.Lives.Right == nil {
		return malformed("gameOver without lives")
	}
	if *m.Lives.Left < 0 || *m.Lives.Right < 0 {
		return malformed("gameOver with negative lives")
	}
	return nil
}

// CheatMsg toggles the sender's cheat indicator.
type CheatMsg struct {
	RoomID  string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Enabled bool   `json:"enabled" msgpack:"enabled"`
}

func (m *CheatMsg) Room() string { return m.RoomID }

func (m *CheatMsg) Validate() error {
	if m.RoomID == "" {
		return malformed("cheatToggle without roomId")
	}
	return nil
}

// JoinMatchmakingMsg enqueues a user for pairing.
type JoinMatchmakingMsg struct {
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username" msgpack:"username"`
}

// CancelMatchmakingMsg removes a user from the queue.
type CancelMatchmakingMsg struct {
	UserID string `json:"userId" msgpack:"userId"`
}

// Opponent identifies the paired user in a MatchFoundMsg.
type Opponent struct {
	Username string `json:"username" msgpack:"username"`
	UserID   string `json:"userId" msgpack:"userId"`
}

// MatchFoundMsg tells a queued user which room and role to join.
type MatchFoundMsg struct {
	RoomID     string   `json:"roomId" msgpack:"roomId"`
	Opponent   Opponent `json:"opponent" msgpack:"opponent"`
	PlayerRole string   `json:"playerRole" msgpack:"playerRole"`
}

// MatchmakingStatusMsg reports queue state.
type MatchmakingStatusMsg struct {
	Status      string `json:"status" msgpack:"status"`
	Message     string `json:"message" msgpack:"message"`
	QueueLength int    `json:"queueLength,omitempty" msgpack:"queueLength,omitempty"`
}

// ErrorMsg sends an error to the client
type ErrorMsg struct {
	Msg string `json:"msg" msgpack:"msg"`
}
