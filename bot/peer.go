package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/yzoe76300/Battle-of-Yavin/protocol"
	"github.com/yzoe76300/Battle-of-Yavin/sim"
)

var errRoomFull = errors.New("room is full")

// Peer runs one duel engine against the relay. Inbound messages are applied
// to the engine; events the engine originates are queued as outbound frames.
type Peer struct {
	codec    protocol.Codec
	logger   *slog.Logger
	userID   string
	username string

	roomID string
	role   sim.Role
	engine *sim.Engine
	ready  bool // both slots occupied
	out    [][]byte

	newEngine func(sim.Role, sim.Emitter) *sim.Engine
}

// NewPeer creates a peer for userID. newEngine builds the engine once the
// server assigns a role; nil uses the role's default authority.
func NewPeer(codec protocol.Codec, logger *slog.Logger, userID, username string, newEngine func(sim.Role, sim.Emitter) *sim.Engine) *Peer {
	if newEngine == nil {
		newEngine = func(r sim.Role, emit sim.Emitter) *sim.Engine {
			return sim.NewEngine(sim.Config{Role: r, Authority: sim.AuthorityFor(r), Emitter: emit})
		}
	}
	return &Peer{codec: codec, logger: logger, userID: userID, username: username, newEngine: newEngine}
}

// Engine returns the running engine, or nil before a role is assigned.
func (p *Peer) Engine() *sim.Engine { return p.engine }

// Ready reports whether the opponent is present and the engine is running.
func (p *Peer) Ready() bool { return p.ready && p.engine != nil }

// Join queues a join for roomID with an optional preferred role.
func (p *Peer) Join(roomID, role string) {
	p.roomID = roomID
	p.send(protocol.MsgJoin, protocol.JoinMsg{RoomID: roomID, UserID: p.userID, Username: p.username, Role: role})
}

// Matchmake queues a matchmaking request.
func (p *Peer) Matchmake() {
	p.send(protocol.MsgJoinMatchmaking, protocol.JoinMatchmakingMsg{UserID: p.userID, Username: p.username})
}

// Flush returns and clears the queued outbound frames.
func (p *Peer) Flush() [][]byte {
	out := p.out
	p.out = nil
	return out
}

// Tick advances the engine by dt seconds while the duel is on.
func (p *Peer) Tick(dt float64) {
	if !p.Ready() {
		return
	}
	p.engine.Advance(dt)
}

func (p *Peer) send(t string, payload any) {
	raw, err := p.codec.Marshal(t, payload)
	if err != nil {
		p.logger.Warn("encode failed", "type", t, "err", err)
		return
	}
	p.out = append(p.out, raw)
}

// Emit implements sim.Emitter.
func (p *Peer) Emit(ev sim.Event) {
	switch ev := ev.(type) {
	case sim.TurretMoved:
		p.send(protocol.MsgTurretUpdate, protocol.TurretMsg{RoomID: p.roomID, Angle: protocol.Float(ev.Angle), TS: ev.TS})
	case sim.Fired:
		p.send(protocol.MsgFire, protocol.NewFireMsg(p.roomID, ev.Pos.X, ev.Pos.Y, ev.Vel.X, ev.Vel.Y, ev.TS))
	case sim.FightersSpawned:
		msg := protocol.SpawnMsg{RoomID: p.roomID, Fighters: make([]protocol.FighterState, len(ev.Fighters))}
		for i, f := range ev.Fighters {
			msg.Fighters[i] = protocol.FighterState{
				ID: f.ID, Side: string(f.Side),
				X: f.Pos.X, Y: f.Pos.Y, VX: f.Vel.X, VY: f.Vel.Y, R: f.R,
			}
		}
		p.send(protocol.MsgSpawnFighters, msg)
	case sim.FighterDown:
		p.send(protocol.MsgFighterDown, protocol.FighterDownMsg{RoomID: p.roomID, ID: ev.ID})
	case sim.ShieldBreached:
		p.send(protocol.MsgBreach, protocol.BreachMsg{RoomID: p.roomID, Side: string(ev.Side), ID: ev.ID})
	case sim.GameOver:
		p.send(protocol.MsgGameOver, protocol.GameOverMsg{
			RoomID: p.roomID,
			Winner: string(ev.Winner),
			Lives:  protocol.NewLives(ev.Lives.Left, ev.Lives.Right),
		})
	case sim.CheatToggled:
		p.send(protocol.MsgCheatToggle, protocol.CheatMsg{RoomID: p.roomID, Enabled: ev.Enabled})
	}
}

// Handle applies one inbound frame.
func (p *Peer) Handle(frame []byte) error {
	in, err := p.codec.Unmarshal(frame)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch in.T {
	case protocol.MsgRoleAssigned:
		var m protocol.RoleAssignedMsg
		if err := p.codec.UnmarshalPayload(in, &m); err != nil {
			return err
		}
		p.assign(sim.Role(m.Role))
	case protocol.MsgRoomJoined:
		var m protocol.RoomJoinedMsg
		if err := p.codec.UnmarshalPayload(in, &m); err != nil {
			return err
		}
		p.roomID = m.RoomID
	case protocol.MsgRoomRoster:
		var roster []protocol.RosterEntry
		if err := p.codec.UnmarshalPayload(in, &roster); err != nil {
			return err
		}
		p.updateRoster(roster)
	case protocol.MsgRoomFull:
		return errRoomFull
	case protocol.MsgMatchFound:
		var m protocol.MatchFoundMsg
		if err := p.codec.UnmarshalPayload(in, &m); err != nil {
			return err
		}
		p.logger.Info("match found", "room", m.RoomID, "role", m.PlayerRole, "opponent", m.Opponent.Username)
		p.Join(m.RoomID, m.PlayerRole)
	case protocol.MsgMatchmakingStatus:
		var m protocol.MatchmakingStatusMsg
		if err := p.codec.UnmarshalPayload(in, &m); err != nil {
			return err
		}
		p.logger.Info("matchmaking", "status", m.Status, "queue", m.QueueLength)
	case protocol.MsgError:
		var m protocol.ErrorMsg
		if err := p.codec.UnmarshalPayload(in, &m); err != nil {
			return err
		}
		p.logger.Warn("server error", "msg", m.Msg)
	default:
		if p.engine == nil {
			return nil
		}
		return p.applyDuel(in)
	}
	return nil
}

func (p *Peer) assign(role sim.Role) {
	if !role.Valid() {
		return
	}
	if p.engine != nil && p.role == role {
		return
	}
	p.role = role
	p.engine = p.newEngine(role, p)
	p.logger.Info("role assigned", "role", role, "host", p.engine.Authority().IsHost())
}

func (p *Peer) updateRoster(roster []protocol.RosterEntry) {
	seated := 0
	for _, e := range roster {
		if e.Occupied() {
			seated++
		}
	}
	ready := seated == 2
	if ready != p.ready {
		p.logger.Info("opponent presence changed", "present", ready)
	}
	p.ready = ready
}

// decodeDuel decodes a relayed duel event. Payloads the relay should have
// dropped are logged and skipped.
func (p *Peer) decodeDuel(in protocol.InEnvelope, m protocol.RoomPayload) bool {
	if err := p.codec.UnmarshalPayload(in, m); err != nil {
		p.logger.Warn("bad payload", "type", in.T, "err", err)
		return false
	}
	if err := m.Validate(); err != nil {
		p.logger.Warn("bad payload", "type", in.T, "err", err)
		return false
	}
	return true
}

func (p *Peer) applyDuel(in protocol.InEnvelope) error {
	e := p.engine
	switch in.T {
	case protocol.MsgOpponentTurret:
		var m protocol.TurretMsg
		if p.decodeDuel(in, &m) {
			e.ApplyOpponentTurret(*m.Angle)
		}
	case protocol.MsgOpponentFire:
		var m protocol.FireMsg
		if p.decodeDuel(in, &m) {
			e.ApplyOpponentFire(sim.Vec2{X: *m.X, Y: *m.Y}, sim.Vec2{X: *m.VX, Y: *m.VY}, m.TS)
		}
	case protocol.MsgFighterSpawn:
		var m protocol.SpawnMsg
		if !p.decodeDuel(in, &m) {
			return nil
		}
		specs := make([]sim.FighterSpec, 0, len(m.Fighters))
		for _, f := range m.Fighters {
			specs = append(specs, sim.FighterSpec{
				ID:   f.ID,
				Side: sim.Side(f.Side),
				Pos:  sim.Vec2{X: f.X, Y: f.Y},
				Vel:  sim.Vec2{X: f.VX, Y: f.VY},
				R:    f.R,
			})
		}
		e.ApplyFighterSpawn(specs)
	case protocol.MsgFighterDown:
		var m protocol.FighterDownMsg
		if p.decodeDuel(in, &m) {
			e.ApplyFighterDown(m.ID)
		}
	case protocol.MsgBreach:
		var m protocol.BreachMsg
		if p.decodeDuel(in, &m) {
			e.ApplyBreach(sim.Side(m.Side), m.ID)
		}
	case protocol.MsgGameOver:
		var m protocol.GameOverMsg
		if p.decodeDuel(in, &m) {
			e.ApplyGameOver(sim.Winner(m.Winner), sim.Lives{Left: *m.Lives.Left, Right: *m.Lives.Right})
		}
	case protocol.MsgOpponentCheat:
		var m protocol.CheatMsg
		if p.decodeDuel(in, &m) {
			e.ApplyOpponentCheat(m.Enabled)
		}
	}
	return nil
}
