package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/yzoe76300/Battle-of-Yavin/protocol"
	"github.com/yzoe76300/Battle-of-Yavin/sim"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// relayed mirrors the server's renaming of forwarded message types.
var relayed = map[string]string{
	protocol.MsgTurretUpdate:  protocol.MsgOpponentTurret,
	protocol.MsgFire:          protocol.MsgOpponentFire,
	protocol.MsgSpawnFighters: protocol.MsgFighterSpawn,
	protocol.MsgFighterDown:   protocol.MsgFighterDown,
	protocol.MsgBreach:        protocol.MsgBreach,
	protocol.MsgGameOver:      protocol.MsgGameOver,
	protocol.MsgCheatToggle:   protocol.MsgOpponentCheat,
}

func frame(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	raw, err := protocol.JSONCodec{}.Marshal(msgType, payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func testPeer(t *testing.T, user string, lives int) *Peer {
	t.Helper()
	return NewPeer(protocol.JSONCodec{}, discardLogger, user, user, func(r sim.Role, emit sim.Emitter) *sim.Engine {
		return sim.NewEngine(sim.Config{
			Role:      r,
			Authority: sim.AuthorityFor(r),
			Emitter:   emit,
			Rand:      rand.New(rand.NewSource(7)),
			Lives:     lives,
		})
	})
}

// seat delivers the server's join replies for role with both slots taken.
func seat(t *testing.T, p *Peer, role string) {
	t.Helper()
	a, b := "u1", "u2"
	roster := []protocol.RosterEntry{
		{Role: protocol.RolePlayer1, UserID: &a, Username: &a},
		{Role: protocol.RolePlayer2, UserID: &b, Username: &b},
	}
	for _, f := range [][]byte{
		frame(t, protocol.MsgRoleAssigned, protocol.RoleAssignedMsg{Role: role}),
		frame(t, protocol.MsgRoomJoined, protocol.RoomJoinedMsg{RoomID: "room_t"}),
		frame(t, protocol.MsgRoomRoster, roster),
	} {
		if err := p.Handle(f); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
}

// deliver forwards from's outbound frames to to, renamed the way the relay does.
func deliver(t *testing.T, from, to *Peer) {
	t.Helper()
	c := protocol.JSONCodec{}
	for _, raw := range from.Flush() {
		in, err := c.Unmarshal(raw)
		if err != nil {
			t.Fatal(err)
		}
		out, ok := relayed[in.T]
		if !ok {
			continue
		}
		fwd, err := c.Marshal(out, json.RawMessage(in.D))
		if err != nil {
			t.Fatal(err)
		}
		if err := to.Handle(fwd); err != nil {
			t.Fatalf("Handle %s: %v", out, err)
		}
	}
}

func TestPeerJoinFrame(t *testing.T) {
	p := testPeer(t, "u1", 0)
	p.Join("room_t", protocol.RolePlayer2)

	out := p.Flush()
	if len(out) != 1 {
		t.Fatalf("frames = %d, want 1", len(out))
	}
	c := protocol.JSONCodec{}
	in, _ := c.Unmarshal(out[0])
	var m protocol.JoinMsg
	c.UnmarshalPayload(in, &m)
	if in.T != protocol.MsgJoin || m.RoomID != "room_t" || m.UserID != "u1" || m.Role != protocol.RolePlayer2 {
		t.Errorf("join = %s %+v", in.T, m)
	}
	if len(p.Flush()) != 0 {
		t.Error("Flush should clear the queue")
	}
}

func TestPeerWaitsForOpponent(t *testing.T) {
	p := testPeer(t, "u1", 0)
	p.Handle(frame(t, protocol.MsgRoleAssigned, protocol.RoleAssignedMsg{Role: protocol.RolePlayer1}))
	if p.Engine() == nil || p.Engine().Role() != sim.Player1 {
		t.Fatal("engine not created on roleAssigned")
	}
	if p.Ready() {
		t.Fatal("peer ready without an opponent")
	}
	p.Tick(0.5)
	if p.Engine().Clock() != 0 {
		t.Error("engine advanced before the opponent arrived")
	}
}

func TestPeerRoomFull(t *testing.T) {
	p := testPeer(t, "u1", 0)
	err := p.Handle(frame(t, protocol.MsgRoomFull, protocol.RoomFullMsg{RoomID: "room_t", Message: "Room is full"}))
	if err != errRoomFull {
		t.Errorf("err = %v, want errRoomFull", err)
	}
}

func TestPeerFollowsMatch(t *testing.T) {
	p := testPeer(t, "u1", 0)
	p.Handle(frame(t, protocol.MsgMatchFound, protocol.MatchFoundMsg{RoomID: "room_abc", PlayerRole: protocol.RolePlayer2}))

	out := p.Flush()
	if len(out) != 1 {
		t.Fatalf("frames = %d, want 1 join", len(out))
	}
	c := protocol.JSONCodec{}
	in, _ := c.Unmarshal(out[0])
	var m protocol.JoinMsg
	c.UnmarshalPayload(in, &m)
	if m.RoomID != "room_abc" || m.Role != protocol.RolePlayer2 {
		t.Errorf("join = %+v", m)
	}
}

func TestPeerAppliesRelayedEvents(t *testing.T) {
	p := testPeer(t, "u2", 0)
	seat(t, p, protocol.RolePlayer2)
	e := p.Engine()

	p.Handle(frame(t, protocol.MsgFighterSpawn, protocol.SpawnMsg{RoomID: "room_t", Fighters: []protocol.FighterState{
		{ID: "L_1", Side: "left", X: 64, Y: 900, VX: 600, R: 40},
		{ID: "R_1", Side: "right", X: 3136, Y: 900, VX: -600, R: 40},
	}}))
	if len(e.Fighters()) != 2 {
		t.Fatalf("fighters = %d, want 2", len(e.Fighters()))
	}

	p.Handle(frame(t, protocol.MsgFighterDown, protocol.FighterDownMsg{RoomID: "room_t", ID: "L_1"}))
	if f, _ := e.Fighter("L_1"); f.State != sim.Dead {
		t.Error("fighterDown not applied")
	}

	p.Handle(frame(t, protocol.MsgBreach, protocol.BreachMsg{RoomID: "room_t", Side: "right", ID: "L_9"}))
	p.Handle(frame(t, protocol.MsgBreach, protocol.BreachMsg{RoomID: "room_t", Side: "right", ID: "L_9"}))
	if got := e.Lives().Right; got != sim.StartLives-1 {
		t.Errorf("right lives = %d, want %d", got, sim.StartLives-1)
	}

	p.Handle(frame(t, protocol.MsgOpponentTurret, protocol.TurretMsg{RoomID: "room_t", Angle: protocol.Float(0.2)}))
	p.Handle(frame(t, protocol.MsgOpponentCheat, protocol.CheatMsg{RoomID: "room_t", Enabled: true}))
	if op := e.Opponent(); op.TurretAngle != 0.2 || !op.Cheat {
		t.Errorf("opponent = %+v", op)
	}

	p.Handle(frame(t, protocol.MsgOpponentFire, protocol.NewFireMsg("room_t", 500, 900, 1800, 0, 0)))
	if n := len(e.Projectiles()); n != 1 {
		t.Errorf("projectiles = %d, want 1", n)
	}

	p.Handle(frame(t, protocol.MsgGameOver, protocol.GameOverMsg{RoomID: "room_t", Winner: "left", Lives: protocol.NewLives(5, 0)}))
	term, ok := e.Terminal()
	if !ok || term.Winner != sim.WinnerLeft || term.Fallback {
		t.Errorf("terminal = %+v, %v", term, ok)
	}
}

func TestPeerEncodesEvents(t *testing.T) {
	p := testPeer(t, "u1", 0)
	seat(t, p, protocol.RolePlayer1)
	p.Flush()

	p.Emit(sim.ShieldBreached{Side: sim.Right, ID: "L_3"})
	p.Emit(sim.GameOver{Winner: sim.WinnerLeft, Lives: sim.Lives{Left: 2}})

	out := p.Flush()
	if len(out) != 2 {
		t.Fatalf("frames = %d, want 2", len(out))
	}
	c := protocol.JSONCodec{}
	in, _ := c.Unmarshal(out[0])
	var b protocol.BreachMsg
	c.UnmarshalPayload(in, &b)
	if in.T != protocol.MsgBreach || b != (protocol.BreachMsg{RoomID: "room_t", Side: "right", ID: "L_3"}) {
		t.Errorf("breach = %s %+v", in.T, b)
	}
	in, _ = c.Unmarshal(out[1])
	var g protocol.GameOverMsg
	c.UnmarshalPayload(in, &g)
	if in.T != protocol.MsgGameOver || g.Winner != "left" || *g.Lives.Left != 2 || g.Validate() != nil {
		t.Errorf("gameOver = %s %+v", in.T, g)
	}
}

// TestDuelConverges runs a host and a guest against each other through the
// relay's message mapping and checks the guest mirrors the host's counters
// and result.
func TestDuelConverges(t *testing.T) {
	host := testPeer(t, "u1", 3)
	guest := testPeer(t, "u2", 3)
	seat(t, host, protocol.RolePlayer1)
	seat(t, guest, protocol.RolePlayer2)
	host.Flush()
	guest.Flush()

	const dt = 1.0 / 60
	for step := 0; step < 60*60 && !host.Engine().Ended(); step++ {
		host.Tick(dt)
		guest.Tick(dt)
		deliver(t, host, guest)
		deliver(t, guest, host)

		if h, g := host.Engine().Lives(), guest.Engine().Lives(); h != g {
			t.Fatalf("step %d: host lives %+v, guest lives %+v", step, h, g)
		}
	}

	ht, ok := host.Engine().Terminal()
	if !ok {
		t.Fatal("host never declared game over")
	}
	gt, ok := guest.Engine().Terminal()
	if !ok {
		t.Fatal("guest never learned the result")
	}
	if gt.Winner != ht.Winner || gt.Lives != ht.Lives || gt.Fallback {
		t.Errorf("guest terminal %+v, host terminal %+v", gt, ht)
	}
}

// TestPilotKillsReachOpponent lets only the guest shoot and checks that every
// fighter it destroys is dead on the host too.
func TestPilotKillsReachOpponent(t *testing.T) {
	host := testPeer(t, "u1", 0)
	guest := testPeer(t, "u2", 0)
	seat(t, host, protocol.RolePlayer1)
	seat(t, guest, protocol.RolePlayer2)

	var pilot Pilot
	const dt = 1.0 / 60
	kills := 0
	for range 60 * 20 {
		guest.Engine().SetInput(pilot.Decide(guest.Engine()))
		host.Tick(dt)
		guest.Tick(dt)
		deliver(t, host, guest)
		deliver(t, guest, host)

		for _, f := range guest.Engine().Fighters() {
			if f.State != sim.Dead {
				continue
			}
			hf, ok := host.Engine().Fighter(f.ID)
			if ok && hf.State != sim.Dead {
				t.Fatalf("fighter %s dead on guest, alive on host", f.ID)
			}
			kills++
		}
	}
	if kills == 0 {
		t.Error("pilot never hit anything")
	}
}

func TestPeerIgnoresIncompleteGameOver(t *testing.T) {
	p := testPeer(t, "u2", 0)
	seat(t, p, protocol.RolePlayer2)

	if err := p.Handle([]byte(`{"t":"gameOver","d":{"roomId":"room_t","winner":"left"}}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if p.Engine().Ended() {
		t.Error("gameOver without lives latched the engine")
	}
	if l := p.Engine().Lives(); l.Left != sim.StartLives || l.Right != sim.StartLives {
		t.Errorf("lives = %+v, want untouched", l)
	}
}
