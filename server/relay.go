package main

import (
	"errors"
	"fmt"

	"github.com/yzoe76300/Battle-of-Yavin/protocol"
)

var (
	ErrUnroutable  = errors.New("unroutable message type")
	ErrForeignRoom = errors.New("payload for another room")
	ErrNotSeated   = errors.New("sender holds no slot in room")
)

// PayloadDecoder decodes the payload of an inbound envelope.
type PayloadDecoder interface {
	UnmarshalPayload(in protocol.InEnvelope, v any) error
}

type route struct {
	out           string
	includeSender bool
	payload       func() protocol.RoomPayload
}

var routes = map[string]route{
	protocol.MsgTurretUpdate:  {out: protocol.MsgOpponentTurret, payload: func() protocol.RoomPayload { return &protocol.TurretMsg{} }},
	protocol.MsgFire:          {out: protocol.MsgOpponentFire, payload: func() protocol.RoomPayload { return &protocol.FireMsg{} }},
	protocol.MsgSpawnFighters: {out: protocol.MsgFighterSpawn, payload: func() protocol.RoomPayload { return &protocol.SpawnMsg{} }},
	protocol.MsgFighterDown:   {out: protocol.MsgFighterDown, payload: func() protocol.RoomPayload { return &protocol.FighterDownMsg{} }},
	protocol.MsgBreach:        {out: protocol.MsgBreach, payload: func() protocol.RoomPayload { return &protocol.BreachMsg{} }},
	protocol.MsgGameOver:      {out: protocol.MsgGameOver, includeSender: true, payload: func() protocol.RoomPayload { return &protocol.GameOverMsg{} }},
	protocol.MsgCheatToggle:   {out: protocol.MsgOpponentCheat, payload: func() protocol.RoomPayload { return &protocol.CheatMsg{} }},
}

// Routable reports whether t is forwarded by the relay.
func Routable(t string) bool {
	_, ok := routes[t]
	return ok
}

// GameOverFunc is called once per room when its first gameOver is relayed.
type GameOverFunc func(snap RoomSnapshot, msg *protocol.GameOverMsg)

// Relay fans authority events out to the other occupant of the sender's
// room. It validates payload shape only; who may originate what is left to
// the peers.
type Relay struct {
	registry   *Registry
	onGameOver GameOverFunc
}

// NewRelay creates a relay over registry. onGameOver may be nil.
func NewRelay(registry *Registry, onGameOver GameOverFunc) *Relay {
	return &Relay{registry: registry, onGameOver: onGameOver}
}

// Forward routes one inbound envelope from sender, who joined roomID.
// Recipients re-encode the payload with their own codec.
func (r *Relay) Forward(sender Peer, roomID string, in protocol.InEnvelope, dec PayloadDecoder) error {
	rt, ok := routes[in.T]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnroutable, in.T)
	}
	payload := rt.payload()
	if err := dec.UnmarshalPayload(in, payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	if roomID == "" || payload.Room() != roomID {
		return fmt.Errorf("%w: %s", ErrForeignRoom, payload.Room())
	}
	if _, seated := r.registry.RoleOf(roomID, sender.ID()); !seated {
		return ErrNotSeated
	}

	for _, p := range r.registry.Peers(roomID) {
		if p.ID() == sender.ID() && !rt.includeSender {
			continue
		}
		p.Send(rt.out, payload)
	}

	if over, ok := payload.(*protocol.GameOverMsg); ok && r.registry.MarkFinished(roomID) && r.onGameOver != nil {
		if snap, ok := r.registry.Snapshot(roomID); ok {
			r.onGameOver(snap, over)
		}
	}
	return nil
}
