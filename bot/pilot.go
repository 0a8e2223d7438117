package main

import (
	"math"

	"github.com/yzoe76300/Battle-of-Yavin/sim"
)

const (
	aimDeadband   = 0.01 // rad; below one frame of turret travel
	fireTolerance = 0.03 // rad; about a fighter radius at mid-arena range
)

// Pilot is a rule-based turret gunner. It turns toward the incoming fighter
// closest to its own turret, leading the shot by the bolt's flight time, and
// fires once the barrel is on target.
type Pilot struct{}

// Decide returns the input for e's next step. The turret only moves through
// Up/Down, so it turns at the engine's turret speed like a human player.
func (Pilot) Decide(e *sim.Engine) sim.Input {
	side := e.Role().Side()
	target, ok := nearestThreat(e.Fighters(), side)
	if !ok {
		return sim.Input{}
	}
	want := sim.AngleTo(side, lead(sim.TurretBase(side), target))
	if math.Abs(want) > sim.TurretArc {
		return sim.Input{}
	}
	diff := want - e.Me().TurretAngle
	return sim.Input{
		Up:   diff < -aimDeadband,
		Down: diff > aimDeadband,
		Fire: math.Abs(diff) <= fireTolerance,
	}
}

// nearestThreat returns the live fighter attacking side that is closest to
// side's turret.
func nearestThreat(fighters []sim.Fighter, side sim.Side) (sim.Fighter, bool) {
	base := sim.TurretBase(side)
	var best sim.Fighter
	bestD := math.Inf(1)
	for _, f := range fighters {
		if f.State != sim.Alive || f.Target() != side {
			continue
		}
		if d := f.Pos.DistSq(base); d < bestD {
			best, bestD = f, d
		}
	}
	return best, !math.IsInf(bestD, 1)
}

// lead predicts where f will be when a bolt fired from base reaches it.
func lead(base sim.Vec2, f sim.Fighter) sim.Vec2 {
	t := math.Sqrt(f.Pos.DistSq(base)) / sim.BulletSpeed
	return f.Pos.Add(f.Vel.Scale(t))
}
