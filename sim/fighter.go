package sim

import (
	"math"
	"time"
)

const (
	FighterSpeed      = 600.0 // pixels/s before difficulty scaling
	FighterRadius     = 40.0
	FighterCullMargin = 120.0
	SpawnInterval     = 2 * time.Second
	SpawnBand         = 500.0 // spawn y is midY +/- this
	SpeedRampPerSec   = 0.01
	MaxSpeedFactor    = 3.0

	ExplosionLife   = 0.45
	BreachFlashLife = 0.35
)

// FighterSpec is a fighter as the host created it. Mirrors adopt it verbatim.
type FighterSpec struct {
	ID   string
	Side Side // spawn side; the fighter attacks the opposite base
	Pos  Vec2
	Vel  Vec2
	R    float64
}

// Fighter is a hostile entity flying toward the opposite base.
type Fighter struct {
	FighterSpec
	State   LifeState
	Breach  BreachState
	deadFor float64
}

// Target returns the side whose shield this fighter attacks.
func (f *Fighter) Target() Side {
	return f.Side.Opposite()
}

// SpeedFactor is the difficulty multiplier for fighters spawned after
// elapsed seconds of play: +1% per second, capped.
func SpeedFactor(elapsed float64) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(MaxSpeedFactor, 1+SpeedRampPerSec*elapsed)
}

// spawnPair builds a symmetric left/right pair at clock now.
func (e *Engine) spawnPair() []FighterSpec {
	a := SceneAnchors()
	m := SpeedFactor(e.clock)
	yL := a.MidY - SpawnBand + e.randFloat()*2*SpawnBand
	yR := a.MidY - SpawnBand + e.randFloat()*2*SpawnBand
	return []FighterSpec{
		{ID: e.newID(Left), Side: Left, Pos: Vec2{ArenaWidth * 0.02, yL}, Vel: Vec2{FighterSpeed * m, 0}, R: FighterRadius},
		{ID: e.newID(Right), Side: Right, Pos: Vec2{ArenaWidth * 0.98, yR}, Vel: Vec2{-FighterSpeed * m, 0}, R: FighterRadius},
	}
}

func (e *Engine) maybeSpawn() {
	if e.clock < e.nextSpawn {
		return
	}
	e.nextSpawn = e.clock + SpawnInterval.Seconds()
	specs := e.spawnPair()
	for _, s := range specs {
		e.addFighter(s)
	}
	e.emit.Emit(FightersSpawned{Fighters: specs})
}

// addFighter inserts a fighter unless its id is known or was reported down
// before the spawn arrived.
func (e *Engine) addFighter(s FighterSpec) bool {
	if s.ID == "" || !s.Side.Valid() || !s.Pos.Finite() || !s.Vel.Finite() {
		return false
	}
	if _, ok := e.index[s.ID]; ok {
		return false
	}
	if _, ok := e.tombstones[s.ID]; ok {
		return false
	}
	if s.R <= 0 {
		s.R = FighterRadius
	}
	f := &Fighter{FighterSpec: s}
	e.fighters = append(e.fighters, f)
	e.index[s.ID] = f
	return true
}

// killFighter applies the alive -> dead transition and its explosion once.
func (e *Engine) killFighter(f *Fighter) bool {
	if !f.State.Kill() {
		return false
	}
	e.addEffect(f.Pos, ExplosionLife)
	return true
}

// stepFighters integrates alive fighters and culls those off-screen or whose
// explosion has finished.
func (e *Engine) stepFighters(dt float64) {
	kept := e.fighters[:0]
	for _, f := range e.fighters {
		if f.State == Alive {
			f.Pos = f.Pos.Add(f.Vel.Scale(dt))
			if InBounds(f.Pos, FighterCullMargin) {
				kept = append(kept, f)
				continue
			}
		} else {
			f.deadFor += dt
			if f.deadFor < ExplosionLife {
				kept = append(kept, f)
				continue
			}
		}
		delete(e.index, f.ID)
	}
	clear(e.fighters[len(kept):])
	e.fighters = kept
}

// checkBreaches is the host's shield-crossing test.
func (e *Engine) checkBreaches() {
	for _, f := range e.fighters {
		if f.State != Alive || f.Breach == Breached {
			continue
		}
		target := f.Target()
		shield := ShieldFor(target)
		if !shield.Hits(f.Pos) {
			continue
		}
		if !e.markBreached(f.ID) {
			continue
		}
		e.lives.deduct(target)
		e.addEffect(shield.Center, ExplosionLife)
		e.emit.Emit(ShieldBreached{Side: target, ID: f.ID})
		e.checkTerminal()
		if e.ended.IsSet() {
			return
		}
	}
}

// markBreached applies the one-shot breach transition for id, whether or not
// the fighter is still present locally.
func (e *Engine) markBreached(id string) bool {
	if f, ok := e.index[id]; ok && !f.Breach.Breach() {
		return false
	}
	if _, seen := e.breached[id]; seen {
		return false
	}
	e.breached[id] = struct{}{}
	return true
}
