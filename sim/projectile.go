package sim

import "time"

const (
	BulletSpeed      = 1800.0 // pixels/s
	BulletTTL        = 2.2    // seconds
	BulletCullMargin = 200.0
	MaxProjectiles   = 400
	FireCooldown     = 180 * time.Millisecond
)

// Projectile is a bolt fired by Owner. Origin is the engine clock at which
// this peer created or received it; only Pos changes afterwards.
type Projectile struct {
	Pos      Vec2
	Vel      Vec2
	Origin   float64
	RemoteTS float64 // sender's timestamp for mirrored shots
	Owner    Role
}

// Age returns seconds since the projectile was created at clock now.
func (p *Projectile) Age(now float64) float64 {
	return now - p.Origin
}

// Expired reports whether the projectile must be culled at clock now.
func (p *Projectile) Expired(now float64) bool {
	return p.Age(now) >= BulletTTL || !InBounds(p.Pos, BulletCullMargin)
}

// TargetShield returns the shield the projectile can strike.
func (p *Projectile) TargetShield() Shield {
	return ShieldFor(p.Owner.Opponent().Side())
}

// CanHit reports whether f is a legal target: alive and attacking the owner's base.
func (p *Projectile) CanHit(f *Fighter) bool {
	return f.State == Alive && f.Side != p.Owner.Side()
}

func (e *Engine) addProjectile(p Projectile) {
	e.projectiles = append(e.projectiles, p)
	if n := len(e.projectiles); n > MaxProjectiles {
		e.projectiles = append(e.projectiles[:0], e.projectiles[n-MaxProjectiles:]...)
	}
}

// stepProjectiles integrates, culls and resolves collisions.
func (e *Engine) stepProjectiles(dt float64) {
	e.grid.Clear()
	for i, f := range e.fighters {
		if f.State == Alive {
			e.grid.InsertCircle(f.Pos, f.R, i)
		}
	}

	kept := e.projectiles[:0]
	for i := range e.projectiles {
		p := e.projectiles[i]
		p.Pos = p.Pos.Add(p.Vel.Scale(dt))

		if p.Expired(e.clock) {
			continue
		}
		if p.TargetShield().Hits(p.Pos) {
			continue
		}
		if f := e.fighterHitBy(&p); f != nil {
			if e.killFighter(f) && e.auth.reportsKillBy(p.Owner, e.role) {
				e.emit.Emit(FighterDown{ID: f.ID})
			}
			continue
		}
		kept = append(kept, p)
	}
	clear(e.projectiles[len(kept):])
	e.projectiles = kept
}

// fighterHitBy returns the first fighter, in spawn order, struck by p.
func (e *Engine) fighterHitBy(p *Projectile) *Fighter {
	e.gridBuf = e.grid.QueryBuf(p.Pos, e.gridBuf[:0])
	var hit *Fighter
	best := len(e.fighters)
	for _, i := range e.gridBuf {
		f := e.fighters[i]
		if i < best && p.CanHit(f) && CirclesOverlap(p.Pos, f.Pos, f.R) {
			hit, best = f, i
		}
	}
	return hit
}
