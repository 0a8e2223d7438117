// Package sim is the per-peer duel simulation: projectiles, fighters, shields
// and life counters, together with the authority rules that decide which of
// the local outcomes a peer must announce to its opponent.
//
// An Engine is not safe for concurrent use. Callers drive it from a single
// loop that both applies received events and calls Advance.
package sim

import "math"

// Arena dimensions and layout, in internal canvas pixels.
const (
	ArenaWidth  = 3200.0
	ArenaHeight = 1800.0

	ShipWidth  = 1000.0
	ShipHeight = 500.0

	ShieldRX       = ShipWidth * 0.5
	ShieldRY       = ShipHeight * 1.5
	ShieldCXOffset = ShipWidth * 0.05 // shield centre sits ahead of the hull

	TurretOffsetX = 300.0
	TurretOffsetY = 90.0
	BarrelLength  = 100.0
)

// Side is one half of the arena.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Left {
		return Right
	}
	return Left
}

// Dir is +1 for the left ship (faces +X) and -1 for the right ship.
func (s Side) Dir() float64 {
	if s == Left {
		return 1
	}
	return -1
}

// Valid reports whether s is left or right.
func (s Side) Valid() bool {
	return s == Left || s == Right
}

// Vec2 is a point or velocity.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }

// Finite reports whether both components are real numbers.
func (v Vec2) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

// DistSq returns the squared distance between two points.
func (v Vec2) DistSq(o Vec2) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return dx*dx + dy*dy
}

// Anchors are the fixed reference positions of the scene.
type Anchors struct {
	MidY   float64
	LeftX  float64
	RightX float64
}

// SceneAnchors returns the ship anchors for the arena.
func SceneAnchors() Anchors {
	return Anchors{
		MidY:   ArenaHeight * 0.5,
		LeftX:  ArenaWidth * 0.17,
		RightX: ArenaWidth * 0.83,
	}
}

// ShipX returns the x coordinate of the ship defending side.
func (a Anchors) ShipX(side Side) float64 {
	if side == Left {
		return a.LeftX
	}
	return a.RightX
}

// Shield is the half-ellipse protecting one ship.
type Shield struct {
	Center Vec2
	RX, RY float64
	Dir    float64 // facing axis: +1 or -1 along X
}

// ShieldFor returns the shield of the ship defending side.
func ShieldFor(side Side) Shield {
	a := SceneAnchors()
	dir := side.Dir()
	return Shield{
		Center: Vec2{a.ShipX(side) + dir*ShieldCXOffset, a.MidY},
		RX:     ShieldRX,
		RY:     ShieldRY,
		Dir:    dir,
	}
}

// Inside reports whether p lies inside or on the full ellipse.
func (s Shield) Inside(p Vec2) bool {
	nx := (p.X - s.Center.X) / s.RX
	ny := (p.Y - s.Center.Y) / s.RY
	return nx*nx+ny*ny <= 1
}

// InFront reports whether p lies strictly on the facing side of the centre.
func (s Shield) InFront(p Vec2) bool {
	return (p.X-s.Center.X)*s.Dir > 0
}

// Hits reports whether p is inside the front half of the shield.
func (s Shield) Hits(p Vec2) bool {
	return s.Inside(p) && s.InFront(p)
}

// CirclesOverlap checks if a point lies within radius r of c.
func CirclesOverlap(p, c Vec2, r float64) bool {
	return p.DistSq(c) <= r*r
}

// TurretBase returns the pivot of the turret on side's ship.
func TurretBase(side Side) Vec2 {
	a := SceneAnchors()
	return Vec2{a.ShipX(side) + side.Dir()*TurretOffsetX, a.MidY + TurretOffsetY}
}

// Aim returns the barrel tip and unit direction for a turret angle measured
// from the side's forward axis.
func Aim(side Side, angle float64) (tip, dir Vec2) {
	dir = Vec2{math.Cos(angle) * side.Dir(), math.Sin(angle)}
	tip = TurretBase(side).Add(dir.Scale(BarrelLength))
	return tip, dir
}

// AngleTo returns the turret angle on side that points at target.
func AngleTo(side Side, target Vec2) float64 {
	base := TurretBase(side)
	return math.Atan2(target.Y-base.Y, (target.X-base.X)*side.Dir())
}

// InBounds reports whether p lies within the arena expanded by margin.
func InBounds(p Vec2, margin float64) bool {
	return p.X > -margin && p.X < ArenaWidth+margin && p.Y > -margin && p.Y < ArenaHeight+margin
}

// Clamp restricts v to [min, max]
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
