package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	MaxStep          = 0.033 // seconds
	StartLives       = 20
	TurretSpeed      = 1.2 // rad/s
	TurretArc        = 0.39 * math.Pi
	TurretInterval   = 33 * time.Millisecond
	TerminalFallback = 3 * time.Second
)

// Winner is the outcome of a finished game.
type Winner string

const (
	WinnerLeft  Winner = "left"
	WinnerRight Winner = "right"
	Tie         Winner = "tie"
)

// Lives are the per-side life counters.
type Lives struct {
	Left  int
	Right int
}

// Of returns the counter for side.
func (l Lives) Of(s Side) int {
	if s == Left {
		return l.Left
	}
	return l.Right
}

func (l *Lives) deduct(s Side) {
	if s == Left {
		l.Left = max(0, l.Left-1)
	} else {
		l.Right = max(0, l.Right-1)
	}
}

// Outcome reports the winner once any counter has reached zero.
func (l Lives) Outcome() (Winner, bool) {
	switch {
	case l.Left <= 0 && l.Right <= 0:
		return Tie, true
	case l.Left <= 0:
		return WinnerRight, true
	case l.Right <= 0:
		return WinnerLeft, true
	}
	return "", false
}

// Terminal is the latched end-of-game state.
type Terminal struct {
	Winner Winner
	Lives  Lives
	// Fallback marks a result inferred locally because the host's
	// game-over never arrived.
	Fallback bool
}

// Occupant is one side's controllable state: the local peer, or the mirror
// of the opponent.
type Occupant struct {
	Role        Role
	TurretAngle float64
	Cheat       bool
}

// Effect is a transient explosion or flash marker.
type Effect struct {
	Pos  Vec2
	T    float64
	Life float64
}

// Done reports whether the effect has finished.
func (fx Effect) Done() bool {
	return fx.T >= fx.Life
}

// Input is the local control state sampled each frame.
type Input struct {
	Up   bool
	Down bool
	Fire bool
}

// Config configures an Engine. A zero Authority originates nothing.
type Config struct {
	Role      Role
	Authority Authority
	Emitter   Emitter
	Rand      *rand.Rand
	NewID     func(Side) string
	Lives     int
}

// Engine owns one peer's view of the duel.
type Engine struct {
	role  Role
	auth  Authority
	emit  Emitter
	newID func(Side) string
	rng   *rand.Rand

	clock     float64
	input     Input
	me        Occupant
	op        Occupant
	lives     Lives
	nextSpawn float64

	projectiles []Projectile
	fighters    []*Fighter
	index       map[string]*Fighter
	breached    map[string]struct{}
	tombstones  map[string]struct{}
	effects     []Effect
	grid        *Grid
	gridBuf     []int

	turretLimiter *rate.Limiter
	fireLimiter   *rate.Limiter

	ended    Latch
	terminal Terminal
	zeroAt   float64 // clock when a zero counter was first seen, -1 if none
}

var clockEpoch = time.Unix(0, 0)

// NewEngine builds an engine for cfg.Role.
func NewEngine(cfg Config) *Engine {
	if !cfg.Role.Valid() {
		cfg.Role = Player1
	}
	if cfg.Emitter == nil {
		cfg.Emitter = discardEmitter{}
	}
	if cfg.NewID == nil {
		cfg.NewID = NewFighterID
	}
	if cfg.Lives <= 0 {
		cfg.Lives = StartLives
	}
	return &Engine{
		role:          cfg.Role,
		auth:          cfg.Authority,
		emit:          cfg.Emitter,
		newID:         cfg.NewID,
		rng:           cfg.Rand,
		me:            Occupant{Role: cfg.Role},
		op:            Occupant{Role: cfg.Role.Opponent()},
		lives:         Lives{Left: cfg.Lives, Right: cfg.Lives},
		index:         make(map[string]*Fighter),
		breached:      make(map[string]struct{}),
		tombstones:    make(map[string]struct{}),
		grid:          NewGrid(ArenaWidth, ArenaHeight),
		turretLimiter: rate.NewLimiter(rate.Every(TurretInterval), 1),
		fireLimiter:   rate.NewLimiter(rate.Every(FireCooldown), 1),
		zeroAt:        -1,
	}
}

// NewFighterID returns "L_" or "R_" followed by eight hex digits.
func NewFighterID(s Side) string {
	prefix := "L_"
	if s == Right {
		prefix = "R_"
	}
	return prefix + uuid.NewString()[:8]
}

func (e *Engine) randFloat() float64 {
	if e.rng != nil {
		return e.rng.Float64()
	}
	return rand.Float64()
}

func (e *Engine) now() time.Time {
	return clockEpoch.Add(time.Duration(e.clock * float64(time.Second)))
}

// SetInput replaces the local control state used by the next Advance.
func (e *Engine) SetInput(in Input) {
	e.input = in
}

// ToggleCheat flips the local cheat indicator and announces it.
func (e *Engine) ToggleCheat() bool {
	e.me.Cheat = !e.me.Cheat
	if e.auth.EmitsOwnState {
		e.emit.Emit(CheatToggled{Enabled: e.me.Cheat})
	}
	return e.me.Cheat
}

// Advance steps the world by dt seconds, capped at MaxStep.
func (e *Engine) Advance(dt float64) {
	if math.IsNaN(dt) {
		dt = 0
	}
	dt = Clamp(dt, 0, MaxStep)
	e.clock += dt

	if e.ended.IsSet() {
		e.stepEffects(dt)
		return
	}

	e.applyInput(dt)
	e.stepProjectiles(dt)
	e.stepFighters(dt)
	if e.auth.DetectsBreaches {
		e.checkBreaches()
	}
	if e.auth.SpawnsFighters && !e.ended.IsSet() {
		e.maybeSpawn()
	}
	e.stepEffects(dt)
	if e.auth.AwaitsTerminal {
		e.checkFallback()
	}
}

func (e *Engine) applyInput(dt float64) {
	if !e.auth.EmitsOwnState {
		return
	}
	if e.input.Up {
		e.me.TurretAngle -= TurretSpeed * dt
	}
	if e.input.Down {
		e.me.TurretAngle += TurretSpeed * dt
	}
	e.me.TurretAngle = Clamp(e.me.TurretAngle, -TurretArc, TurretArc)

	now := e.now()
	if e.turretLimiter.AllowN(now, 1) {
		e.emit.Emit(TurretMoved{Angle: e.me.TurretAngle, TS: int64(e.clock * 1000)})
	}
	if e.input.Fire && e.fireLimiter.AllowN(now, 1) {
		e.fire()
	}
}

func (e *Engine) fire() {
	tip, dir := Aim(e.role.Side(), e.me.TurretAngle)
	p := Projectile{
		Pos:    tip,
		Vel:    dir.Scale(BulletSpeed),
		Origin: e.clock,
		Owner:  e.role,
	}
	e.addProjectile(p)
	e.emit.Emit(Fired{Pos: p.Pos, Vel: p.Vel, TS: e.clock})
}

func (e *Engine) addEffect(pos Vec2, life float64) {
	e.effects = append(e.effects, Effect{Pos: pos, Life: life})
}

func (e *Engine) stepEffects(dt float64) {
	kept := e.effects[:0]
	for _, fx := range e.effects {
		fx.T += dt
		if !fx.Done() {
			kept = append(kept, fx)
		}
	}
	e.effects = kept
}

// checkTerminal latches and announces the result once a counter hits zero.
func (e *Engine) checkTerminal() {
	if !e.auth.DeclaresTerminal {
		return
	}
	w, over := e.lives.Outcome()
	if !over || !e.ended.Set() {
		return
	}
	e.terminal = Terminal{Winner: w, Lives: e.lives}
	e.emit.Emit(GameOver{Winner: w, Lives: e.lives})
}

// checkFallback latches a local result when a counter has been at zero for
// TerminalFallback without a game-over from the host.
func (e *Engine) checkFallback() {
	w, over := e.lives.Outcome()
	if !over {
		e.zeroAt = -1
		return
	}
	if e.zeroAt < 0 {
		e.zeroAt = e.clock
		return
	}
	if e.clock-e.zeroAt < TerminalFallback.Seconds() {
		return
	}
	if e.ended.Set() {
		e.terminal = Terminal{Winner: w, Lives: e.lives, Fallback: true}
	}
}

// ApplyOpponentTurret overwrites the mirrored turret angle.
func (e *Engine) ApplyOpponentTurret(angle float64) bool {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return false
	}
	e.op.TurretAngle = angle
	return true
}

// ApplyOpponentFire mirrors a projectile fired by the opponent.
func (e *Engine) ApplyOpponentFire(pos, vel Vec2, ts float64) bool {
	if e.ended.IsSet() || !pos.Finite() || !vel.Finite() {
		return false
	}
	e.addProjectile(Projectile{
		Pos:      pos,
		Vel:      vel,
		Origin:   e.clock,
		RemoteTS: ts,
		Owner:    e.role.Opponent(),
	})
	return true
}

// ApplyFighterSpawn adopts host-generated fighters verbatim and returns how
// many were new.
func (e *Engine) ApplyFighterSpawn(specs []FighterSpec) int {
	if e.ended.IsSet() {
		return 0
	}
	n := 0
	for _, s := range specs {
		if e.addFighter(s) {
			n++
		}
	}
	return n
}

// ApplyFighterDown marks fighter id dead. Repeats, unknown and already dead
// ids are no-ops.
func (e *Engine) ApplyFighterDown(id string) bool {
	f, ok := e.index[id]
	if !ok {
		if id != "" {
			e.tombstones[id] = struct{}{}
		}
		return false
	}
	return e.killFighter(f)
}

// ApplyBreach deducts one life from side. With a fighter id the deduction
// happens at most once per id; without one it is unconditional.
func (e *Engine) ApplyBreach(side Side, id string) bool {
	if e.ended.IsSet() || !side.Valid() {
		return false
	}
	if id != "" && !e.markBreached(id) {
		return false
	}
	e.lives.deduct(side)
	e.addEffect(ShieldFor(side).Center, BreachFlashLife)
	return true
}

// ApplyGameOver latches the host's result. Only the first call has effect.
func (e *Engine) ApplyGameOver(w Winner, final Lives) bool {
	if !e.ended.Set() {
		return false
	}
	e.lives.Left = max(0, min(e.lives.Left, final.Left))
	e.lives.Right = max(0, min(e.lives.Right, final.Right))
	e.terminal = Terminal{Winner: w, Lives: e.lives}
	return true
}

// ApplyOpponentCheat overwrites the mirrored cheat indicator.
func (e *Engine) ApplyOpponentCheat(enabled bool) {
	e.op.Cheat = enabled
}

// Role returns the local role.
func (e *Engine) Role() Role { return e.role }

// Authority returns the rules this engine plays by.
func (e *Engine) Authority() Authority { return e.auth }

// Clock returns seconds simulated so far.
func (e *Engine) Clock() float64 { return e.clock }

// Me returns the local occupant.
func (e *Engine) Me() Occupant { return e.me }

// Opponent returns the mirrored opponent.
func (e *Engine) Opponent() Occupant { return e.op }

// Lives returns the current counters.
func (e *Engine) Lives() Lives { return e.lives }

// Ended reports whether the terminal latch is set.
func (e *Engine) Ended() bool { return e.ended.IsSet() }

// Terminal returns the latched result, if any.
func (e *Engine) Terminal() (Terminal, bool) {
	return e.terminal, e.ended.IsSet()
}

// Projectiles returns a copy of the live projectiles.
func (e *Engine) Projectiles() []Projectile {
	return append([]Projectile(nil), e.projectiles...)
}

// Fighters returns a copy of the retained fighters, dead ones included.
func (e *Engine) Fighters() []Fighter {
	out := make([]Fighter, 0, len(e.fighters))
	for _, f := range e.fighters {
		out = append(out, *f)
	}
	return out
}

// Fighter looks up a retained fighter by id.
func (e *Engine) Fighter(id string) (Fighter, bool) {
	f, ok := e.index[id]
	if !ok {
		return Fighter{}, false
	}
	return *f, true
}

// Effects returns a copy of the active effect markers.
func (e *Engine) Effects() []Effect {
	return append([]Effect(nil), e.effects...)
}
