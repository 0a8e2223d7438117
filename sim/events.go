package sim

//go:generate go tool mockgen -destination=mocks/mock_emitter.go -package=mocks . Emitter

// Event is something the local engine decided the opponent must learn about.
type Event interface {
	eventKind() string
}

// Emitter receives the events an engine originates, in the order they were
// raised within a step.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// TurretMoved announces the local turret angle.
type TurretMoved struct {
	Angle float64
	TS    int64 // engine clock in milliseconds
}

// Fired announces a projectile created by the local turret.
type Fired struct {
	Pos Vec2
	Vel Vec2
	TS  float64 // engine clock in seconds
}

// FightersSpawned announces a host-generated fighter batch.
type FightersSpawned struct {
	Fighters []FighterSpec
}

// FighterDown announces a fighter destroyed by a local projectile.
type FighterDown struct {
	ID string
}

// ShieldBreached announces a host-detected crossing of side's shield by fighter ID.
type ShieldBreached struct {
	Side Side
	ID   string
}

// GameOver announces the host's terminal decision.
type GameOver struct {
	Winner Winner
	Lives  Lives
}

// CheatToggled announces the local cheat indicator.
type CheatToggled struct {
	Enabled bool
}

func (TurretMoved) eventKind() string     { return "turret" }
func (Fired) eventKind() string           { return "fire" }
func (FightersSpawned) eventKind() string { return "spawn" }
func (FighterDown) eventKind() string     { return "down" }
func (ShieldBreached) eventKind() string  { return "breach" }
func (GameOver) eventKind() string        { return "gameover" }
func (CheatToggled) eventKind() string    { return "cheat" }

type discardEmitter struct{}

func (discardEmitter) Emit(Event) {}
