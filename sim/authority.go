package sim

// Role is the slot a peer holds in its room.
type Role string

const (
	Player1 Role = "player1"
	Player2 Role = "player2"
)

// Side returns the arena side the role defends. player1 is the host and
// defends the left base.
func (r Role) Side() Side {
	if r == Player2 {
		return Right
	}
	return Left
}

// Opponent returns the other role.
func (r Role) Opponent() Role {
	if r == Player2 {
		return Player1
	}
	return Player2
}

// Valid reports whether r is player1 or player2.
func (r Role) Valid() bool {
	return r == Player1 || r == Player2
}

// Authority is the set of events an engine instance may originate. Every
// receiver rule is always active; only origination varies between instances.
type Authority struct {
	// SpawnsFighters allows generating fighter pairs on the spawn timer.
	SpawnsFighters bool
	// DetectsBreaches allows deducting lives on a local shield crossing.
	DetectsBreaches bool
	// DeclaresTerminal allows deciding and announcing the game result.
	DeclaresTerminal bool
	// ReportsKills announces fighters destroyed by this peer's own projectiles.
	ReportsKills bool
	// EmitsOwnState announces turret moves, shots and cheat toggles.
	EmitsOwnState bool
	// AwaitsTerminal enables the local fallback when the host's game-over
	// never arrives.
	AwaitsTerminal bool
}

// HostAuthority is the rule set of player1.
func HostAuthority() Authority {
	return Authority{
		SpawnsFighters:   true,
		DetectsBreaches:  true,
		DeclaresTerminal: true,
		ReportsKills:     true,
		EmitsOwnState:    true,
	}
}

// GuestAuthority is the rule set of player2.
func GuestAuthority() Authority {
	return Authority{
		ReportsKills:   true,
		EmitsOwnState:  true,
		AwaitsTerminal: true,
	}
}

// MirrorOnly originates nothing. It replays received events only, for
// spectators and replays.
func MirrorOnly() Authority {
	return Authority{}
}

// AuthorityFor returns the rules a peer holding role plays by.
func AuthorityFor(r Role) Authority {
	if r == Player1 {
		return HostAuthority()
	}
	return GuestAuthority()
}

// IsHost reports whether the instance owns spawning, breaches and the result.
func (a Authority) IsHost() bool {
	return a.SpawnsFighters && a.DetectsBreaches && a.DeclaresTerminal
}

// reportsKillBy reports whether a hit by owner's projectile must be announced
// by a peer holding local.
func (a Authority) reportsKillBy(owner, local Role) bool {
	return a.ReportsKills && owner == local
}
