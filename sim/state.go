package sim

// LifeState is a fighter's alive/dead state. The only legal transition is
// Alive -> Dead.
type LifeState uint8

const (
	Alive LifeState = iota
	Dead
)

// Kill moves the state to Dead and reports whether this call did it.
func (s *LifeState) Kill() bool {
	if *s == Dead {
		return false
	}
	*s = Dead
	return true
}

func (s LifeState) String() string {
	if s == Dead {
		return "dead"
	}
	return "alive"
}

// BreachState records whether a fighter has crossed the shield it attacks.
// The only legal transition is Unbreached -> Breached.
type BreachState uint8

const (
	Unbreached BreachState = iota
	Breached
)

// Breach moves the state to Breached and reports whether this call did it.
func (s *BreachState) Breach() bool {
	if *s == Breached {
		return false
	}
	*s = Breached
	return true
}

func (s BreachState) String() string {
	if s == Breached {
		return "breached"
	}
	return "unbreached"
}

// Latch is a one-shot flag, used for the game-ended state.
type Latch struct {
	set bool
}

// Set latches and reports whether this call did it.
func (l *Latch) Set() bool {
	if l.set {
		return false
	}
	l.set = true
	return true
}

// IsSet reports whether the latch has fired.
func (l *Latch) IsSet() bool {
	return l.set
}
