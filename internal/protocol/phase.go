package protocol

import "fmt"

// Phase is the negotiation stage of a connection. It gates which packet ids
// are valid.
type Phase int

const (
	PhaseHandshaking Phase = iota
	PhaseStatus
	PhaseLogin
	PhasePlay
)

// Values carried by Handshake.NextState.
const (
	NextStateStatus = 1
	NextStateLogin  = 2
)

var phaseNames = map[Phase]string{
	PhaseHandshaking: "handshaking",
	PhaseStatus:      "status",
	PhaseLogin:       "login",
	PhasePlay:        "play",
}

// Phases lists every phase in transition order.
var Phases = []Phase{PhaseHandshaking, PhaseStatus, PhaseLogin, PhasePlay}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText lets phases appear by name in JSON and log output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name as produced by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// PhaseForNextState maps a handshake next_state selector to a phase.
func PhaseForNextState(next int) (Phase, error) {
	switch next {
	case NextStateStatus:
		return PhaseStatus, nil
	case NextStateLogin:
		return PhaseLogin, nil
	default:
		return PhaseHandshaking, fmt.Errorf("invalid next state: %d", next)
	}
}

// CanTransition reports whether moving from p to next is allowed. The only
// transitions are Handshaking -> Status, Handshaking -> Login and Login -> Play.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseHandshaking:
		return next == PhaseStatus || next == PhaseLogin
	case PhaseLogin:
		return next == PhasePlay
	default:
		return false
	}
}
