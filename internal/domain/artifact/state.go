package artifact

import (
	"errors"
	"fmt"
)

// State is the staging progress of a single artifact.
type State int

const (
	// StateMissing means the expected extracted path does not exist.
	StateMissing State = iota
	// StateFetching means the artifact is being downloaded.
	StateFetching
	// StateExtracting means the archive is being unpacked.
	StateExtracting
	// StatePresent means the expected extracted path exists. Terminal.
	StatePresent
)

// ErrInvalidTransition is returned when an artifact is moved to a state it cannot reach.
var ErrInvalidTransition = errors.New("invalid artifact state transition")

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StatePresent:
		return "present"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText lets reports carry the state name instead of its number.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateMissing; candidate <= StatePresent; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}

	return fmt.Errorf("unknown artifact state %q", text)
}

// canMove reports whether from -> to is allowed for an artifact.
// Local artifacts skip Fetching.
func canMove(from, to State, remote bool) bool {
	switch from {
	case StateMissing:
		return to == StateExtracting && !remote || to == StateFetching && remote
	case StateFetching:
		return to == StateExtracting
	case StateExtracting:
		return to == StatePresent
	default:
		return false
	}
}
