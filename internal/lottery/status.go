package lottery

import "strings"

// PoolStatus is the on-chain lifecycle state of a pool. The numeric values
// are the Borsh enum tags written by the program.
type PoolStatus uint8

const (
	StatusOpen PoolStatus = iota
	StatusLocked
	StatusUnlocked
	StatusRandomnessCommitted
	StatusRandomnessRevealed
	StatusWinnerSelected
	StatusEnded
	StatusCancelled
	StatusClosed

	// StatusUnknown is any tag this build does not recognise.
	StatusUnknown PoolStatus = 0xff
)

var statusNames = map[PoolStatus]string{
	StatusOpen:                "Open",
	StatusLocked:              "Locked",
	StatusUnlocked:            "Unlocked",
	StatusRandomnessCommitted: "RandomnessCommitted",
	StatusRandomnessRevealed:  "RandomnessRevealed",
	StatusWinnerSelected:      "WinnerSelected",
	StatusEnded:               "Ended",
	StatusCancelled:           "Cancelled",
	StatusClosed:              "Closed",
}

func (s PoolStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// statusFromTag maps a raw enum tag to a status.
func statusFromTag(tag uint8) PoolStatus {
	s := PoolStatus(tag)
	if _, ok := statusNames[s]; ok {
		return s
	}
	return StatusUnknown
}

// ParsePoolStatus parses a status name as stored in the mirror.
func ParsePoolStatus(name string) PoolStatus {
	for s, n := range statusNames {
		if strings.EqualFold(n, name) {
			return s
		}
	}
	return StatusUnknown
}

// IsKnown reports whether s is one of the nine named variants.
func (s PoolStatus) IsKnown() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether the keeper never acts on a pool in status s.
func (s PoolStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled || s == StatusClosed
}

// AtOrPast reports whether a pool in status s has reached target along the
// forward lifecycle. Cancelled and Closed are past every target.
func (s PoolStatus) AtOrPast(target PoolStatus) bool {
	if !s.IsKnown() || !target.IsKnown() {
		return false
	}
	if s == StatusCancelled || s == StatusClosed {
		return true
	}
	return s >= target
}
