package tycoon

import (
	"fmt"
	"strings"
)

// GameStatus is the lifecycle state of a game. The backend string is
// authoritative; the chain exposes a numeric status that may lag the
// backend and is mapped, never trusted blindly.
type GameStatus int

const (
	StatusUnknown GameStatus = iota
	StatusPending
	StatusRunning
	StatusFinished
	StatusCancelled
)

func (s GameStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseGameStatus decodes the backend's status string. Case and
// surrounding whitespace are forgiven; unknown values are not.
func ParseGameStatus(s string) (GameStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, nil
	case "RUNNING":
		return StatusRunning, nil
	case "FINISHED":
		return StatusFinished, nil
	case "CANCELLED":
		return StatusCancelled, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown game status %q", s)
	}
}

// GameStatusFromChain maps the contract's numeric status.
func GameStatusFromChain(v uint8) GameStatus {
	switch v {
	case 0:
		return StatusPending
	case 1:
		return StatusRunning
	case 2:
		return StatusFinished
	case 3:
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// rank orders statuses along the only legal progression:
// PENDING -> RUNNING -> FINISHED|CANCELLED. The two terminal states
// share a rank.
func (s GameStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusFinished, StatusCancelled:
		return 2
	default:
		return -1
	}
}

// Regresses reports whether moving from old to next would walk the
// lifecycle backwards. A client observing a regression is holding a
// stale read and must discard it.
func Regresses(old, next GameStatus) bool {
	if old == StatusUnknown || next == StatusUnknown {
		return false
	}
	return next.rank() < old.rank()
}
