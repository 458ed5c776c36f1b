package game

import (
	"fmt"

	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/pkg/chessdto"
)

// State is stored as its integer value in the game hash.
type State int

const (
	WhiteToMove State = iota
	BlackToMove
	WhiteWon
	BlackWon
	Draw
)

// ParseState accepts the five stored values only.
func ParseState(n int) (State, error) {
	s := State(n)
	if s < WhiteToMove || s > Draw {
		return 0, chessdto.Validation("invalid terminal state %d", n)
	}
	return s, nil
}

func (s State) Terminal() bool { return s == WhiteWon || s == BlackWon || s == Draw }

// ToMove reports whose turn it is; false for terminal states.
func (s State) ToMove() (Side, bool) {
	switch s {
	case WhiteToMove:
		return White, true
	case BlackToMove:
		return Black, true
	}
	return 0, false
}

// Outcome maps a terminal state onto the rating outcome.
func (s State) Outcome() (rating.Outcome, bool) {
	switch s {
	case WhiteWon:
		return rating.WhiteWin, true
	case BlackWon:
		return rating.BlackWin, true
	case Draw:
		return rating.Draw, true
	}
	return 0, false
}

func (s State) String() string {
	switch s {
	case WhiteToMove:
		return "white_to_move"
	case BlackToMove:
		return "black_to_move"
	case WhiteWon:
		return "white_won"
	case BlackWon:
		return "black_won"
	case Draw:
		return "draw"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Side int

const (
	White Side = iota
	Black
)

func (s Side) Other() Side { return 1 - s }

func (s Side) String() string {
	if s == White {
		return "white"
	}
	return "black"
}
