// Package rules replays a game's move list on a real board and rejects moves
// or claimed results the board does not allow. It is only wired in when
// STRICT_MOVES is set.
package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-ranked/internal/game"
	"github.com/park285/cheese-ranked/pkg/chessdto"
)

// Referee accepts SAN ("Nf3") or UCI ("g1f3") tokens.
type Referee struct{}

func New() *Referee { return &Referee{} }

// Check replays moves, plays move and checks claimed against the board:
// a finished board must be claimed as its own result; on a running board the
// claim is either the side now to move, a draw, or a loss for the mover.
func (r *Referee) Check(moves []string, move string, claimed game.State) error {
	g, err := Replay(moves)
	if err != nil {
		return err
	}
	mover := g.Position().Turn()
	if err := push(g, move); err != nil {
		return chessdto.Validation("illegal move %q", move)
	}

	if want, finished := stateOf(g.Outcome()); finished {
		if claimed != want {
			return chessdto.Validation("board ends the game as %s (%v), not %s", want, g.Method(), claimed)
		}
		return nil
	}

	switch claimed {
	case game.WhiteToMove, game.BlackToMove:
		if toMove := sideState(g.Position().Turn()); claimed != toMove {
			return chessdto.Validation("%s is to move, not %s", toMove, claimed)
		}
	case game.WhiteWon:
		if mover == nchess.White {
			return chessdto.Validation("white cannot claim a win without checkmate")
		}
	case game.BlackWon:
		if mover == nchess.Black {
			return chessdto.Validation("black cannot claim a win without checkmate")
		}
	}
	return nil
}

// Replay rebuilds the board from the standard start position.
func Replay(moves []string) (*nchess.Game, error) {
	g := nchess.NewGame()
	for i, mv := range moves {
		if err := push(g, mv); err != nil {
			return nil, chessdto.Validation("stored move %d (%q) does not replay", i+1, mv)
		}
	}
	return g, nil
}

// SAN replays moves and returns them in SAN, plus the board's termination
// method ("" while the board position is still open).
func SAN(moves []string) ([]string, string, error) {
	g, err := Replay(moves)
	if err != nil {
		return nil, "", err
	}
	positions := g.Positions()
	played := g.Moves()
	out := make([]string, len(played))
	notation := nchess.AlgebraicNotation{}
	for i, mv := range played {
		if i < len(positions) {
			out[i] = notation.Encode(positions[i], mv)
		}
	}
	method := ""
	if g.Outcome() != nchess.NoOutcome {
		method = strings.ToLower(g.Method().String())
	}
	return out, method, nil
}

func push(g *nchess.Game, mv string) error {
	if err := g.PushNotationMove(mv, nchess.AlgebraicNotation{}, nil); err == nil {
		return nil
	}
	return g.PushNotationMove(mv, nchess.UCINotation{}, nil)
}

func stateOf(o nchess.Outcome) (game.State, bool) {
	switch o {
	case nchess.WhiteWon:
		return game.WhiteWon, true
	case nchess.BlackWon:
		return game.BlackWon, true
	case nchess.Draw:
		return game.Draw, true
	}
	return 0, false
}

func sideState(c nchess.Color) game.State {
	if c == nchess.White {
		return game.WhiteToMove
	}
	return game.BlackToMove
}
