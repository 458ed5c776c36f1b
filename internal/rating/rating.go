// Package rating computes Elo updates for a finished game.
package rating

import (
	"fmt"
	"math"
)

const (
	// DefaultK is the weighing factor applied to every game.
	DefaultK = 15
	// Starting is the rating assigned on registration.
	Starting = 1400
)

// Outcome of a finished game from white's point of view.
type Outcome int

const (
	WhiteWin Outcome = iota
	BlackWin
	Draw
)

func (o Outcome) String() string {
	switch o {
	case WhiteWin:
		return "white"
	case BlackWin:
		return "black"
	case Draw:
		return "draw"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Mirror swaps the winner; Draw stays Draw.
func (o Outcome) Mirror() Outcome {
	switch o {
	case WhiteWin:
		return BlackWin
	case BlackWin:
		return WhiteWin
	}
	return o
}

// scores returns the actual score for white and black.
func (o Outcome) scores() (float64, float64, error) {
	switch o {
	case WhiteWin:
		return 1, 0, nil
	case BlackWin:
		return 0, 1, nil
	case Draw:
		return 0.5, 0.5, nil
	}
	return 0, 0, fmt.Errorf("invalid outcome %d", int(o))
}

// Result is the before/after pair for both sides.
type Result struct {
	WhiteBefore int
	BlackBefore int
	WhiteAfter  int
	BlackAfter  int
	// Clamped is set when a computed rating fell below zero and was raised to 0.
	Clamped bool
}

func (r Result) WhiteDelta() int { return r.WhiteAfter - r.WhiteBefore }
func (r Result) BlackDelta() int { return r.BlackAfter - r.BlackBefore }

// Engine holds the K factor. The zero Engine uses DefaultK.
type Engine struct {
	K int
}

func (e Engine) k() float64 {
	if e.K <= 0 {
		return DefaultK
	}
	return float64(e.K)
}

// Expected returns the expected score of a player rated r against opp,
// rounded half-to-even to two decimals.
func Expected(r, opp int) float64 {
	e := 1 / (1 + math.Pow(10, float64(opp-r)/400))
	return math.RoundToEven(e*100) / 100
}

// Apply computes both new ratings. All rounding is half-to-even, so equal
// ratings move by exactly ±K/2 rounded to even. Results below zero are clamped.
func (e Engine) Apply(white, black int, outcome Outcome) (Result, error) {
	actualW, actualB, err := outcome.scores()
	if err != nil {
		return Result{}, err
	}
	expW := Expected(white, black)
	expB := Expected(black, white)

	res := Result{
		WhiteBefore: white,
		BlackBefore: black,
		WhiteAfter:  int(math.RoundToEven(float64(white) + e.k()*(actualW-expW))),
		BlackAfter:  int(math.RoundToEven(float64(black) + e.k()*(actualB-expB))),
	}
	if res.WhiteAfter < 0 {
		res.WhiteAfter = 0
		res.Clamped = true
	}
	if res.BlackAfter < 0 {
		res.BlackAfter = 0
		res.Clamped = true
	}
	return res, nil
}
