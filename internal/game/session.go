package game

import (
	"slices"
	"time"

	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/lazy"
	"github.com/park285/cheese-ranked/pkg/chessdto"
)

// Session is one stored game. TimeLeft and LastMoveAt are indexed by Side and
// change only when that side completes a move.
type Session struct {
	ID           int64
	White, Black int64
	State        State
	ClockSeconds int
	StartedAt    time.Time
	TimeLeft     [2]int
	LastMoveAt   [2]time.Time
	Moves        lazy.Value[[]string]
}

func newSession(id, white, black int64, clockSeconds int, now time.Time) *Session {
	return &Session{
		ID:           id,
		White:        white,
		Black:        black,
		State:        WhiteToMove,
		ClockSeconds: clockSeconds,
		StartedAt:    now,
		TimeLeft:     [2]int{clockSeconds, clockSeconds},
		LastMoveAt:   [2]time.Time{now, now},
		Moves:        lazy.Loaded([]string{}),
	}
}

// SideOf returns the colour playerID plays in this game.
func (s *Session) SideOf(playerID int64) (Side, bool) {
	switch playerID {
	case s.White:
		return White, true
	case s.Black:
		return Black, true
	}
	return 0, false
}

func (s *Session) PlayerOf(side Side) int64 {
	if side == White {
		return s.White
	}
	return s.Black
}

// ActualTimeLeft is the stored clock of side, minus the whole seconds since
// the opponent's last move while it is side's turn.
func (s *Session) ActualTimeLeft(side Side, now time.Time) int {
	left := s.TimeLeft[side]
	if toMove, ok := s.State.ToMove(); ok && toMove == side {
		elapsed := now.Sub(s.LastMoveAt[side.Other()])
		if elapsed > 0 {
			left -= int(elapsed / time.Second)
		}
	}
	return left
}

// Snapshot renders the session as seen at now.
func (s *Session) Snapshot(now time.Time) *chessdto.GameSnapshot {
	out := &chessdto.GameSnapshot{
		ID: s.ID,
		Data: &chessdto.GameData{
			WhitePlayer:   s.White,
			BlackPlayer:   s.Black,
			WhiteTimeLeft: s.ActualTimeLeft(White, now),
			BlackTimeLeft: s.ActualTimeLeft(Black, now),
			State:         int(s.State),
			StateName:     s.State.String(),
			StartedAt:     kv.FormatTime(s.StartedAt),
		},
	}
	if moves, ok := s.Moves.Get(); ok {
		cp := slices.Clone(moves)
		out.Moves = &cp
	}
	return out
}
