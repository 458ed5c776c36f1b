package game

import (
	"fmt"
	"strconv"

	"github.com/park285/cheese-ranked/internal/kv"
)

const (
	fieldWhite       = "wplayer"
	fieldBlack       = "bplayer"
	fieldState       = "state"
	fieldGameTime    = "gametime"
	fieldStartDate   = "startdate"
	fieldWhiteLastAt = "wlastmovedate"
	fieldBlackLastAt = "blastmovedate"
	fieldWhiteLeft   = "wtimeleft"
	fieldBlackLeft   = "btimeleft"
)

func idKey() string { return kv.Prefix + "ai:game" }

// DataKey is the hash holding everything but the move list.
func DataKey(id int64) string { return kv.Prefix + "game:" + kv.FormatID(id) + ":data" }

func MovesKey(id int64) string { return kv.Prefix + "game:" + kv.FormatID(id) + ":moves" }

var (
	lastAtField = [2]string{fieldWhiteLastAt, fieldBlackLastAt}
	leftField   = [2]string{fieldWhiteLeft, fieldBlackLeft}
)

func encodeSession(s *Session) []any {
	return []any{
		fieldWhite, kv.FormatID(s.White),
		fieldBlack, kv.FormatID(s.Black),
		fieldState, int(s.State),
		fieldGameTime, s.ClockSeconds,
		fieldStartDate, kv.FormatTime(s.StartedAt),
		fieldWhiteLastAt, kv.FormatTime(s.LastMoveAt[White]),
		fieldBlackLastAt, kv.FormatTime(s.LastMoveAt[Black]),
		fieldWhiteLeft, s.TimeLeft[White],
		fieldBlackLeft, s.TimeLeft[Black],
	}
}

// encodeMove holds only the fields a move by side rewrites.
func encodeMove(s *Session, side Side) []any {
	return []any{
		fieldState, int(s.State),
		leftField[side], s.TimeLeft[side],
		lastAtField[side], kv.FormatTime(s.LastMoveAt[side]),
	}
}

func decodeSession(id int64, h map[string]string) (*Session, error) {
	s := &Session{ID: id}
	var err error
	if s.White, err = kv.ParseID(h[fieldWhite]); err != nil {
		return nil, fmt.Errorf("game %d white: %w", id, err)
	}
	if s.Black, err = kv.ParseID(h[fieldBlack]); err != nil {
		return nil, fmt.Errorf("game %d black: %w", id, err)
	}
	st, err := strconv.Atoi(h[fieldState])
	if err != nil {
		return nil, fmt.Errorf("game %d state: %w", id, err)
	}
	if s.State, err = ParseState(st); err != nil {
		return nil, fmt.Errorf("game %d: %w", id, err)
	}
	if s.ClockSeconds, err = strconv.Atoi(h[fieldGameTime]); err != nil {
		return nil, fmt.Errorf("game %d gametime: %w", id, err)
	}
	if s.StartedAt, err = kv.ParseTime(h[fieldStartDate]); err != nil {
		return nil, err
	}
	for _, side := range []Side{White, Black} {
		if s.LastMoveAt[side], err = kv.ParseTime(h[lastAtField[side]]); err != nil {
			return nil, err
		}
		if s.TimeLeft[side], err = strconv.Atoi(h[leftField[side]]); err != nil {
			return nil, fmt.Errorf("game %d %s clock: %w", id, side, err)
		}
	}
	return s, nil
}
