// Package game keeps timed chess sessions in Redis and settles ratings when a
// game ends.
package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/cheese-ranked/internal/lazy"
	"github.com/park285/cheese-ranked/internal/obslog"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/internal/poll"
	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultClockSeconds gives each side a day.
const DefaultClockSeconds = 24 * 60 * 60

const defaultRetries = 8

// Referee checks a move before it is stored. moves is the committed history.
type Referee interface {
	Check(moves []string, move string, claimed State) error
}

// Archiver records finished games outside Redis.
type Archiver interface {
	SaveResult(ctx context.Context, s *Session, r rating.Result) error
}

type Manager struct {
	rdb          *redis.Client
	engine       rating.Engine
	clockSeconds int
	retries      int
	now          func() time.Time
	referee      Referee
	archive      Archiver
}

type Option func(*Manager)

func WithClockSeconds(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.clockSeconds = n
		}
	}
}

func WithRatingEngine(e rating.Engine) Option { return func(m *Manager) { m.engine = e } }

// WithRetries bounds optimistic-transaction retries for PlayMove.
func WithRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retries = n
		}
	}
}

func WithNow(fn func() time.Time) Option { return func(m *Manager) { m.now = fn } }

func WithReferee(r Referee) Option { return func(m *Manager) { m.referee = r } }

func NewManager(rdb *redis.Client, opts ...Option) *Manager {
	m := &Manager{
		rdb:          rdb,
		clockSeconds: DefaultClockSeconds,
		retries:      defaultRetries,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachArchive wires a store for finished games. Archive failures are logged
// and never fail the move.
func (m *Manager) AttachArchive(a Archiver) {
	if m != nil {
		m.archive = a
	}
}

func (m *Manager) Now() time.Time { return m.now() }

// NextID allocates a game id. Ids of transactions that later abort are skipped.
func (m *Manager) NextID(ctx context.Context) (int64, error) {
	id, err := m.rdb.Incr(ctx, idKey()).Result()
	if err != nil {
		return 0, chessdto.Transient("allocate game id", err)
	}
	return id, nil
}

// StageCreate queues a new game on pipe and registers it in both players'
// active lists. White moves first.
func (m *Manager) StageCreate(ctx context.Context, pipe redis.Pipeliner, id, white, black int64) *Session {
	s := newSession(id, white, black, m.clockSeconds, m.now().UTC())
	pipe.HSet(ctx, DataKey(id), encodeSession(s)...)
	player.StageAddGame(ctx, pipe, white, id)
	player.StageAddGame(ctx, pipe, black, id)
	return s
}

// Create stores a new game outside any surrounding transaction.
func (m *Manager) Create(ctx context.Context, white, black int64) (*Session, error) {
	if white == black {
		return nil, chessdto.Validation("a player cannot play against themselves")
	}
	id, err := m.NextID(ctx)
	if err != nil {
		return nil, err
	}
	pipe := m.rdb.TxPipeline()
	s := m.StageCreate(ctx, pipe, id, white, black)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, chessdto.Transient("create game", err)
	}
	obslog.L().Info("game_create",
		zap.Int64("game_id", id),
		zap.Int64("white_id", white),
		zap.Int64("black_id", black),
	)
	return s, nil
}

// Load reads a game; moves are fetched only when withMoves is set.
func (m *Manager) Load(ctx context.Context, id int64, withMoves bool) (*Session, error) {
	pipe := m.rdb.Pipeline()
	dataCmd := pipe.HGetAll(ctx, DataKey(id))
	var movesCmd *redis.StringSliceCmd
	if withMoves {
		movesCmd = pipe.LRange(ctx, MovesKey(id), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, chessdto.Transient("load game", err)
	}
	if len(dataCmd.Val()) == 0 {
		return nil, chessdto.NotFound("game %d not found", id)
	}
	s, err := decodeSession(id, dataCmd.Val())
	if err != nil {
		return nil, chessdto.Transient("decode game", err)
	}
	if movesCmd != nil {
		s.Moves = lazy.Loaded(movesCmd.Val())
	}
	return s, nil
}

// MoveResult is the committed state after a move. Rating is set when the move
// ended the game.
type MoveResult struct {
	Session *Session
	Rating  *rating.Result
}

// PlayMove records move for playerID and applies resultingState. The move,
// the mover's clock, the state and, for a terminal state, both ratings and
// game lists commit in one transaction.
func (m *Manager) PlayMove(ctx context.Context, gameID, playerID int64, move string, resultingState int) (*MoveResult, error) {
	next, err := ParseState(resultingState)
	if err != nil {
		return nil, err
	}
	move = strings.TrimSpace(move)
	if move == "" {
		return nil, chessdto.Validation("move is required")
	}

	dataK := DataKey(gameID)
	for attempt := 0; attempt < m.retries; attempt++ {
		var res *MoveResult
		err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			r, err := m.applyMove(ctx, tx, gameID, playerID, move, next)
			if err != nil {
				return err
			}
			res = r
			return nil
		}, dataK)
		if errors.Is(err, redis.TxFailedErr) {
			obslog.L().Debug("game_move_retry", zap.Int64("game_id", gameID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, chessdto.Transient("play move", err)
		}
		m.afterMove(ctx, res, playerID, move)
		return res, nil
	}
	return nil, chessdto.Conflict("game %d changed concurrently, try again", gameID)
}

func (m *Manager) applyMove(ctx context.Context, tx *redis.Tx, gameID, playerID int64, move string, next State) (*MoveResult, error) {
	raw, err := tx.HGetAll(ctx, DataKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, chessdto.NotFound("game %d not found", gameID)
	}
	s, err := decodeSession(gameID, raw)
	if err != nil {
		return nil, err
	}

	side, ok := s.SideOf(playerID)
	if !ok {
		return nil, chessdto.Turn("player %d is not in game %d", playerID, gameID)
	}
	toMove, ok := s.State.ToMove()
	if !ok {
		return nil, chessdto.Turn("game %d is already finished", gameID)
	}
	if toMove != side {
		return nil, chessdto.Turn("player %d isn't on the move", playerID)
	}

	if m.referee != nil {
		moves, err := tx.LRange(ctx, MovesKey(gameID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		if err := m.referee.Check(moves, move, next); err != nil {
			return nil, err
		}
		s.Moves = lazy.Loaded(append(moves, move))
	}

	now := m.now().UTC()
	s.TimeLeft[side] = s.ActualTimeLeft(side, now)
	s.LastMoveAt[side] = now
	s.State = next

	res := &MoveResult{Session: s}
	if outcome, terminal := next.Outcome(); terminal {
		if err := tx.Watch(ctx, player.DataKey(s.White), player.DataKey(s.Black)).Err(); err != nil {
			return nil, err
		}
		whiteRating, err := player.ReadRating(ctx, tx, s.White)
		if err != nil {
			return nil, err
		}
		blackRating, err := player.ReadRating(ctx, tx, s.Black)
		if err != nil {
			return nil, err
		}
		r, err := m.engine.Apply(whiteRating, blackRating, outcome)
		if err != nil {
			return nil, err
		}
		res.Rating = &r
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, MovesKey(gameID), move)
		pipe.HSet(ctx, DataKey(gameID), encodeMove(s, side)...)
		if res.Rating == nil {
			return nil
		}
		if err := player.StageSetRating(ctx, pipe, s.White, res.Rating.WhiteAfter); err != nil {
			return err
		}
		if err := player.StageSetRating(ctx, pipe, s.Black, res.Rating.BlackAfter); err != nil {
			return err
		}
		player.StageFinishGame(ctx, pipe, s.White, gameID)
		player.StageFinishGame(ctx, pipe, s.Black, gameID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) afterMove(ctx context.Context, res *MoveResult, playerID int64, move string) {
	s := res.Session
	obslog.L().Info("game_move",
		zap.Int64("game_id", s.ID),
		zap.Int64("player_id", playerID),
		zap.String("move", move),
		zap.String("state", s.State.String()),
	)
	if res.Rating == nil {
		return
	}
	r := res.Rating
	obslog.L().Info("game_settled",
		zap.Int64("game_id", s.ID),
		zap.String("state", s.State.String()),
		zap.Int("white_before", r.WhiteBefore),
		zap.Int("white_after", r.WhiteAfter),
		zap.Int("black_before", r.BlackBefore),
		zap.Int("black_after", r.BlackAfter),
		zap.Bool("clamped", r.Clamped),
	)
	if m.archive == nil {
		return
	}
	if !s.Moves.IsLoaded() {
		moves, err := m.rdb.LRange(ctx, MovesKey(s.ID), 0, -1).Result()
		if err != nil {
			obslog.L().Warn("game_archive_moves", zap.Int64("game_id", s.ID), zap.Error(err))
			return
		}
		s.Moves = lazy.Loaded(moves)
	}
	if err := m.archive.SaveResult(ctx, s, *r); err != nil {
		obslog.L().Warn("game_archive_failed", zap.Int64("game_id", s.ID), zap.Error(err))
	}
}

// WaitForChange polls game id until its move count differs from knownMoves or
// it has ended. changed is false when the policy ran out first.
func (m *Manager) WaitForChange(ctx context.Context, id int64, knownMoves int, p poll.Policy) (s *Session, changed bool, err error) {
	return poll.Until(ctx, p, func(ctx context.Context) (*Session, bool, error) {
		cur, err := m.Load(ctx, id, true)
		if err != nil {
			return nil, false, err
		}
		moves, _ := cur.Moves.Get()
		return cur, len(moves) != knownMoves || cur.State.Terminal(), nil
	})
}
