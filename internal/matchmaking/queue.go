// Package matchmaking pairs queued players of similar rating into games.
//
// Each queued player owns an entry hash {rankscope, gameID} and a member in a
// sorted set scored by rating. Every FindMatch widens the caller's scope, then
// looks for the closest waiting opponent whose own scope also covers the gap.
// Pairing runs in one optimistic transaction over both entries, so a player
// is matched into at most one game even when both sides search at once.
package matchmaking

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"

	"github.com/park285/cheese-ranked/internal/game"
	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/obslog"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/internal/poll"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StartingScope = 20
	ScopeStep     = 50
	// NotMatched marks an entry that has no game yet.
	NotMatched int64 = -1

	defaultTxRetries = 8
)

const (
	fieldScope  = "rankscope"
	fieldGameID = "gameID"
)

func ranksKey() string { return kv.Prefix + "gamequeue:sortedranks" }

func entryKey(playerID int64) string {
	return kv.Prefix + "gamequeue:players:" + kv.FormatID(playerID)
}

type Status int

const (
	Searching Status = iota
	Found
)

func (s Status) String() string {
	if s == Found {
		return "found"
	}
	return "searching"
}

// Result of one matchmaking round. GameID is set when Status is Found; Scope
// is the caller's rating window after the round.
type Result struct {
	Status Status
	GameID int64
	Scope  int
}

type Queue struct {
	rdb        *redis.Client
	games      *game.Manager
	startScope int
	step       int
	retries    int
	// whiteFirst reports whether the searching player takes white.
	whiteFirst func() bool
}

type Option func(*Queue)

func WithScope(start, step int) Option {
	return func(q *Queue) {
		if start > 0 {
			q.startScope = start
		}
		if step > 0 {
			q.step = step
		}
	}
}

func WithTxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.retries = n
		}
	}
}

// WithColorPicker replaces the random colour assignment.
func WithColorPicker(fn func() bool) Option { return func(q *Queue) { q.whiteFirst = fn } }

func New(rdb *redis.Client, games *game.Manager, opts ...Option) *Queue {
	q := &Queue{
		rdb:        rdb,
		games:      games,
		startScope: StartingScope,
		step:       ScopeStep,
		retries:    defaultTxRetries,
		whiteFirst: coinFlip,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 0
}

type entry struct {
	scope  int
	gameID int64
}

func parseEntry(h map[string]string) (entry, bool) {
	if len(h) == 0 {
		return entry{}, false
	}
	e := entry{gameID: NotMatched}
	if n, err := strconv.Atoi(h[fieldScope]); err == nil {
		e.scope = n
	}
	if id, err := kv.ParseID(h[fieldGameID]); err == nil {
		e.gameID = id
	}
	return e, true
}

// FindMatch runs one matchmaking round for playerID.
func (q *Queue) FindMatch(ctx context.Context, playerID int64) (Result, error) {
	r, err := player.ReadRating(ctx, q.rdb, playerID)
	if err != nil {
		return Result{}, err
	}
	scope, err := q.enter(ctx, playerID, r)
	if err != nil {
		return Result{}, err
	}
	for attempt := 0; attempt < q.retries; attempt++ {
		res, err := q.tryMatch(ctx, playerID, r)
		if errors.Is(err, redis.TxFailedErr) {
			obslog.L().Debug("match_retry", zap.Int64("player_id", playerID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return Result{}, chessdto.Transient("find match", err)
		}
		if res.Status == Searching {
			obslog.L().Debug("match_searching", zap.Int64("player_id", playerID), zap.Int("scope", scope))
		}
		return res, nil
	}
	return Result{}, chessdto.Conflict("matchmaking for player %d kept conflicting, try again", playerID)
}

// enter creates the caller's entry or widens its scope, and refreshes the
// caller's rating in the rank set. A matched entry is left as is.
func (q *Queue) enter(ctx context.Context, playerID int64, r int) (int, error) {
	key := entryKey(playerID)
	member := kv.FormatID(playerID)
	for attempt := 0; attempt < q.retries; attempt++ {
		var scope int
		err := q.rdb.Watch(ctx, func(tx *redis.Tx) error {
			h, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			e, exists := parseEntry(h)
			if exists && e.gameID != NotMatched {
				scope = e.scope
				return nil
			}
			scope = q.startScope
			if exists {
				scope = e.scope + q.step
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if exists {
					pipe.HSet(ctx, key, fieldScope, scope)
				} else {
					pipe.HSet(ctx, key, fieldScope, scope, fieldGameID, NotMatched)
				}
				pipe.ZAdd(ctx, ranksKey(), redis.Z{Score: float64(r), Member: member})
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, chessdto.Transient("enter queue", err)
		}
		return scope, nil
	}
	return 0, chessdto.Conflict("queue entry for player %d kept conflicting, try again", playerID)
}

type candidate struct {
	id    int64
	delta int
}

func (q *Queue) tryMatch(ctx context.Context, playerID int64, r int) (Result, error) {
	own := entryKey(playerID)
	self := kv.FormatID(playerID)
	var res Result

	err := q.rdb.Watch(ctx, func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, own).Result()
		if err != nil {
			return err
		}
		me, ok := parseEntry(h)
		if !ok {
			return chessdto.Conflict("player %d left the queue", playerID)
		}
		res = Result{Status: Searching, GameID: NotMatched, Scope: me.scope}

		if me.gameID != NotMatched {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, own)
				pipe.ZRem(ctx, ranksKey(), self)
				return nil
			})
			if err != nil {
				return err
			}
			res = Result{Status: Found, GameID: me.gameID, Scope: me.scope}
			return nil
		}

		best, stale, err := q.closest(ctx, tx, playerID, r, me.scope)
		if err != nil {
			return err
		}
		if best == nil {
			if len(stale) > 0 {
				if err := q.rdb.ZRem(ctx, ranksKey(), stale...).Err(); err != nil {
					obslog.L().Warn("match_prune_failed", zap.Error(err))
				}
			}
			return nil
		}

		oppKey := entryKey(best.id)
		if err := tx.Watch(ctx, oppKey).Err(); err != nil {
			return err
		}
		oh, err := tx.HGetAll(ctx, oppKey).Result()
		if err != nil {
			return err
		}
		if opp, ok := parseEntry(oh); !ok || opp.gameID != NotMatched {
			// Taken between the scan and the watch.
			return redis.TxFailedErr
		}

		gameID, err := q.games.NextID(ctx)
		if err != nil {
			return err
		}
		white, black := playerID, best.id
		if !q.whiteFirst() {
			white, black = best.id, playerID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			q.games.StageCreate(ctx, pipe, gameID, white, black)
			pipe.HSet(ctx, oppKey, fieldGameID, gameID)
			pipe.ZRem(ctx, ranksKey(), kv.FormatID(best.id))
			pipe.Del(ctx, own)
			pipe.ZRem(ctx, ranksKey(), self)
			if len(stale) > 0 {
				pipe.ZRem(ctx, ranksKey(), stale...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		res = Result{Status: Found, GameID: gameID, Scope: me.scope}
		obslog.L().Info("match_found",
			zap.Int64("game_id", gameID),
			zap.Int64("white_id", white),
			zap.Int64("black_id", black),
			zap.Int("delta", best.delta),
			zap.Int("scope", me.scope),
		)
		return nil
	}, own)
	return res, err
}

// closest scans the caller's window for the nearest waiting opponent whose
// scope covers the gap. Ties go to the lowest player id. Members whose entry
// is gone come back in stale.
func (q *Queue) closest(ctx context.Context, tx *redis.Tx, playerID int64, r, scope int) (*candidate, []any, error) {
	zs, err := tx.ZRangeByScoreWithScores(ctx, ranksKey(), &redis.ZRangeBy{
		Min: strconv.Itoa(r - scope),
		Max: strconv.Itoa(r + scope),
	}).Result()
	if err != nil {
		return nil, nil, err
	}

	var best *candidate
	var stale []any
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := kv.ParseID(member)
		if err != nil {
			stale = append(stale, member)
			continue
		}
		if id == playerID {
			continue
		}
		h, err := tx.HGetAll(ctx, entryKey(id)).Result()
		if err != nil {
			return nil, nil, err
		}
		e, ok := parseEntry(h)
		if !ok {
			stale = append(stale, member)
			continue
		}
		if e.gameID != NotMatched {
			continue
		}
		delta := abs(r - int(z.Score))
		if delta > e.scope {
			continue
		}
		if best == nil || delta < best.delta || (delta == best.delta && id < best.id) {
			best = &candidate{id: id, delta: delta}
		}
	}
	return best, stale, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Cancel removes playerID from the queue. If an opponent already created a
// game for it, that id is returned so the caller can still join.
func (q *Queue) Cancel(ctx context.Context, playerID int64) (int64, error) {
	key := entryKey(playerID)
	gameID := NotMatched
	err := q.rdb.Watch(ctx, func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if e, ok := parseEntry(h); ok {
			gameID = e.gameID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, ranksKey(), kv.FormatID(playerID))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return NotMatched, chessdto.Conflict("queue entry for player %d changed, try again", playerID)
	}
	if err != nil {
		return NotMatched, chessdto.Transient("cancel search", err)
	}
	obslog.L().Info("match_cancel", zap.Int64("player_id", playerID), zap.Int64("game_id", gameID))
	return gameID, nil
}

// Poll repeats FindMatch under p until a game is found. Running out of
// attempts yields the last Searching result, not an error.
func (q *Queue) Poll(ctx context.Context, playerID int64, p poll.Policy) (Result, error) {
	res, _, err := poll.Until(ctx, p, func(ctx context.Context) (Result, bool, error) {
		r, err := q.FindMatch(ctx, playerID)
		if err != nil {
			return r, false, err
		}
		return r, r.Status == Found, nil
	})
	return res, err
}
