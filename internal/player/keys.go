package player

import (
	"context"
	"strconv"
	"strings"

	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
)

const (
	fieldUsername = "username"
	fieldRank     = "rank"
	fieldLoginID  = "id"
	fieldPassword = "password"
)

func playerIDKey() string              { return kv.Prefix + "ai:playerid" }
func loginKey(username string) string { return kv.Prefix + "logindata:" + username }

// DataKey holds the username/rank hash of a player.
func DataKey(id int64) string { return kv.Prefix + "player:" + kv.FormatID(id) + ":data" }

func ActiveGamesKey(id int64) string {
	return kv.Prefix + "player:" + kv.FormatID(id) + ":games:active"
}

func FinishedGamesKey(id int64) string {
	return kv.Prefix + "player:" + kv.FormatID(id) + ":games:finished"
}

// hashGetter is satisfied by *redis.Client and *redis.Tx.
type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// ReadRating loads a player's current rating through c, which may be a
// transaction so the read participates in a WATCH.
func ReadRating(ctx context.Context, c hashGetter, id int64) (int, error) {
	data, err := c.HGetAll(ctx, DataKey(id)).Result()
	if err != nil {
		return 0, chessdto.Transient("read player rating", err)
	}
	if len(data) == 0 {
		return 0, chessdto.NotFound("player %d not found", id)
	}
	return parseRank(data[fieldRank]), nil
}

// parseRank falls back to the starting rating when the field is absent or corrupt.
func parseRank(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return rating.Starting
	}
	return n
}

// StageAddGame queues "append gameID to the active list" on pipe.
func StageAddGame(ctx context.Context, pipe redis.Pipeliner, playerID, gameID int64) {
	pipe.RPush(ctx, ActiveGamesKey(playerID), kv.FormatID(gameID))
}

// StageFinishGame queues the active→finished move of gameID on pipe.
func StageFinishGame(ctx context.Context, pipe redis.Pipeliner, playerID, gameID int64) {
	id := kv.FormatID(gameID)
	pipe.LRem(ctx, ActiveGamesKey(playerID), 0, id)
	pipe.RPush(ctx, FinishedGamesKey(playerID), id)
}

// StageSetRating queues a rating write. Negative ratings are rejected.
func StageSetRating(ctx context.Context, pipe redis.Pipeliner, playerID int64, r int) error {
	if r < 0 {
		return chessdto.Validation("rating cannot be negative")
	}
	pipe.HSet(ctx, DataKey(playerID), fieldRank, r)
	return nil
}
