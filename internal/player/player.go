// Package player stores ranked players in Redis. A Record carries only the
// parts a caller asked for; the rest stay lazy.NotLoaded until Load.
package player

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/lazy"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
)

// Part selects which fields a Load fetches.
type Part uint8

const (
	PartProfile Part = 1 << iota
	PartActiveGames
	PartFinishedGames

	PartAll = PartProfile | PartActiveGames | PartFinishedGames
)

type Record struct {
	ID int64

	store    *Store
	username lazy.Value[string]
	rating   lazy.Value[int]
	active   lazy.Value[[]int64]
	finished lazy.Value[[]int64]
}

func (r *Record) Username() (string, bool) { return r.username.Get() }

func (r *Record) Rating() (int, bool) { return r.rating.Get() }

// ActiveGames returns a copy of the active list if it was loaded.
func (r *Record) ActiveGames() ([]int64, bool) {
	v, ok := r.active.Get()
	return slices.Clone(v), ok
}

func (r *Record) FinishedGames() ([]int64, bool) {
	v, ok := r.finished.Get()
	return slices.Clone(v), ok
}

// Load (re)fetches the requested parts. Parts not requested keep their state.
func (r *Record) Load(ctx context.Context, parts Part) error {
	pipe := r.store.rdb.Pipeline()
	dataCmd := pipe.HGetAll(ctx, DataKey(r.ID))
	var activeCmd, finishedCmd *redis.StringSliceCmd
	if parts&PartActiveGames != 0 {
		activeCmd = pipe.LRange(ctx, ActiveGamesKey(r.ID), 0, -1)
	}
	if parts&PartFinishedGames != 0 {
		finishedCmd = pipe.LRange(ctx, FinishedGamesKey(r.ID), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return chessdto.Transient("load player", err)
	}

	data := dataCmd.Val()
	if len(data) == 0 {
		return chessdto.NotFound("player %d not found", r.ID)
	}
	if parts&PartProfile != 0 {
		r.username = lazy.Loaded(data[fieldUsername])
		r.rating = lazy.Loaded(parseRank(data[fieldRank]))
	}
	if activeCmd != nil {
		ids, err := kv.ParseIDs(activeCmd.Val())
		if err != nil {
			return chessdto.Transient("decode active games", err)
		}
		r.active = lazy.Loaded(ids)
	}
	if finishedCmd != nil {
		ids, err := kv.ParseIDs(finishedCmd.Val())
		if err != nil {
			return chessdto.Transient("decode finished games", err)
		}
		r.finished = lazy.Loaded(ids)
	}
	return nil
}

// SetRating writes the rating through to the store and the record.
func (r *Record) SetRating(ctx context.Context, v int) error {
	pipe := r.store.rdb.TxPipeline()
	if err := StageSetRating(ctx, pipe, r.ID, v); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return chessdto.Transient("set rating", err)
	}
	r.rating = lazy.Loaded(v)
	return nil
}

// SetUsername renames the player, moving the login entry with it.
func (r *Record) SetUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return chessdto.Validation("username cannot be empty")
	}
	if err := chessdto.ValidateVar("username", name, usernameRule); err != nil {
		return err
	}
	newLogin := loginKey(name)
	err := r.store.rdb.Watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.HGet(ctx, DataKey(r.ID), fieldUsername).Result()
		if errors.Is(err, redis.Nil) {
			return chessdto.NotFound("player %d not found", r.ID)
		}
		if err != nil {
			return err
		}
		if old == name {
			return nil
		}
		oldLogin := loginKey(old)
		if err := tx.Watch(ctx, oldLogin).Err(); err != nil {
			return err
		}
		n, err := tx.Exists(ctx, newLogin).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return chessdto.Conflict("username %q is taken", name)
		}
		login, err := tx.HGetAll(ctx, oldLogin).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(login) > 0 {
				pipe.HSet(ctx, newLogin, fieldLoginID, login[fieldLoginID], fieldPassword, login[fieldPassword])
				pipe.Del(ctx, oldLogin)
			}
			pipe.HSet(ctx, DataKey(r.ID), fieldUsername, name)
			return nil
		})
		return err
	}, DataKey(r.ID), newLogin)
	if errors.Is(err, redis.TxFailedErr) {
		return chessdto.Conflict("username %q changed concurrently", name)
	}
	if err != nil {
		return chessdto.Transient("set username", err)
	}
	r.username = lazy.Loaded(name)
	return nil
}

// AddGame appends gameID to the active list.
func (r *Record) AddGame(ctx context.Context, gameID int64) error {
	pipe := r.store.rdb.TxPipeline()
	StageAddGame(ctx, pipe, r.ID, gameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return chessdto.Transient("add game", err)
	}
	r.active = lazy.Map(r.active, func(ids []int64) []int64 {
		return append(slices.Clone(ids), gameID)
	})
	return nil
}

// FinishGame moves gameID from the active list to the finished list.
func (r *Record) FinishGame(ctx context.Context, gameID int64) error {
	pipe := r.store.rdb.TxPipeline()
	StageFinishGame(ctx, pipe, r.ID, gameID)
	if _, err := pipe.Exec(ctx); err != nil {
		return chessdto.Transient("finish game", err)
	}
	r.active = lazy.Map(r.active, func(ids []int64) []int64 {
		return slices.DeleteFunc(slices.Clone(ids), func(id int64) bool { return id == gameID })
	})
	r.finished = lazy.Map(r.finished, func(ids []int64) []int64 {
		return append(slices.Clone(ids), gameID)
	})
	return nil
}

// Snapshot renders the loaded parts; unloaded parts are left nil.
func (r *Record) Snapshot() chessdto.PlayerSnapshot {
	out := chessdto.PlayerSnapshot{ID: r.ID}
	if name, ok := r.username.Get(); ok {
		out.Username = name
	}
	if v, ok := r.rating.Get(); ok {
		out.Rank = &v
	}
	if ids, ok := r.ActiveGames(); ok {
		out.ActiveGames = &ids
	}
	if ids, ok := r.FinishedGames(); ok {
		out.FinishedGames = &ids
	}
	return out
}
