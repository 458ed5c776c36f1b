package player

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/lazy"
	"github.com/park285/cheese-ranked/internal/obslog"
	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const usernameRule = "min=3,max=32"

type Store struct {
	rdb      *redis.Client
	hashCost int
}

type Option func(*Store)

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Store) { s.hashCost = cost }
}

func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ref returns a record with nothing loaded. No I/O happens.
func (s *Store) Ref(id int64) *Record { return &Record{ID: id, store: s} }

// Get loads the requested parts of player id.
func (s *Store) Get(ctx context.Context, id int64, parts Part) (*Record, error) {
	rec := s.Ref(id)
	if err := rec.Load(ctx, parts); err != nil {
		return nil, err
	}
	return rec, nil
}

// Register creates a player with the starting rating and empty game lists.
func (s *Store) Register(ctx context.Context, username, password string) (*Record, error) {
	req := chessdto.CredentialsRequest{Username: strings.TrimSpace(username), Password: password}
	if err := chessdto.ValidateStruct(req); err != nil {
		return nil, err
	}
	login := loginKey(req.Username)

	n, err := s.rdb.Exists(ctx, login).Result()
	if err != nil {
		return nil, chessdto.Transient("check username", err)
	}
	if n > 0 {
		return nil, chessdto.Conflict("username %q is taken", req.Username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, chessdto.Validation("password rejected: %v", err)
	}
	id, err := s.rdb.Incr(ctx, playerIDKey()).Result()
	if err != nil {
		return nil, chessdto.Transient("allocate player id", err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, login).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return chessdto.Conflict("username %q is taken", req.Username)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, login, fieldLoginID, kv.FormatID(id), fieldPassword, string(hash))
			pipe.HSet(ctx, DataKey(id), fieldUsername, req.Username, fieldRank, rating.Starting)
			return nil
		})
		return err
	}, login)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, chessdto.Conflict("username %q is taken", req.Username)
	}
	if err != nil {
		return nil, chessdto.Transient("register player", err)
	}

	obslog.L().Info("player_registered", zap.Int64("player_id", id), zap.String("username", req.Username))
	return &Record{
		ID:       id,
		store:    s,
		username: lazy.Loaded(req.Username),
		rating:   lazy.Loaded(rating.Starting),
		active:   lazy.Loaded([]int64{}),
		finished: lazy.Loaded([]int64{}),
	}, nil
}

// Login checks the password and returns the player's profile.
func (s *Store) Login(ctx context.Context, username, password string) (*Record, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, chessdto.Validation("username is required")
	}
	data, err := s.rdb.HGetAll(ctx, loginKey(username)).Result()
	if err != nil {
		return nil, chessdto.Transient("load login", err)
	}
	if len(data) == 0 {
		return nil, chessdto.NotFound("player %q not found", username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(data[fieldPassword]), []byte(password)); err != nil {
		return nil, chessdto.Auth("invalid password")
	}
	id, err := kv.ParseID(data[fieldLoginID])
	if err != nil {
		return nil, chessdto.Transient("decode login", err)
	}
	return s.Get(ctx, id, PartProfile)
}
