package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-ranked/internal/archive"
	"github.com/park285/cheese-ranked/internal/auth"
	"github.com/park285/cheese-ranked/internal/config"
	"github.com/park285/cheese-ranked/internal/game"
	"github.com/park285/cheese-ranked/internal/httpapi"
	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/matchmaking"
	"github.com/park285/cheese-ranked/internal/msgcat"
	"github.com/park285/cheese-ranked/internal/obslog"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/internal/poll"
	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/internal/rules"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(obslog.OptionsFromEnv()); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	rdb, err := kv.Open(baseCtx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	gameOpts := []game.Option{
		game.WithClockSeconds(cfg.GameClockSec),
		game.WithRatingEngine(rating.Engine{K: cfg.RatingK}),
		game.WithRetries(cfg.MatchTxRetries),
	}
	if cfg.StrictMoves {
		gameOpts = append(gameOpts, game.WithReferee(rules.New()))
	}
	games := game.NewManager(rdb, gameOpts...)

	// Postgres archive (optional)
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.Open(baseCtx, cfg.DatabaseURL)
		if err != nil {
			obslog.L().Warn("archive_disabled", zap.Error(err))
		} else {
			games.AttachArchive(repo)
			defer func() { _ = repo.Close() }()
		}
	}

	tokens, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("token issuer error: %v", err)
	}
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	wait := poll.Policy{MaxAttempts: cfg.PollMaxAttempts, Delay: cfg.PollDelay}
	h := httpapi.New(baseCtx, httpapi.Deps{
		Players: player.NewStore(rdb),
		Games:   games,
		Queue: matchmaking.New(rdb, games,
			matchmaking.WithScope(cfg.MatchStartScope, cfg.MatchScopeStep),
			matchmaking.WithTxRetries(cfg.MatchTxRetries),
		),
		Tokens:   tokens,
		Messages: msgs,
		Wait:     wait,
	})

	srv := &fasthttp.Server{
		Handler:      h.Handle,
		Name:         "cheese-ranked",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(wait.MaxAttempts)*wait.Delay + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		obslog.L().Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.Bool("strict_moves", cfg.StrictMoves))
		if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(sctx); err != nil {
		obslog.L().Warn("http_shutdown", zap.Error(err))
	}
	cancelBase()
}
