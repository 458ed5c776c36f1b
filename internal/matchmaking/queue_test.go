package matchmaking

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-ranked/internal/game"
	"github.com/park285/cheese-ranked/internal/kv"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/internal/poll"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	rdb     *redis.Client
	players *player.Store
	games   *game.Manager
	queue   *Queue
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	games := game.NewManager(rdb)
	return &env{
		rdb:     rdb,
		players: player.NewStore(rdb, player.WithHashCost(bcrypt.MinCost)),
		games:   games,
		queue:   New(rdb, games, opts...),
	}
}

func (e *env) register(t *testing.T, name string, rating int) *player.Record {
	t.Helper()
	ctx := context.Background()
	p, err := e.players.Register(ctx, name, "secret1")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if rating != 0 {
		if err := p.SetRating(ctx, rating); err != nil {
			t.Fatalf("set rating: %v", err)
		}
	}
	return p
}

func TestAliceBobScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, err := e.players.Register(ctx, "alice", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := e.players.Register(ctx, "bob", "secret2")
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.queue.FindMatch(ctx, alice.ID)
	if err != nil || res.Status != Searching {
		t.Fatalf("alice first round: %+v (%v)", res, err)
	}
	if res.Scope != StartingScope {
		t.Fatalf("alice scope = %d", res.Scope)
	}

	res, err = e.queue.FindMatch(ctx, bob.ID)
	if err != nil || res.Status != Found {
		t.Fatalf("bob round: %+v (%v)", res, err)
	}
	gameID := res.GameID

	res, err = e.queue.FindMatch(ctx, alice.ID)
	if err != nil || res.Status != Found || res.GameID != gameID {
		t.Fatalf("alice second round: %+v (%v), want game %d", res, err, gameID)
	}
	if n, _ := e.rdb.Exists(ctx, entryKey(alice.ID), entryKey(bob.ID)).Result(); n != 0 {
		t.Fatalf("queue entries left behind: %d", n)
	}
	if n, _ := e.rdb.ZCard(ctx, ranksKey()).Result(); n != 0 {
		t.Fatalf("rank set not empty: %d", n)
	}

	s, err := e.games.Load(ctx, gameID, false)
	if err != nil {
		t.Fatal(err)
	}
	pair := []int64{s.White, s.Black}
	slices.Sort(pair)
	if !slices.Equal(pair, []int64{alice.ID, bob.ID}) {
		t.Fatalf("game players = %v", pair)
	}

	if _, err := e.games.PlayMove(ctx, gameID, s.White, "e4", int(game.BlackToMove)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.games.PlayMove(ctx, gameID, s.Black, "e5", int(game.WhiteToMove)); err != nil {
		t.Fatal(err)
	}
	mv, err := e.games.PlayMove(ctx, gameID, s.White, "Qxf7#", int(game.WhiteWon))
	if err != nil {
		t.Fatal(err)
	}
	if mv.Rating.WhiteDelta() != 8 || mv.Rating.BlackDelta() != -8 {
		t.Fatalf("deltas = %+d/%+d", mv.Rating.WhiteDelta(), mv.Rating.BlackDelta())
	}
	winner, _ := player.ReadRating(ctx, e.rdb, s.White)
	loser, _ := player.ReadRating(ctx, e.rdb, s.Black)
	if winner != 1408 || loser != 1392 {
		t.Fatalf("stored ratings = %d/%d", winner, loser)
	}
}

func TestScopeWidensEachRound(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	p := e.register(t, "carol", 0)
	for round, want := range []int{20, 70, 120} {
		res, err := e.queue.FindMatch(ctx, p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != Searching || res.Scope != want {
			t.Fatalf("round %d: %+v, want scope %d", round, res, want)
		}
	}
	score, err := e.rdb.ZScore(ctx, ranksKey(), kv.FormatID(p.ID)).Result()
	if err != nil || score != 1400 {
		t.Fatalf("rank score = %v (%v)", score, err)
	}
}

func TestMutualScopeRequired(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	low := e.register(t, "lowie", 1400)
	high := e.register(t, "highie", 1460)

	// The gap is 60, so both scopes have to grow past it.
	if res, _ := e.queue.FindMatch(ctx, low.ID); res.Status != Searching {
		t.Fatalf("low: %+v", res)
	}
	for i := 0; i < 2; i++ {
		res, err := e.queue.FindMatch(ctx, high.ID)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != Searching {
			t.Fatalf("high matched before low's scope covered the gap: %+v", res)
		}
	}
	// low's scope becomes 70, its window now covers high, and high's scope is 70 too.
	res, err := e.queue.FindMatch(ctx, low.ID)
	if err != nil || res.Status != Found {
		t.Fatalf("low second round: %+v (%v)", res, err)
	}
}

// seed queues id directly, bypassing matchmaking between seeded players.
func (e *env) seed(t *testing.T, id int64, rating, scope int) {
	t.Helper()
	ctx := context.Background()
	if err := e.rdb.HSet(ctx, entryKey(id), fieldScope, scope, fieldGameID, NotMatched).Err(); err != nil {
		t.Fatal(err)
	}
	if err := e.rdb.ZAdd(ctx, ranksKey(), redis.Z{Score: float64(rating), Member: kv.FormatID(id)}).Err(); err != nil {
		t.Fatal(err)
	}
}

func TestClosestThenLowestID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	first := e.register(t, "first", 1390)
	second := e.register(t, "second", 1410)
	far := e.register(t, "farther", 1385)
	seeker := e.register(t, "seeker", 1400)

	e.seed(t, first.ID, 1390, StartingScope)
	e.seed(t, second.ID, 1410, StartingScope)
	e.seed(t, far.ID, 1385, StartingScope)

	res, err := e.queue.FindMatch(ctx, seeker.ID)
	if err != nil || res.Status != Found {
		t.Fatalf("seeker: %+v (%v)", res, err)
	}
	s, err := e.games.Load(ctx, res.GameID, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.SideOf(first.ID); !ok {
		t.Fatalf("expected tie to go to the lowest id %d, got %d vs %d", first.ID, s.White, s.Black)
	}
	for _, id := range []int64{second.ID, far.ID} {
		if n, _ := e.rdb.Exists(ctx, entryKey(id)).Result(); n != 1 {
			t.Fatalf("player %d should still be waiting", id)
		}
	}
}

func TestColorPicker(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, WithColorPicker(func() bool { return false }))
	waiting := e.register(t, "waiter", 0)
	seeker := e.register(t, "seeker", 0)
	if _, err := e.queue.FindMatch(ctx, waiting.ID); err != nil {
		t.Fatal(err)
	}
	res, err := e.queue.FindMatch(ctx, seeker.ID)
	if err != nil || res.Status != Found {
		t.Fatalf("%+v (%v)", res, err)
	}
	s, _ := e.games.Load(ctx, res.GameID, false)
	if s.White != waiting.ID || s.Black != seeker.ID {
		t.Fatalf("colours: white=%d black=%d", s.White, s.Black)
	}
}

func TestConcurrentFindCreatesOneGame(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 5; round++ {
		e := newEnv(t)
		p := e.register(t, "pppp", 0)
		q := e.register(t, "qqqq", 0)
		e.seed(t, p.ID, 1400, StartingScope)
		e.seed(t, q.ID, 1400, StartingScope)

		var wg sync.WaitGroup
		results := make([]Result, 2)
		errs := make([]error, 2)
		start := make(chan struct{})
		for i, id := range []int64{p.ID, q.ID} {
			wg.Add(1)
			go func(i int, id int64) {
				defer wg.Done()
				<-start
				results[i], errs[i] = e.queue.FindMatch(ctx, id)
			}(i, id)
		}
		close(start)
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("round %d player %d: %v", round, i, err)
			}
		}
		if results[0].Status != Found || results[1].Status != Found || results[0].GameID != results[1].GameID {
			t.Fatalf("round %d: results %+v", round, results)
		}
		keys, err := e.rdb.Keys(ctx, kv.Prefix+"game:*:data").Result()
		if err != nil || len(keys) != 1 {
			t.Fatalf("round %d: games created = %v (%v)", round, keys, err)
		}
		for _, id := range []int64{p.ID, q.ID} {
			active, _ := e.rdb.LRange(ctx, player.ActiveGamesKey(id), 0, -1).Result()
			if len(active) != 1 || active[0] != kv.FormatID(results[0].GameID) {
				t.Fatalf("round %d: player %d active games = %v", round, id, active)
			}
		}
	}
}

func TestStaleMembersArePruned(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ghost := e.register(t, "ghost", 0)
	p := e.register(t, "alive", 0)

	if err := e.rdb.ZAdd(ctx, ranksKey(), redis.Z{Score: 1400, Member: kv.FormatID(ghost.ID)}).Err(); err != nil {
		t.Fatal(err)
	}
	res, err := e.queue.FindMatch(ctx, p.ID)
	if err != nil || res.Status != Searching {
		t.Fatalf("%+v (%v)", res, err)
	}
	if _, err := e.rdb.ZScore(ctx, ranksKey(), kv.FormatID(ghost.ID)).Result(); !errors.Is(err, redis.Nil) {
		t.Fatalf("ghost member still indexed: %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.register(t, "anna", 0)
	b := e.register(t, "bert", 0)

	if _, err := e.queue.FindMatch(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	id, err := e.queue.Cancel(ctx, a.ID)
	if err != nil || id != NotMatched {
		t.Fatalf("Cancel unmatched: %d (%v)", id, err)
	}
	if res, _ := e.queue.FindMatch(ctx, b.ID); res.Status != Searching {
		t.Fatalf("cancelled player was matched: %+v", res)
	}
	if res, _ := e.queue.FindMatch(ctx, a.ID); res.Status != Found {
		t.Fatalf("rejoin: %+v", res)
	}
	// b was matched by a; cancelling must still hand b the game.
	id, err = e.queue.Cancel(ctx, b.ID)
	if err != nil || id == NotMatched {
		t.Fatalf("Cancel matched: %d (%v)", id, err)
	}
	if _, err := e.games.Load(ctx, id, false); err != nil {
		t.Fatalf("game %d lost: %v", id, err)
	}
}

func TestFindMatchUnknownPlayer(t *testing.T) {
	e := newEnv(t)
	if _, err := e.queue.FindMatch(context.Background(), 77); !errors.Is(err, chessdto.ErrNotFound) {
		t.Fatalf("unknown player: %v", err)
	}
}

func TestPollGivesUpSearching(t *testing.T) {
	e := newEnv(t)
	p := e.register(t, "lonely", 0)
	res, err := e.queue.Poll(context.Background(), p.ID, poll.Policy{MaxAttempts: 3, Delay: time.Millisecond})
	if err != nil || res.Status != Searching {
		t.Fatalf("%+v (%v)", res, err)
	}
	if res.Scope != StartingScope+2*ScopeStep {
		t.Fatalf("scope after 3 rounds = %d", res.Scope)
	}
}
