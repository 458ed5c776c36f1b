package game

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/internal/poll"
	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	rdb     *redis.Client
	players *player.Store
	mgr     *Manager
	clock   *fakeClock
	white   *player.Record
	black   *player.Record
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	players := player.NewStore(rdb, player.WithHashCost(bcrypt.MinCost))
	ctx := context.Background()
	white, err := players.Register(ctx, "alice", "secret1")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	black, err := players.Register(ctx, "bobby", "secret1")
	if err != nil {
		t.Fatalf("register bobby: %v", err)
	}
	opts = append([]Option{WithNow(clock.Now)}, opts...)
	return &fixture{
		rdb:     rdb,
		players: players,
		mgr:     NewManager(rdb, opts...),
		clock:   clock,
		white:   white,
		black:   black,
	}
}

func (f *fixture) create(t *testing.T) *Session {
	t.Helper()
	s, err := f.mgr.Create(context.Background(), f.white.ID, f.black.ID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t)

	got, err := f.mgr.Load(ctx, s.ID, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.White != f.white.ID || got.Black != f.black.ID || got.State != WhiteToMove {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.TimeLeft != [2]int{DefaultClockSeconds, DefaultClockSeconds} {
		t.Fatalf("clocks = %v", got.TimeLeft)
	}
	if !got.StartedAt.Equal(f.clock.Now()) {
		t.Fatalf("startedAt = %v", got.StartedAt)
	}
	if moves, ok := got.Moves.Get(); !ok || len(moves) != 0 {
		t.Fatalf("moves = %v/%v", moves, ok)
	}

	for _, id := range []int64{f.white.ID, f.black.ID} {
		rec, err := f.players.Get(ctx, id, player.PartActiveGames)
		if err != nil {
			t.Fatal(err)
		}
		if active, _ := rec.ActiveGames(); !slices.Equal(active, []int64{s.ID}) {
			t.Fatalf("player %d active = %v", id, active)
		}
	}

	noMoves, err := f.mgr.Load(ctx, s.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if noMoves.Moves.IsLoaded() {
		t.Fatalf("moves should stay unloaded")
	}
	if snap := noMoves.Snapshot(f.clock.Now()); snap.Moves != nil || snap.Data == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	if _, err := f.mgr.Load(ctx, 404, false); !errors.Is(err, chessdto.ErrNotFound) {
		t.Fatalf("Load(404): %v", err)
	}
}

func TestCreateRejectsSelfPlay(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Create(context.Background(), f.white.ID, f.white.ID); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("self play: %v", err)
	}
}

func TestPlayMoveWrongSideDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t)
	before, _ := f.rdb.HGetAll(ctx, DataKey(s.ID)).Result()

	cases := []struct {
		name     string
		playerID int64
		state    int
		want     error
	}{
		{"black first", f.black.ID, int(WhiteToMove), chessdto.ErrTurn},
		{"stranger", 999, int(BlackToMove), chessdto.ErrTurn},
		{"bad state", f.white.ID, 7, chessdto.ErrValidation},
		{"negative state", f.white.ID, -1, chessdto.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.mgr.PlayMove(ctx, s.ID, tc.playerID, "e4", tc.state); !errors.Is(err, tc.want) {
				t.Fatalf("PlayMove: %v, want %v", err, tc.want)
			}
		})
	}

	after, _ := f.rdb.HGetAll(ctx, DataKey(s.ID)).Result()
	if len(before) != len(after) {
		t.Fatalf("hash changed: %v -> %v", before, after)
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("field %s changed: %s -> %s", k, v, after[k])
		}
	}
	if n, _ := f.rdb.LLen(ctx, MovesKey(s.ID)).Result(); n != 0 {
		t.Fatalf("moves appended: %d", n)
	}
}

func TestPlayMoveUpdatesMoverClockOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t)

	f.clock.Advance(90*time.Second + 700*time.Millisecond)
	res, err := f.mgr.PlayMove(ctx, s.ID, f.white.ID, "e4", int(BlackToMove))
	if err != nil {
		t.Fatalf("PlayMove: %v", err)
	}
	if res.Rating != nil {
		t.Fatalf("non-terminal move settled ratings")
	}
	got := res.Session
	if got.TimeLeft[White] != DefaultClockSeconds-90 {
		t.Fatalf("white clock = %d", got.TimeLeft[White])
	}
	if got.TimeLeft[Black] != DefaultClockSeconds {
		t.Fatalf("black clock changed: %d", got.TimeLeft[Black])
	}

	f.clock.Advance(10 * time.Second)
	now := f.clock.Now()
	if left := got.ActualTimeLeft(Black, now); left != DefaultClockSeconds-10 {
		t.Fatalf("black actual = %d", left)
	}
	if left := got.ActualTimeLeft(White, now); left != DefaultClockSeconds-90 {
		t.Fatalf("white actual should be frozen, got %d", left)
	}

	stored, err := f.mgr.Load(ctx, s.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if moves, _ := stored.Moves.Get(); !slices.Equal(moves, []string{"e4"}) {
		t.Fatalf("moves = %v", moves)
	}
	if stored.State != BlackToMove || stored.TimeLeft != got.TimeLeft {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestActualTimeLeftMonotonic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSession(1, 10, 20, 600, start)

	prev := s.ActualTimeLeft(White, start)
	for i := 1; i <= 20; i++ {
		now := start.Add(time.Duration(i) * 1300 * time.Millisecond)
		cur := s.ActualTimeLeft(White, now)
		if cur > prev {
			t.Fatalf("own clock increased at step %d: %d > %d", i, cur, prev)
		}
		prev = cur
		if other := s.ActualTimeLeft(Black, now); other != 600 {
			t.Fatalf("opponent clock moved: %d", other)
		}
	}
	if s.ActualTimeLeft(White, start.Add(-time.Minute)) != 600 {
		t.Fatalf("clock skew must not add time")
	}
}

func TestTerminalMoveSettlesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t)

	if _, err := f.mgr.PlayMove(ctx, s.ID, f.white.ID, "e4", int(BlackToMove)); err != nil {
		t.Fatal(err)
	}
	res, err := f.mgr.PlayMove(ctx, s.ID, f.black.ID, "resign", int(WhiteWon))
	if err != nil {
		t.Fatalf("terminal move: %v", err)
	}
	want := rating.Result{WhiteBefore: 1400, BlackBefore: 1400, WhiteAfter: 1408, BlackAfter: 1392}
	if res.Rating == nil || *res.Rating != want {
		t.Fatalf("rating = %+v", res.Rating)
	}

	for _, tc := range []struct {
		id   int64
		want int
	}{{f.white.ID, 1408}, {f.black.ID, 1392}} {
		rec, err := f.players.Get(ctx, tc.id, player.PartAll)
		if err != nil {
			t.Fatal(err)
		}
		if r, _ := rec.Rating(); r != tc.want {
			t.Fatalf("player %d rating = %d, want %d", tc.id, r, tc.want)
		}
		active, _ := rec.ActiveGames()
		finished, _ := rec.FinishedGames()
		if len(active) != 0 || !slices.Equal(finished, []int64{s.ID}) {
			t.Fatalf("player %d lists: active=%v finished=%v", tc.id, active, finished)
		}
	}

	if _, err := f.mgr.PlayMove(ctx, s.ID, f.white.ID, "e5", int(BlackWon)); !errors.Is(err, chessdto.ErrTurn) {
		t.Fatalf("move after end: %v", err)
	}
	if r, _ := player.ReadRating(ctx, f.rdb, f.white.ID); r != 1408 {
		t.Fatalf("rating changed after end: %d", r)
	}
}

func TestConcurrentTerminalMovesSettleOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.mgr.PlayMove(ctx, s.ID, f.white.ID, "Qh5", int(WhiteWon))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, chessdto.ErrTurn), errors.Is(err, chessdto.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d moves committed, want 1", ok)
	}
	if r, _ := player.ReadRating(ctx, f.rdb, f.white.ID); r != 1408 {
		t.Fatalf("white rating = %d", r)
	}
	if n, _ := f.rdb.LLen(ctx, MovesKey(s.ID)).Result(); n != 1 {
		t.Fatalf("moves = %d", n)
	}
}

type recordingArchive struct {
	mu       sync.Mutex
	sessions []*Session
	results  []rating.Result
	err      error
}

func (a *recordingArchive) SaveResult(_ context.Context, s *Session, r rating.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, s)
	a.results = append(a.results, r)
	return a.err
}

func TestArchiveReceivesFinishedGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	arch := &recordingArchive{err: errors.New("db down")}
	f.mgr.AttachArchive(arch)
	s := f.create(t)

	if _, err := f.mgr.PlayMove(ctx, s.ID, f.white.ID, "e4", int(BlackToMove)); err != nil {
		t.Fatal(err)
	}
	if len(arch.sessions) != 0 {
		t.Fatalf("archived a running game")
	}
	if _, err := f.mgr.PlayMove(ctx, s.ID, f.black.ID, "e5", int(Draw)); err != nil {
		t.Fatalf("archive failure must not fail the move: %v", err)
	}
	if len(arch.sessions) != 1 {
		t.Fatalf("archived %d games", len(arch.sessions))
	}
	moves, _ := arch.sessions[0].Moves.Get()
	if !slices.Equal(moves, []string{"e4", "e5"}) || arch.sessions[0].State != Draw {
		t.Fatalf("archived session: %+v moves=%v", arch.sessions[0], moves)
	}
}

type rejectAll struct{}

func (rejectAll) Check([]string, string, State) error {
	return chessdto.Validation("illegal move")
}

func TestRefereeRejectionLeavesGameUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithReferee(rejectAll{}))
	s := f.create(t)
	if _, err := f.mgr.PlayMove(ctx, s.ID, f.white.ID, "e9", int(BlackToMove)); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("PlayMove: %v", err)
	}
	got, err := f.mgr.Load(ctx, s.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if moves, _ := got.Moves.Get(); len(moves) != 0 || got.State != WhiteToMove {
		t.Fatalf("game mutated: state=%v moves=%v", got.State, moves)
	}
}

func TestWaitForChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.create(t)
	p := poll.Policy{MaxAttempts: 3, Delay: time.Millisecond}

	got, changed, err := f.mgr.WaitForChange(ctx, s.ID, 0, p)
	if err != nil || changed {
		t.Fatalf("quiet game: changed=%v err=%v", changed, err)
	}
	if got == nil || got.ID != s.ID {
		t.Fatalf("expected last snapshot, got %+v", got)
	}

	if _, err := f.mgr.PlayMove(ctx, s.ID, f.white.ID, "d4", int(BlackToMove)); err != nil {
		t.Fatal(err)
	}
	got, changed, err = f.mgr.WaitForChange(ctx, s.ID, 0, p)
	if err != nil || !changed {
		t.Fatalf("after move: changed=%v err=%v", changed, err)
	}
	if moves, _ := got.Moves.Get(); !slices.Equal(moves, []string{"d4"}) {
		t.Fatalf("moves = %v", moves)
	}

	if _, _, err := f.mgr.WaitForChange(ctx, 404, 0, p); !errors.Is(err, chessdto.ErrNotFound) {
		t.Fatalf("missing game: %v", err)
	}
}
