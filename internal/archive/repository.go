// Package archive copies finished games into Postgres for history and PGN export.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-ranked/internal/game"
	"github.com/park285/cheese-ranked/internal/rating"
	"github.com/park285/cheese-ranked/internal/rules"
)

const schema = `CREATE TABLE IF NOT EXISTS ranked_games (
	game_id       BIGINT PRIMARY KEY,
	white_id      BIGINT NOT NULL,
	black_id      BIGINT NOT NULL,
	result        TEXT NOT NULL,
	termination   TEXT NOT NULL,
	moves         JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	white_before  INT NOT NULL,
	white_after   INT NOT NULL,
	black_before  INT NOT NULL,
	black_after   INT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to databaseURL and creates the table if needed.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(pctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ranked_games: %w", err)
	}
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts the final state of s with its rating change.
func (r *Repository) SaveResult(ctx context.Context, s *game.Session, res rating.Result) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}
	moves, _ := s.Moves.Get()
	san, termination := notate(moves)
	result := mapResult(s.State)
	ended := r.now().UTC()
	pgn := buildPGN(s, san, result, termination, ended)

	movesRaw, err := json.Marshal(moves)
	if err != nil {
		return err
	}
	duration := ended.Sub(s.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO ranked_games (
		game_id, white_id, black_id, result, termination, moves, pgn,
		white_before, white_after, black_before, black_after,
		started_at, ended_at, duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (game_id) DO UPDATE SET
		result=EXCLUDED.result,
		termination=EXCLUDED.termination,
		moves=EXCLUDED.moves,
		pgn=EXCLUDED.pgn,
		white_after=EXCLUDED.white_after,
		black_after=EXCLUDED.black_after,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.White, s.Black, result, termination, string(movesRaw), pgn,
		res.WhiteBefore, res.WhiteAfter, res.BlackBefore, res.BlackAfter,
		s.StartedAt, ended, duration,
	)
	return err
}

// notate converts stored tokens to SAN when they replay on a board. Free-form
// histories are kept verbatim and the result counts as claimed.
func notate(moves []string) ([]string, string) {
	san, method, err := rules.SAN(moves)
	if err != nil {
		return moves, "claimed"
	}
	if method == "" {
		method = "claimed"
	}
	return san, method
}

func mapResult(s game.State) string {
	switch s {
	case game.WhiteWon:
		return "1-0"
	case game.BlackWon:
		return "0-1"
	case game.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(s *game.Session, san []string, result, termination string, date time.Time) string {
	var b strings.Builder
	b.WriteString("[Event \"Ranked game\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[Round \"%d\"]\n", s.ID)
	fmt.Fprintf(&b, "[White \"player-%d\"]\n", s.White)
	fmt.Fprintf(&b, "[Black \"player-%d\"]\n", s.Black)
	fmt.Fprintf(&b, "[TimeControl \"%d\"]\n", s.ClockSeconds)
	if termination != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(termination))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(san); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, sanitizePGN(san[i]))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(sanitizePGN(san[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
