package httpapi

import (
	"context"

	"github.com/park285/cheese-ranked/internal/matchmaking"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/valyala/fasthttp"
)

func (h *Handler) register(ctx context.Context, rc *fasthttp.RequestCtx, _ int64) (reply, error) {
	var req chessdto.CredentialsRequest
	if err := decode(rc, &req); err != nil {
		return reply{}, err
	}
	p, err := h.d.Players.Register(ctx, req.Username, req.Password)
	if err != nil {
		return reply{}, err
	}
	snap := p.Snapshot()
	return reply{h.d.Messages.Text("player.registered", nil), chessdto.AuthResult{Player: &snap}}, nil
}

func (h *Handler) login(ctx context.Context, rc *fasthttp.RequestCtx, _ int64) (reply, error) {
	var req chessdto.CredentialsRequest
	if err := decode(rc, &req); err != nil {
		return reply{}, err
	}
	p, err := h.d.Players.Login(ctx, req.Username, req.Password)
	if err != nil {
		return reply{}, err
	}
	token, err := h.d.Tokens.Issue(p.ID)
	if err != nil {
		return reply{}, err
	}
	snap := p.Snapshot()
	return reply{h.d.Messages.Text("player.logged_in", nil), chessdto.AuthResult{Player: &snap, Token: token}}, nil
}

func (h *Handler) playerParts(parts player.Part, msgKey string) func(context.Context, *fasthttp.RequestCtx, int64) (reply, error) {
	return func(ctx context.Context, _ *fasthttp.RequestCtx, playerID int64) (reply, error) {
		p, err := h.d.Players.Get(ctx, playerID, parts)
		if err != nil {
			return reply{}, err
		}
		snap := p.Snapshot()
		return reply{h.d.Messages.Text(msgKey, nil), chessdto.AuthResult{Player: &snap}}, nil
	}
}

func (h *Handler) find(ctx context.Context, _ *fasthttp.RequestCtx, playerID int64) (reply, error) {
	res, err := h.d.Queue.FindMatch(ctx, playerID)
	if err != nil {
		return reply{}, err
	}
	if res.Status != matchmaking.Found {
		return reply{h.d.Messages.Text("game.searching", nil), chessdto.FindResult{}}, nil
	}
	s, err := h.d.Games.Load(ctx, res.GameID, true)
	if err != nil {
		return reply{}, err
	}
	out := chessdto.FindResult{GameFound: true, Game: s.Snapshot(h.d.Games.Now())}
	return reply{h.d.Messages.Text("game.found", nil), out}, nil
}

func (h *Handler) cancel(ctx context.Context, _ *fasthttp.RequestCtx, playerID int64) (reply, error) {
	gameID, err := h.d.Queue.Cancel(ctx, playerID)
	if err != nil {
		return reply{}, err
	}
	if gameID == matchmaking.NotMatched {
		return reply{h.d.Messages.Text("game.cancelled", nil), chessdto.FindResult{}}, nil
	}
	s, err := h.d.Games.Load(ctx, gameID, true)
	if err != nil {
		return reply{}, err
	}
	msg := h.d.Messages.Text("game.cancelled_matched", map[string]any{"GameID": gameID})
	return reply{msg, chessdto.FindResult{GameFound: true, Game: s.Snapshot(h.d.Games.Now())}}, nil
}

func (h *Handler) allInfo(ctx context.Context, rc *fasthttp.RequestCtx, _ int64) (reply, error) {
	var req chessdto.GameRequest
	if err := decode(rc, &req); err != nil {
		return reply{}, err
	}
	s, err := h.d.Games.Load(ctx, req.GameID, true)
	if err != nil {
		return reply{}, err
	}
	msg := h.d.Messages.Text("game.info", map[string]any{"GameID": req.GameID})
	return reply{msg, s.Snapshot(h.d.Games.Now())}, nil
}

func (h *Handler) playMove(ctx context.Context, rc *fasthttp.RequestCtx, playerID int64) (reply, error) {
	var req chessdto.PlayMoveRequest
	if err := decode(rc, &req); err != nil {
		return reply{}, err
	}
	if req.GameState == nil {
		return reply{}, chessdto.Validation("gamestate is required")
	}
	res, err := h.d.Games.PlayMove(ctx, req.GameID, playerID, req.Move, *req.GameState)
	if err != nil {
		return reply{}, err
	}
	out := chessdto.MoveResult{Game: res.Session.Snapshot(h.d.Games.Now())}
	msg := h.d.Messages.Text("game.move_played", nil)
	if r := res.Rating; r != nil {
		out.Ratings = &chessdto.RatingSettled{
			WhiteBefore: r.WhiteBefore,
			WhiteAfter:  r.WhiteAfter,
			BlackBefore: r.BlackBefore,
			BlackAfter:  r.BlackAfter,
		}
		msg = h.d.Messages.Text("game.finished", map[string]any{"State": res.Session.State.String()})
	}
	return reply{msg, out}, nil
}

func (h *Handler) wait(ctx context.Context, rc *fasthttp.RequestCtx, _ int64) (reply, error) {
	var req chessdto.WaitRequest
	if err := decode(rc, &req); err != nil {
		return reply{}, err
	}
	s, changed, err := h.d.Games.WaitForChange(ctx, req.GameID, req.Moves, h.d.Wait)
	if err != nil {
		return reply{}, err
	}
	msg := h.d.Messages.Text("game.unchanged", nil)
	if changed {
		msg = h.d.Messages.Text("game.changed", map[string]any{"GameID": req.GameID})
	}
	return reply{msg, s.Snapshot(h.d.Games.Now())}, nil
}
