// Package httpapi serves the player and game endpoints over fasthttp. Every
// response is a chessdto.Envelope whose code mirrors the HTTP status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-ranked/internal/auth"
	"github.com/park285/cheese-ranked/internal/game"
	"github.com/park285/cheese-ranked/internal/matchmaking"
	"github.com/park285/cheese-ranked/internal/msgcat"
	"github.com/park285/cheese-ranked/internal/obslog"
	"github.com/park285/cheese-ranked/internal/player"
	"github.com/park285/cheese-ranked/internal/poll"
	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

type Deps struct {
	Players  *player.Store
	Games    *game.Manager
	Queue    *matchmaking.Queue
	Tokens   *auth.Issuer
	Messages *msgcat.Catalog
	// Wait bounds the /game/wait long-poll.
	Wait poll.Policy
}

type reply struct {
	msg  string
	data any
}

type endpoint struct {
	authed bool
	// longPoll endpoints get a deadline sized to the wait policy.
	longPoll bool
	fn       func(ctx context.Context, rc *fasthttp.RequestCtx, playerID int64) (reply, error)
}

type Handler struct {
	d      Deps
	base   context.Context
	routes map[string]endpoint
}

// New builds the router. base bounds every request; cancel it on shutdown.
func New(base context.Context, d Deps) *Handler {
	if d.Wait.MaxAttempts <= 0 {
		d.Wait = poll.Default()
	}
	h := &Handler{d: d, base: base}
	h.routes = map[string]endpoint{
		"/player/register":      {fn: h.register},
		"/player/login":         {fn: h.login},
		"/player/activeGames":   {authed: true, fn: h.playerParts(player.PartActiveGames, "player.active_games")},
		"/player/finishedGames": {authed: true, fn: h.playerParts(player.PartFinishedGames, "player.finished_games")},
		"/player/allData":       {authed: true, fn: h.playerParts(player.PartAll, "player.all_data")},
		"/game/find":            {authed: true, fn: h.find},
		"/game/cancel":          {authed: true, fn: h.cancel},
		"/game/allInfo":         {authed: true, fn: h.allInfo},
		"/game/playMove":        {authed: true, fn: h.playMove},
		"/game/wait":            {authed: true, longPoll: true, fn: h.wait},
	}
	return h
}

// Handle is the fasthttp entry point.
func (h *Handler) Handle(rc *fasthttp.RequestCtx) {
	start := time.Now()
	reqID := string(rc.Request.Header.Peek("X-Request-ID"))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	rc.Response.Header.Set("X-Request-ID", reqID)
	path := string(rc.Path())

	ep, ok := h.routes[path]
	if !ok {
		h.write(rc, fasthttp.StatusNotFound, h.d.Messages.Text("error.not_found", map[string]any{"Detail": path}), nil)
		return
	}
	if !rc.IsPost() {
		rc.Response.Header.Set("Allow", fasthttp.MethodPost)
		h.write(rc, fasthttp.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var playerID int64
	if ep.authed {
		id, err := h.d.Tokens.Parse(string(rc.Request.Header.Peek("Authorization")))
		if err != nil {
			h.fail(rc, reqID, path, err)
			return
		}
		playerID = id
	}

	timeout := defaultRequestTimeout
	if ep.longPoll {
		timeout = time.Duration(h.d.Wait.MaxAttempts)*h.d.Wait.Delay + defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(h.base, timeout)
	defer cancel()

	out, err := ep.fn(ctx, rc, playerID)
	if err != nil {
		h.fail(rc, reqID, path, err)
		return
	}
	h.write(rc, fasthttp.StatusOK, out.msg, out.data)
	obslog.L().Debug("http_request",
		zap.String("request_id", reqID),
		zap.String("path", path),
		zap.Int64("player_id", playerID),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (h *Handler) write(rc *fasthttp.RequestCtx, status int, msg string, data any) {
	body, err := json.Marshal(chessdto.Envelope{Code: status, Message: msg, Data: data})
	if err != nil {
		status = fasthttp.StatusInternalServerError
		body = []byte(`{"code":500,"message":"encode response"}`)
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json; charset=utf-8")
	rc.SetBody(body)
}

var errBadBody = errors.New("bad request body")

func (h *Handler) fail(rc *fasthttp.RequestCtx, reqID, path string, err error) {
	status, msg := h.statusOf(err)
	log := obslog.L().With(zap.String("request_id", reqID), zap.String("path", path), zap.Error(err))
	if status >= fasthttp.StatusInternalServerError {
		log.Error("http_error", zap.Int("status", status))
	} else {
		log.Info("http_rejected", zap.Int("status", status))
	}
	h.write(rc, status, msg, nil)
}

func (h *Handler) statusOf(err error) (int, string) {
	if errors.Is(err, errBadBody) {
		return fasthttp.StatusBadRequest, h.d.Messages.Text("error.bad_request", nil)
	}
	var de *chessdto.DomainError
	if !errors.As(err, &de) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fasthttp.StatusServiceUnavailable, h.d.Messages.Text("error.unavailable", nil)
		}
		return fasthttp.StatusInternalServerError, h.d.Messages.Text("error.internal", nil)
	}
	switch de.Kind {
	case chessdto.KindValidation:
		return fasthttp.StatusBadRequest, de.Message
	case chessdto.KindTurn, chessdto.KindConflict:
		return fasthttp.StatusConflict, de.Message
	case chessdto.KindNotFound:
		return fasthttp.StatusNotFound, h.d.Messages.Text("error.not_found", map[string]any{"Detail": de.Message})
	case chessdto.KindAuth:
		return fasthttp.StatusUnauthorized, h.d.Messages.Text("error.unauthorized", map[string]any{"Detail": de.Message})
	case chessdto.KindTransient:
		return fasthttp.StatusServiceUnavailable, h.d.Messages.Text("error.unavailable", nil)
	}
	return fasthttp.StatusInternalServerError, h.d.Messages.Text("error.internal", nil)
}

// decode unmarshals the body into v and runs its validate tags.
func decode(rc *fasthttp.RequestCtx, v any) error {
	body := rc.PostBody()
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errBadBody
	}
	return chessdto.ValidateStruct(v)
}
