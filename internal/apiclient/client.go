// Package apiclient is a typed fasthttp client for the ranked chess API.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/park285/cheese-ranked/pkg/chessdto"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx envelope returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message) }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

type Client struct {
	baseURL string
	http    *fasthttp.Client
	token   string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDialer replaces the TCP dialer, e.g. with an in-memory listener.
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token from the last successful Login.
func (c *Client) Token() string { return c.token }

func (c *Client) SetToken(tok string) { c.token = tok }

func (c *Client) Register(ctx context.Context, username, password string) (*chessdto.PlayerSnapshot, error) {
	var out chessdto.AuthResult
	req := chessdto.CredentialsRequest{Username: username, Password: password}
	if _, err := c.call(ctx, "/player/register", req, &out, false); err != nil {
		return nil, err
	}
	return out.Player, nil
}

// Login stores the issued token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*chessdto.PlayerSnapshot, error) {
	var out chessdto.AuthResult
	req := chessdto.CredentialsRequest{Username: username, Password: password}
	if _, err := c.call(ctx, "/player/login", req, &out, false); err != nil {
		return nil, err
	}
	c.token = out.Token
	return out.Player, nil
}

func (c *Client) AllData(ctx context.Context) (*chessdto.PlayerSnapshot, error) {
	var out chessdto.AuthResult
	if _, err := c.call(ctx, "/player/allData", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Player, nil
}

// FindGame joins or re-polls the matchmaking queue.
func (c *Client) FindGame(ctx context.Context) (*chessdto.FindResult, error) {
	var out chessdto.FindResult
	if _, err := c.call(ctx, "/game/find", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSearch(ctx context.Context) (*chessdto.FindResult, error) {
	var out chessdto.FindResult
	if _, err := c.call(ctx, "/game/cancel", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GameInfo(ctx context.Context, gameID int64) (*chessdto.GameSnapshot, error) {
	var out chessdto.GameSnapshot
	if _, err := c.call(ctx, "/game/allInfo", chessdto.GameRequest{GameID: gameID}, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PlayMove(ctx context.Context, gameID int64, move string, state int) (*chessdto.MoveResult, error) {
	var out chessdto.MoveResult
	req := chessdto.PlayMoveRequest{GameID: gameID, Move: move, GameState: &state}
	if _, err := c.call(ctx, "/game/playMove", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wait long-polls until the game has a move count other than knownMoves.
// The returned message tells whether anything changed.
func (c *Client) Wait(ctx context.Context, gameID int64, knownMoves int) (*chessdto.GameSnapshot, string, error) {
	var out chessdto.GameSnapshot
	msg, err := c.call(ctx, "/game/wait", chessdto.WaitRequest{GameID: gameID, Moves: knownMoves}, &out, false)
	if err != nil {
		return nil, "", err
	}
	return &out, msg, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, path string, in any, out any, retry bool) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			var env envelope
			if err := json.Unmarshal(resp.Body(), &env); err != nil {
				return "", fmt.Errorf("decode envelope (status=%d): %w", resp.StatusCode(), err)
			}
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				if out != nil && len(env.Data) > 0 {
					if err := json.Unmarshal(env.Data, out); err != nil {
						return "", fmt.Errorf("decode data: %w", err)
					}
				}
				return env.Message, nil
			}
			lastErr = &APIError{Status: status, Message: env.Message}
			if !shouldRetryStatus(status) {
				return "", lastErr
			}
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
