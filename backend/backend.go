// Package backend is the REST client for the off-chain game
// projection. The backend holds the richer, mutable state the chain
// does not track: player roster, balances, board positions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"

	"github.com/gregemax/tycoon"
)

// Client issues CRUD calls against the backend's JSON envelope API.
type Client struct {
	base string
	hc   *http.Client
	log  slog.Logger
}

// Config configures a backend Client.
type Config struct {
	BaseURL    string
	Log        slog.Logger
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("backend client must have logger")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), hc: hc, log: cfg.Log}, nil
}

// GameByCode fetches the projection for one code. A missing game is
// tycoon.ErrNotFound; transport and 5xx failures wrap
// tycoon.ErrUnavailable so pollers can treat them as transient.
func (c *Client) GameByCode(ctx context.Context, code string) (*GameRecord, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	raw, err := c.do(ctx, http.MethodGet, "/games/code/"+code, nil)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, fmt.Errorf("game %s: %w", code, tycoon.ErrNotFound)
	}
	var rec GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("game %s: decode: %w", code, err)
	}
	return &rec, nil
}

// PromoteGame moves a lobby to a new status. Used for the single
// corrective PENDING -> RUNNING write when the backend missed its own
// promotion.
func (c *Client) PromoteGame(ctx context.Context, gameID int64, status tycoon.GameStatus) error {
	body := map[string]string{"status": status.String()}
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/games/%d", gameID), body)
	if err != nil {
		return fmt.Errorf("promote game %d: %w", gameID, err)
	}
	return nil
}

// JoinRequest records a wallet player's join after the on-chain join
// confirmed.
type JoinRequest struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Code    string `json:"code"`
}

func (c *Client) Join(ctx context.Context, req JoinRequest) error {
	req.Code = strings.ToUpper(req.Code)
	if _, err := c.do(ctx, http.MethodPost, "/game-players/join", req); err != nil {
		return fmt.Errorf("join %s: %w", req.Code, err)
	}
	return nil
}

// GuestJoinRequest joins a zero-stake game with a guest identity; no
// chain transaction is involved.
type GuestJoinRequest struct {
	Guest  string `json:"guest"`
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
}

func (c *Client) JoinAsGuest(ctx context.Context, req GuestJoinRequest) error {
	req.Code = strings.ToUpper(req.Code)
	if _, err := c.do(ctx, http.MethodPost, "/games/join-as-guest", req); err != nil {
		return fmt.Errorf("guest join %s: %w", req.Code, err)
	}
	return nil
}

func (c *Client) Leave(ctx context.Context, address, code string) error {
	body := map[string]string{"address": address, "code": strings.ToUpper(code)}
	if _, err := c.do(ctx, http.MethodPost, "/game-players/leave", body); err != nil {
		return fmt.Errorf("leave %s: %w", code, err)
	}
	return nil
}

// PlayerPatch is a partial game-player mutation: the phase-2 effect
// application for perks. Nil fields are left untouched.
type PlayerPatch struct {
	Balance  *int64 `json:"balance,omitempty"`
	Position *int   `json:"position,omitempty"`
	InJail   *bool  `json:"in_jail,omitempty"`
}

func (p PlayerPatch) Empty() bool {
	return p.Balance == nil && p.Position == nil && p.InJail == nil
}

func (c *Client) UpdateGamePlayer(ctx context.Context, gamePlayerID int64, patch PlayerPatch) error {
	if patch.Empty() {
		return fmt.Errorf("update game-player %d: empty patch", gamePlayerID)
	}
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/game-players/%d", gamePlayerID), patch)
	if err != nil {
		return fmt.Errorf("update game-player %d: %w", gamePlayerID, err)
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tycoon.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tycoon.ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, tycoon.ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: backend status %d", tycoon.ErrUnavailable, resp.StatusCode)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("backend: bad envelope: %w", err)
	}
	if !env.Success {
		if env.Message == "" {
			env.Message = "request rejected"
		}
		return nil, fmt.Errorf("backend: %s (status %d)", env.Message, resp.StatusCode)
	}
	return env.Data, nil
}

func isNull(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return t == "" || t == "null"
}
