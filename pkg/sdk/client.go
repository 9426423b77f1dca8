// Package sdk provides the client-side library for the progress API.
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// identityHeader mirrors the server's optional identity assertion.
const identityHeader = "X-User-ID"

// Client is a remote client for the progress API.
// It implements the ProgressClient interface.
type Client struct {
	baseURL  string
	token    string
	identity string
	http     *http.Client
}

var _ ProgressClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInsecureTLS skips certificate verification. The daemon serves a
// self-signed certificate unless TLS is disabled.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.http = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		}
	}
}

// WithIdentity asserts the user id alongside the bearer credential. The
// server rejects the request if they disagree.
func WithIdentity(userID string) Option {
	return func(c *Client) { c.identity = userID }
}

// New returns a client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request and decodes a 2xx JSON body into out. There is no
// retry; a failed call is reported to the caller as is.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.identity != "" {
		req.Header.Set(identityHeader, c.identity)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(res.StatusCode)
		}
		return &APIError{Status: res.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Load returns the saved state of gameType, or ok=false if it was never saved.
func (c *Client) Load(ctx context.Context, gameType string) (schema.GameState, bool, error) {
	var state schema.GameState
	q := url.Values{"gameType": {gameType}}
	if err := c.do(ctx, http.MethodGet, "/game-progress?"+q.Encode(), nil, &state); err != nil {
		return nil, false, err
	}
	// The server answers null for an unsaved game.
	return state, state != nil, nil
}

// Save stores state for gameType and returns the state as persisted.
func (c *Client) Save(ctx context.Context, gameType string, state schema.GameState) (schema.GameState, error) {
	body := state.Clone()
	if body == nil {
		body = schema.GameState{}
	}
	body["gameType"] = gameType

	var saved schema.GameState
	if err := c.do(ctx, http.MethodPost, "/game-progress", body, &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// History lists snapshots newest first. An empty gameType spans all games;
// a non-positive limit uses the server default.
func (c *Client) History(ctx context.Context, gameType string, limit int) ([]schema.HistoryEntry, error) {
	q := url.Values{}
	if gameType != "" {
		q.Set("gameType", gameType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/game-stats/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var entries []schema.HistoryEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) Achievements(ctx context.Context) ([]schema.Achievement, error) {
	var list []schema.Achievement
	if err := c.do(ctx, http.MethodGet, "/game-stats/achievements", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ManifestInfo describes the server's precache manifest.
type ManifestInfo struct {
	Generation string   `json:"generation"`
	URLs       []string `json:"urls"`
	State      string   `json:"state"`
	Active     string   `json:"active"`
}

// Manifest fetches the server's precache manifest. It needs no credential.
func (c *Client) Manifest(ctx context.Context) (ManifestInfo, error) {
	var info ManifestInfo
	err := c.do(ctx, http.MethodGet, "/offline/manifest", nil, &info)
	return info, err
}

// Transport returns the HTTP client in use, e.g. to fetch shell assets.
func (c *Client) Transport() *http.Client {
	return c.http
}

// BaseURL returns the server origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --- Generics Support ---

// LoadAs loads a game state into a typed value.
// It handles JSON re-decoding into the target type automatically.
func LoadAs[T any](ctx context.Context, r ProgressReader, gameType string) (T, bool, error) {
	var target T
	state, ok, err := r.Load(ctx, gameType)
	if err != nil || !ok {
		return target, ok, err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return target, false, err
	}
	err = json.Unmarshal(data, &target)
	return target, err == nil, err
}

// SaveAs saves a typed value as the game state. T must encode to a JSON object.
func SaveAs[T any](ctx context.Context, w ProgressWriter, gameType string, val T) (schema.GameState, error) {
	data, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	state, err := schema.DecodeGameState(data)
	if err != nil {
		return nil, err
	}
	return w.Save(ctx, gameType, state)
}

// --- Game Scope ---

// Game returns a scoped interface for one game type.
func (c *Client) Game(gameType string) GameScope {
	return &RemoteGameScope{client: c, gameType: gameType}
}

// RemoteGameScope is a scoped client that "remembers" its game type.
type RemoteGameScope struct {
	client   *Client
	gameType string
}

func (g *RemoteGameScope) Load(ctx context.Context) (schema.GameState, bool, error) {
	return g.client.Load(ctx, g.gameType)
}

func (g *RemoteGameScope) Save(ctx context.Context, state schema.GameState) (schema.GameState, error) {
	return g.client.Save(ctx, g.gameType, state)
}

func (g *RemoteGameScope) History(ctx context.Context, limit int) ([]schema.HistoryEntry, error) {
	return g.client.History(ctx, g.gameType, limit)
}
