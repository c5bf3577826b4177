package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skeinhq/skein/internal/creds"
	"github.com/skeinhq/skein/internal/protocol"
)

// defaultRefreshEarly is how far ahead of the exp claim a proactive
// refresh is triggered, so requests rarely pay the 401-retry round trip.
const defaultRefreshEarly = 30 * time.Second

// Client talks to the platform's HTTP API. Authenticated requests carry a
// bearer token owned by the refresh coordinator; an expired token is
// refreshed proactively when the exp claim is near, or reactively on 401
// with a single retry.
type Client struct {
	baseURL string
	http    *http.Client
	coord   *creds.Coordinator
	log     *slog.Logger

	// RefreshEarly overrides the proactive refresh window. Zero means
	// the default.
	RefreshEarly time.Duration
}

func New(baseURL string, store *creds.Store, hub *creds.Broadcast, cfg creds.CoordinatorConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
	cfg.Store = store
	cfg.Hub = hub
	cfg.Refresh = c.refreshTokens
	cfg.Logger = log
	c.coord = creds.NewCoordinator(cfg)
	return c
}

// Coordinator exposes the refresh coordinator so the channel layer can
// pull fresh tokens and the watcher can feed in external rotations.
func (c *Client) Coordinator() *creds.Coordinator { return c.coord }

// Token returns a bearer token expected to outlive the next request,
// refreshing first when the current one is near expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	cur := c.coord.Current()
	if cur.AccessToken == "" {
		return "", creds.ErrLoggedOut
	}
	early := c.RefreshEarly
	if early <= 0 {
		early = defaultRefreshEarly
	}
	if creds.ShouldRefresh(cur.AccessToken, early, time.Now()) {
		fresh, err := c.coord.Refresh(ctx, cur)
		if err != nil {
			return "", err
		}
		return fresh.AccessToken, nil
	}
	return cur.AccessToken, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (creds.Credentials, error) {
	req := loginRequest{Email: email, Password: password}
	var resp creds.Credentials
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", req, "", &resp); err != nil {
		return creds.Credentials{}, err
	}
	c.coord.Adopt(resp)
	return resp, nil
}

// Snapshot fetches the authoritative main-scope session state.
func (c *Client) Snapshot(ctx context.Context) (*protocol.SessionSnapshot, error) {
	var resp protocol.SessionSnapshot
	if err := c.doAuthed(ctx, http.MethodGet, "/v1/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Worktrees(ctx context.Context) ([]protocol.WorktreeInfo, error) {
	var resp worktreesResponse
	if err := c.doAuthed(ctx, http.MethodGet, "/v1/worktrees", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Worktrees, nil
}

func (c *Client) WorktreeMessages(ctx context.Context, worktreeID string) ([]protocol.WireMessage, error) {
	var resp messagesResponse
	path := fmt.Sprintf("/v1/worktrees/%s/messages", worktreeID)
	if err := c.doAuthed(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// refreshTokens is the coordinator's upstream call. It bypasses the authed
// path: the refresh token is the credential here.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (creds.Credentials, error) {
	req := refreshRequest{RefreshToken: refreshToken}
	var resp creds.Credentials
	err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh", req, "", &resp)
	if err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.StatusCode == http.StatusUnauthorized {
			return creds.Credentials{}, creds.ErrLoggedOut
		}
		return creds.Credentials{}, err
	}
	return resp, nil
}

// doAuthed runs one bearer-authenticated request, refreshing and retrying
// exactly once on 401.
func (c *Client) doAuthed(ctx context.Context, method, path string, body, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	err = c.doJSON(ctx, method, path, body, token, out)
	apiErr := asAPIError(err)
	if apiErr == nil || apiErr.StatusCode != http.StatusUnauthorized {
		return err
	}

	cur := c.coord.Current()
	cur.AccessToken = token
	fresh, err := c.coord.Refresh(ctx, cur)
	if err != nil {
		return err
	}
	err = c.doJSON(ctx, method, path, body, fresh.AccessToken, out)
	if apiErr := asAPIError(err); apiErr != nil && apiErr.StatusCode == http.StatusUnauthorized {
		return creds.ErrLoggedOut
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type worktreesResponse struct {
	Worktrees []protocol.WorktreeInfo `json:"worktrees"`
}

type messagesResponse struct {
	Messages []protocol.WireMessage `json:"messages"`
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
