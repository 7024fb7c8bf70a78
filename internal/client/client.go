// Package client is the HTTP client for a game-host backend: session
// preparation, manual action execution, mid-run continuation, and the
// event-stream address.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mindgrid/arcstream/internal/event"
	"github.com/mindgrid/arcstream/internal/stream"
)

// PrepareRequest is the JSON body for POST /v1/sessions.
type PrepareRequest struct {
	GameID       string `json:"game_id"`
	MaxTurns     int    `json:"max_turns,omitempty"`
	AgentName    string `json:"agent_name"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Credential   string `json:"credential,omitempty"`
}

// PrepareResponse is returned on successful session preparation.
type PrepareResponse struct {
	SessionID string `json:"session_id"`
}

// Coordinates addresses one grid cell for a coordinate action.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ActionRequest is the JSON body for POST /v1/sessions/{id}/actions.
type ActionRequest struct {
	SessionID   string       `json:"session_id"`
	Action      string       `json:"action"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// ContinueRequest is the JSON body for POST /v1/sessions/{id}/continue.
type ContinueRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to one game-host backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a backend client. token may be empty when the host does
// not require auth.
func New(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// PrepareSession asks the backend to create an agent session and
// returns its identifier.
func (c *Client) PrepareSession(ctx context.Context, req PrepareRequest) (PrepareResponse, error) {
	var out PrepareResponse
	if err := c.postJSON(ctx, c.baseURL+"/v1/sessions", req, &out); err != nil {
		return out, fmt.Errorf("prepare session: %w", err)
	}
	if out.SessionID == "" {
		return out, fmt.Errorf("prepare session: backend returned no session_id")
	}
	return out, nil
}

// ExecuteAction performs one manual action against a live session and
// returns the resulting frame snapshot.
func (c *Client) ExecuteAction(ctx context.Context, req ActionRequest) (event.FramePayload, error) {
	var out event.FramePayload
	u := fmt.Sprintf("%s/v1/sessions/%s/actions", c.baseURL, url.PathEscape(req.SessionID))
	if err := c.postJSON(ctx, u, req, &out); err != nil {
		return out, fmt.Errorf("execute action %q: %w", req.Action, err)
	}
	return out, nil
}

// ContinueRun injects a free-text instruction into a paused session,
// resuming the same event stream.
func (c *Client) ContinueRun(ctx context.Context, sessionID, message string) error {
	u := fmt.Sprintf("%s/v1/sessions/%s/continue", c.baseURL, url.PathEscape(sessionID))
	if err := c.postJSON(ctx, u, ContinueRequest{SessionID: sessionID, Message: message}, nil); err != nil {
		return fmt.Errorf("continue session: %w", err)
	}
	return nil
}

// OpenStream opens the event-stream connection for a prepared session.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*stream.Connection, error) {
	u := fmt.Sprintf("%s/v1/sessions/%s/events", c.baseURL, url.PathEscape(sessionID))
	return stream.Dial(ctx, u, c.token)
}

func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		if jsonErr := json.Unmarshal(respBody, &er); jsonErr == nil && er.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, er.Error)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
