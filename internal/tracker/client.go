// Package tracker talks to the GitHub issues REST API for posting and
// maintaining draft comments.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.github.com"

// requestsPerSecond keeps the client comfortably inside GitHub's secondary
// rate limits for content-creating requests.
const requestsPerSecond = 2

// Client is a minimal GitHub issues client. All methods take the repository
// as "owner/name".
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default API host. Used for GitHub
// Enterprise and for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a GitHub client authenticated with token.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type commentPayload struct {
	Body string `json:"body"`
}

type commentResponse struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// PostComment creates a comment on an issue and returns the new comment's ID.
func (c *Client) PostComment(ctx context.Context, repo string, issueNumber int, body string) (int64, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, repo, issueNumber)
	var out commentResponse
	if err := c.do(ctx, http.MethodPost, url, &commentPayload{Body: body}, &out); err != nil {
		return 0, fmt.Errorf("posting comment on %s#%d: %w", repo, issueNumber, err)
	}
	return out.ID, nil
}

// GetComment fetches a comment's current body.
func (c *Client) GetComment(ctx context.Context, repo string, commentID int64) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/comments/%d", c.baseURL, repo, commentID)
	var out commentResponse
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return "", fmt.Errorf("fetching comment %d on %s: %w", commentID, repo, err)
	}
	return out.Body, nil
}

// UpdateComment replaces a comment's body.
func (c *Client) UpdateComment(ctx context.Context, repo string, commentID int64, body string) error {
	url := fmt.Sprintf("%s/repos/%s/issues/comments/%d", c.baseURL, repo, commentID)
	if err := c.do(ctx, http.MethodPatch, url, &commentPayload{Body: body}, nil); err != nil {
		return fmt.Errorf("updating comment %d on %s: %w", commentID, repo, err)
	}
	return nil
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, repo string, commentID int64) error {
	url := fmt.Sprintf("%s/repos/%s/issues/comments/%d", c.baseURL, repo, commentID)
	if err := c.do(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("deleting comment %d on %s: %w", commentID, repo, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("github api error", "method", method, "url", url, "status", resp.StatusCode)
		return fmt.Errorf("github api returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
