// Package platform is the REST boundary to the knowledge-sharing
// platform's session-control endpoints. The realtime sessions call it
// only on their deliberate end paths; everything else (CRUD for
// discussions, resources, help requests, profiles) lives in the
// surrounding screens, not here.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Client calls the platform API with a bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Config holds platform client configuration.
type Config struct {
	BaseURL string // e.g. "https://platform.example.org/api"
	Token   string
	Timeout time.Duration // zero means 10s
}

// NewClient creates a platform API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("platform: base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// StartCall tells the platform a help call is starting.
func (c *Client) StartCall(ctx context.Context, callID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/start", callID), nil)
}

// EndCall tells the platform a help call is over.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	return c.post(ctx, fmt.Sprintf("/calls/%s/end", callID), nil)
}

// EndChat marks a mentorship chat finished. Satisfies chat.Ender.
func (c *Client) EndChat(ctx context.Context, chatID string) error {
	return c.post(ctx, fmt.Sprintf("/chats/%s/end", chatID), nil)
}

// CompleteMentorship marks a mentorship completed.
func (c *Client) CompleteMentorship(ctx context.Context, mentorshipID string) error {
	return c.post(ctx, fmt.Sprintf("/mentorships/%s/complete", mentorshipID), nil)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("POST %s: %s: %s", path, resp.Status, msg)
	}
	return nil
}
