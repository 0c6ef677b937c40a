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

	"ridechat/pkg/logger"
	"ridechat/pkg/models"
)

// Client talks to the remote chat backend's request/response endpoints. The
// real-time channel is a separate concern (pkg/channel); this client covers
// conversation setup, history, deletes and the unseen counter.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client for the given base URL carrying the bearer credential
// on every request.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// OpenConversation creates or fetches the private conversation for a ride
// and peer, returning its id.
func (c *Client) OpenConversation(ctx context.Context, rideID, peer string) (string, error) {
	body, _ := json.Marshal(map[string]string{"rideId": rideID, "recipientId": peer})
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.do(ctx, http.MethodPost, "/chats/private", body, &out); err != nil {
		return "", fmt.Errorf("open conversation: %w", err)
	}
	if out.ConversationID == "" {
		return "", fmt.Errorf("open conversation: empty id in response")
	}
	return out.ConversationID, nil
}

// History fetches the conversation's persisted messages and normalizes each
// through the same boundary as live events. Entries that fail normalization
// are dropped and logged, matching live-event handling.
func (c *Client) History(ctx context.Context, conversationID string) ([]models.Event, error) {
	var raw []json.RawMessage
	path := "/chats/conversation/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	out := make([]models.Event, 0, len(raw))
	for _, r := range raw {
		ev, err := models.DecodeEvent(r)
		if err != nil {
			logger.Warn("history_entry_dropped", "conversation", conversationID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeleteMessage asks the backend to tombstone a message by server id.
func (c *Client) DeleteMessage(ctx context.Context, serverID string) error {
	if err := c.do(ctx, http.MethodDelete, "/chats/message/"+serverID, nil, nil); err != nil {
		return fmt.Errorf("delete message %s: %w", serverID, err)
	}
	return nil
}

// UnseenCount returns the backend's unread counter for a ride.
func (c *Client) UnseenCount(ctx context.Context, rideID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	path := "/ride-requests/ride/" + rideID + "/unseen-count"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, fmt.Errorf("unseen count: %w", err)
	}
	return out.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
