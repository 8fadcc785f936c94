// Package push is the HTTP client for the push notification sidecar. It is
// the fallback delivery path: when a room member has no live WebSocket
// connection the message still reaches their device as a web push.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

// Client calls the push sidecar. With an empty URL every method is a no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SubscribeRequest is the subscription registration body.
type SubscribeRequest struct {
	UserID       string           `json:"user_id"`
	Subscription PushSubscription `json:"subscription"`
}

// PushSubscription is the subscription object produced by the browser.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe stores a browser subscription for the user on the sidecar.
func (c *Client) Subscribe(ctx context.Context, userID string, sub PushSubscription) error {
	if c.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(SubscribeRequest{UserID: userID, Subscription: sub})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/subscribe", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push subscribe: %d", resp.StatusCode)
	}
	return nil
}

// Unsubscribe removes a subscription by endpoint.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if c.baseURL == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"user_id": userID, "endpoint": endpoint})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/subscribe", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push unsubscribe: %d", resp.StatusCode)
	}
	return nil
}

// NotifyRequest is the notification send request.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notify pushes a new-message notification to the user. Fire-and-forget:
// failures are logged, never surfaced to the sender.
func (c *Client) Notify(ctx context.Context, userID string, msg *model.Message) {
	if c.baseURL == "" {
		return
	}
	body := msg.Content
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	payload := NotifyRequest{
		UserID: userID,
		Title:  "New message",
		Body:   body,
		Data:   map[string]string{"room_id": msg.RoomID, "message_id": msg.ID},
	}
	bodyBytes, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(bodyBytes))
	if err != nil {
		logger.Errorf("push notify request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Errorf("push notify: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		logger.Errorf("push notify: %d", resp.StatusCode)
	}
}
