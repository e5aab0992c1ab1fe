package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("missing webhook configuration")

// Poster delivers one message.
type Poster interface {
	Post(ctx context.Context, msg Message) error
}

// Webhook posts messages to a chat incoming webhook as {"text": ...}.
type Webhook struct {
	URL    string
	Zone   Zone
	Client *http.Client
	Now    func() time.Time
}

func (w *Webhook) Post(ctx context.Context, msg Message) error {
	if w == nil || strings.TrimSpace(w.URL) == "" {
		return ErrNotConfigured
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data, err := json.Marshal(map[string]string{"text": msg.Text(now(), w.Zone)})
	if err != nil {
		return err
	}
	return postJSON(ctx, w.Client, w.URL, data)
}

func postJSON(ctx context.Context, client *http.Client, url string, data []byte) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// StatusError reports a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Client posts messages to a notification endpoint served by Handler.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

func (c *Client) Post(ctx context.Context, msg Message) error {
	if c == nil || strings.TrimSpace(c.Endpoint) == "" {
		return ErrNotConfigured
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return postJSON(ctx, c.HTTPClient, c.Endpoint, data)
}
