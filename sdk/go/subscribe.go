package hubtracksdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hubtrack/internal/domain"
)

// Frame is one message on a subscription socket.
type Frame struct {
	Type  string          `json:"type"`
	View  string          `json:"view"`
	Docs  json.RawMessage `json:"docs,omitempty"`
	Error string          `json:"error,omitempty"`
}

// CommentSnapshot is one push of an innovation's comments.
type CommentSnapshot struct {
	Comments []domain.Comment
	Err      error
}

// Feed is a live subscription decoded into snapshots of type S.
// Updates is closed after Close or when the connection drops.
type Feed[S any] struct {
	out    chan S
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (f *Feed[S]) Updates() <-chan S {
	return f.out
}

// Close ends the subscription and waits for the reader to stop.
func (f *Feed[S]) Close() {
	f.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		f.cancel()
		<-f.done
	})
}

// WatchIssues streams one of the issue views: active, resolved or archived.
func (c *Client) WatchIssues(ctx context.Context, view string) (*Feed[domain.IssueSnapshot], error) {
	if view == "" {
		view = "active"
	}
	return watch(ctx, c, url.Values{"view": {"issues." + view}}, issueSnapshot)
}

// WatchIssue streams a single issue.
func (c *Client) WatchIssue(ctx context.Context, id string) (*Feed[domain.IssueSnapshot], error) {
	return watch(ctx, c, url.Values{"view": {"issue"}, "id": {id}}, issueSnapshot)
}

func (c *Client) WatchInnovations(ctx context.Context, archived bool) (*Feed[domain.InnovationSnapshot], error) {
	q := url.Values{"view": {"innovations"}, "archived": {strconv.FormatBool(archived)}}
	return watch(ctx, c, q, innovationSnapshot)
}

func (c *Client) WatchInnovation(ctx context.Context, id string) (*Feed[domain.InnovationSnapshot], error) {
	return watch(ctx, c, url.Values{"view": {"innovation"}, "id": {id}}, innovationSnapshot)
}

func (c *Client) WatchComments(ctx context.Context, innovationID string) (*Feed[CommentSnapshot], error) {
	return watch(ctx, c, url.Values{"view": {"comments"}, "id": {innovationID}}, func(docs []domain.Comment, err error) CommentSnapshot {
		return CommentSnapshot{Comments: docs, Err: err}
	})
}

func issueSnapshot(docs []domain.Issue, err error) domain.IssueSnapshot {
	return domain.IssueSnapshot{Issues: docs, Err: err}
}

func innovationSnapshot(docs []domain.Innovation, err error) domain.InnovationSnapshot {
	return domain.InnovationSnapshot{Innovations: docs, Err: err}
}

func (c *Client) subscribeURL(q url.Values) (string, error) {
	u, err := url.Parse(c.base() + "/subscribe")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func watch[T any, S any](ctx context.Context, c *Client, q url.Values, convert func([]T, error) S) (*Feed[S], error) {
	endpoint, err := c.subscribeURL(q)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.BearerToken != "" {
		header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	dialer := *websocket.DefaultDialer
	if c.Timeout > 0 {
		dialer.HandshakeTimeout = c.Timeout
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &Feed[S]{
		out:    make(chan S),
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(f.done)
		defer close(f.out)
		defer cancel()
		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					select {
					case f.out <- convert(nil, fmt.Errorf("subscription %s: %w", q.Get("view"), err)):
					case <-ctx.Done():
					}
				}
				return
			}
			snap := decodeFrame(frame, convert)
			select {
			case f.out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return f, nil
}

func decodeFrame[T any, S any](frame Frame, convert func([]T, error) S) S {
	if frame.Type == "error" {
		return convert(nil, errors.New(frame.Error))
	}
	var docs []T
	if len(frame.Docs) > 0 {
		if err := json.Unmarshal(frame.Docs, &docs); err != nil {
			return convert(nil, fmt.Errorf("decode %s snapshot: %w", frame.View, err))
		}
	}
	return convert(docs, nil)
}
