package server

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
)

// Subscription views accepted by GET {base}/subscribe.
const (
	ViewIssuesActive   = "issues.active"
	ViewIssuesResolved = "issues.resolved"
	ViewIssuesArchived = "issues.archived"
	ViewIssue          = "issue"
	ViewInnovations    = "innovations"
	ViewInnovation     = "innovation"
	ViewComments       = "comments"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// StreamMessage is one frame on a subscription socket.
type StreamMessage struct {
	Type  string `json:"type"`
	View  string `json:"view"`
	Docs  any    `json:"docs,omitempty"`
	Error string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Credentials are checked by the auth middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feed is a started subscription converted to stream frames.
type feed struct {
	frames <-chan StreamMessage
	close  func()
}

func relay[T any](f *engine.Feed[T], view string, convert func(T) StreamMessage) feed {
	out := make(chan StreamMessage)
	go func() {
		defer close(out)
		for snap := range f.Updates() {
			msg := convert(snap)
			msg.View = view
			out <- msg
		}
	}()
	return feed{frames: out, close: func() {
		f.Close()
		for range out {
		}
	}}
}

func snapshotFrame(docs any, err error) StreamMessage {
	if err != nil {
		return StreamMessage{Type: "error", Error: err.Error()}
	}
	return StreamMessage{Type: "snapshot", Docs: docs}
}

func openFeed(ctx context.Context, e engine.Engine, view, id string, archived bool) (feed, error) {
	issues := func(s domain.IssueSnapshot) StreamMessage { return snapshotFrame(s.Issues, s.Err) }
	innovations := func(s domain.InnovationSnapshot) StreamMessage { return snapshotFrame(s.Innovations, s.Err) }
	switch view {
	case ViewIssuesActive, ViewIssuesResolved, ViewIssuesArchived:
		f, err := e.WatchIssues(ctx, engine.IssueView(view[len("issues."):]))
		if err != nil {
			return feed{}, err
		}
		return relay(f, view, issues), nil
	case ViewIssue:
		if id == "" {
			return feed{}, newAPIError(http.StatusBadRequest, "bad_request", "id is required for view issue", nil)
		}
		f, err := e.WatchIssue(ctx, id)
		if err != nil {
			return feed{}, err
		}
		return relay(f, view, issues), nil
	case ViewInnovations:
		f, err := e.WatchInnovations(ctx, archived)
		if err != nil {
			return feed{}, err
		}
		return relay(f, view, innovations), nil
	case ViewInnovation:
		if id == "" {
			return feed{}, newAPIError(http.StatusBadRequest, "bad_request", "id is required for view innovation", nil)
		}
		f, err := e.WatchInnovation(ctx, id)
		if err != nil {
			return feed{}, err
		}
		return relay(f, view, innovations), nil
	case ViewComments:
		if id == "" {
			return feed{}, newAPIError(http.StatusBadRequest, "bad_request", "id is required for view comments", nil)
		}
		f, err := e.WatchComments(ctx, id)
		if err != nil {
			return feed{}, err
		}
		return relay(f, view, func(s engine.CommentSnapshot) StreamMessage { return snapshotFrame(s.Comments, s.Err) }), nil
	}
	return feed{}, newAPIError(http.StatusBadRequest, "bad_request", "unknown view", map[string]any{"view": view})
}

func registerSubscribe(r chi.Router, basePath string, e engine.Engine, logger *zap.Logger) {
	r.Get(path.Join(basePath, "subscribe"), func(w http.ResponseWriter, req *http.Request) {
		if _, authErr := principalFromRequest(req.Context()); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		q := req.URL.Query()
		view := q.Get("view")
		archived, _ := strconv.ParseBool(q.Get("archived"))

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		f, err := openFeed(ctx, e, view, q.Get("id"), archived)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer f.close()

		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer ws.Close()
		logger.Debug("subscription opened", zap.String("view", view))

		// The client sends nothing; reading surfaces the close frame.
		go func() {
			defer cancel()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-f.frames:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteJSON(msg); err != nil {
					logger.Debug("subscription write failed", zap.String("view", view), zap.Error(err))
					return
				}
			case <-ping.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	})
}
