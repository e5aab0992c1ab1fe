package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2026, 2, 3, 14, 5, 6, 0, time.UTC)

func TestMessageText(t *testing.T) {
	zone := LoadZone("Africa/Lagos", "WAT")
	msg := IssueCreated("Ada", "Projector broken", "Hub")
	assert.Equal(t, "📝 *Ada* created new issue\nTitle: Projector broken\nCategory: Hub\n→ 2/3/2026, 3:05:06 PM WAT", msg.Text(fixedNow, zone))

	bare := Message{Action: "pinged", UserName: "Bo"}
	assert.Equal(t, "*Bo* pinged\nNo details\n→ 2/3/2026, 3:05:06 PM WAT", bare.Text(fixedNow, zone))
}

func TestHelpers(t *testing.T) {
	long := strings.Repeat("é", 85)
	msg := CommentAdded("", "Robotics kit", long)
	assert.Equal(t, "Anonymous", msg.UserName)
	assert.Equal(t, "On: Robotics kit\n\""+strings.Repeat("é", 80)+"...\"", msg.Details)

	short := CommentAdded("Ada", "Robotics kit", "nice")
	assert.Equal(t, "On: Robotics kit\n\"nice\"", short.Details)

	assert.Equal(t, "Innovation: Kiosk", Archived("Ada", "Kiosk", "innovation").Details)
	assert.Equal(t, "permanently deleted issue", Deleted("Ada", "Leak", "issue").Action)
	assert.Equal(t, "moved issue from Open → Resolved", CardMoved("Ada", "Leak", "Open", "Resolved").Action)
	assert.Equal(t, "Category: Not specified", strings.Split(IssueCreated("Ada", "t", "").Details, "\n")[1])
}

type recordedPost struct {
	mu     sync.Mutex
	bodies []map[string]string
}

func (r *recordedPost) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		data, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(data, &body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream says hi"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func callHandler(t *testing.T, h http.Handler, method, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/notify", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestHandlerStatusContract(t *testing.T) {
	var rec recordedPost
	ok := rec.server(t, http.StatusOK)
	zone := LoadZone("", "")
	h := Handler{Webhook: &Webhook{URL: ok.URL, Zone: zone, Now: func() time.Time { return fixedNow }}}

	code, body := callHandler(t, h, http.MethodGet, "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, "Method not allowed", body["error"])

	code, _ = callHandler(t, h, http.MethodPost, `{"userName":"Ada"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = callHandler(t, h, http.MethodPost, `{"action":"did"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = callHandler(t, h, http.MethodPost, `{"action":"did a thing","userName":"Ada","emoji":"✅"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, "✅ *Ada* did a thing\nNo details\n→ 2/3/2026, 3:05:06 PM WAT", rec.bodies[0]["text"])

	unconfigured := Handler{}
	code, body = callHandler(t, unconfigured, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Missing webhook configuration", body["error"])

	var failing recordedPost
	bad := failing.server(t, http.StatusBadGateway)
	code, body = callHandler(t, Handler{Webhook: &Webhook{URL: bad.URL, Zone: zone}}, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Webhook failed: 502", body["error"])

	unreachable := Handler{Webhook: &Webhook{URL: "http://127.0.0.1:1/hook", Zone: zone}}
	code, _ = callHandler(t, unreachable, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
}

type relayPoster struct{ err error }

func (p relayPoster) Post(ctx context.Context, msg Message) error { return p.err }

func TestHandlerUnwrapsPosterErrors(t *testing.T) {
	wrapped := fmt.Errorf("relay: %w", &StatusError{StatusCode: http.StatusServiceUnavailable})
	code, body := callHandler(t, Handler{Webhook: relayPoster{err: wrapped}}, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Webhook failed: 503", body["error"])

	code, body = callHandler(t, Handler{Webhook: relayPoster{err: fmt.Errorf("relay: %w", ErrNotConfigured)}}, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Missing webhook configuration", body["error"])

	var unset *Webhook
	code, body = callHandler(t, Handler{Webhook: unset}, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Missing webhook configuration", body["error"])

	code, body = callHandler(t, Handler{Webhook: relayPoster{err: errors.New("boom")}}, http.MethodPost, `{"action":"x","userName":"Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestClientPostsToEndpoint(t *testing.T) {
	var rec recordedPost
	hook := rec.server(t, http.StatusOK)
	endpoint := httptest.NewServer(Handler{Webhook: &Webhook{URL: hook.URL, Zone: LoadZone("", "")}})
	defer endpoint.Close()

	c := &Client{Endpoint: endpoint.URL}
	require.NoError(t, c.Post(context.Background(), Joined("Ada", "Kiosk", "innovation")))
	require.Len(t, rec.bodies, 1)
	assert.Contains(t, rec.bodies[0]["text"], "*Ada* joined innovation")

	err := c.Post(context.Background(), Message{Action: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)

	require.ErrorIs(t, (&Client{}).Post(context.Background(), Message{}), ErrNotConfigured)
}

type failingPoster struct{ calls int }

func (f *failingPoster) Post(ctx context.Context, msg Message) error {
	f.calls++
	return errors.New("chat service down")
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	poster := &failingPoster{}
	d := NewDispatcher(poster, zap.New(core), time.Second)

	d.Send(Archived("Ada", "Leak", "issue"))
	d.Wait()

	assert.Equal(t, 1, poster.calls)
	entries := logs.FilterMessage("notification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "archived issue", entries[0].ContextMap()["action"])

	var disabled *Dispatcher
	disabled.Send(Message{})
	disabled.Wait()
	NewDispatcher(nil, nil, 0).Send(Message{Action: "ignored"})
}
