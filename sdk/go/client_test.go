package hubtracksdk

import (
	"context"
	"encoding/json"
	"errors"
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

	"hubtrack/internal/app"
	"hubtrack/internal/board"
	"hubtrack/internal/config"
	"hubtrack/internal/domain"
	"hubtrack/internal/identity"
	"hubtrack/internal/notify"
)

type chatRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *chatRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	data, _ := io.ReadAll(req.Body)
	_ = json.Unmarshal(data, &body)
	r.mu.Lock()
	r.texts = append(r.texts, body.Text)
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *chatRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type testEnv struct {
	url  string
	chat *chatRecorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	chat := &chatRecorder{}
	chatSrv := httptest.NewServer(chat)
	t.Cleanup(chatSrv.Close)

	cfg := config.Default()
	cfg.Auth.JWTSecret = "sdk-secret"
	cfg.Auth.DevLogin = true
	cfg.Authorization.Emails = []string{"lead@example.com"}
	cfg.Notify.WebhookURL = chatSrv.URL

	ctx := context.Background()
	a, err := app.Open(ctx, t.TempDir(), cfg, zap.NewNop())
	require.NoError(t, err)
	h, err := a.Handler(ctx, false)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return testEnv{url: srv.URL + "/api", chat: chat}
}

func (e testEnv) client(t *testing.T, p domain.Principal) *Client {
	t.Helper()
	c := New(e.url)
	token, err := c.DevLogin(context.Background(), p)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	c.BearerToken = token
	return c
}

var (
	lead     = domain.Principal{UID: "lead", DisplayName: "Lola", Email: "lead@example.com"}
	reporter = domain.Principal{UID: "rita", DisplayName: "Rita", Email: "rita@example.com"}
	outsider = domain.Principal{UID: "sam", DisplayName: "Sam", Email: "sam@example.com"}
)

func TestUnauthenticatedCalls(t *testing.T) {
	env := newTestEnv(t)
	c := New(env.url)
	require.NoError(t, c.Health(context.Background()))

	_, err := c.Me(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code())
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	me, err := env.client(t, lead).Me(ctx)
	require.NoError(t, err)
	assert.True(t, me.Authorized)
	assert.Equal(t, "Lola", me.Label)
	assert.Equal(t, lead, me.Principal())

	me, err = env.client(t, outsider).Me(ctx)
	require.NoError(t, err)
	assert.False(t, me.Authorized)
}

func TestIssueCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rita := env.client(t, reporter)
	sam := env.client(t, outsider)
	boss := env.client(t, lead)

	issue, err := rita.CreateIssue(ctx, NewIssue{Title: "Projector flickers", Category: domain.CategoryHub})
	require.NoError(t, err)
	assert.Equal(t, domain.IssueOpen, issue.Status)
	assert.Equal(t, "Rita", issue.ReporterName)

	_, err = sam.MoveIssue(ctx, issue.ID, domain.IssueInProgress)
	require.Error(t, err)
	assert.True(t, IsNotPermitted(err))

	joined, err := sam.JoinIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, joined.HasAssignee("sam"))

	moved, err := sam.MoveIssue(ctx, issue.ID, domain.IssueResolved)
	require.NoError(t, err)
	require.NotNil(t, moved.ResolvedAt)

	resolved, err := rita.ListIssues(ctx, "resolved")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, issue.ID, resolved[0].ID)

	title := "Projector flickers in room 2"
	_, err = rita.UpdateIssue(ctx, issue.ID, IssueEdit{Title: &title})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	edited, err := boss.UpdateIssue(ctx, issue.ID, IssueEdit{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, edited.Title)

	archived, err := boss.ArchiveIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)
	list, err := rita.ListIssues(ctx, "archived")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = boss.UnarchiveIssue(ctx, issue.ID)
	require.NoError(t, err)
	reopened, err := rita.SetIssueStatus(ctx, issue.ID, domain.IssueOpen)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueOpen, reopened.Status)

	evts, err := rita.Events(ctx, issue.ID, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, evts)

	require.NoError(t, boss.DeleteIssue(ctx, issue.ID))
	_, err = rita.GetIssue(ctx, issue.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestInnovationCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rita := env.client(t, reporter)
	sam := env.client(t, outsider)

	in, err := rita.CreateInnovation(ctx, NewInnovation{Title: "Solar kiosk", Problem: "Power cuts"})
	require.NoError(t, err)
	require.Len(t, in.Participants, 1)
	assert.Equal(t, domain.RoleCreator, in.Participants[0].Role)

	in, err = sam.JoinInnovation(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InnovationInProgress, in.Status)

	_, err = sam.UpdateSolution(ctx, in.ID, "Battery bank")
	require.NoError(t, err)
	in, err = sam.UpdateSolution(ctx, in.ID, "Battery bank with panels")
	require.NoError(t, err)
	assert.Equal(t, "Battery bank with panels", in.CurrentSolution)
	require.Len(t, in.SolutionHistory, 1)
	assert.Equal(t, "Battery bank", in.SolutionHistory[0].Text)

	in, err = rita.SetInnovationStatus(ctx, in.ID, domain.InnovationCompleted)
	require.NoError(t, err)
	assert.NotNil(t, in.EndDate)

	_, err = rita.AddComment(ctx, in.ID, "first")
	require.NoError(t, err)
	_, err = sam.AddComment(ctx, in.ID, "second")
	require.NoError(t, err)
	comments, err := rita.ListComments(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Text)

	all, err := rita.ListInnovations(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	boss := env.client(t, lead)
	_, err = boss.ArchiveInnovation(ctx, in.ID)
	require.NoError(t, err)
	got, err := rita.GetInnovation(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	_, err = boss.UnarchiveInnovation(ctx, in.ID)
	require.NoError(t, err)

	require.Error(t, rita.DeleteInnovation(ctx, in.ID))
	require.NoError(t, boss.DeleteInnovation(ctx, in.ID))
}

func TestNotifyRelaysToWebhook(t *testing.T) {
	env := newTestEnv(t)
	c := New(env.url)
	require.NoError(t, c.Notify(context.Background(), notify.Message{Action: "rang the bell", UserName: "Bea"}))
	assert.True(t, hasPrefix(env.chat.all(), "*Bea* rang the bell"))

	err := c.Notify(context.Background(), notify.Message{Action: "rang the bell"})
	var se *notify.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func hasPrefix(texts []string, prefix string) bool {
	for _, text := range texts {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func TestWatchIssuesDrivesBoard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rita := env.client(t, reporter)

	issue, err := rita.CreateIssue(ctx, NewIssue{Title: "Door lock"})
	require.NoError(t, err)

	feed, err := rita.WatchIssues(ctx, "active")
	require.NoError(t, err)
	session := &identity.Session{}
	session.Set(&reporter)
	b := board.New(feed, session, Backend{Client: rita}, zap.NewNop())
	defer b.Close()

	require.Eventually(t, func() bool { return !b.Loading() }, 5*time.Second, 10*time.Millisecond)
	got, ok := b.Issue(issue.ID)
	require.True(t, ok)
	assert.Equal(t, domain.IssueOpen, got.Status)

	require.NoError(t, b.Move(ctx, issue.ID, domain.IssueInProgress))
	require.Eventually(t, func() bool {
		fresh, err := rita.GetIssue(ctx, issue.ID)
		return err == nil && fresh.Status == domain.IssueInProgress
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		cur, ok := b.Issue(issue.ID)
		return ok && cur.Status == domain.IssueInProgress
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchRejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	_, err := New(env.url).WatchIssues(context.Background(), "active")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestWatchCommentsClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rita := env.client(t, reporter)
	in, err := rita.CreateInnovation(ctx, NewInnovation{Title: "Rain tank"})
	require.NoError(t, err)
	_, err = rita.AddComment(ctx, in.ID, "hello")
	require.NoError(t, err)

	feed, err := rita.WatchComments(ctx, in.ID)
	require.NoError(t, err)
	select {
	case snap := <-feed.Updates():
		require.NoError(t, snap.Err)
		require.Len(t, snap.Comments, 1)
		assert.Equal(t, "hello", snap.Comments[0].Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot")
	}
	feed.Close()
	feed.Close()
	for range feed.Updates() {
	}
}

func TestClientBacksTokenProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.client(t, reporter).BearerToken

	c := New(env.url)
	session := &identity.Session{}
	provider := &identity.TokenProvider{Verifier: c, Token: identity.StaticToken(token), Session: session}
	p, err := provider.SignIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, reporter, p)
	cur, ok := session.Current()
	require.True(t, ok)
	assert.Equal(t, "Rita", cur.DisplayLabel())
	assert.Empty(t, c.BearerToken)

	_, err = c.Verify(ctx, "garbage")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = (&identity.TokenProvider{Verifier: c, Token: identity.StaticToken("")}).SignIn(ctx)
	require.Error(t, err)
}
