package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hubtrack/internal/board"
	"hubtrack/internal/domain"
	"hubtrack/internal/identity"
)

type snapshotFeed struct {
	ch   chan domain.IssueSnapshot
	once sync.Once
}

func (f *snapshotFeed) Updates() <-chan domain.IssueSnapshot { return f.ch }
func (f *snapshotFeed) Close()                               { f.once.Do(func() { close(f.ch) }) }

// heldBackend blocks every write until release is closed.
type heldBackend struct {
	started chan string
	release chan struct{}
}

func (h *heldBackend) MoveIssue(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	return h.hold("move:" + id)
}

func (h *heldBackend) SetIssueStatus(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	return h.hold("status:" + id)
}

func (h *heldBackend) hold(call string) error {
	h.started <- call
	<-h.release
	return nil
}

func TestDispatchBoardCommandShowsLocalChangeBeforeCommit(t *testing.T) {
	rita := domain.Principal{UID: "u-rita", DisplayName: "Rita"}
	session := &identity.Session{}
	session.Set(&rita)

	feed := &snapshotFeed{ch: make(chan domain.IssueSnapshot, 1)}
	feed.ch <- domain.IssueSnapshot{Issues: []domain.Issue{
		{ID: "abc123", Title: "Printer jam", Status: domain.IssueOpen, ReporterID: rita.UID},
	}}
	backend := &heldBackend{started: make(chan string, 1), release: make(chan struct{})}
	b := board.New(feed, session, backend, zap.NewNop())
	defer b.Close()
	require.Eventually(t, func() bool { return !b.Loading() }, 2*time.Second, 5*time.Millisecond)

	var out bytes.Buffer
	var pending sync.WaitGroup
	quit := dispatchBoardCommand(context.Background(), &pending, b, "move abc in-progress", &out)
	assert.False(t, quit)

	select {
	case call := <-backend.started:
		assert.Equal(t, "move:abc123", call)
	case <-time.After(2 * time.Second):
		t.Fatal("write never reached the backend")
	}
	cur, ok := b.Issue("abc123")
	require.True(t, ok)
	assert.Equal(t, domain.IssueInProgress, cur.Status)

	close(backend.release)
	pending.Wait()
	assert.Empty(t, out.String())
	cur, _ = b.Issue("abc123")
	assert.Equal(t, domain.IssueInProgress, cur.Status)
}

func TestDispatchBoardCommandInput(t *testing.T) {
	feed := &snapshotFeed{ch: make(chan domain.IssueSnapshot, 1)}
	feed.ch <- domain.IssueSnapshot{Issues: []domain.Issue{{ID: "abc123", Status: domain.IssueOpen}}}
	b := board.New(feed, nil, &heldBackend{}, zap.NewNop())
	defer b.Close()
	require.Eventually(t, func() bool { return !b.Loading() }, 2*time.Second, 5*time.Millisecond)

	var pending sync.WaitGroup
	for _, line := range []string{"quit", "q", "exit"} {
		assert.True(t, dispatchBoardCommand(context.Background(), &pending, b, line, &bytes.Buffer{}), line)
	}

	var out bytes.Buffer
	assert.False(t, dispatchBoardCommand(context.Background(), &pending, b, "   ", &out))
	assert.False(t, dispatchBoardCommand(context.Background(), &pending, b, "move abc", &out))
	assert.False(t, dispatchBoardCommand(context.Background(), &pending, b, "move zzz open", &out))
	assert.False(t, dispatchBoardCommand(context.Background(), &pending, b, "status abc done", &out))
	assert.False(t, dispatchBoardCommand(context.Background(), &pending, b, "paint abc", &out))
	assert.Contains(t, out.String(), "usage: move <id> <status>")
	assert.Contains(t, out.String(), `no issue with id "zzz"`)
	assert.Contains(t, out.String(), `unknown issue status "done"`)
	assert.Contains(t, out.String(), `unknown command "paint"`)

	out.Reset()
	assert.False(t, dispatchBoardCommand(context.Background(), &pending, b, "move abc resolved", &out))
	pending.Wait()
	assert.Contains(t, out.String(), board.ErrSignedOut.Error())
}
