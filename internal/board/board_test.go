package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubtrack/internal/domain"
	"hubtrack/internal/identity"
)

type chanFeed struct {
	ch   chan domain.IssueSnapshot
	once sync.Once
}

func newChanFeed() *chanFeed {
	return &chanFeed{ch: make(chan domain.IssueSnapshot, 4)}
}

func (f *chanFeed) Updates() <-chan domain.IssueSnapshot { return f.ch }
func (f *chanFeed) Close()                               { f.once.Do(func() { close(f.ch) }) }

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeBackend) MoveIssue(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	return f.record("move:" + id + ":" + string(status))
}

func (f *fakeBackend) SetIssueStatus(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	return f.record("status:" + id + ":" + string(status))
}

func (f *fakeBackend) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func signedIn(p domain.Principal) *identity.Session {
	s := &identity.Session{}
	s.Set(&p)
	return s
}

var (
	rita = domain.Principal{UID: "u-rita", DisplayName: "Rita"}
	sam  = domain.Principal{UID: "u-sam", DisplayName: "Sam"}
)

func seed() []domain.Issue {
	return []domain.Issue{
		{ID: "i1", Title: "Printer jam", Description: "Tray 2", Status: domain.IssueOpen, ReporterID: rita.UID, Assignees: []domain.Assignee{}},
		{ID: "i2", Title: "Wifi", Status: domain.IssueResolved, ReporterID: sam.UID, Assignees: []domain.Assignee{}},
	}
}

func waitLoaded(t *testing.T, b *Board) {
	t.Helper()
	require.Eventually(t, func() bool { return !b.Loading() }, 2*time.Second, 5*time.Millisecond)
}

func TestBoardLoadsAndGroupsColumns(t *testing.T) {
	feed := newChanFeed()
	b := New(feed, signedIn(rita), &fakeBackend{}, nil)
	defer b.Close()
	assert.True(t, b.Loading())

	feed.ch <- domain.IssueSnapshot{Issues: seed()}
	waitLoaded(t, b)

	cols := b.Columns()
	require.Len(t, cols, 3)
	assert.Equal(t, domain.IssueOpen, cols[0].Status)
	require.Len(t, cols[0].Issues, 1)
	assert.Equal(t, "i1", cols[0].Issues[0].ID)
	assert.Empty(t, cols[1].Issues)
	require.Len(t, cols[2].Issues, 1)
}

func TestMoveDeniedForNonParticipant(t *testing.T) {
	feed := newChanFeed()
	backend := &fakeBackend{}
	b := New(feed, signedIn(sam), backend, nil)
	defer b.Close()
	feed.ch <- domain.IssueSnapshot{Issues: seed()}
	waitLoaded(t, b)

	err := b.Move(context.Background(), "i1", domain.IssueInProgress)
	require.ErrorIs(t, err, domain.ErrNotPermitted)
	assert.Empty(t, backend.Calls())

	issue, _ := b.Issue("i1")
	assert.Equal(t, domain.IssueOpen, issue.Status)
	notices := b.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticePermission, notices[0].Kind)

	b.Dismiss()
	assert.Empty(t, b.Notices())
}

func TestMoveRevertsOnlyStatusOnFailure(t *testing.T) {
	feed := newChanFeed()
	backend := &fakeBackend{err: errors.New("unavailable")}
	b := New(feed, signedIn(rita), backend, nil)
	defer b.Close()
	feed.ch <- domain.IssueSnapshot{Issues: seed()}
	waitLoaded(t, b)

	err := b.Move(context.Background(), "i1", domain.IssueResolved)
	require.Error(t, err)
	assert.Equal(t, []string{"move:i1:Resolved"}, backend.Calls())

	issue, _ := b.Issue("i1")
	assert.Equal(t, domain.IssueOpen, issue.Status)
	assert.Equal(t, "Printer jam", issue.Title)
	assert.Equal(t, "Tray 2", issue.Description)
	notices := b.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeFailed, notices[0].Kind)
	assert.Contains(t, notices[0].Message, "unavailable")
}

func TestSetStatusSkipsPermissionCheck(t *testing.T) {
	feed := newChanFeed()
	backend := &fakeBackend{}
	b := New(feed, signedIn(sam), backend, nil)
	defer b.Close()
	feed.ch <- domain.IssueSnapshot{Issues: seed()}
	waitLoaded(t, b)

	require.NoError(t, b.SetStatus(context.Background(), "i1", domain.IssueInProgress))
	issue, _ := b.Issue("i1")
	assert.Equal(t, domain.IssueInProgress, issue.Status)
	assert.Equal(t, []string{"status:i1:In Progress"}, backend.Calls())
}

func TestMoveRequiresSession(t *testing.T) {
	feed := newChanFeed()
	b := New(feed, nil, &fakeBackend{}, nil)
	defer b.Close()
	feed.ch <- domain.IssueSnapshot{Issues: seed()}
	waitLoaded(t, b)

	require.ErrorIs(t, b.Move(context.Background(), "i1", domain.IssueResolved), ErrSignedOut)
}

func TestFeedErrorKeepsLastSnapshot(t *testing.T) {
	feed := newChanFeed()
	b := New(feed, signedIn(rita), &fakeBackend{}, nil)
	defer b.Close()

	feed.ch <- domain.IssueSnapshot{Err: errors.New("stream dropped")}
	waitLoaded(t, b)
	assert.Error(t, b.Err())
	assert.Empty(t, b.Issues())

	feed.ch <- domain.IssueSnapshot{Issues: seed()}
	require.Eventually(t, func() bool { return len(b.Issues()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, b.Err())

	feed.ch <- domain.IssueSnapshot{Err: errors.New("stream dropped again")}
	require.Eventually(t, func() bool { return b.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, b.Issues(), 2)
}

func TestCloseIsDeterministic(t *testing.T) {
	feed := newChanFeed()
	b := New(feed, signedIn(rita), &fakeBackend{}, nil)
	b.Close()
	b.Close()
	select {
	case <-b.done:
	default:
		t.Fatal("board pump still running after Close")
	}
}
