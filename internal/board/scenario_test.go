package board

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hubtrack/internal/config"
	"hubtrack/internal/db"
	"hubtrack/internal/docstore"
	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
	"hubtrack/internal/events"
	"hubtrack/internal/migrate"
)

// flakyBackend fails writes while failing is set.
type flakyBackend struct {
	EngineBackend
	failing atomic.Bool
}

func (f *flakyBackend) MoveIssue(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	if f.failing.Load() {
		return errors.New("network unreachable")
	}
	return f.EngineBackend.MoveIssue(ctx, actor, id, status)
}

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	store := docstore.New(conn, zap.NewNop())
	return engine.New(store, events.Log{DB: conn}, config.Default(), nil, zap.NewNop())
}

func TestPrinterJamScenario(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	reporter := domain.Principal{UID: "u-ada", DisplayName: "Ada", Email: "ada@example.com"}
	helper := domain.Principal{UID: "u-bo", DisplayName: "Bo", Email: "bo@example.com"}

	issue, err := e.CreateIssue(ctx, reporter, engine.IssueCreateOptions{Title: "Printer jam", Category: domain.CategoryHub})
	require.NoError(t, err)
	assert.Equal(t, domain.IssueOpen, issue.Status)
	assert.Empty(t, issue.Assignees)
	assert.Equal(t, reporter.UID, issue.ReporterID)

	feed, err := e.WatchIssues(ctx, engine.IssuesActive)
	require.NoError(t, err)
	backend := &flakyBackend{EngineBackend: EngineBackend{Engine: e}}
	b := New(feed, signedIn(helper), backend, zap.NewNop())
	defer b.Close()

	statusOnBoard := func() domain.IssueStatus {
		got, _ := b.Issue(issue.ID)
		return got.Status
	}
	require.Eventually(t, func() bool { return statusOnBoard() == domain.IssueOpen }, 2*time.Second, 5*time.Millisecond)

	// Not the reporter and not an assignee.
	err = b.Move(ctx, issue.ID, domain.IssueInProgress)
	require.ErrorIs(t, err, domain.ErrNotPermitted)
	require.Len(t, b.Notices(), 1)
	assert.Equal(t, NoticePermission, b.Notices()[0].Kind)
	assert.Equal(t, domain.IssueOpen, statusOnBoard())
	stored, err := e.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueOpen, stored.Status)
	b.Dismiss()

	_, err = e.JoinIssue(ctx, helper, issue.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := b.Issue(issue.ID)
		return got.HasAssignee(helper.UID)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Move(ctx, issue.ID, domain.IssueInProgress))
	assert.Equal(t, domain.IssueInProgress, statusOnBoard())

	require.NoError(t, b.Move(ctx, issue.ID, domain.IssueResolved))
	require.Eventually(t, func() bool {
		got, _ := b.Issue(issue.ID)
		return got.Status == domain.IssueResolved && got.ResolvedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	backend.failing.Store(true)
	err = b.Move(ctx, issue.ID, domain.IssueOpen)
	require.Error(t, err)
	assert.Equal(t, domain.IssueResolved, statusOnBoard())
	notices := b.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeFailed, notices[0].Kind)

	stored, err = e.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueResolved, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
}
