package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubtrack/internal/domain"
)

func issueKey(i domain.Issue) string { return i.ID }

func newIssues(items ...domain.Issue) *Collection[domain.Issue] {
	c := NewCollection(issueKey)
	c.Replace(items)
	return c
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) add(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) all() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

func TestApplyCommitsAfterLocalMutation(t *testing.T) {
	records := newIssues(domain.Issue{ID: "i1", Status: domain.IssueOpen})
	var notices noticeLog
	ctrl := Controller[domain.Issue, domain.IssuePatch]{Records: records, Notify: notices.add}

	var seenDuringCommit domain.IssueStatus
	commits := 0
	err := ctrl.Apply(context.Background(), "i1", domain.StatusPatch(domain.IssueResolved), nil,
		func(ctx context.Context, id string, p domain.IssuePatch) error {
			commits++
			cur, _ := records.Get(id)
			seenDuringCommit = cur.Status
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, commits)
	assert.Equal(t, domain.IssueResolved, seenDuringCommit)
	cur, _ := records.Get("i1")
	assert.Equal(t, domain.IssueResolved, cur.Status)
	assert.Empty(t, notices.all())
}

func TestApplyCheckFailureLeavesStateAndSkipsCommit(t *testing.T) {
	records := newIssues(domain.Issue{ID: "i1", Status: domain.IssueOpen, ReporterID: "u1"})
	var notices noticeLog
	ctrl := Controller[domain.Issue, domain.IssuePatch]{Records: records, Notify: notices.add}

	changes := 0
	cancel := records.OnChange(func([]domain.Issue) { changes++ })
	defer cancel()

	stranger := domain.Principal{UID: "u2"}
	err := ctrl.Apply(context.Background(), "i1", domain.StatusPatch(domain.IssueResolved),
		func(i domain.Issue) error {
			if !domain.CanMove(stranger, i) {
				return domain.ErrNotPermitted
			}
			return nil
		},
		func(context.Context, string, domain.IssuePatch) error {
			t.Fatal("commit must not run")
			return nil
		})
	require.ErrorIs(t, err, domain.ErrNotPermitted)
	assert.Equal(t, 0, changes)
	cur, _ := records.Get("i1")
	assert.Equal(t, domain.IssueOpen, cur.Status)

	got := notices.all()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeDenied, got[0].Kind)
	assert.Equal(t, "i1", got[0].RecordID)
}

func TestApplyRevertsOnlyTouchedFieldsOnFailure(t *testing.T) {
	records := newIssues(domain.Issue{ID: "i1", Status: domain.IssueOpen, Title: "Leak"})
	var notices noticeLog
	ctrl := Controller[domain.Issue, domain.IssuePatch]{Records: records, Notify: notices.add}

	boom := errors.New("network down")
	commits := 0
	err := ctrl.Apply(context.Background(), "i1", domain.StatusPatch(domain.IssueInProgress), nil,
		func(ctx context.Context, id string, p domain.IssuePatch) error {
			commits++
			// a concurrent edit lands while the write is in flight
			records.Update(id, func(i domain.Issue) domain.Issue {
				i.Title = "Leak in room 4"
				return i
			})
			return boom
		})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, commits)

	cur, _ := records.Get("i1")
	assert.Equal(t, domain.IssueOpen, cur.Status)
	assert.Equal(t, "Leak in room 4", cur.Title)

	got := notices.all()
	require.Len(t, got, 1)
	assert.Equal(t, NoticeReverted, got[0].Kind)
	assert.ErrorIs(t, got[0].Err, boom)
}

func TestApplyMissingRecord(t *testing.T) {
	ctrl := Controller[domain.Issue, domain.IssuePatch]{Records: newIssues()}
	err := ctrl.Apply(context.Background(), "nope", domain.StatusPatch(domain.IssueOpen), nil,
		func(context.Context, string, domain.IssuePatch) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAppliesAreNotSerialized(t *testing.T) {
	records := newIssues(domain.Issue{ID: "i1", Status: domain.IssueOpen})
	ctrl := Controller[domain.Issue, domain.IssuePatch]{Records: records}

	inFlight := make(chan struct{}, 2)
	release := make(chan struct{})
	commit := func(ctx context.Context, id string, p domain.IssuePatch) error {
		inFlight <- struct{}{}
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for _, s := range []domain.IssueStatus{domain.IssueInProgress, domain.IssueResolved} {
		wg.Add(1)
		go func(s domain.IssueStatus) {
			defer wg.Done()
			assert.NoError(t, ctrl.Apply(context.Background(), "i1", domain.StatusPatch(s), nil, commit))
		}(s)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-inFlight:
		case <-time.After(2 * time.Second):
			t.Fatal("second apply was blocked by the first")
		}
	}
	close(release)
	wg.Wait()
}

func TestReplaceWinsOverLocalState(t *testing.T) {
	records := newIssues(domain.Issue{ID: "i1", Status: domain.IssueOpen})
	var snapshots [][]domain.Issue
	cancel := records.OnChange(func(items []domain.Issue) { snapshots = append(snapshots, items) })

	records.Update("i1", domain.StatusPatch(domain.IssueResolved).Apply)
	records.Replace([]domain.Issue{{ID: "i1", Status: domain.IssueInProgress}, {ID: "i2"}})
	cancel()
	records.Replace(nil)

	require.Len(t, snapshots, 2)
	assert.Equal(t, domain.IssueResolved, snapshots[0][0].Status)
	assert.Equal(t, domain.IssueInProgress, snapshots[1][0].Status)
	assert.Empty(t, records.Items())
	_, ok := records.Get("i2")
	assert.False(t, ok)
}

// titlePatch exercises the controller with a second record and patch type.
type titlePatch struct{ title *string }

func (p titlePatch) Apply(in domain.Innovation) domain.Innovation {
	if p.title != nil {
		in.Title = *p.title
	}
	return in
}

func (p titlePatch) Inverse(before domain.Innovation) titlePatch {
	if p.title == nil {
		return titlePatch{}
	}
	t := before.Title
	return titlePatch{title: &t}
}

func TestRollbackWithOtherRecordType(t *testing.T) {
	records := NewCollection(func(in domain.Innovation) string { return in.ID })
	records.Replace([]domain.Innovation{{ID: "n1", Title: "Solar kiosk", Status: domain.InnovationUnattended}})
	ctrl := Controller[domain.Innovation, titlePatch]{Records: records}

	renamed := "Wind kiosk"
	err := ctrl.Apply(context.Background(), "n1", titlePatch{title: &renamed}, nil,
		func(context.Context, string, titlePatch) error { return errors.New("denied by store") })
	require.Error(t, err)
	cur, _ := records.Get("n1")
	assert.Equal(t, "Solar kiosk", cur.Title)
	assert.Equal(t, domain.InnovationUnattended, cur.Status)
}
