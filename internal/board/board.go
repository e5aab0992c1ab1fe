package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
	"hubtrack/internal/identity"
	"hubtrack/internal/optimistic"
)

// ErrSignedOut is returned for moves attempted without a signed-in user.
var ErrSignedOut = errors.New("sign in to move issues")

// Feed is a stream of authoritative issue snapshots.
type Feed interface {
	Updates() <-chan domain.IssueSnapshot
	Close()
}

// Backend performs the remote writes behind board actions.
type Backend interface {
	MoveIssue(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error
	SetIssueStatus(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error
}

type NoticeKind string

const (
	// NoticePermission is the "you cannot move this card" modal.
	NoticePermission NoticeKind = "permission"
	// NoticeFailed is the alert shown after a reverted change.
	NoticeFailed NoticeKind = "failed"
)

type Notice struct {
	Kind    NoticeKind
	IssueID string
	Message string
	Err     error
}

// Column is one status lane of the board.
type Column struct {
	Status domain.IssueStatus
	Issues []domain.Issue
}

// Board is the Kanban view model over a live issue feed.
type Board struct {
	session *identity.Session
	backend Backend
	logger  *zap.Logger
	issues  *optimistic.Collection[domain.Issue]
	ctrl    *optimistic.Controller[domain.Issue, domain.IssuePatch]
	feed    Feed

	mu      sync.Mutex
	loading bool
	feedErr error
	notices []Notice

	changes chan struct{}
	cancel  func()
	done    chan struct{}
	once    sync.Once
}

// New opens the board on feed. The board owns the feed and closes it on Close.
func New(feed Feed, session *identity.Session, backend Backend, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	if session == nil {
		session = &identity.Session{}
	}
	b := &Board{
		session: session,
		backend: backend,
		logger:  logger,
		issues:  optimistic.NewCollection(func(i domain.Issue) string { return i.ID }),
		feed:    feed,
		loading: true,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.ctrl = &optimistic.Controller[domain.Issue, domain.IssuePatch]{
		Records: b.issues,
		Notify:  b.onNotice,
	}
	b.cancel = b.issues.OnChange(func([]domain.Issue) { b.signal() })
	go b.pump()
	return b
}

func (b *Board) pump() {
	defer close(b.done)
	for snap := range b.feed.Updates() {
		if snap.Err != nil {
			b.logger.Warn("issue feed failed; keeping last snapshot", zap.Error(snap.Err))
			b.mu.Lock()
			b.loading = false
			b.feedErr = snap.Err
			b.mu.Unlock()
			b.signal()
			continue
		}
		b.mu.Lock()
		b.loading = false
		b.feedErr = nil
		b.mu.Unlock()
		b.issues.Replace(snap.Issues)
	}
}

func (b *Board) signal() {
	select {
	case b.changes <- struct{}{}:
	default:
	}
}

// Changes fires after every snapshot, local change or notice. Bursts coalesce.
func (b *Board) Changes() <-chan struct{} {
	return b.changes
}

// Loading is true until the first snapshot or feed error arrives.
func (b *Board) Loading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loading
}

// Err returns the last feed error, cleared by the next good snapshot.
func (b *Board) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.feedErr
}

func (b *Board) Issue(id string) (domain.Issue, bool) {
	return b.issues.Get(id)
}

func (b *Board) Issues() []domain.Issue {
	return b.issues.Items()
}

// Columns groups the current issues by status in snapshot order.
func (b *Board) Columns() []Column {
	items := b.issues.Items()
	cols := make([]Column, 0, len(domain.IssueStatuses))
	for _, status := range domain.IssueStatuses {
		col := Column{Status: status, Issues: []domain.Issue{}}
		for _, issue := range items {
			if issue.Status == status {
				col.Issues = append(col.Issues, issue)
			}
		}
		cols = append(cols, col)
	}
	return cols
}

// Move drags an issue to another column. Only the reporter or a current
// assignee may; anyone else gets a permission notice and nothing is sent.
func (b *Board) Move(ctx context.Context, id string, status domain.IssueStatus) error {
	actor, ok := b.session.Current()
	if !ok {
		return ErrSignedOut
	}
	check := func(cur domain.Issue) error {
		if !domain.CanMove(actor, cur) {
			return domain.ErrNotPermitted
		}
		return nil
	}
	return b.ctrl.Apply(ctx, id, domain.StatusPatch(status), check, func(ctx context.Context, id string, patch domain.IssuePatch) error {
		return b.backend.MoveIssue(ctx, actor, id, *patch.Status)
	})
}

// SetStatus is the direct status selection on an issue card.
func (b *Board) SetStatus(ctx context.Context, id string, status domain.IssueStatus) error {
	actor, ok := b.session.Current()
	if !ok {
		return ErrSignedOut
	}
	return b.ctrl.Apply(ctx, id, domain.StatusPatch(status), nil, func(ctx context.Context, id string, patch domain.IssuePatch) error {
		return b.backend.SetIssueStatus(ctx, actor, id, *patch.Status)
	})
}

func (b *Board) onNotice(n optimistic.Notice) {
	notice := Notice{IssueID: n.RecordID, Err: n.Err}
	switch {
	case n.Kind == optimistic.NoticeDenied && errors.Is(n.Err, domain.ErrNotPermitted):
		notice.Kind = NoticePermission
		notice.Message = "Only the reporter or an assignee can move this issue. Join the issue first."
	case n.Kind == optimistic.NoticeDenied:
		notice.Kind = NoticePermission
		notice.Message = n.Err.Error()
	default:
		notice.Kind = NoticeFailed
		notice.Message = fmt.Sprintf("Failed to update issue: %v", n.Err)
		b.logger.Warn("issue update reverted", zap.String("issue_id", n.RecordID), zap.Error(n.Err))
	}
	b.mu.Lock()
	b.notices = append(b.notices, notice)
	b.mu.Unlock()
	b.signal()
}

// Notices returns pending notices, oldest first.
func (b *Board) Notices() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notice, len(b.notices))
	copy(out, b.notices)
	return out
}

// Dismiss clears all pending notices.
func (b *Board) Dismiss() {
	b.mu.Lock()
	b.notices = nil
	b.mu.Unlock()
	b.signal()
}

// Close stops the feed and waits for the board to detach. In-flight moves
// are not cancelled.
func (b *Board) Close() {
	b.once.Do(func() {
		b.feed.Close()
		<-b.done
		b.cancel()
	})
}

// EngineBackend runs board writes directly against an engine.
type EngineBackend struct {
	Engine engine.Engine
}

func (e EngineBackend) MoveIssue(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	_, err := e.Engine.MoveIssue(ctx, actor, id, status)
	return err
}

func (e EngineBackend) SetIssueStatus(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) error {
	_, err := e.Engine.SetIssueStatus(ctx, actor, id, status)
	return err
}
