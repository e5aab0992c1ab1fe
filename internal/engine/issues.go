package engine

import (
	"context"
	"fmt"
	"strings"

	"hubtrack/internal/docstore"
	"hubtrack/internal/domain"
	"hubtrack/internal/engine/auth"
	"hubtrack/internal/events"
	"hubtrack/internal/notify"
)

// IssueView selects one of the issue lists.
type IssueView string

const (
	// IssuesActive is every unarchived issue, newest first.
	IssuesActive IssueView = "active"
	// IssuesResolved is unarchived resolved issues, most recently resolved first.
	IssuesResolved IssueView = "resolved"
	// IssuesArchived is archived issues, most recently archived first.
	IssuesArchived IssueView = "archived"
)

// IssueQuery returns the store query behind view.
func IssueQuery(view IssueView) (docstore.Query, error) {
	notArchived := docstore.Filter{Field: "isArchived", Op: docstore.NotEq, Value: true}
	switch view {
	case "", IssuesActive:
		return docstore.Query{Collection: IssuesCollection, OrderBy: "createdAt", Direction: docstore.Desc,
			Where: []docstore.Filter{notArchived}}, nil
	case IssuesResolved:
		return docstore.Query{Collection: IssuesCollection, OrderBy: "resolvedAt", Direction: docstore.Desc,
			Where: []docstore.Filter{notArchived, {Field: "status", Op: docstore.Eq, Value: domain.IssueResolved}}}, nil
	case IssuesArchived:
		return docstore.Query{Collection: IssuesCollection, OrderBy: "archivedAt", Direction: docstore.Desc,
			Where: []docstore.Filter{{Field: "isArchived", Op: docstore.Eq, Value: true}}}, nil
	}
	return docstore.Query{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "view", Rule: "oneof"}}}
}

func fixIssue(i *domain.Issue) {
	if i.Assignees == nil {
		i.Assignees = []domain.Assignee{}
	}
}

// IssueCreateOptions are parameters for creating an issue.
type IssueCreateOptions struct {
	Title       string          `validate:"required,max=200"`
	Description string          `validate:"max=10000"`
	Category    domain.Category `validate:"omitempty,category"`
}

func (e Engine) CreateIssue(ctx context.Context, actor domain.Principal, opts IssueCreateOptions) (domain.Issue, error) {
	if err := requireActor(actor); err != nil {
		return domain.Issue{}, err
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Description = strings.TrimSpace(opts.Description)
	if opts.Category == "" {
		opts.Category = domain.CategoryOther
	}
	if err := domain.Validate(opts); err != nil {
		return domain.Issue{}, err
	}
	id, err := e.Store.Create(ctx, IssuesCollection, docstore.Fields{
		"title":        opts.Title,
		"description":  opts.Description,
		"category":     opts.Category,
		"status":       domain.IssueOpen,
		"reporterId":   actor.UID,
		"reporterName": actor.DisplayLabel(),
		"assignees":    []domain.Assignee{},
		"isArchived":   false,
		"createdAt":    docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	})
	if err != nil {
		return domain.Issue{}, fmt.Errorf("create issue: %w", err)
	}
	issue, err := e.GetIssue(ctx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	e.audit(ctx, actor, events.IssueCreated, "issue", id, events.Payload{"title": issue.Title, "category": issue.Category})
	e.Notify.Send(notify.IssueCreated(actor.DisplayLabel(), issue.Title, string(issue.Category)))
	return issue, nil
}

func (e Engine) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	doc, err := e.Store.Get(ctx, issuePath(id))
	if err != nil {
		return domain.Issue{}, fmt.Errorf("issue %s: %w", id, err)
	}
	return decodeOne(doc, fixIssue)
}

func (e Engine) ListIssues(ctx context.Context, view IssueView) ([]domain.Issue, error) {
	q, err := IssueQuery(view)
	if err != nil {
		return nil, err
	}
	docs, err := e.Store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, fixIssue)
}

// WatchIssues streams snapshots of view until the feed is closed.
func (e Engine) WatchIssues(ctx context.Context, view IssueView) (*Feed[domain.IssueSnapshot], error) {
	q, err := IssueQuery(view)
	if err != nil {
		return nil, err
	}
	return e.watchIssues(ctx, q)
}

// WatchIssue streams snapshots of a single issue.
func (e Engine) WatchIssue(ctx context.Context, id string) (*Feed[domain.IssueSnapshot], error) {
	return e.watchIssues(ctx, docstore.Query{Collection: IssuesCollection, ID: id})
}

func (e Engine) watchIssues(ctx context.Context, q docstore.Query) (*Feed[domain.IssueSnapshot], error) {
	sub, err := e.watch(ctx, q)
	if err != nil {
		return nil, err
	}
	return newFeed(sub, func(snap docstore.Snapshot) domain.IssueSnapshot {
		if snap.Err != nil {
			return domain.IssueSnapshot{Err: e.snapshotErr(q.Collection, snap.Err)}
		}
		issues, err := decodeAll(snap.Docs, fixIssue)
		if err != nil {
			return domain.IssueSnapshot{Err: e.snapshotErr(q.Collection, err)}
		}
		return domain.IssueSnapshot{Issues: issues}
	}), nil
}

type issueChange struct {
	before domain.Issue
	after  domain.Issue
	wrote  bool
}

// updateIssue runs fn inside an atomic read-modify-write of the issue.
func (e Engine) updateIssue(ctx context.Context, id string, fn func(cur domain.Issue) (docstore.Fields, error)) (issueChange, error) {
	var change issueChange
	err := e.Store.Update(ctx, issuePath(id), func(doc docstore.Document) (docstore.Fields, error) {
		cur, err := decodeOne(doc, fixIssue)
		if err != nil {
			return nil, err
		}
		change.before = cur
		fields, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			fields["updatedAt"] = docstore.ServerTimestamp
			change.wrote = true
		}
		return fields, nil
	})
	if err != nil {
		return change, fmt.Errorf("issue %s: %w", id, err)
	}
	change.after, err = e.GetIssue(ctx, id)
	return change, err
}

func statusFields(cur domain.Issue, to domain.IssueStatus) docstore.Fields {
	fields := docstore.Fields{"status": to}
	if to == domain.IssueResolved && cur.ResolvedAt == nil {
		fields["resolvedAt"] = docstore.ServerTimestamp
	}
	return fields
}

func validStatus(s domain.IssueStatus) error {
	if !s.Valid() {
		return &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Rule: "issue_status"}}}
	}
	return nil
}

// SetIssueStatus is a direct status selection. resolvedAt is stamped the
// first time the issue enters Resolved and is kept afterwards.
func (e Engine) SetIssueStatus(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) (domain.Issue, error) {
	return e.transition(ctx, actor, id, status, false)
}

// MoveIssue is a board drag: only the reporter or a current assignee may move.
func (e Engine) MoveIssue(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus) (domain.Issue, error) {
	return e.transition(ctx, actor, id, status, true)
}

func (e Engine) transition(ctx context.Context, actor domain.Principal, id string, status domain.IssueStatus, drag bool) (domain.Issue, error) {
	if err := requireActor(actor); err != nil {
		return domain.Issue{}, err
	}
	if err := validStatus(status); err != nil {
		return domain.Issue{}, err
	}
	change, err := e.updateIssue(ctx, id, func(cur domain.Issue) (docstore.Fields, error) {
		if drag && !domain.CanMove(actor, cur) {
			return nil, domain.ErrNotPermitted
		}
		if cur.Status == status {
			return nil, nil
		}
		return statusFields(cur, status), nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	if change.wrote {
		evtType := events.IssueStatusChanged
		if drag {
			evtType = events.IssueMoved
		}
		e.audit(ctx, actor, evtType, "issue", id, events.Payload{"from": change.before.Status, "to": status})
		e.Notify.Send(notify.CardMoved(actor.DisplayLabel(), change.after.Title, string(change.before.Status), string(status)))
	}
	return change.after, nil
}

// JoinIssue adds actor as an assignee. The first assignee moves an Open
// issue to In Progress in the same write. Joining twice is a no-op.
func (e Engine) JoinIssue(ctx context.Context, actor domain.Principal, id string) (domain.Issue, error) {
	if err := requireActor(actor); err != nil {
		return domain.Issue{}, err
	}
	change, err := e.updateIssue(ctx, id, func(cur domain.Issue) (docstore.Fields, error) {
		if cur.HasAssignee(actor.UID) {
			return nil, nil
		}
		fields := docstore.Fields{
			"assignees": docstore.ArrayUnionBy("userId", domain.Assignee{
				UserID:   actor.UID,
				Name:     actor.DisplayLabel(),
				JoinedAt: e.now(),
			}),
		}
		if len(cur.Assignees) == 0 && cur.Status == domain.IssueOpen {
			fields["status"] = domain.IssueInProgress
		}
		return fields, nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	if change.wrote {
		e.audit(ctx, actor, events.IssueJoined, "issue", id, events.Payload{"status": change.after.Status})
		e.Notify.Send(notify.Joined(actor.DisplayLabel(), change.after.Title, "issue"))
	}
	return change.after, nil
}

type issuePatchRules struct {
	Status      *domain.IssueStatus `validate:"omitnil,issue_status"`
	Title       *string             `validate:"omitnil,min=1,max=200"`
	Description *string             `validate:"omitnil,max=10000"`
	Category    *domain.Category    `validate:"omitnil,category"`
}

// UpdateIssue applies a field patch. Editing title, description or
// category after creation needs the allow-list; a status change follows
// SetIssueStatus rules.
func (e Engine) UpdateIssue(ctx context.Context, actor domain.Principal, id string, patch domain.IssuePatch) (domain.Issue, error) {
	if err := requireActor(actor); err != nil {
		return domain.Issue{}, err
	}
	if patch.Empty() {
		return domain.Issue{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "patch", Rule: "required"}}}
	}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		patch.Title = &t
	}
	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		patch.Description = &d
	}
	if err := domain.Validate(issuePatchRules(patch)); err != nil {
		return domain.Issue{}, err
	}
	if patch.Title != nil || patch.Description != nil || patch.Category != nil {
		if err := e.require(actor, auth.ActionEdit); err != nil {
			return domain.Issue{}, err
		}
	}
	change, err := e.updateIssue(ctx, id, func(cur domain.Issue) (docstore.Fields, error) {
		fields := docstore.Fields{}
		if patch.Status != nil && *patch.Status != cur.Status {
			for k, v := range statusFields(cur, *patch.Status) {
				fields[k] = v
			}
		}
		if patch.Title != nil {
			fields["title"] = *patch.Title
		}
		if patch.Description != nil {
			fields["description"] = *patch.Description
		}
		if patch.Category != nil {
			fields["category"] = *patch.Category
		}
		return fields, nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	if change.wrote {
		e.audit(ctx, actor, events.IssueUpdated, "issue", id, events.Payload{"patch": patch})
		if patch.Status != nil && *patch.Status != change.before.Status {
			e.Notify.Send(notify.CardMoved(actor.DisplayLabel(), change.after.Title, string(change.before.Status), string(*patch.Status)))
		}
	}
	return change.after, nil
}

// ArchiveIssue hides the issue from active views. Archiving an archived
// issue leaves it unchanged.
func (e Engine) ArchiveIssue(ctx context.Context, actor domain.Principal, id string) (domain.Issue, error) {
	return e.setIssueArchived(ctx, actor, id, true)
}

func (e Engine) UnarchiveIssue(ctx context.Context, actor domain.Principal, id string) (domain.Issue, error) {
	return e.setIssueArchived(ctx, actor, id, false)
}

func (e Engine) setIssueArchived(ctx context.Context, actor domain.Principal, id string, archived bool) (domain.Issue, error) {
	action := auth.ActionArchive
	if !archived {
		action = auth.ActionUnarchive
	}
	if err := e.require(actor, action); err != nil {
		return domain.Issue{}, err
	}
	change, err := e.updateIssue(ctx, id, func(cur domain.Issue) (docstore.Fields, error) {
		return archiveFields(cur.IsArchived, archived), nil
	})
	if err != nil {
		return domain.Issue{}, err
	}
	if change.wrote {
		if archived {
			e.audit(ctx, actor, events.IssueArchived, "issue", id, nil)
			e.Notify.Send(notify.Archived(actor.DisplayLabel(), change.after.Title, "issue"))
		} else {
			e.audit(ctx, actor, events.IssueUnarchived, "issue", id, nil)
			e.Notify.Send(notify.Unarchived(actor.DisplayLabel(), change.after.Title, "issue"))
		}
	}
	return change.after, nil
}

func archiveFields(current, archived bool) docstore.Fields {
	if current == archived {
		return nil
	}
	if archived {
		return docstore.Fields{"isArchived": true, "archivedAt": docstore.ServerTimestamp}
	}
	return docstore.Fields{"isArchived": false, "archivedAt": docstore.DeleteField}
}

// DeleteIssue permanently removes the issue.
func (e Engine) DeleteIssue(ctx context.Context, actor domain.Principal, id string) error {
	if err := e.require(actor, auth.ActionDelete); err != nil {
		return err
	}
	issue, err := e.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Store.Delete(ctx, issuePath(id)); err != nil {
		return fmt.Errorf("delete issue %s: %w", id, err)
	}
	e.audit(ctx, actor, events.IssueDeleted, "issue", id, events.Payload{"title": issue.Title})
	e.Notify.Send(notify.Deleted(actor.DisplayLabel(), issue.Title, "issue"))
	return nil
}
