package engine

import (
	"context"
	"fmt"
	"strings"

	"hubtrack/internal/docstore"
	"hubtrack/internal/domain"
	"hubtrack/internal/events"
	"hubtrack/internal/notify"
)

// CommentQuery orders a thread oldest first.
func CommentQuery(innovationID string) docstore.Query {
	return docstore.Query{Collection: CommentsCollection(innovationID), OrderBy: "createdAt"}
}

type commentOptions struct {
	Text string `validate:"required,max=4000"`
}

// AddComment appends a comment to an innovation's thread.
func (e Engine) AddComment(ctx context.Context, actor domain.Principal, innovationID, text string) (domain.Comment, error) {
	if err := requireActor(actor); err != nil {
		return domain.Comment{}, err
	}
	text = strings.TrimSpace(text)
	if err := domain.Validate(commentOptions{Text: text}); err != nil {
		return domain.Comment{}, err
	}
	in, err := e.GetInnovation(ctx, innovationID)
	if err != nil {
		return domain.Comment{}, err
	}
	collection := CommentsCollection(innovationID)
	id, err := e.Store.Create(ctx, collection, docstore.Fields{
		"text":      text,
		"userId":    actor.UID,
		"userName":  actor.DisplayLabel(),
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return domain.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	doc, err := e.Store.Get(ctx, docstore.DocPath(collection, id))
	if err != nil {
		return domain.Comment{}, fmt.Errorf("comment %s: %w", id, err)
	}
	c, err := decodeOne[domain.Comment](doc, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	e.audit(ctx, actor, events.InnovationCommented, "innovation", innovationID, events.Payload{"commentId": id})
	e.Notify.Send(notify.CommentAdded(actor.DisplayLabel(), in.Title, text))
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, innovationID string) ([]domain.Comment, error) {
	if _, err := e.GetInnovation(ctx, innovationID); err != nil {
		return nil, err
	}
	docs, err := e.Store.Query(ctx, CommentQuery(innovationID))
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Comment](docs, nil)
}

// CommentSnapshot is one push of a comment thread.
type CommentSnapshot struct {
	Comments []domain.Comment
	Err      error
}

func (e Engine) WatchComments(ctx context.Context, innovationID string) (*Feed[CommentSnapshot], error) {
	q := CommentQuery(innovationID)
	sub, err := e.watch(ctx, q)
	if err != nil {
		return nil, err
	}
	return newFeed(sub, func(snap docstore.Snapshot) CommentSnapshot {
		if snap.Err != nil {
			return CommentSnapshot{Err: e.snapshotErr(q.Collection, snap.Err)}
		}
		comments, err := decodeAll[domain.Comment](snap.Docs, nil)
		if err != nil {
			return CommentSnapshot{Err: e.snapshotErr(q.Collection, err)}
		}
		return CommentSnapshot{Comments: comments}
	}), nil
}
