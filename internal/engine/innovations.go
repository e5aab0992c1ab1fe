package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hubtrack/internal/docstore"
	"hubtrack/internal/domain"
	"hubtrack/internal/engine/auth"
	"hubtrack/internal/events"
	"hubtrack/internal/notify"
)

func fixInnovation(in *domain.Innovation) {
	if in.Participants == nil {
		in.Participants = []domain.Participant{}
	}
	if in.SolutionHistory == nil {
		in.SolutionHistory = []domain.HistoryEntry{}
	}
}

// InnovationQuery lists archived or unarchived innovations, newest start first.
func InnovationQuery(archived bool) docstore.Query {
	filter := docstore.Filter{Field: "isArchived", Op: docstore.NotEq, Value: true}
	if archived {
		filter = docstore.Filter{Field: "isArchived", Op: docstore.Eq, Value: true}
	}
	return docstore.Query{
		Collection: InnovationsCollection,
		OrderBy:    "startDate",
		Direction:  docstore.Desc,
		Where:      []docstore.Filter{filter},
	}
}

// InnovationCreateOptions are parameters for recording an innovation.
// Status may be Completed to document work that already finished.
type InnovationCreateOptions struct {
	Title           string                  `validate:"required,max=200"`
	Problem         string                  `validate:"max=10000"`
	CurrentSolution string                  `validate:"max=10000"`
	Link            string                  `validate:"omitempty,url"`
	Status          domain.InnovationStatus `validate:"omitempty,innovation_status"`
	StartDate       *time.Time
	EndDate         *time.Time
}

// CreateInnovation stores the record and then, in a second write, adds the
// creator as a participant. A failed second write is reported but the
// record is kept.
func (e Engine) CreateInnovation(ctx context.Context, actor domain.Principal, opts InnovationCreateOptions) (domain.Innovation, error) {
	if err := requireActor(actor); err != nil {
		return domain.Innovation{}, err
	}
	if e.Config != nil && e.Config.Authorization.RestrictInnovationCreate {
		if err := e.require(actor, auth.ActionCreateInnovation); err != nil {
			return domain.Innovation{}, err
		}
	}
	opts.Title = strings.TrimSpace(opts.Title)
	opts.Problem = strings.TrimSpace(opts.Problem)
	opts.CurrentSolution = strings.TrimSpace(opts.CurrentSolution)
	opts.Link = strings.TrimSpace(opts.Link)
	if opts.Status == "" {
		opts.Status = domain.InnovationUnattended
	}
	if err := domain.Validate(opts); err != nil {
		return domain.Innovation{}, err
	}
	if opts.Status != domain.InnovationUnattended && opts.Status != domain.InnovationCompleted {
		return domain.Innovation{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Rule: "oneof"}}}
	}
	if opts.EndDate != nil && opts.Status != domain.InnovationCompleted {
		return domain.Innovation{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "endDate", Rule: "completed_only"}}}
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return domain.Innovation{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "endDate", Rule: "gtefield"}}}
	}

	creator := domain.Person{UserID: actor.UID, Name: actor.DisplayLabel()}
	fields := docstore.Fields{
		"title":           opts.Title,
		"problem":         opts.Problem,
		"currentSolution": opts.CurrentSolution,
		"status":          opts.Status,
		"createdBy":       creator,
		"participants":    []domain.Participant{},
		"solutionHistory": []domain.HistoryEntry{},
		"isArchived":      false,
		"startDate":       docstore.ServerTimestamp,
		"createdAt":       docstore.ServerTimestamp,
		"updatedAt":       docstore.ServerTimestamp,
	}
	if opts.Link != "" {
		fields["link"] = opts.Link
	}
	if opts.StartDate != nil {
		fields["startDate"] = *opts.StartDate
	}
	if opts.Status == domain.InnovationCompleted {
		fields["endDate"] = docstore.ServerTimestamp
		if opts.EndDate != nil {
			fields["endDate"] = *opts.EndDate
		}
	}
	if opts.CurrentSolution != "" {
		fields["solutionUpdatedAt"] = docstore.ServerTimestamp
	}
	id, err := e.Store.Create(ctx, InnovationsCollection, fields)
	if err != nil {
		return domain.Innovation{}, fmt.Errorf("create innovation: %w", err)
	}
	e.audit(ctx, actor, events.InnovationCreated, "innovation", id, events.Payload{"title": opts.Title, "status": opts.Status})
	e.Notify.Send(notify.InnovationCreated(actor.DisplayLabel(), opts.Title))

	addErr := e.Store.UpdateFields(ctx, innovationPath(id), docstore.Fields{
		"participants": docstore.ArrayUnionBy("userId", domain.Participant{
			UserID: actor.UID,
			Name:   creator.Name,
			Role:   domain.RoleCreator,
		}),
	})
	in, err := e.GetInnovation(ctx, id)
	if err != nil {
		return domain.Innovation{}, err
	}
	if addErr != nil {
		e.logger().Error("add creator participant failed", zap.String("innovation_id", id), zap.Error(addErr))
		return in, fmt.Errorf("innovation %s created without creator participant: %w", id, addErr)
	}
	return in, nil
}

func (e Engine) GetInnovation(ctx context.Context, id string) (domain.Innovation, error) {
	doc, err := e.Store.Get(ctx, innovationPath(id))
	if err != nil {
		return domain.Innovation{}, fmt.Errorf("innovation %s: %w", id, err)
	}
	return decodeOne(doc, fixInnovation)
}

func (e Engine) ListInnovations(ctx context.Context, archived bool) ([]domain.Innovation, error) {
	docs, err := e.Store.Query(ctx, InnovationQuery(archived))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, fixInnovation)
}

func (e Engine) WatchInnovations(ctx context.Context, archived bool) (*Feed[domain.InnovationSnapshot], error) {
	return e.watchInnovations(ctx, InnovationQuery(archived))
}

func (e Engine) WatchInnovation(ctx context.Context, id string) (*Feed[domain.InnovationSnapshot], error) {
	return e.watchInnovations(ctx, docstore.Query{Collection: InnovationsCollection, ID: id})
}

func (e Engine) watchInnovations(ctx context.Context, q docstore.Query) (*Feed[domain.InnovationSnapshot], error) {
	sub, err := e.watch(ctx, q)
	if err != nil {
		return nil, err
	}
	return newFeed(sub, func(snap docstore.Snapshot) domain.InnovationSnapshot {
		if snap.Err != nil {
			return domain.InnovationSnapshot{Err: e.snapshotErr(q.Collection, snap.Err)}
		}
		items, err := decodeAll(snap.Docs, fixInnovation)
		if err != nil {
			return domain.InnovationSnapshot{Err: e.snapshotErr(q.Collection, err)}
		}
		return domain.InnovationSnapshot{Innovations: items}
	}), nil
}

type innovationChange struct {
	before domain.Innovation
	after  domain.Innovation
	wrote  bool
}

func (e Engine) updateInnovation(ctx context.Context, id string, fn func(cur domain.Innovation) (docstore.Fields, error)) (innovationChange, error) {
	var change innovationChange
	err := e.Store.Update(ctx, innovationPath(id), func(doc docstore.Document) (docstore.Fields, error) {
		cur, err := decodeOne(doc, fixInnovation)
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
		return change, fmt.Errorf("innovation %s: %w", id, err)
	}
	change.after, err = e.GetInnovation(ctx, id)
	return change, err
}

// SetInnovationStatus changes the status. Entering Completed stamps endDate.
func (e Engine) SetInnovationStatus(ctx context.Context, actor domain.Principal, id string, status domain.InnovationStatus) (domain.Innovation, error) {
	if err := requireActor(actor); err != nil {
		return domain.Innovation{}, err
	}
	if !status.Valid() {
		return domain.Innovation{}, &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Rule: "innovation_status"}}}
	}
	change, err := e.updateInnovation(ctx, id, func(cur domain.Innovation) (docstore.Fields, error) {
		if cur.Status == status {
			return nil, nil
		}
		fields := docstore.Fields{"status": status}
		if status == domain.InnovationCompleted {
			fields["endDate"] = docstore.ServerTimestamp
		}
		return fields, nil
	})
	if err != nil {
		return domain.Innovation{}, err
	}
	if change.wrote {
		e.audit(ctx, actor, events.InnovationStatusChanged, "innovation", id, events.Payload{"from": change.before.Status, "to": status})
	}
	return change.after, nil
}

// JoinInnovation adds actor as a participant. An Unattended record moves
// to In Progress in the same write. Joining twice is a no-op.
func (e Engine) JoinInnovation(ctx context.Context, actor domain.Principal, id string) (domain.Innovation, error) {
	if err := requireActor(actor); err != nil {
		return domain.Innovation{}, err
	}
	change, err := e.updateInnovation(ctx, id, func(cur domain.Innovation) (docstore.Fields, error) {
		if cur.HasParticipant(actor.UID) {
			return nil, nil
		}
		fields := docstore.Fields{
			"participants": docstore.ArrayUnionBy("userId", domain.Participant{
				UserID: actor.UID,
				Name:   actor.DisplayLabel(),
				Role:   domain.RoleParticipant,
			}),
		}
		if cur.Status == domain.InnovationUnattended {
			fields["status"] = domain.InnovationInProgress
		}
		return fields, nil
	})
	if err != nil {
		return domain.Innovation{}, err
	}
	if change.wrote {
		e.audit(ctx, actor, events.InnovationJoined, "innovation", id, events.Payload{"status": change.after.Status})
		e.Notify.Send(notify.Joined(actor.DisplayLabel(), change.after.Title, "innovation"))
	}
	return change.after, nil
}

type solutionOptions struct {
	Text string `validate:"required,max=10000"`
}

// UpdateSolution replaces the current solution. A non-empty previous
// solution is appended to the history first, attributed to whoever saved
// it. The record becomes Solved unless it is already Completed.
func (e Engine) UpdateSolution(ctx context.Context, actor domain.Principal, id, text string) (domain.Innovation, error) {
	if err := requireActor(actor); err != nil {
		return domain.Innovation{}, err
	}
	text = strings.TrimSpace(text)
	if err := domain.Validate(solutionOptions{Text: text}); err != nil {
		return domain.Innovation{}, err
	}
	solver := domain.Person{UserID: actor.UID, Name: actor.DisplayLabel()}
	change, err := e.updateInnovation(ctx, id, func(cur domain.Innovation) (docstore.Fields, error) {
		fields := docstore.Fields{
			"currentSolution":   text,
			"solver":            solver,
			"solutionUpdatedAt": docstore.ServerTimestamp,
		}
		if prev := strings.TrimSpace(cur.CurrentSolution); prev != "" {
			fields["solutionHistory"] = append(cur.SolutionHistory, previousSolution(cur))
		}
		if cur.Status != domain.InnovationCompleted {
			fields["status"] = domain.InnovationSolved
		}
		return fields, nil
	})
	if err != nil {
		return domain.Innovation{}, err
	}
	e.audit(ctx, actor, events.InnovationSolution, "innovation", id, events.Payload{"history": len(change.after.SolutionHistory)})
	e.Notify.Send(notify.SolutionUpdated(actor.DisplayLabel(), change.after.Title))
	return change.after, nil
}

func previousSolution(cur domain.Innovation) domain.HistoryEntry {
	entry := domain.HistoryEntry{
		Text:        cur.CurrentSolution,
		UpdatedBy:   cur.CreatedBy.Name,
		UpdatedByID: cur.CreatedBy.UserID,
		UpdatedAt:   cur.CreatedAt,
	}
	if cur.Solver != nil {
		entry.UpdatedBy = cur.Solver.Name
		entry.UpdatedByID = cur.Solver.UserID
	}
	if cur.SolutionUpdatedAt != nil {
		entry.UpdatedAt = *cur.SolutionUpdatedAt
	}
	return entry
}

func (e Engine) ArchiveInnovation(ctx context.Context, actor domain.Principal, id string) (domain.Innovation, error) {
	return e.setInnovationArchived(ctx, actor, id, true)
}

func (e Engine) UnarchiveInnovation(ctx context.Context, actor domain.Principal, id string) (domain.Innovation, error) {
	return e.setInnovationArchived(ctx, actor, id, false)
}

func (e Engine) setInnovationArchived(ctx context.Context, actor domain.Principal, id string, archived bool) (domain.Innovation, error) {
	action := auth.ActionArchive
	if !archived {
		action = auth.ActionUnarchive
	}
	if err := e.require(actor, action); err != nil {
		return domain.Innovation{}, err
	}
	change, err := e.updateInnovation(ctx, id, func(cur domain.Innovation) (docstore.Fields, error) {
		return archiveFields(cur.IsArchived, archived), nil
	})
	if err != nil {
		return domain.Innovation{}, err
	}
	if change.wrote {
		if archived {
			e.audit(ctx, actor, events.InnovationArchived, "innovation", id, nil)
			e.Notify.Send(notify.Archived(actor.DisplayLabel(), change.after.Title, "innovation"))
		} else {
			e.audit(ctx, actor, events.InnovationUnarchived, "innovation", id, nil)
			e.Notify.Send(notify.Unarchived(actor.DisplayLabel(), change.after.Title, "innovation"))
		}
	}
	return change.after, nil
}

// DeleteInnovation permanently removes the record and its comment thread.
func (e Engine) DeleteInnovation(ctx context.Context, actor domain.Principal, id string) error {
	if err := e.require(actor, auth.ActionDelete); err != nil {
		return err
	}
	in, err := e.GetInnovation(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Store.Delete(ctx, innovationPath(id)); err != nil {
		return fmt.Errorf("delete innovation %s: %w", id, err)
	}
	e.audit(ctx, actor, events.InnovationDeleted, "innovation", id, events.Payload{"title": in.Title})
	e.Notify.Send(notify.Deleted(actor.DisplayLabel(), in.Title, "innovation"))
	return nil
}
